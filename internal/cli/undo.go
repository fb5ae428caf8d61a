package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sortd/sortd/internal/engine"
	"github.com/sortd/sortd/internal/store"
)

// NewUndoCommand creates the undo command.
func NewUndoCommand(rootOpts *RootOptions, deps Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "undo <signature>",
		Short: "Reverse a recorded operation",
		Long: `Reverse a recorded operation by its signature (printed when the
operation runs, and by status). The undo record is consumed up front, so the
same operation can be undone at most once; per-item failures are reported
and the remaining actions still run.

Example:
  sortd undo 3f2a9c184be07d65`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUndo(cmd, rootOpts, deps, args[0])
		},
	}

	return cmd
}

func runUndo(cmd *cobra.Command, rootOpts *RootOptions, deps Deps, signature string) error {
	a, err := newApp(cmd, rootOpts, deps)
	if err != nil {
		return err
	}
	defer a.close()

	results, err := engine.Undo(cmd.Context(), a.proc, a.store, signature)
	if errors.Is(err, store.ErrNothingToUndo) {
		return WrapExitError(ExitFailure, signature, err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "undo failed", err)
	}

	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}

	if a.out.Format == "json" {
		payload := struct {
			Signature string                  `json:"signature"`
			Reversed  int                     `json:"reversed"`
			Failed    int                     `json:"failed"`
			Actions   []engine.UndoItemResult `json:"actions"`
		}{signature, len(results) - failed, failed, results}
		if err := a.out.Success(payload); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(a.out.Writer, "undo %s: %d actions reversed, %d failed\n",
			signature, len(results)-failed, failed)
		for _, r := range results {
			if r.Error != "" {
				fmt.Fprintf(a.out.Writer, "  %s %s in %s: %s\n",
					r.Action.Op, r.Action.ItemID, r.Action.ContainerID, r.Error)
			}
		}
	}

	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d undo actions failed", failed))
	}
	return nil
}
