package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// statusPayload is the JSON body of the status command.
type statusPayload struct {
	Budget      int                `json:"budget"`
	ResetZone   string             `json:"reset_zone"`
	Database    string             `json:"database"`
	Checkpoints []checkpointStatus `json:"checkpoints"`
}

type checkpointStatus struct {
	Signature string `json:"signature"`
	Kind      string `json:"kind"`
	Processed int    `json:"processed"`
	Total     int    `json:"total_items"`
	UpdatedAt string `json:"updated_at"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions, deps Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show quota configuration and pending operations",
		Long: `Show the configured quota budget and every pending checkpoint: an
interrupted or quota-blocked operation that can be resumed with --resume, or
abandoned with undo.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, rootOpts, deps)
		},
	}

	return cmd
}

func runStatus(cmd *cobra.Command, rootOpts *RootOptions, deps Deps) error {
	a, err := newApp(cmd, rootOpts, deps)
	if err != nil {
		return err
	}
	defer a.close()

	cps, err := a.store.ListCheckpoints(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read checkpoints", err)
	}

	payload := statusPayload{
		Budget:    a.cfg.Budget,
		ResetZone: a.cfg.ResetZone,
		Database:  a.cfg.Database,
	}
	for _, cp := range cps {
		payload.Checkpoints = append(payload.Checkpoints, checkpointStatus{
			Signature: cp.Signature,
			Kind:      cp.Kind,
			Processed: cp.Processed,
			Total:     cp.TotalItems,
			UpdatedAt: cp.UpdatedAt.Format("2006-01-02 15:04:05"),
		})
	}

	if a.out.Format == "json" {
		return a.out.Success(payload)
	}

	fmt.Fprintf(a.out.Writer, "budget: %d units/day, resets in %s\n", payload.Budget, payload.ResetZone)
	fmt.Fprintf(a.out.Writer, "database: %s\n", payload.Database)
	if len(payload.Checkpoints) == 0 {
		fmt.Fprintln(a.out.Writer, "no pending operations")
		return nil
	}
	fmt.Fprintf(a.out.Writer, "pending operations: %d\n", len(payload.Checkpoints))
	for _, cp := range payload.Checkpoints {
		fmt.Fprintf(a.out.Writer, "  %s %s: %d/%d items, last progress %s\n",
			cp.Kind, cp.Signature, cp.Processed, cp.Total, cp.UpdatedAt)
	}
	return nil
}
