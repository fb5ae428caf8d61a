package cli

import (
	"github.com/spf13/cobra"

	"github.com/sortd/sortd/internal/engine"
)

// NewDedupeCommand creates the dedupe command.
func NewDedupeCommand(rootOpts *RootOptions, deps Deps) *cobra.Command {
	var flags opFlags

	cmd := &cobra.Command{
		Use:   "dedupe <playlist>",
		Short: "Remove duplicate items from a playlist",
		Long: `Remove duplicates from one playlist: repeated item ids and items whose
titles collapse to the same text under case folding. The first occurrence is
kept; undo re-inserts the removed ones at their recorded positions.

Example:
  sortd dedupe watch-later
  sortd dedupe watch-later --dry-run`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			spec := engine.Spec{
				Kind:      engine.KindDedupe,
				Sources:   args,
				BatchSize: flags.BatchSize,
				Limit:     flags.Limit,
				DryRun:    flags.DryRun,
			}
			return runOperation(cmd, rootOpts, deps, spec, flags.Resume, false)
		},
	}

	flags.register(cmd, false)

	return cmd
}
