package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose  bool
	Format   string // "json" | "text"
	Config   string // config file path ("" = ~/.sortd.yaml)
	Database string // overrides the config's database path
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the sortd CLI. Deps override
// the default local-library collaborators; pass the zero value for the
// standard binary.
func NewRootCommand(deps Deps) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "sortd",
		Short: "sortd - quota-aware playlist batch engine",
		Long: "Consolidate, distribute, and deduplicate items across playlists on a\n" +
			"quota-metered collection service. Runs are checkpointed, resumable after\n" +
			"quota exhaustion, and reversible with undo.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "config file (default ~/.sortd.yaml)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")

	// Add subcommands
	cmd.AddCommand(NewConsolidateCommand(opts, deps))
	cmd.AddCommand(NewDistributeCommand(opts, deps))
	cmd.AddCommand(NewDedupeCommand(opts, deps))
	cmd.AddCommand(NewUndoCommand(opts, deps))
	cmd.AddCommand(NewStatusCommand(opts, deps))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
