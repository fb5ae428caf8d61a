package cli

import (
	"github.com/spf13/cobra"

	"github.com/sortd/sortd/internal/engine"
)

// opFlags are the flags shared by the mutating operation commands.
type opFlags struct {
	Move      bool
	BatchSize int
	Limit     int
	DryRun    bool
	Resume    bool
}

func (f *opFlags) register(cmd *cobra.Command, withMove bool) {
	if withMove {
		cmd.Flags().BoolVar(&f.Move, "move", false, "remove items from the source after adding (default: copy)")
	}
	cmd.Flags().IntVar(&f.BatchSize, "batch-size", 0, "items per mutation call (default from config)")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "cap items processed this run (0 = no cap)")
	cmd.Flags().BoolVar(&f.DryRun, "dry-run", false, "classify and report without mutating anything")
	cmd.Flags().BoolVar(&f.Resume, "resume", false, "continue from the stored checkpoint")
}

// NewConsolidateCommand creates the consolidate command.
func NewConsolidateCommand(rootOpts *RootOptions, deps Deps) *cobra.Command {
	var (
		flags     opFlags
		into      string
		criterion string
	)

	cmd := &cobra.Command{
		Use:   "consolidate <source>... --into <destination>",
		Short: "Gather items from several playlists into one",
		Long: `Gather items from N source playlists into one destination.

Each source is walked with its own cursor, so an interrupted run resumes
exactly where it stopped. With --move, items are removed from their source
after the destination add succeeds; the default copies.

Example:
  sortd consolidate inbox1 inbox2 --into archive --move
  sortd consolidate inbox --into jazz --criterion "late night jazz" --dry-run`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			spec := engine.Spec{
				Kind:         engine.KindConsolidate,
				Sources:      args,
				Destinations: []engine.Destination{{ContainerID: into, Criterion: criterion}},
				Move:         flags.Move,
				BatchSize:    flags.BatchSize,
				Limit:        flags.Limit,
				DryRun:       flags.DryRun,
			}
			return runOperation(cmd, rootOpts, deps, spec, flags.Resume, false)
		},
	}

	cmd.Flags().StringVar(&into, "into", "", "destination playlist (required)")
	cmd.Flags().StringVar(&criterion, "criterion", "", "only transfer items matching this criterion")
	flags.register(cmd, true)
	_ = cmd.MarkFlagRequired("into")

	return cmd
}

// runOperation drives a spec from Start to a terminal state and reports.
func runOperation(cmd *cobra.Command, rootOpts *RootOptions, deps Deps, spec engine.Spec, resume, parallel bool) error {
	a, err := newApp(cmd, rootOpts, deps)
	if err != nil {
		return err
	}
	defer a.close()

	if spec.BatchSize == 0 {
		spec.BatchSize = a.cfg.BatchSize
	}

	op := engine.NewCommand(a.proc, a.store, spec, resume)
	if _, err := op.Start(cmd.Context()); err != nil {
		return WrapExitError(ExitCommandError, "cannot start operation", err)
	}

	var (
		prog   engine.Progress
		runErr error
	)
	if parallel {
		prog, runErr = op.RunParallel(cmd.Context())
	} else {
		prog, runErr = op.Run(cmd.Context())
	}
	return a.report(string(spec.Kind), prog, runErr)
}
