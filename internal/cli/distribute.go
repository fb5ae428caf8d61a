package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sortd/sortd/internal/engine"
)

// NewDistributeCommand creates the distribute command.
func NewDistributeCommand(rootOpts *RootOptions, deps Deps) *cobra.Command {
	var (
		flags    opFlags
		to       []string
		parallel bool
	)

	cmd := &cobra.Command{
		Use:   "distribute <source> --to <playlist>=<criterion> [--to ...]",
		Short: "Route items from one playlist to several by criterion",
		Long: `Route items from one source playlist to N destinations, each paired
with a classification criterion. Every destination keeps its own cursor, so
destinations progress independently and a quota halt resumes all of them.

--parallel runs one worker per destination against the shared quota ledger;
intended for copy runs.

Example:
  sortd distribute inbox --to jazz="jazz" --to rock="rock guitar"
  sortd distribute inbox --to longform="over an hour" --parallel --dry-run`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dests, err := parseDestinations(to)
			if err != nil {
				return WrapExitError(ExitCommandError, "bad --to", err)
			}
			spec := engine.Spec{
				Kind:         engine.KindDistribute,
				Sources:      args,
				Destinations: dests,
				Move:         flags.Move,
				BatchSize:    flags.BatchSize,
				Limit:        flags.Limit,
				DryRun:       flags.DryRun,
			}
			return runOperation(cmd, rootOpts, deps, spec, flags.Resume, parallel)
		},
	}

	cmd.Flags().StringArrayVar(&to, "to", nil, "destination as playlist=criterion (repeatable, required)")
	cmd.Flags().BoolVar(&parallel, "parallel", false, "one worker per destination")
	flags.register(cmd, true)
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

// parseDestinations splits repeated playlist=criterion pairs.
func parseDestinations(raw []string) ([]engine.Destination, error) {
	dests := make([]engine.Destination, 0, len(raw))
	for _, r := range raw {
		id, criterion, ok := strings.Cut(r, "=")
		if !ok || id == "" || criterion == "" {
			return nil, fmt.Errorf("%q: want playlist=criterion", r)
		}
		dests = append(dests, engine.Destination{ContainerID: id, Criterion: criterion})
	}
	return dests, nil
}
