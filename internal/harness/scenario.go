package harness

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sortd/sortd/internal/engine"
)

// Scenario defines one conformance scenario: a starting library, a quota
// budget, and an operation to run over it.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description,omitempty"`

	// Budget is the daily quota budget for the run.
	Budget int `yaml:"budget"`

	// Playlists is the starting membership, in declaration order. The
	// snapshot reports final membership in the same order.
	Playlists []PlaylistDef `yaml:"playlists"`

	// Operation is the single operation the scenario runs.
	Operation OperationDef `yaml:"operation"`

	// Undo, when true, reverses the operation after it finishes and
	// snapshots the membership after the undo.
	Undo bool `yaml:"undo,omitempty"`
}

// PlaylistDef is one playlist and its ordered items.
type PlaylistDef struct {
	ID    string    `yaml:"id"`
	Items []ItemDef `yaml:"items"`
}

// ItemDef is one item occurrence.
type ItemDef struct {
	ID          string `yaml:"id"`
	Title       string `yaml:"title"`
	Description string `yaml:"description,omitempty"`
}

// OperationDef mirrors the engine's operation spec in YAML form.
type OperationDef struct {
	Kind         string           `yaml:"kind"`
	Sources      []string         `yaml:"sources"`
	Destinations []DestinationDef `yaml:"destinations,omitempty"`
	Move         bool             `yaml:"move,omitempty"`
	BatchSize    int              `yaml:"batch_size,omitempty"`
	Limit        int              `yaml:"limit,omitempty"`
	DryRun       bool             `yaml:"dry_run,omitempty"`
}

// DestinationDef pairs a destination playlist with its criterion.
type DestinationDef struct {
	Playlist  string `yaml:"playlist"`
	Criterion string `yaml:"criterion,omitempty"`
}

// LoadScenario reads and decodes a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load scenario: %w", err)
	}
	var sc Scenario
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("load scenario %s: %w", path, err)
	}
	if sc.Name == "" {
		return nil, fmt.Errorf("scenario %s has no name", path)
	}
	return &sc, nil
}

// spec converts the YAML operation into an engine spec.
func (s *Scenario) spec() engine.Spec {
	spec := engine.Spec{
		Kind:      engine.Kind(s.Operation.Kind),
		Sources:   s.Operation.Sources,
		Move:      s.Operation.Move,
		BatchSize: s.Operation.BatchSize,
		Limit:     s.Operation.Limit,
		DryRun:    s.Operation.DryRun,
	}
	for _, d := range s.Operation.Destinations {
		spec.Destinations = append(spec.Destinations, engine.Destination{
			ContainerID: d.Playlist,
			Criterion:   d.Criterion,
		})
	}
	return spec
}
