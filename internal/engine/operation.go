package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Kind identifies one of the three supported operations.
type Kind string

const (
	// KindConsolidate moves or copies items from N sources into one
	// destination.
	KindConsolidate Kind = "consolidate"

	// KindDistribute routes items from one source to N destinations, each
	// paired with a selection criterion.
	KindDistribute Kind = "distribute"

	// KindDedupe removes duplicate items from a single container.
	KindDedupe Kind = "dedupe"
)

// DefaultBatchSize is the number of items per remote mutation call.
const DefaultBatchSize = 50

// Destination pairs a destination container with the criterion that selects
// items for it. An empty criterion matches every item.
type Destination struct {
	ContainerID string `validate:"required"`
	Criterion   string
}

// Spec describes one operation invocation. The same Spec always yields
// the same Signature, which keys the operation's checkpoint and undo
// records.
type Spec struct {
	Kind         Kind          `validate:"required,oneof=consolidate distribute dedupe"`
	Sources      []string      `validate:"required,min=1,dive,required"`
	Destinations []Destination `validate:"dive"`

	// Move removes items from the source after a successful add. Copy
	// leaves them in place.
	Move bool

	// BatchSize caps items per mutation call. Zero means DefaultBatchSize.
	BatchSize int `validate:"gte=0"`

	// Limit caps the number of items processed this run. Zero means no cap.
	Limit int `validate:"gte=0"`

	// DryRun classifies and reports without mutating anything.
	DryRun bool
}

var validate = validator.New()

// Validate checks structural and per-kind preconditions. A failure is an
// ErrCodeValidation OpError; nothing has happened remotely yet.
func (s Spec) Validate() error {
	if err := validate.Struct(s); err != nil {
		return WrapOpError(ErrCodeValidation, "invalid operation spec", err)
	}

	switch s.Kind {
	case KindConsolidate:
		if len(s.Destinations) != 1 {
			return NewOpError(ErrCodeValidation, "consolidate requires exactly one destination")
		}
	case KindDistribute:
		if len(s.Sources) != 1 {
			return NewOpError(ErrCodeValidation, "distribute requires exactly one source")
		}
		if len(s.Destinations) == 0 {
			return NewOpError(ErrCodeValidation, "distribute requires at least one destination")
		}
		for _, d := range s.Destinations {
			if d.Criterion == "" {
				return NewOpError(ErrCodeValidation,
					fmt.Sprintf("distribute destination %s requires a criterion", d.ContainerID))
			}
		}
	case KindDedupe:
		if len(s.Sources) != 1 || len(s.Destinations) != 0 {
			return NewOpError(ErrCodeValidation, "dedupe takes exactly one container and no destinations")
		}
		if s.Move {
			return NewOpError(ErrCodeValidation, "dedupe has no move flag")
		}
	}
	return nil
}

// EffectiveBatchSize returns BatchSize or the default when unset.
func (s Spec) EffectiveBatchSize() int {
	if s.BatchSize > 0 {
		return s.BatchSize
	}
	return DefaultBatchSize
}

// Signature returns the deterministic identifier for this operation:
// a hash of kind, sources, destinations, criteria, and the move flag.
// Batch size, limit, and dry-run do not change an operation's identity:
// resuming with a different pacing is still the same operation.
func (s Spec) Signature() string {
	h := sha256.New()
	fmt.Fprintf(h, "kind=%s\n", s.Kind)
	fmt.Fprintf(h, "sources=%s\n", strings.Join(s.Sources, ","))
	for _, d := range s.Destinations {
		fmt.Fprintf(h, "dest=%s criterion=%s\n", d.ContainerID, d.Criterion)
	}
	fmt.Fprintf(h, "move=%t\n", s.Move)
	return hex.EncodeToString(h.Sum(nil))[:16]
}
