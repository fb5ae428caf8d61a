package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpec_SignatureDeterministic(t *testing.T) {
	a := Spec{
		Kind:         KindConsolidate,
		Sources:      []string{"s1", "s2"},
		Destinations: []Destination{{ContainerID: "d1", Criterion: "jazz"}},
		Move:         true,
	}
	b := a

	assert.Equal(t, a.Signature(), b.Signature())
}

func TestSpec_SignatureIgnoresPacing(t *testing.T) {
	a := Spec{Kind: KindDedupe, Sources: []string{"pl"}}
	b := a
	b.BatchSize = 10
	b.Limit = 3
	b.DryRun = true

	// Pacing does not change the operation's identity; resuming with a
	// different batch size continues the same checkpoint.
	assert.Equal(t, a.Signature(), b.Signature())
}

func TestSpec_SignatureVariesWithParameters(t *testing.T) {
	base := Spec{
		Kind:         KindConsolidate,
		Sources:      []string{"s1"},
		Destinations: []Destination{{ContainerID: "d1"}},
	}

	moved := base
	moved.Move = true
	assert.NotEqual(t, base.Signature(), moved.Signature())

	otherDest := base
	otherDest.Destinations = []Destination{{ContainerID: "d2"}}
	assert.NotEqual(t, base.Signature(), otherDest.Signature())

	otherCriterion := base
	otherCriterion.Destinations = []Destination{{ContainerID: "d1", Criterion: "live"}}
	assert.NotEqual(t, base.Signature(), otherCriterion.Signature())
}

func TestSpec_ValidateConsolidate(t *testing.T) {
	ok := Spec{
		Kind:         KindConsolidate,
		Sources:      []string{"s1", "s2"},
		Destinations: []Destination{{ContainerID: "d1"}},
	}
	require.NoError(t, ok.Validate())

	noDest := ok
	noDest.Destinations = nil
	err := noDest.Validate()
	require.Error(t, err)
	assert.Equal(t, ErrCodeValidation, CodeOf(err))
}

func TestSpec_ValidateDistribute(t *testing.T) {
	ok := Spec{
		Kind:    KindDistribute,
		Sources: []string{"s1"},
		Destinations: []Destination{
			{ContainerID: "d1", Criterion: "jazz"},
			{ContainerID: "d2", Criterion: "rock"},
		},
	}
	require.NoError(t, ok.Validate())

	missingCriterion := ok
	missingCriterion.Destinations = []Destination{{ContainerID: "d1"}}
	err := missingCriterion.Validate()
	require.Error(t, err)
	assert.Equal(t, ErrCodeValidation, CodeOf(err))

	twoSources := ok
	twoSources.Sources = []string{"s1", "s2"}
	assert.Error(t, twoSources.Validate())
}

func TestSpec_ValidateDedupe(t *testing.T) {
	ok := Spec{Kind: KindDedupe, Sources: []string{"pl"}}
	require.NoError(t, ok.Validate())

	withMove := ok
	withMove.Move = true
	assert.Error(t, withMove.Validate())

	withDest := ok
	withDest.Destinations = []Destination{{ContainerID: "d1"}}
	assert.Error(t, withDest.Validate())
}

func TestSpec_ValidateRejectsUnknownKind(t *testing.T) {
	bad := Spec{Kind: "shuffle", Sources: []string{"s1"}}
	err := bad.Validate()
	require.Error(t, err)
	assert.Equal(t, ErrCodeValidation, CodeOf(err))
}

func TestSpec_EffectiveBatchSize(t *testing.T) {
	assert.Equal(t, DefaultBatchSize, Spec{}.EffectiveBatchSize())
	assert.Equal(t, 10, Spec{BatchSize: 10}.EffectiveBatchSize())
}
