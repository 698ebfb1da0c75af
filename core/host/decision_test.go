package host

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func conflictDecision() *Decision {
	return &Decision{
		ID:   "d1",
		Kind: DecisionConflict,
		Options: []Option{
			{Choice: ChoiceMerge, Label: "Merge and commit"},
			{Choice: ChoiceNewBranch, Label: "Commit on new branch"},
			{Choice: ChoiceOverwrite, Label: "Overwrite"},
			{Choice: ChoiceCancel, Label: "Cancel", Default: true},
		},
	}
}

func TestDecision_Has(t *testing.T) {
	d := conflictDecision()
	assert.True(t, d.Has(ChoiceMerge))
	assert.False(t, d.Has(ChoiceFork))
}

func TestDecision_DefaultChoice(t *testing.T) {
	d := conflictDecision()
	c, err := d.DefaultChoice()
	require.NoError(t, err)
	assert.Equal(t, ChoiceCancel, c)

	d.Options[3].Default = false
	c, err = d.DefaultChoice()
	require.NoError(t, err)
	assert.Equal(t, ChoiceMerge, c)

	_, err = (&Decision{}).DefaultChoice()
	assert.ErrorIs(t, err, ErrDecisionAbsent)
}

func TestDecision_WithoutLeavesOriginal(t *testing.T) {
	d := conflictDecision()
	reduced := d.Without(ChoiceMerge)

	assert.False(t, reduced.Has(ChoiceMerge))
	assert.Len(t, reduced.Options, 3)
	assert.True(t, d.Has(ChoiceMerge))
	assert.Equal(t, d.ID, reduced.ID)
}

func TestDeciderFunc(t *testing.T) {
	var seen *Decision
	dec := DeciderFunc(func(_ context.Context, d *Decision) (Choice, error) {
		seen = d
		return ChoiceOverwrite, nil
	})

	d := conflictDecision()
	c, err := dec.Decide(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, ChoiceOverwrite, c)
	assert.Same(t, d, seen)
}

func TestDecisionKindNames(t *testing.T) {
	assert.Equal(t, "conflict", DecisionConflict.String())
	assert.Equal(t, "fork_offer", DecisionForkOffer.String())
	assert.Equal(t, "unknown", DecisionKind(42).String())
}
