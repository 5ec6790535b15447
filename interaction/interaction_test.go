package interaction

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeValueScoreHighValueInteractionBounds(t *testing.T) {
	response := "Steps:\n1. Enable the service\n2. Restart the daemon\n3. Verify logs\n```bash\nsystemctl restart gnome-keyring\n```"
	queries := []string{"fix", "nixos keyring error", "how to fix GNOME keyring error in NixOS?"}

	for _, q := range queries {
		in := Interaction{Query: q, Response: response, Outcome: OutcomeSuccess, Feedback: 1}
		score := ComputeValueScore(in)
		assert.GreaterOrEqualf(t, score, 0.85, "query=%q score=%v", q, score)
		assert.LessOrEqual(t, score, 1.0)
	}
}

func TestComputeValueScoreBoundedZeroOne(t *testing.T) {
	in := Interaction{Query: "x", Response: "", Outcome: OutcomeFailure, Feedback: -1}
	score := ComputeValueScore(in)
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
}

func TestEMAUpdateSequence(t *testing.T) {
	r := 0.5
	successes := []bool{true, true, false, true}
	for _, s := range successes {
		r = EMAUpdate(r, s)
	}

	// replicate the closed form of the EMA update.
	r0 := 0.5
	n := 4
	expected := math.Pow(0.9, float64(n)) * r0
	sFlags := []float64{1, 1, 0, 1}
	for i, s := range sFlags {
		expected += 0.1 * math.Pow(0.9, float64(n-1-i)) * s
	}
	assert.InDelta(t, expected, r, 1e-6)
}

func TestTrackInteractionRejectsEmptyQuery(t *testing.T) {
	tr := New(nil)
	_, err := tr.TrackInteraction(context.Background(), "", "resp", AgentLocal, "m", nil, OutcomeSuccess, 1, 10, 5)
	require.Error(t, err)
}

func TestUpdateOutcomeIdempotentWhenUnchanged(t *testing.T) {
	tr := New(nil)
	id, err := tr.TrackInteraction(context.Background(), "explain how to do x", "ok", AgentLocal, "m", nil, OutcomeUnknown, 0, 10, 5)
	require.NoError(t, err)

	require.NoError(t, tr.UpdateOutcome(context.Background(), id, OutcomeSuccess, 1))
	tr.mu.RLock()
	first := tr.interactions[id].ValueScore
	tr.mu.RUnlock()

	require.NoError(t, tr.UpdateOutcome(context.Background(), id, OutcomeSuccess, 1))
	tr.mu.RLock()
	second := tr.interactions[id].ValueScore
	tr.mu.RUnlock()

	assert.Equal(t, first, second)
}

func TestUpdateOutcomeUnknownInteraction(t *testing.T) {
	tr := New(nil)
	err := tr.UpdateOutcome(context.Background(), "nope", OutcomeSuccess, 1)
	require.Error(t, err)
}
