package indicator

import (
	"errors"
	"testing"

	"github.com/dnldd/dipper/shared"
	"github.com/peterldowns/testy/assert"
)

// declineWindow returns a linearly declining window of the provided length.
func declineWindow(length int) []float64 {
	window := make([]float64, length)
	for idx := range window {
		window[idx] = 300 - float64(idx)
	}
	return window
}

func TestNewEnvelope(t *testing.T) {
	const epsilon = 1e-9

	// Ensure envelopes cannot be built over short windows.
	_, err := NewEnvelope(declineWindow(EnvelopeLength-1), EnvelopeLength, shared.Dip)
	assert.True(t, errors.Is(err, shared.ErrInsufficientData))

	// Ensure invalid lengths and directions error.
	_, err = NewEnvelope(declineWindow(10), 1, shared.Dip)
	assert.Error(t, err)
	_, err = NewEnvelope(declineWindow(10), 5, shared.Direction(999))
	assert.Error(t, err)

	for _, direction := range []shared.Direction{shared.Dip, shared.Top} {
		// Ensure only the trailing samples of a longer window are used.
		env, err := NewEnvelope(declineWindow(EnvelopeLength+50), EnvelopeLength, direction)
		assert.NoError(t, err)
		assert.Equal(t, len(env.Values), EnvelopeLength)
		assert.Equal(t, env.Lowest, float64(51))
		assert.Equal(t, env.Highest, float64(250))

		// Ensure every envelope value stays within the fitted range.
		for idx := range env.Values {
			assert.True(t, env.Values[idx] >= env.Lowest-epsilon)
			assert.True(t, env.Values[idx] <= env.Highest+epsilon)
		}

		// Ensure the anchors sit on the fitted extremes.
		assert.True(t, env.Lower()-env.Lowest < epsilon && env.Lowest-env.Lower() < epsilon)
		assert.True(t, env.Upper()-env.Highest < epsilon && env.Highest-env.Upper() < epsilon)
	}

	// Ensure a dip envelope rises and a top envelope falls.
	dip, err := NewEnvelope(declineWindow(EnvelopeLength), EnvelopeLength, shared.Dip)
	assert.NoError(t, err)
	assert.Equal(t, dip.Values[0], dip.Lowest)
	top, err := NewEnvelope(declineWindow(EnvelopeLength), EnvelopeLength, shared.Top)
	assert.NoError(t, err)
	assert.Equal(t, top.Values[0], top.Highest)
	for idx := 1; idx < EnvelopeLength; idx++ {
		assert.True(t, dip.Values[idx] >= dip.Values[idx-1])
		assert.True(t, top.Values[idx] <= top.Values[idx-1])
	}
}

func TestEnvelopeEvaluate(t *testing.T) {
	dip, err := NewEnvelope(declineWindow(EnvelopeLength), EnvelopeLength, shared.Dip)
	assert.NoError(t, err)
	top, err := NewEnvelope(declineWindow(EnvelopeLength), EnvelopeLength, shared.Top)
	assert.NoError(t, err)

	tests := []struct {
		name     string
		envelope *Envelope
		price    float64
		want     EnvelopeSignal
	}{
		{"dip envelope below lower anchor", dip, 90, BuyCandidate},
		{"dip envelope at lower anchor", dip, dip.Lower(), BuyCandidate},
		{"dip envelope inside range", dip, 200, NoEnvelopeSignal},
		{"dip envelope above upper anchor", dip, 400, SellAdvisory},
		{"top envelope above upper anchor", top, 400, SellCandidate},
		{"top envelope at upper anchor", top, top.Upper(), SellCandidate},
		{"top envelope inside range", top, 200, NoEnvelopeSignal},
		{"top envelope below lower anchor", top, 90, BuyAdvisory},
	}

	for _, test := range tests {
		signal := test.envelope.Evaluate(test.price)
		if signal != test.want {
			t.Errorf("%s: expected %s, got %s", test.name, test.want.String(), signal.String())
		}
	}

	// Ensure only candidates are actionable.
	assert.True(t, BuyCandidate.Actionable())
	assert.True(t, SellCandidate.Actionable())
	assert.False(t, BuyAdvisory.Actionable())
	assert.False(t, SellAdvisory.Actionable())
	assert.False(t, NoEnvelopeSignal.Actionable())
}
