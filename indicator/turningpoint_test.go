package indicator

import (
	"errors"
	"testing"

	"github.com/dnldd/dipper/shared"
	"github.com/peterldowns/testy/assert"
)

func TestDetectTurningPoints(t *testing.T) {
	tests := []struct {
		name    string
		series  []float64
		wantDip bool
		wantTop bool
	}{
		{
			name:    "linear decline",
			series:  []float64{10, 9, 8, 7, 6, 5, 4, 3, 2, 1},
			wantDip: true,
		},
		{
			name:    "two sample decline",
			series:  []float64{3, 2},
			wantDip: true,
		},
		{
			name:    "accelerating decline",
			series:  []float64{100, 99, 96, 91, 84, 75, 64},
			wantDip: true,
		},
		{
			name:    "linear rise",
			series:  []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
			wantTop: true,
		},
		{
			name:    "accelerating rise",
			series:  []float64{64, 75, 84, 91, 96, 99, 100, 130},
			wantTop: true,
		},
		{
			name:   "constant",
			series: []float64{7, 7, 7, 7, 7},
		},
		{
			name:   "decline with a late bounce",
			series: []float64{10, 9, 8, 7, 6, 5, 4, 3, 2, 6},
		},
		{
			name:   "rise with a late pullback",
			series: []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 4},
		},
		{
			name:   "low close against a rising trend",
			series: []float64{1, 5, 6, 7, 8, 9, 10, 11, 12, 0.5},
		},
	}

	for _, test := range tests {
		dip, err := DetectDip(test.series)
		if err != nil {
			t.Errorf("%s: unexpected dip error: %v", test.name, err)
			continue
		}
		if dip != test.wantDip {
			t.Errorf("%s: expected dip %v, got %v", test.name, test.wantDip, dip)
		}

		top, err := DetectTop(test.series)
		if err != nil {
			t.Errorf("%s: unexpected top error: %v", test.name, err)
			continue
		}
		if top != test.wantTop {
			t.Errorf("%s: expected top %v, got %v", test.name, test.wantTop, top)
		}

		// Ensure the direction dispatch agrees with the dedicated detectors.
		viaDip, err := Detect(test.series, shared.Dip)
		assert.NoError(t, err)
		assert.Equal(t, viaDip, dip)
		viaTop, err := Detect(test.series, shared.Top)
		assert.NoError(t, err)
		assert.Equal(t, viaTop, top)
	}
}

func TestDetectInsufficientData(t *testing.T) {
	// Ensure short series propagate the fitting error.
	_, err := DetectDip([]float64{1})
	assert.True(t, errors.Is(err, shared.ErrInsufficientData))

	_, err = DetectTop(nil)
	assert.True(t, errors.Is(err, shared.ErrInsufficientData))

	// Ensure unknown directions error.
	_, err = Detect([]float64{1, 2, 3}, shared.Direction(999))
	assert.Error(t, err)
}
