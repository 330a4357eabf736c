package shared

import (
	"testing"

	"github.com/peterldowns/testy/assert"
)

func TestDirectionString(t *testing.T) {
	assert.Equal(t, Dip.String(), "dip")
	assert.Equal(t, Top.String(), "top")
	assert.Equal(t, Direction(999).String(), "unknown")
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		name      string
		direction Direction
		want      Outcome
		wantStr   string
	}{
		{
			"dip",
			Dip,
			DipConfirmed,
			"dip confirmed",
		},
		{
			"top",
			Top,
			TopConfirmed,
			"top confirmed",
		},
		{
			"unknown direction",
			Direction(999),
			NoSignal,
			"no signal",
		},
	}

	for _, test := range tests {
		outcome := OutcomeFor(test.direction)
		if outcome != test.want {
			t.Errorf("%s: expected %v, got %v", test.name, test.want, outcome)
		}
		if outcome.String() != test.wantStr {
			t.Errorf("%s: expected %v, got %v", test.name, test.wantStr, outcome.String())
		}
	}
}
