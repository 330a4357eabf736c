package shared

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/peterldowns/testy/assert"
)

func TestTimeframeString(t *testing.T) {
	tests := []struct {
		name      string
		timeframe Timeframe
		want      string
	}{
		{
			"Four Hour",
			FourHour,
			"4h",
		},
		{
			"One Hour",
			OneHour,
			"1h",
		},
		{
			"Fifteen Minute",
			FifteenMinute,
			"15m",
		},
		{
			"Five Minute",
			FiveMinute,
			"5m",
		},
		{
			"One Minute",
			OneMinute,
			"1m",
		},
		{
			"unknown",
			Timeframe(999),
			"unknown",
		},
	}

	for _, test := range tests {
		str := test.timeframe.String()
		if str != test.want {
			t.Errorf("%s: expected %v, got %v", test.name, test.want, str)
		}
	}
}

func TestParseTimeframe(t *testing.T) {
	// Ensure every known interval round trips.
	for _, tf := range []Timeframe{FourHour, OneHour, FifteenMinute, FiveMinute, OneMinute} {
		parsed, err := ParseTimeframe(tf.String())
		assert.NoError(t, err)
		assert.Equal(t, parsed, tf)
	}

	// Ensure surrounding whitespace is tolerated.
	parsed, err := ParseTimeframe(" 15m ")
	assert.NoError(t, err)
	assert.Equal(t, parsed, FifteenMinute)

	// Ensure unknown intervals error.
	_, err = ParseTimeframe("3d")
	assert.Error(t, err)
}

func TestParseLadder(t *testing.T) {
	tests := []struct {
		name      string
		intervals []string
		want      []Timeframe
		wantErr   bool
	}{
		{
			name:      "default ladder",
			intervals: []string{"4h", "1h", "15m", "5m"},
			want:      DefaultLadder,
		},
		{
			name:      "single timeframe",
			intervals: []string{"1h"},
			want:      []Timeframe{OneHour},
		},
		{
			name:      "empty ladder",
			intervals: nil,
			wantErr:   true,
		},
		{
			name:      "finest first",
			intervals: []string{"5m", "1h"},
			wantErr:   true,
		},
		{
			name:      "repeated timeframe",
			intervals: []string{"1h", "1h"},
			wantErr:   true,
		},
		{
			name:      "unknown timeframe",
			intervals: []string{"4h", "2h"},
			wantErr:   true,
		},
	}

	for _, test := range tests {
		ladder, err := ParseLadder(test.intervals)
		if test.wantErr {
			if err == nil {
				t.Errorf("%s: expected an error, got none", test.name)
			}
			continue
		}

		if err != nil {
			t.Errorf("%s: unexpected error: %v", test.name, err)
			continue
		}

		if !cmp.Equal(ladder, test.want) {
			t.Errorf("%s: mismatching ladder, got %v", test.name, cmp.Diff(ladder, test.want))
		}
	}
}
