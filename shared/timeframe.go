package shared

import (
	"fmt"
	"strings"
)

const (
	// HistoryLimit is the maximum number of closes requested per history fetch.
	HistoryLimit = 1000
)

// Timeframe represents the market data time period.
type Timeframe int

const (
	FourHour Timeframe = iota
	OneHour
	FifteenMinute
	FiveMinute
	OneMinute
)

var (
	// DefaultLadder is the default confirmation ladder, ordered coarsest to finest.
	DefaultLadder = []Timeframe{FourHour, OneHour, FifteenMinute, FiveMinute}
	// DefaultEntryTimeframe is the default timeframe used to time entries.
	DefaultEntryTimeframe = OneMinute
)

// String stringifies the provided timeframe as a feed interval.
func (t Timeframe) String() string {
	switch t {
	case FourHour:
		return "4h"
	case OneHour:
		return "1h"
	case FifteenMinute:
		return "15m"
	case FiveMinute:
		return "5m"
	case OneMinute:
		return "1m"
	default:
		return "unknown"
	}
}

// ParseTimeframe parses the provided feed interval.
func ParseTimeframe(interval string) (Timeframe, error) {
	switch strings.TrimSpace(interval) {
	case "4h":
		return FourHour, nil
	case "1h":
		return OneHour, nil
	case "15m":
		return FifteenMinute, nil
	case "5m":
		return FiveMinute, nil
	case "1m":
		return OneMinute, nil
	default:
		return 0, fmt.Errorf("unknown timeframe provided: %s", interval)
	}
}

// ParseLadder parses the provided feed intervals into a confirmation ladder. The ladder must
// be ordered coarsest to finest with no repeats.
func ParseLadder(intervals []string) ([]Timeframe, error) {
	if len(intervals) == 0 {
		return nil, fmt.Errorf("ladder cannot be empty")
	}

	ladder := make([]Timeframe, 0, len(intervals))
	for idx := range intervals {
		tf, err := ParseTimeframe(intervals[idx])
		if err != nil {
			return nil, err
		}

		if len(ladder) > 0 && tf <= ladder[len(ladder)-1] {
			return nil, fmt.Errorf("ladder must be ordered coarsest to finest, got %s after %s",
				tf.String(), ladder[len(ladder)-1].String())
		}

		ladder = append(ladder, tf)
	}

	return ladder, nil
}
