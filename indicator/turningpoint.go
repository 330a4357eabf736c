package indicator

import (
	"fmt"
	"math"

	"github.com/dnldd/dipper/shared"
)

const (
	// breachTolerance is the relative tolerance within which the last close is considered to
	// have reached a fitted extremum. A perfectly linear series lands exactly on its own
	// fitted extremum.
	breachTolerance = 1e-9
)

// tolerance returns the absolute breach tolerance for the provided fitted extremum.
func tolerance(extremum float64) float64 {
	return breachTolerance * math.Max(1, math.Abs(extremum))
}

// DetectDip reports whether the provided series closes at or below its fitted trend line
// minimum while the trend line slopes down.
func DetectDip(series []float64) (bool, error) {
	line, err := FitTrendLine(series)
	if err != nil {
		return false, err
	}

	last := series[len(series)-1]
	lowest := line.Min()

	return last < lowest+tolerance(lowest) && line.Slope < 0, nil
}

// DetectTop reports whether the provided series closes at or above its fitted trend line
// maximum while the trend line slopes up.
func DetectTop(series []float64) (bool, error) {
	line, err := FitTrendLine(series)
	if err != nil {
		return false, err
	}

	last := series[len(series)-1]
	highest := line.Max()

	return last > highest-tolerance(highest) && line.Slope > 0, nil
}

// Detect reports whether the provided series exhibits a turning point in the provided
// direction.
func Detect(series []float64, direction shared.Direction) (bool, error) {
	switch direction {
	case shared.Dip:
		return DetectDip(series)
	case shared.Top:
		return DetectTop(series)
	default:
		return false, fmt.Errorf("unknown direction provided: %s", direction.String())
	}
}
