package indicator

import (
	"fmt"

	"github.com/dnldd/dipper/shared"
)

// TrendLine represents a least squares line fitted to a closing price window.
type TrendLine struct {
	Slope     float64
	Intercept float64
	// Fitted holds the fitted value at every index of the input window.
	Fitted []float64
}

// FitTrendLine fits a degree-1 polynomial to the provided samples against their index
// positions using ordinary least squares.
func FitTrendLine(data []float64) (*TrendLine, error) {
	n := len(data)
	if n < 2 {
		return nil, fmt.Errorf("fitting trend line over %d samples: %w", n, shared.ErrInsufficientData)
	}

	xMean := float64(n-1) / 2
	var yMean float64
	for idx := range data {
		yMean += data[idx]
	}
	yMean /= float64(n)

	var covariance, variance float64
	for idx := range data {
		dx := float64(idx) - xMean
		covariance += dx * (data[idx] - yMean)
		variance += dx * dx
	}

	slope := covariance / variance
	intercept := yMean - slope*xMean

	fitted := make([]float64, n)
	for idx := range fitted {
		fitted[idx] = intercept + slope*float64(idx)
	}

	return &TrendLine{
		Slope:     slope,
		Intercept: intercept,
		Fitted:    fitted,
	}, nil
}

// Min returns the lowest fitted value.
func (t *TrendLine) Min() float64 {
	// A straight line is extremal at its ends.
	return min(t.Fitted[0], t.Fitted[len(t.Fitted)-1])
}

// Max returns the highest fitted value.
func (t *TrendLine) Max() float64 {
	return max(t.Fitted[0], t.Fitted[len(t.Fitted)-1])
}
