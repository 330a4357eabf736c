package indicator

import (
	"fmt"
	"math"

	"github.com/dnldd/dipper/shared"
)

const (
	// EnvelopeLength is the default envelope window length.
	EnvelopeLength = 200
)

// EnvelopeSignal represents the signal derived from comparing a price to an envelope.
type EnvelopeSignal int

const (
	NoEnvelopeSignal EnvelopeSignal = iota
	BuyCandidate
	SellCandidate
	BuyAdvisory
	SellAdvisory
)

// String stringifies the provided envelope signal.
func (s EnvelopeSignal) String() string {
	switch s {
	case NoEnvelopeSignal:
		return "none"
	case BuyCandidate:
		return "buy candidate"
	case SellCandidate:
		return "sell candidate"
	case BuyAdvisory:
		return "buy advisory"
	case SellAdvisory:
		return "sell advisory"
	default:
		return "unknown"
	}
}

// Actionable reports whether the signal can arm an execution episode.
func (s EnvelopeSignal) Actionable() bool {
	return s == BuyCandidate || s == SellCandidate
}

// Envelope represents a quarter-wave sine curve scaled into the fitted range of a price
// window. It is used to time entries within a confirmed move.
type Envelope struct {
	Values    []float64
	Lowest    float64
	Highest   float64
	Direction shared.Direction
}

// NewEnvelope builds an envelope of the provided length over the trailing samples of the
// provided window. Dip envelopes rise from the fitted minimum to the fitted maximum, top
// envelopes mirror them.
func NewEnvelope(window []float64, length int, direction shared.Direction) (*Envelope, error) {
	if length < 2 {
		return nil, fmt.Errorf("envelope length must be at least 2, got %d", length)
	}
	if len(window) < length {
		return nil, fmt.Errorf("building envelope over %d samples, need %d: %w",
			len(window), length, shared.ErrInsufficientData)
	}
	if direction != shared.Dip && direction != shared.Top {
		return nil, fmt.Errorf("unknown direction provided: %s", direction.String())
	}

	line, err := FitTrendLine(window[len(window)-length:])
	if err != nil {
		return nil, err
	}

	lowest := line.Min()
	highest := line.Max()
	span := highest - lowest

	values := make([]float64, length)
	step := math.Pi / (2 * float64(length-1))
	for idx := range values {
		wave := math.Sin(float64(idx) * step)
		switch direction {
		case shared.Dip:
			values[idx] = lowest + span*wave
		case shared.Top:
			values[idx] = highest - span*wave
		}
	}

	return &Envelope{
		Values:    values,
		Lowest:    lowest,
		Highest:   highest,
		Direction: direction,
	}, nil
}

// Lower returns the lower anchor of the envelope.
func (e *Envelope) Lower() float64 {
	if e.Direction == shared.Top {
		return e.Values[len(e.Values)-1]
	}
	return e.Values[0]
}

// Upper returns the upper anchor of the envelope.
func (e *Envelope) Upper() float64 {
	if e.Direction == shared.Top {
		return e.Values[0]
	}
	return e.Values[len(e.Values)-1]
}

// Evaluate compares the provided price against the envelope anchors. Only a buy candidate
// on a dip envelope or a sell candidate on a top envelope is actionable, the opposite
// comparisons are advisory.
func (e *Envelope) Evaluate(price float64) EnvelopeSignal {
	switch {
	case price <= e.Lower():
		if e.Direction == shared.Dip {
			return BuyCandidate
		}
		return BuyAdvisory
	case price >= e.Upper():
		if e.Direction == shared.Top {
			return SellCandidate
		}
		return SellAdvisory
	default:
		return NoEnvelopeSignal
	}
}
