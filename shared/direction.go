package shared

// Direction represents the direction of a turning point.
type Direction int

const (
	Dip Direction = iota
	Top
)

// String stringifies the provided direction.
func (d Direction) String() string {
	switch d {
	case Dip:
		return "dip"
	case Top:
		return "top"
	default:
		return "unknown"
	}
}

// Outcome represents the result of evaluating a symbol.
type Outcome int

const (
	NoSignal Outcome = iota
	DipConfirmed
	TopConfirmed
)

// String stringifies the provided outcome.
func (o Outcome) String() string {
	switch o {
	case NoSignal:
		return "no signal"
	case DipConfirmed:
		return "dip confirmed"
	case TopConfirmed:
		return "top confirmed"
	default:
		return "unknown"
	}
}

// OutcomeFor returns the confirmed outcome for the provided direction.
func OutcomeFor(direction Direction) Outcome {
	switch direction {
	case Dip:
		return DipConfirmed
	case Top:
		return TopConfirmed
	default:
		return NoSignal
	}
}
