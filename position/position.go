package position

import (
	"fmt"
	"time"

	"github.com/dnldd/dipper/shared"
	"github.com/google/uuid"
)

// State represents the state of an execution episode.
type State int32

const (
	Idle State = iota
	Armed
	Polling
	Closed
)

// String stringifies the provided state.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Polling:
		return "polling"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// CloseReason represents the reason an episode was closed.
type CloseReason int

const (
	NotClosed CloseReason = iota
	ExitReached
	Cancelled
	TimedOut
	IterationsExhausted
	EntryRejected
)

// String stringifies the provided close reason.
func (r CloseReason) String() string {
	switch r {
	case NotClosed:
		return "not closed"
	case ExitReached:
		return "exit reached"
	case Cancelled:
		return "cancelled"
	case TimedOut:
		return "timed out"
	case IterationsExhausted:
		return "iterations exhausted"
	case EntryRejected:
		return "entry rejected"
	default:
		return "unknown"
	}
}

// Thresholds returns the entry and exit thresholds of an episode in the provided direction
// for the provided amplitude.
func Thresholds(direction shared.Direction, amplitude float64) (float64, float64, error) {
	switch direction {
	case shared.Dip:
		return 0.25 * amplitude, 0.75 * amplitude, nil
	case shared.Top:
		return 0.75 * amplitude, 0.25 * amplitude, nil
	default:
		return 0, 0, fmt.Errorf("unknown direction provided: %s", direction.String())
	}
}

// Episode represents a single execution lifecycle for a symbol, from arming to closing.
// EntryIssued is set once an entry order is sent, even if its outcome is unknown.
type Episode struct {
	ID          string
	Symbol      string
	Direction   shared.Direction
	Amplitude   float64
	Entry       float64
	Exit        float64
	Entered     bool
	EntryIssued bool
	Quantity    float64
	EntryPrice  float64
	ExitPrice   float64
	Iterations  uint32
	Reason      CloseReason
	// CloseErr records a failed close command, the episode is closed regardless.
	CloseErr  error
	CreatedOn time.Time
	ClosedOn  time.Time
}

// NewEpisode initializes a new episode.
func NewEpisode(symbol string, direction shared.Direction, amplitude float64) (*Episode, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol cannot be an empty string")
	}
	if amplitude <= 0 {
		return nil, fmt.Errorf("amplitude must be positive, got %f", amplitude)
	}

	entry, exit, err := Thresholds(direction, amplitude)
	if err != nil {
		return nil, err
	}

	return &Episode{
		ID:        uuid.New().String(),
		Symbol:    symbol,
		Direction: direction,
		Amplitude: amplitude,
		Entry:     entry,
		Exit:      exit,
		CreatedOn: time.Now(),
	}, nil
}

// EntryReached reports whether the provided price satisfies the entry condition.
func (e *Episode) EntryReached(price float64) bool {
	if e.Direction == shared.Top {
		return price >= e.Entry
	}
	return price <= e.Entry
}

// ExitReached reports whether the provided price satisfies the close condition.
func (e *Episode) ExitReached(price float64) bool {
	if e.Direction == shared.Top {
		return price <= e.Exit
	}
	return price >= e.Exit
}

// PNLPercent returns the percentage change of an entered episode given the provided price.
func (e *Episode) PNLPercent(price float64) float64 {
	if !e.Entered || e.EntryPrice == 0 {
		return 0
	}

	switch e.Direction {
	case shared.Top:
		return ((e.EntryPrice - price) / e.EntryPrice) * 100
	default:
		return ((price - e.EntryPrice) / e.EntryPrice) * 100
	}
}

// close marks the episode closed for the provided reason.
func (e *Episode) close(reason CloseReason, price float64) {
	e.Reason = reason
	e.ExitPrice = price
	e.ClosedOn = time.Now()
}
