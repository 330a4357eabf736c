package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/dnldd/dipper/indicator"
	"github.com/dnldd/dipper/position"
	"github.com/dnldd/dipper/shared"
	"github.com/rs/zerolog"
)

// EngineConfig represents the evaluation engine configuration.
type EngineConfig struct {
	// Ladder is the confirmation ladder, ordered coarsest to finest.
	Ladder []shared.Timeframe
	// EntryTimeframe is the timeframe the entry envelope is built on.
	EntryTimeframe shared.Timeframe
	// EnvelopeLength is the envelope window length.
	EnvelopeLength int
	// History fetches closing price history.
	History shared.PriceHistoryProvider
	// Prices samples current prices.
	Prices shared.PriceProvider
	// StartEpisode arms an execution episode for a confirmed turning point.
	StartEpisode func(symbol string, direction shared.Direction) (*position.Handle, error)
	// RecordConfirmation records the provided confirmation result, optional.
	RecordConfirmation func(result *shared.ConfirmationResult)
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *EngineConfig) Validate() error {
	var errs error

	if len(cfg.Ladder) == 0 {
		errs = errors.Join(errs, fmt.Errorf("confirmation ladder cannot be empty"))
	}
	if cfg.EnvelopeLength < 2 {
		errs = errors.Join(errs, fmt.Errorf("envelope length must be at least 2"))
	}
	if cfg.History == nil {
		errs = errors.Join(errs, fmt.Errorf("price history provider cannot be nil"))
	}
	if cfg.Prices == nil {
		errs = errors.Join(errs, fmt.Errorf("price provider cannot be nil"))
	}
	if cfg.StartEpisode == nil {
		errs = errors.Join(errs, fmt.Errorf("start episode function cannot be nil"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// Evaluation represents the result of evaluating a symbol.
type Evaluation struct {
	Symbol       string
	Outcome      shared.Outcome
	Confirmation *shared.ConfirmationResult
	// Signal is the envelope signal of a confirmed turning point.
	Signal indicator.EnvelopeSignal
	// Handle observes the armed episode, nil if no episode was armed.
	Handle *position.Handle
}

// Engine evaluates symbols for confirmed turning points and arms execution episodes.
type Engine struct {
	cfg       *EngineConfig
	confirmer *Confirmer
}

// NewEngine initializes a new evaluation engine.
func NewEngine(cfg *EngineConfig) (*Engine, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating engine config: %w", err)
	}

	confirmer, err := NewConfirmer(&ConfirmerConfig{
		History:            cfg.History,
		RecordConfirmation: cfg.RecordConfirmation,
		Logger:             cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating confirmer: %w", err)
	}

	return &Engine{
		cfg:       cfg,
		confirmer: confirmer,
	}, nil
}

// Evaluate evaluates the provided symbol for a dip, then a top, across the confirmation
// ladder. A confirmed turning point arms an episode when the entry envelope yields the
// matching candidate. The returned error is non-nil only when a confirmed turning point
// could not be timed or armed.
func (e *Engine) Evaluate(ctx context.Context, symbol string) (*Evaluation, error) {
	eval := &Evaluation{
		Symbol:  symbol,
		Outcome: shared.NoSignal,
	}

	for _, direction := range []shared.Direction{shared.Dip, shared.Top} {
		result := e.confirmer.Confirm(ctx, symbol, e.cfg.Ladder, direction)
		eval.Confirmation = result
		if result.Confirmed {
			eval.Outcome = shared.OutcomeFor(direction)
			break
		}

		if ctx.Err() != nil {
			return eval, nil
		}
	}

	if eval.Outcome == shared.NoSignal {
		return eval, nil
	}

	direction := eval.Confirmation.Direction

	signal, err := e.timeEntry(ctx, symbol, direction)
	if err != nil {
		return eval, fmt.Errorf("timing %s entry for %s: %w", direction.String(), symbol, err)
	}

	eval.Signal = signal

	switch signal {
	case indicator.BuyCandidate:
		e.cfg.Logger.Info().Msgf("%s: Buy signal on %s timeframe", symbol, e.cfg.EntryTimeframe.String())
	case indicator.SellCandidate:
		e.cfg.Logger.Info().Msgf("%s: Sell signal on %s timeframe", symbol, e.cfg.EntryTimeframe.String())
	case indicator.BuyAdvisory, indicator.SellAdvisory:
		e.cfg.Logger.Info().Msgf("%s: %s on %s timeframe for confirmed %s", symbol, signal.String(),
			e.cfg.EntryTimeframe.String(), direction.String())
	default:
		// do nothing.
	}

	if !signal.Actionable() {
		return eval, nil
	}

	handle, err := e.cfg.StartEpisode(symbol, direction)
	if err != nil {
		return eval, fmt.Errorf("arming %s episode for %s: %w", direction.String(), symbol, err)
	}

	eval.Handle = handle

	return eval, nil
}

// timeEntry builds the entry envelope for the confirmed direction and evaluates the current
// price against it.
func (e *Engine) timeEntry(ctx context.Context, symbol string, direction shared.Direction) (indicator.EnvelopeSignal, error) {
	window, err := e.cfg.History.FetchHistory(ctx, symbol, e.cfg.EntryTimeframe)
	if err != nil {
		return indicator.NoEnvelopeSignal, fmt.Errorf("fetching %s history: %w", e.cfg.EntryTimeframe.String(), err)
	}

	envelope, err := indicator.NewEnvelope(window, e.cfg.EnvelopeLength, direction)
	if err != nil {
		return indicator.NoEnvelopeSignal, fmt.Errorf("building envelope: %w", err)
	}

	price, err := e.cfg.Prices.FetchPrice(ctx, symbol)
	if err != nil {
		return indicator.NoEnvelopeSignal, fmt.Errorf("fetching current price: %w", err)
	}

	return envelope.Evaluate(price), nil
}
