package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/dnldd/dipper/indicator"
	"github.com/dnldd/dipper/shared"
	"github.com/rs/zerolog"
)

// ConfirmerConfig represents the multi-timeframe confirmer configuration.
type ConfirmerConfig struct {
	// History fetches closing price history.
	History shared.PriceHistoryProvider
	// RecordConfirmation records the provided confirmation result, optional.
	RecordConfirmation func(result *shared.ConfirmationResult)
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *ConfirmerConfig) Validate() error {
	var errs error

	if cfg.History == nil {
		errs = errors.Join(errs, fmt.Errorf("price history provider cannot be nil"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// Confirmer cascades turning point detection across a timeframe ladder.
type Confirmer struct {
	cfg *ConfirmerConfig
}

// NewConfirmer initializes a new multi-timeframe confirmer.
func NewConfirmer(cfg *ConfirmerConfig) (*Confirmer, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating confirmer config: %w", err)
	}

	return &Confirmer{cfg: cfg}, nil
}

// Confirm evaluates the provided ladder coarsest to finest and confirms the provided direction
// only if every timeframe detects it. Evaluation stops at the first timeframe that does not
// confirm. Fetch and data errors fail confirmation for that timeframe and are recorded on the
// result rather than returned.
func (c *Confirmer) Confirm(ctx context.Context, symbol string, ladder []shared.Timeframe, direction shared.Direction) *shared.ConfirmationResult {
	result := &shared.ConfirmationResult{
		Symbol:    symbol,
		Direction: direction,
		Evaluated: make([]shared.Timeframe, 0, len(ladder)),
	}

	defer func() {
		if c.cfg.RecordConfirmation != nil {
			c.cfg.RecordConfirmation(result)
		}
	}()

	if len(ladder) == 0 {
		result.Err = fmt.Errorf("empty confirmation ladder")
		return result
	}

	for idx := range ladder {
		timeframe := ladder[idx]

		if err := ctx.Err(); err != nil {
			result.FailedAt = timeframe
			result.Err = err
			return result
		}

		result.Evaluated = append(result.Evaluated, timeframe)

		series, err := c.cfg.History.FetchHistory(ctx, symbol, timeframe)
		if err != nil {
			c.cfg.Logger.Warn().Msgf("fetching %s history for %s: %v", timeframe.String(), symbol, err)
			result.FailedAt = timeframe
			result.Err = err
			return result
		}

		detected, err := indicator.Detect(series, direction)
		if err != nil {
			c.cfg.Logger.Warn().Msgf("detecting %s on %s for %s: %v", direction.String(), timeframe.String(), symbol, err)
			result.FailedAt = timeframe
			result.Err = err
			return result
		}

		if !detected {
			result.FailedAt = timeframe
			return result
		}

		c.cfg.Logger.Info().Msgf("%s: %s found on %s timeframe", symbol, direction.String(), timeframe.String())
	}

	result.Confirmed = true
	c.cfg.Logger.Info().Msgf("%s: %s confirmed on all timeframes", symbol, direction.String())

	return result
}
