package position

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/dnldd/dipper/shared"
	"github.com/rs/zerolog"
)

const (
	// DefaultPollInterval is the default wait between poll iterations.
	DefaultPollInterval = time.Second * 5
	// closeTimeout is the maximum time allowed for a close command issued after the episode
	// context is done.
	closeTimeout = time.Second * 10
)

// ControllerConfig represents the execution controller configuration.
type ControllerConfig struct {
	// Symbol is the symbol traded by the episode.
	Symbol string
	// Direction is the confirmed turning point direction.
	Direction shared.Direction
	// Amplitude defines the entry and exit thresholds.
	Amplitude float64
	// PollInterval is the wait between poll iterations.
	PollInterval time.Duration
	// MaxIterations bounds the number of poll iterations, zero disables the bound.
	MaxIterations uint32
	// MaxDuration bounds the duration of the episode, zero disables the bound.
	MaxDuration time.Duration
	// ReferencePeriod is the period of the diagnostic reference wave, zero disables it.
	ReferencePeriod time.Duration
	// ReferencePhase is the phase shift of the diagnostic reference wave in radians.
	ReferencePhase float64
	// Prices samples the current price of the symbol.
	Prices shared.PriceProvider
	// Gateway executes trading commands.
	Gateway shared.TradingGateway
	// Notify sends the provided message.
	Notify func(message string)
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *ControllerConfig) Validate() error {
	var errs error

	if cfg.Symbol == "" {
		errs = errors.Join(errs, fmt.Errorf("symbol cannot be an empty string"))
	}
	if cfg.Amplitude <= 0 {
		errs = errors.Join(errs, fmt.Errorf("amplitude must be positive"))
	}
	if cfg.PollInterval < 0 {
		errs = errors.Join(errs, fmt.Errorf("poll interval cannot be negative"))
	}
	if cfg.MaxIterations == 0 && cfg.MaxDuration <= 0 {
		errs = errors.Join(errs, fmt.Errorf("either max iterations or max duration must bound the episode"))
	}
	if cfg.Prices == nil {
		errs = errors.Join(errs, fmt.Errorf("price provider cannot be nil"))
	}
	if cfg.Gateway == nil {
		errs = errors.Join(errs, fmt.Errorf("trading gateway cannot be nil"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// Controller executes a single episode for a confirmed turning point. It arms on creation,
// polls the current price against the episode thresholds and closes once the close
// condition fires or a bound is reached.
type Controller struct {
	cfg     *ControllerConfig
	episode *Episode
	state   atomic.Int32
	now     func() time.Time
}

// NewController initializes an armed execution controller.
func NewController(cfg *ControllerConfig) (*Controller, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating controller config: %w", err)
	}

	episode, err := NewEpisode(cfg.Symbol, cfg.Direction, cfg.Amplitude)
	if err != nil {
		return nil, fmt.Errorf("creating episode: %w", err)
	}

	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	c := &Controller{
		cfg:     cfg,
		episode: episode,
		now:     time.Now,
	}
	c.setState(Armed)

	cfg.Logger.Info().Msgf("armed %s episode (%s) for %s with entry %f and exit %f",
		cfg.Direction.String(), episode.ID, cfg.Symbol, episode.Entry, episode.Exit)

	return c, nil
}

// ID returns the id of the controlled episode.
func (c *Controller) ID() string {
	return c.episode.ID
}

// State returns the current state of the controller.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// setState updates the state of the controller.
func (c *Controller) setState(state State) {
	c.state.Store(int32(state))
}

// notify relays the provided message if a notifier is configured.
func (c *Controller) notify(message string) {
	if c.cfg.Notify != nil {
		c.cfg.Notify(message)
	}
}

// referenceWave returns the diagnostic reference wave value at the provided time.
func (c *Controller) referenceWave(at time.Time) float64 {
	if c.cfg.ReferencePeriod <= 0 {
		return 0
	}

	t := float64(at.UnixNano()) / float64(time.Second)
	period := c.cfg.ReferencePeriod.Seconds()
	return c.cfg.Amplitude * math.Sin(2*math.Pi/period*t+c.cfg.ReferencePhase)
}

// enter places the entry order sized with the full account balance at the provided price.
func (c *Controller) enter(ctx context.Context, price float64) error {
	if price <= 0 {
		return fmt.Errorf("sizing entry at non-positive price %f: %w", price, shared.ErrOrderRejected)
	}

	balance, err := c.cfg.Gateway.FetchBalance(ctx)
	if err != nil {
		return fmt.Errorf("fetching balance: %w", err)
	}

	quantity := balance / price
	c.episode.EntryIssued = true

	switch c.cfg.Direction {
	case shared.Top:
		err = c.cfg.Gateway.Sell(ctx, c.cfg.Symbol, quantity)
	default:
		err = c.cfg.Gateway.Buy(ctx, c.cfg.Symbol, quantity)
	}
	if err != nil {
		return fmt.Errorf("placing entry order: %w", err)
	}

	c.episode.Entered = true
	c.episode.EntryPrice = price
	c.episode.Quantity = quantity

	return nil
}

// closePositions issues the close command and records any failure on the episode.
func (c *Controller) closePositions(ctx context.Context) error {
	err := c.cfg.Gateway.CloseAllPositions(ctx, c.cfg.Symbol)
	if err != nil {
		c.episode.CloseErr = err
		c.cfg.Logger.Error().Msgf("closing positions for %s episode (%s): %v",
			c.cfg.Symbol, c.episode.ID, err)
		c.notify(fmt.Sprintf("Failed closing %s positions for episode (%s), manual review required: %v",
			c.cfg.Symbol, c.episode.ID, err))
		return fmt.Errorf("closing positions: %w", err)
	}

	return nil
}

// closeContext returns the context close commands are issued on. A done episode context is
// replaced with a fresh bounded one so an open position is not abandoned.
func closeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx.Err() == nil {
		return ctx, func() {}
	}
	return context.WithTimeout(context.Background(), closeTimeout)
}

// contextReason returns the close reason for the provided context error.
func contextReason(err error) CloseReason {
	if errors.Is(err, context.DeadlineExceeded) {
		return TimedOut
	}
	return Cancelled
}

// finish closes the episode for the provided reason.
func (c *Controller) finish(reason CloseReason, price float64) {
	c.episode.close(reason, price)
	c.setState(Closed)

	c.cfg.Logger.Info().Msgf("closed %s episode (%s) for %s after %d iterations: %s",
		c.cfg.Direction.String(), c.episode.ID, c.cfg.Symbol, c.episode.Iterations, reason.String())
}

// abort ends the episode before its close condition fired. An issued entry is closed
// with a fresh bounded context since the episode context may already be done.
func (c *Controller) abort(reason CloseReason, price float64) (*Episode, error) {
	var err error
	if c.episode.Entered || c.episode.EntryIssued {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		err = c.closePositions(closeCtx)
		cancel()
	}

	c.finish(reason, price)

	return c.episode, err
}

// wait blocks for the poll interval or until the provided context is done.
func (c *Controller) wait(ctx context.Context) {
	timer := time.NewTimer(c.cfg.PollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Run polls the current price until the close condition fires, the provided context is done
// or a bound is reached. The returned error is non-nil when a gateway command failed.
func (c *Controller) Run(ctx context.Context) (*Episode, error) {
	if c.State() != Armed {
		return nil, fmt.Errorf("controller for episode (%s) is %s, expected armed",
			c.episode.ID, c.State().String())
	}

	if c.cfg.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.MaxDuration)
		defer cancel()
	}

	c.setState(Polling)

	var lastPrice float64
	for {
		if err := ctx.Err(); err != nil {
			return c.abort(contextReason(err), lastPrice)
		}

		if c.cfg.MaxIterations > 0 && c.episode.Iterations >= c.cfg.MaxIterations {
			return c.abort(IterationsExhausted, lastPrice)
		}

		c.episode.Iterations++

		price, err := c.cfg.Prices.FetchPrice(ctx, c.cfg.Symbol)
		if err != nil {
			c.cfg.Logger.Warn().Msgf("sampling %s price for episode (%s): %v",
				c.cfg.Symbol, c.episode.ID, err)
			c.wait(ctx)
			continue
		}

		lastPrice = price

		c.cfg.Logger.Debug().
			Float64("price", price).
			Float64("reference", c.referenceWave(c.now())).
			Msgf("polled %s for episode (%s)", c.cfg.Symbol, c.episode.ID)

		if !c.episode.Entered && c.episode.EntryReached(price) {
			err := c.enter(ctx, price)
			if err != nil {
				c.cfg.Logger.Error().Msgf("entering %s episode (%s): %v", c.cfg.Symbol, c.episode.ID, err)

				// An entry sent on a done context or lost in transport may have filled.
				if c.episode.EntryIssued && (ctx.Err() != nil || errors.Is(err, shared.ErrOrderUnconfirmed)) {
					c.notify(fmt.Sprintf("Entry of %s %s episode (%s) unconfirmed, closing positions: %v",
						c.cfg.Symbol, c.cfg.Direction.String(), c.episode.ID, err))
					reason := EntryRejected
					if ctxErr := ctx.Err(); ctxErr != nil {
						reason = contextReason(ctxErr)
					}
					episode, closeErr := c.abort(reason, price)
					return episode, errors.Join(err, closeErr)
				}

				if ctxErr := ctx.Err(); ctxErr != nil {
					return c.abort(contextReason(ctxErr), price)
				}

				c.notify(fmt.Sprintf("Failed entering %s %s episode (%s): %v",
					c.cfg.Symbol, c.cfg.Direction.String(), c.episode.ID, err))
				c.finish(EntryRejected, price)
				return c.episode, err
			}

			c.notify(fmt.Sprintf("Entered %s %s episode (%s) @ %f with quantity %f",
				c.cfg.Symbol, c.cfg.Direction.String(), c.episode.ID, price, c.episode.Quantity))
		}

		if c.episode.ExitReached(price) {
			closeCtx, cancel := closeContext(ctx)
			err := c.closePositions(closeCtx)
			cancel()
			c.finish(ExitReached, price)

			c.notify(fmt.Sprintf("Closed %s %s episode (%s) @ %f with pnl %.2f%%",
				c.cfg.Symbol, c.cfg.Direction.String(), c.episode.ID, price, c.episode.PNLPercent(price)))

			return c.episode, err
		}

		c.wait(ctx)
	}
}
