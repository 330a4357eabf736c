package position

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/dnldd/dipper/shared"
	"github.com/rs/zerolog"
)

const (
	// persistTimeout is the maximum time allowed for persisting a closed episode.
	persistTimeout = time.Second * 5
)

// ManagerConfig represents the position manager configuration.
type ManagerConfig struct {
	// Amplitude defines the entry and exit thresholds of every episode.
	Amplitude float64
	// PollInterval is the wait between poll iterations.
	PollInterval time.Duration
	// MaxIterations bounds the number of poll iterations of an episode.
	MaxIterations uint32
	// MaxDuration bounds the duration of an episode.
	MaxDuration time.Duration
	// ReferencePeriod is the period of the diagnostic reference wave.
	ReferencePeriod time.Duration
	// ReferencePhase is the phase shift of the diagnostic reference wave in radians.
	ReferencePhase float64
	// Prices samples current prices.
	Prices shared.PriceProvider
	// Gateway executes trading commands.
	Gateway shared.TradingGateway
	// Notify sends the provided message.
	Notify func(message string)
	// PersistClosedEpisode persists the provided closed episode, optional.
	PersistClosedEpisode func(ctx context.Context, episode *Episode) error
	// RecordClosedEpisode records metrics for the provided closed episode, optional.
	RecordClosedEpisode func(episode *Episode)
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *ManagerConfig) Validate() error {
	var errs error

	if cfg.Amplitude <= 0 {
		errs = errors.Join(errs, fmt.Errorf("amplitude must be positive"))
	}
	if cfg.MaxIterations == 0 && cfg.MaxDuration <= 0 {
		errs = errors.Join(errs, fmt.Errorf("either max iterations or max duration must bound episodes"))
	}
	if cfg.Prices == nil {
		errs = errors.Join(errs, fmt.Errorf("price provider cannot be nil"))
	}
	if cfg.Gateway == nil {
		errs = errors.Join(errs, fmt.Errorf("trading gateway cannot be nil"))
	}
	if cfg.Notify == nil {
		errs = errors.Join(errs, fmt.Errorf("notify function cannot be nil"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// Handle allows observing and cancelling a running episode.
type Handle struct {
	Symbol     string
	Direction  shared.Direction
	controller *Controller
	cancel     context.CancelFunc
	done       chan struct{}
	episode    *Episode
	err        error
}

// ID returns the id of the episode.
func (h *Handle) ID() string {
	return h.controller.ID()
}

// State returns the current state of the episode.
func (h *Handle) State() State {
	return h.controller.State()
}

// Cancel requests the episode to stop. An executed entry is closed before the episode ends.
func (h *Handle) Cancel() {
	h.cancel()
}

// Done returns a channel closed once the episode has ended.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result blocks until the episode ends and returns it.
func (h *Handle) Result() (*Episode, error) {
	<-h.done
	return h.episode, h.err
}

// Manager manages execution episodes through their lifecycles, allowing at most one active
// episode per symbol.
type Manager struct {
	cfg         *ManagerConfig
	ctx         context.Context
	cancel      context.CancelFunc
	episodes    map[string]*Handle
	episodesMtx sync.RWMutex
	wg          sync.WaitGroup
}

// NewPositionManager initializes a new position manager.
func NewPositionManager(cfg *ManagerConfig) (*Manager, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating position manager config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		episodes: make(map[string]*Handle),
	}, nil
}

// StartEpisode arms and runs an execution episode for the provided symbol and direction.
func (m *Manager) StartEpisode(symbol string, direction shared.Direction) (*Handle, error) {
	m.episodesMtx.Lock()
	defer m.episodesMtx.Unlock()

	// Run cancels under this lock, so no episode is added to the wait group after shutdown.
	if m.ctx.Err() != nil {
		return nil, fmt.Errorf("position manager is shutting down")
	}

	if _, ok := m.episodes[symbol]; ok {
		return nil, fmt.Errorf("starting %s episode for %s: %w", direction.String(), symbol, shared.ErrEpisodeActive)
	}

	logger := m.cfg.Logger.With().Str("symbol", symbol).Logger()
	controller, err := NewController(&ControllerConfig{
		Symbol:          symbol,
		Direction:       direction,
		Amplitude:       m.cfg.Amplitude,
		PollInterval:    m.cfg.PollInterval,
		MaxIterations:   m.cfg.MaxIterations,
		MaxDuration:     m.cfg.MaxDuration,
		ReferencePeriod: m.cfg.ReferencePeriod,
		ReferencePhase:  m.cfg.ReferencePhase,
		Prices:          m.cfg.Prices,
		Gateway:         m.cfg.Gateway,
		Notify:          m.cfg.Notify,
		Logger:          &logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating controller: %w", err)
	}

	ctx, cancel := context.WithCancel(m.ctx)
	handle := &Handle{
		Symbol:     symbol,
		Direction:  direction,
		controller: controller,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	m.episodes[symbol] = handle

	m.cfg.Notify(fmt.Sprintf("Armed %s %s episode (%s) with entry %f and exit %f",
		symbol, direction.String(), controller.ID(), controller.episode.Entry, controller.episode.Exit))

	m.wg.Add(1)
	go m.runEpisode(ctx, handle)

	return handle, nil
}

// runEpisode runs the provided episode to completion and releases its symbol.
func (m *Manager) runEpisode(ctx context.Context, handle *Handle) {
	defer m.wg.Done()
	defer handle.cancel()

	episode, err := handle.controller.Run(ctx)
	if err != nil {
		m.cfg.Logger.Error().Msgf("running %s episode (%s): %v", handle.Symbol, handle.ID(), err)
	}

	if episode != nil {
		if m.cfg.PersistClosedEpisode != nil {
			persistCtx, cancel := context.WithTimeout(context.Background(), persistTimeout)
			perr := m.cfg.PersistClosedEpisode(persistCtx, episode)
			cancel()
			if perr != nil {
				m.cfg.Logger.Error().Msgf("persisting closed episode: %v, %s", perr, spew.Sdump(episode))
			}
		}

		if m.cfg.RecordClosedEpisode != nil {
			m.cfg.RecordClosedEpisode(episode)
		}
	}

	m.episodesMtx.Lock()
	delete(m.episodes, handle.Symbol)
	m.episodesMtx.Unlock()

	handle.episode = episode
	handle.err = err
	close(handle.done)
}

// Active reports whether the provided symbol has an active episode.
func (m *Manager) Active(symbol string) bool {
	m.episodesMtx.RLock()
	defer m.episodesMtx.RUnlock()

	_, ok := m.episodes[symbol]
	return ok
}

// ActiveCount returns the number of active episodes.
func (m *Manager) ActiveCount() int {
	m.episodesMtx.RLock()
	defer m.episodesMtx.RUnlock()

	return len(m.episodes)
}

// State returns the episode state of the provided symbol, symbols without an active episode
// are idle.
func (m *Manager) State(symbol string) State {
	m.episodesMtx.RLock()
	handle, ok := m.episodes[symbol]
	m.episodesMtx.RUnlock()

	if !ok {
		return Idle
	}

	return handle.State()
}

// Run manages the lifecycle processes of the position manager. Once the provided context is
// done every active episode is cancelled and awaited.
func (m *Manager) Run(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-m.ctx.Done():
	}

	m.episodesMtx.Lock()
	m.cancel()
	m.episodesMtx.Unlock()

	m.wg.Wait()
}
