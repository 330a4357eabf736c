package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dnldd/dipper/database"
	"github.com/dnldd/dipper/engine"
	"github.com/dnldd/dipper/fetch"
	"github.com/dnldd/dipper/indicator"
	"github.com/dnldd/dipper/metrics"
	"github.com/dnldd/dipper/notify"
	"github.com/dnldd/dipper/position"
	"github.com/dnldd/dipper/shared"
	"github.com/go-co-op/gocron"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
)

const (
	// defaultMaxWorkers is the default number of symbols evaluated concurrently.
	defaultMaxWorkers = 8
	// shutdownTimeout is the maximum time allowed for the metrics server to shut down.
	shutdownTimeout = time.Second * 5
)

// ServiceConfig represents the configuration struct for the dipper service.
type ServiceConfig struct {
	// Symbols represents the tracked symbols, the universe is listed when empty.
	Symbols []string
	// QuoteAsset is the quote asset of the listed universe.
	QuoteAsset string
	// APIKey is the exchange API key.
	APIKey string
	// APISecret is the exchange API secret.
	APISecret string
	// BaseURL is the exchange REST endpoint.
	BaseURL string
	// Amplitude defines the entry and exit thresholds of every episode.
	Amplitude float64
	// PollInterval is the wait between poll iterations of an episode.
	PollInterval time.Duration
	// MaxIterations bounds the number of poll iterations of an episode.
	MaxIterations uint32
	// MaxEpisodeDuration bounds the duration of an episode.
	MaxEpisodeDuration time.Duration
	// ReferencePeriod is the period of the diagnostic reference wave, disabled when zero.
	ReferencePeriod time.Duration
	// ScanInterval is the wait between universe scans.
	ScanInterval time.Duration
	// Ladder is the confirmation ladder, ordered coarsest to finest.
	Ladder []shared.Timeframe
	// EntryTimeframe is the timeframe the entry envelope is built on.
	EntryTimeframe shared.Timeframe
	// MaxWorkers is the number of symbols evaluated concurrently.
	MaxWorkers int
	// DryRun simulates trading with a paper gateway.
	DryRun bool
	// PaperBalance is the starting balance of the paper gateway.
	PaperBalance float64
	// HistoricDataPath is the filepath to recorded market data, replays it when set.
	HistoricDataPath string
	// DBEndpoint is the database endpoint, closed episodes are not persisted when empty.
	DBEndpoint string
	// DBUser is the database user.
	DBUser string
	// DBPass is the database user pass.
	DBPass string
	// TelegramToken is the telegram bot token, notifications are only logged when empty.
	TelegramToken string
	// TelegramChatID is the telegram chat notifications are sent to.
	TelegramChatID string
	// MetricsAddr is the metrics server address, metrics are not served when empty.
	MetricsAddr string
	// Cancel is the context cancellation function.
	Cancel context.CancelFunc

	// History overrides the price history provider, optional.
	History shared.PriceHistoryProvider
	// Prices overrides the price provider, optional.
	Prices shared.PriceProvider
	// Gateway overrides the trading gateway, optional.
	Gateway shared.TradingGateway
	// Lister overrides the symbol lister, optional.
	Lister shared.SymbolLister
	// Registry overrides the metrics registry, optional.
	Registry *prometheus.Registry
}

// Validate asserts the config sane inputs.
func (cfg *ServiceConfig) Validate() error {
	var errs error

	if len(cfg.Symbols) == 0 && cfg.QuoteAsset == "" {
		errs = errors.Join(errs, fmt.Errorf("either symbols or a quote asset must be provided"))
	}
	if cfg.Amplitude <= 0 {
		errs = errors.Join(errs, fmt.Errorf("amplitude must be positive"))
	}
	if cfg.MaxIterations == 0 && cfg.MaxEpisodeDuration <= 0 {
		errs = errors.Join(errs, fmt.Errorf("either max iterations or max episode duration must bound episodes"))
	}
	if cfg.ScanInterval <= 0 {
		errs = errors.Join(errs, fmt.Errorf("scan interval must be positive"))
	}
	if len(cfg.Ladder) == 0 {
		errs = errors.Join(errs, fmt.Errorf("confirmation ladder cannot be empty"))
	}
	if cfg.MaxWorkers < 0 {
		errs = errors.Join(errs, fmt.Errorf("max workers cannot be negative"))
	}
	if cfg.Cancel == nil {
		errs = errors.Join(errs, fmt.Errorf("context cancellation function cannot be nil"))
	}

	live := !cfg.DryRun && cfg.HistoricDataPath == "" && cfg.Gateway == nil
	if live && (cfg.APIKey == "" || cfg.APISecret == "") {
		errs = errors.Join(errs, fmt.Errorf("api key and secret are required for live trading"))
	}
	if (cfg.DryRun || cfg.HistoricDataPath != "") && cfg.Gateway == nil && cfg.PaperBalance <= 0 {
		errs = errors.Join(errs, fmt.Errorf("paper balance must be positive for dry runs"))
	}

	return errs
}

// ScanReport summarizes a universe scan.
type ScanReport struct {
	Evaluated int
	Skipped   int
	Failed    int
	Armed     int
	Outcomes  map[shared.Outcome]int
}

// Service represents a turning point detection and execution service.
type Service struct {
	cfg             *ServiceConfig
	lister          shared.SymbolLister
	entryEngine     *engine.Engine
	positionManager *position.Manager
	notifier        *notify.Notifier
	recorder        *metrics.Recorder
	db              *database.Database
	scheduler       *gocron.Scheduler
	server          *http.Server
	workers         chan struct{}
	logger          *zerolog.Logger
	wg              sync.WaitGroup
}

// NewService initializes a new dipper service.
func NewService(ctx context.Context, cfg *ServiceConfig) (*Service, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating service config: %w", err)
	}

	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	logger := log.With().Str("service", "dipper").Logger()

	if cfg.BaseURL == "" {
		cfg.BaseURL = fetch.DefaultBinanceURL
	}
	if cfg.MaxWorkers == 0 {
		cfg.MaxWorkers = defaultMaxWorkers
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}

	history, prices, lister := cfg.History, cfg.Prices, cfg.Lister
	var gateway shared.TradingGateway = cfg.Gateway

	switch {
	case cfg.HistoricDataPath != "":
		historicDataLogger := logger.With().Str("component", "historicdata").Logger()
		historicData, err := fetch.NewHistoricData(&fetch.HistoricDataConfig{
			FilePath:       cfg.HistoricDataPath,
			PriceTimeframe: cfg.EntryTimeframe,
			Logger:         &historicDataLogger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating historic data: %w", err)
		}

		history = firstHistory(history, historicData)
		prices = firstPrices(prices, historicData)
		lister = firstLister(lister, historicData)

	case history == nil || prices == nil || lister == nil || (gateway == nil && !cfg.DryRun):
		binanceLogger := logger.With().Str("component", "binance").Logger()
		binance, err := fetch.NewBinanceClient(&fetch.BinanceConfig{
			BaseURL:   cfg.BaseURL,
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			Logger:    &binanceLogger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating binance client: %w", err)
		}

		history = firstHistory(history, binance)
		prices = firstPrices(prices, binance)
		lister = firstLister(lister, binance)
		if gateway == nil && !cfg.DryRun {
			gateway = binance
		}
	}

	if gateway == nil {
		paperLogger := logger.With().Str("component", "paper").Logger()
		gateway, err = fetch.NewPaperGateway(&fetch.PaperConfig{
			Balance: cfg.PaperBalance,
			Prices:  prices,
			Logger:  &paperLogger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating paper gateway: %w", err)
		}
	}

	recorder := metrics.New(cfg.Registry)

	notifierLogger := logger.With().Str("component", "notifier").Logger()
	notifier, err := notify.NewNotifier(&notify.NotifierConfig{
		BotToken: cfg.TelegramToken,
		ChatID:   cfg.TelegramChatID,
		Logger:   &notifierLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating notifier: %w", err)
	}

	var db *database.Database
	var persistClosedEpisode func(ctx context.Context, episode *position.Episode) error
	if cfg.DBEndpoint != "" {
		dbLogger := logger.With().Str("component", "database").Logger()
		db, err = database.NewDatabase(ctx, &database.DatabaseConfig{
			Endpoint: cfg.DBEndpoint,
			User:     cfg.DBUser,
			Pass:     cfg.DBPass,
			Logger:   &dbLogger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating database: %w", err)
		}

		persistClosedEpisode = db.PersistClosedEpisode
	}

	positionMgrLogger := logger.With().Str("component", "positionmanager").Logger()
	positionMgr, err := position.NewPositionManager(&position.ManagerConfig{
		Amplitude:            cfg.Amplitude,
		PollInterval:         cfg.PollInterval,
		MaxIterations:        cfg.MaxIterations,
		MaxDuration:          cfg.MaxEpisodeDuration,
		ReferencePeriod:      cfg.ReferencePeriod,
		Prices:               prices,
		Gateway:              recorder.InstrumentGateway(gateway),
		Notify:               notifier.Notify,
		PersistClosedEpisode: persistClosedEpisode,
		RecordClosedEpisode:  recorder.RecordClosedEpisode,
		Logger:               &positionMgrLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating position manager: %w", err)
	}

	recorder.RegisterActiveEpisodes(positionMgr.ActiveCount)

	engineLogger := logger.With().Str("component", "engine").Logger()
	entryEngine, err := engine.NewEngine(&engine.EngineConfig{
		Ladder:             cfg.Ladder,
		EntryTimeframe:     cfg.EntryTimeframe,
		EnvelopeLength:     indicator.EnvelopeLength,
		History:            history,
		Prices:             prices,
		StartEpisode:       positionMgr.StartEpisode,
		RecordConfirmation: recorder.RecordConfirmation,
		Logger:             &engineLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}

	var server *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", recorder.Handler())
		server = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: time.Second * 5,
		}
	}

	service := &Service{
		cfg:             cfg,
		lister:          lister,
		entryEngine:     entryEngine,
		positionManager: positionMgr,
		notifier:        notifier,
		recorder:        recorder,
		db:              db,
		scheduler:       gocron.NewScheduler(time.UTC),
		server:          server,
		workers:         make(chan struct{}, cfg.MaxWorkers),
		logger:          &logger,
	}

	return service, nil
}

// firstHistory returns the override history provider if set.
func firstHistory(override shared.PriceHistoryProvider, fallback shared.PriceHistoryProvider) shared.PriceHistoryProvider {
	if override != nil {
		return override
	}
	return fallback
}

// firstPrices returns the override price provider if set.
func firstPrices(override shared.PriceProvider, fallback shared.PriceProvider) shared.PriceProvider {
	if override != nil {
		return override
	}
	return fallback
}

// firstLister returns the override symbol lister if set.
func firstLister(override shared.SymbolLister, fallback shared.SymbolLister) shared.SymbolLister {
	if override != nil {
		return override
	}
	return fallback
}

// symbols returns the symbols to scan.
func (s *Service) symbols(ctx context.Context) ([]string, error) {
	if len(s.cfg.Symbols) > 0 {
		return s.cfg.Symbols, nil
	}

	symbols, err := s.lister.ListSymbols(ctx, s.cfg.QuoteAsset)
	if err != nil {
		return nil, fmt.Errorf("listing %s symbols: %w", s.cfg.QuoteAsset, err)
	}

	return symbols, nil
}

// Scan evaluates every symbol of the universe once. Symbols with an active episode are
// skipped and a failing symbol never aborts the scan.
func (s *Service) Scan(ctx context.Context) (*ScanReport, error) {
	start := time.Now()
	report := &ScanReport{Outcomes: make(map[shared.Outcome]int)}

	symbols, err := s.symbols(ctx)
	if err != nil {
		return report, err
	}

	var reportMtx sync.Mutex
	var wg sync.WaitGroup

	for idx := range symbols {
		symbol := symbols[idx]

		if s.positionManager.Active(symbol) {
			report.Skipped++
			continue
		}

		select {
		case <-ctx.Done():
			wg.Wait()
			return report, ctx.Err()
		case s.workers <- struct{}{}:
		}

		wg.Add(1)
		go func(symbol string) {
			defer func() {
				<-s.workers
				wg.Done()
			}()

			eval, err := s.entryEngine.Evaluate(ctx, symbol)

			reportMtx.Lock()
			defer reportMtx.Unlock()

			report.Evaluated++
			if err != nil {
				report.Failed++
				s.logger.Error().Msgf("evaluating %s: %v", symbol, err)
			}
			if eval == nil {
				return
			}

			report.Outcomes[eval.Outcome]++
			s.recorder.RecordEvaluation(eval.Outcome)
			if eval.Handle != nil {
				report.Armed++
			}
		}(symbol)
	}

	wg.Wait()

	duration := time.Since(start)
	s.recorder.RecordScan(duration)
	s.logger.Info().Msgf("scanned %d symbols in %s: %d skipped, %d failed, %d armed",
		report.Evaluated, duration.Round(time.Millisecond), report.Skipped, report.Failed, report.Armed)

	return report, nil
}

// scan runs a scheduled universe scan.
func (s *Service) scan(ctx context.Context) {
	_, err := s.Scan(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error().Msgf("scanning universe: %v", err)
	}
}

// replay scans recorded market data once and stops the service once its episodes end.
func (s *Service) replay(ctx context.Context) {
	report, err := s.Scan(ctx)
	if err != nil {
		s.logger.Error().Msgf("replaying historic data: %v", err)
	}

	ticker := time.NewTicker(time.Millisecond * 100)
	defer ticker.Stop()

	for s.positionManager.ActiveCount() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}

	if report != nil {
		s.logger.Info().Msgf("replay done: %d evaluated, %d dips, %d tops, %d armed", report.Evaluated,
			report.Outcomes[shared.DipConfirmed], report.Outcomes[shared.TopConfirmed], report.Armed)
	}
	s.cfg.Cancel()
}

// Run handles the lifecycle processes of the dipper service.
func (s *Service) Run(ctx context.Context) {
	s.wg.Add(2)

	go func() {
		s.positionManager.Run(ctx)
		s.wg.Done()
	}()

	go func() {
		s.notifier.Run(ctx)
		s.wg.Done()
	}()

	if s.server != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.logger.Info().Msgf("serving metrics on %s", s.server.Addr)
			err := s.server.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error().Msgf("serving metrics: %v", err)
			}
		}()
	}

	switch {
	case s.cfg.HistoricDataPath != "":
		s.wg.Add(1)
		go func() {
			s.replay(ctx)
			s.wg.Done()
		}()

	default:
		_, err := s.scheduler.Every(s.cfg.ScanInterval).SingletonMode().Do(s.scan, ctx)
		if err != nil {
			s.logger.Error().Msgf("scheduling universe scans: %v", err)
			s.cfg.Cancel()
			break
		}

		s.scheduler.StartAsync()
	}

	<-ctx.Done()

	s.scheduler.Stop()

	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		err := s.server.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			s.logger.Error().Msgf("shutting down metrics server: %v", err)
		}
	}

	s.wg.Wait()
}
