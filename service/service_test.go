package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dnldd/dipper/shared"
	"github.com/peterldowns/testy/assert"
	"github.com/prometheus/client_golang/prometheus"
)

// marketMock serves per-symbol history and prices and lists its symbols.
type marketMock struct {
	mtx     sync.Mutex
	history map[string][]float64
	entry   map[string][]float64
	price   float64
	symbols []string
	listErr error
}

func (m *marketMock) FetchHistory(ctx context.Context, symbol string, timeframe shared.Timeframe) ([]float64, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if timeframe == shared.OneMinute {
		if window, ok := m.entry[symbol]; ok {
			return window, nil
		}
	}
	series, ok := m.history[symbol]
	if !ok {
		return nil, shared.ErrFeedUnavailable
	}
	return series, nil
}

func (m *marketMock) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	return m.price, nil
}

func (m *marketMock) ListSymbols(ctx context.Context, quoteAsset string) ([]string, error) {
	return m.symbols, m.listErr
}

// gatewayStub accepts every trading command.
type gatewayStub struct{}

func (g *gatewayStub) Buy(ctx context.Context, symbol string, quantity float64) error {
	return nil
}

func (g *gatewayStub) Sell(ctx context.Context, symbol string, quantity float64) error {
	return nil
}

func (g *gatewayStub) CloseAllPositions(ctx context.Context, symbol string) error {
	return nil
}

func (g *gatewayStub) FetchBalance(ctx context.Context) (float64, error) {
	return 1000, nil
}

// fallingWindow returns n samples falling by one from start.
func fallingWindow(n int, start float64) []float64 {
	window := make([]float64, n)
	for idx := range window {
		window[idx] = start - float64(idx)
	}
	return window
}

func baseConfig(cancel context.CancelFunc) *ServiceConfig {
	return &ServiceConfig{
		QuoteAsset:         "USDT",
		APIKey:             "key",
		APISecret:          "secret",
		Amplitude:          100,
		PollInterval:       time.Millisecond * 10,
		MaxEpisodeDuration: time.Minute,
		ScanInterval:       time.Minute,
		Ladder:             shared.DefaultLadder,
		EntryTimeframe:     shared.DefaultEntryTimeframe,
		MaxWorkers:         2,
		Cancel:             cancel,
		Registry:           prometheus.NewRegistry(),
	}
}

func TestServiceConfigValidate(t *testing.T) {
	cancel := func() {}

	tests := []struct {
		name    string
		modify  func(cfg *ServiceConfig)
		wantErr bool
	}{
		{"valid live config", func(cfg *ServiceConfig) {}, false},
		{"valid dry run", func(cfg *ServiceConfig) { cfg.APIKey = ""; cfg.DryRun = true; cfg.PaperBalance = 1000 }, false},
		{"explicit symbols", func(cfg *ServiceConfig) { cfg.QuoteAsset = ""; cfg.Symbols = []string{"BTCUSDT"} }, false},
		{"no universe", func(cfg *ServiceConfig) { cfg.QuoteAsset = "" }, true},
		{"non-positive amplitude", func(cfg *ServiceConfig) { cfg.Amplitude = 0 }, true},
		{"unbounded episodes", func(cfg *ServiceConfig) { cfg.MaxEpisodeDuration = 0 }, true},
		{"no scan interval", func(cfg *ServiceConfig) { cfg.ScanInterval = 0 }, true},
		{"empty ladder", func(cfg *ServiceConfig) { cfg.Ladder = nil }, true},
		{"negative workers", func(cfg *ServiceConfig) { cfg.MaxWorkers = -1 }, true},
		{"missing cancel", func(cfg *ServiceConfig) { cfg.Cancel = nil }, true},
		{"live without credentials", func(cfg *ServiceConfig) { cfg.APISecret = "" }, true},
		{"dry run without balance", func(cfg *ServiceConfig) { cfg.DryRun = true }, true},
	}

	for _, test := range tests {
		cfg := baseConfig(cancel)
		test.modify(cfg)
		err := cfg.Validate()
		if test.wantErr && err == nil {
			t.Errorf("%s: expected an error, got none", test.name)
		}
		if !test.wantErr && err != nil {
			t.Errorf("%s: unexpected error: %v", test.name, err)
		}
	}
}

func TestServiceScan(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	falling := []float64{10, 9, 8, 7, 6, 5, 4, 3, 2, 1}
	retraced := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 5}
	market := &marketMock{
		history: map[string][]float64{
			"AAAUSDT": falling,
			"BBBUSDT": retraced,
		},
		entry: map[string][]float64{
			"AAAUSDT": fallingWindow(250, 300),
		},
		price:   50,
		symbols: []string{"AAAUSDT", "BBBUSDT", "CCCUSDT"},
	}

	cfg := baseConfig(cancel)
	cfg.History = market
	cfg.Prices = market
	cfg.Lister = market
	cfg.Gateway = &gatewayStub{}

	svc, err := NewService(ctx, cfg)
	assert.NoError(t, err)

	// Ensure every listed symbol is evaluated and failures do not abort the scan.
	report, err := svc.Scan(ctx)
	assert.NoError(t, err)
	assert.Equal(t, report.Evaluated, 3)
	assert.Equal(t, report.Skipped, 0)
	assert.Equal(t, report.Outcomes[shared.DipConfirmed], 1)
	assert.Equal(t, report.Outcomes[shared.NoSignal], 2)
	assert.Equal(t, report.Armed, 1)
	assert.True(t, svc.positionManager.Active("AAAUSDT"))

	// Ensure symbols with an active episode are skipped.
	report, err = svc.Scan(ctx)
	assert.NoError(t, err)
	assert.Equal(t, report.Evaluated, 2)
	assert.Equal(t, report.Skipped, 1)

	// Ensure listing failures are surfaced.
	market.listErr = shared.ErrFeedUnavailable
	_, err = svc.Scan(ctx)
	assert.True(t, errors.Is(err, shared.ErrFeedUnavailable))

	// Ensure explicit symbols bypass the listing.
	cfg.Symbols = []string{"BBBUSDT"}
	report, err = svc.Scan(ctx)
	assert.NoError(t, err)
	assert.Equal(t, report.Evaluated, 1)

	// Ensure shutting down cancels active episodes.
	cancel()
	svc.positionManager.Run(ctx)
	assert.Equal(t, svc.positionManager.ActiveCount(), 0)
}

func TestServiceReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "historicdata.json")
	err := os.WriteFile(path, []byte(`{"BTCUSDT":{"4h":[[0,"1","1","1","1","1"],[1,"1","1","1","2","1"],[2,"1","1","1","1.5","1"]]}}`), 0o600)
	assert.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := baseConfig(cancel)
	cfg.APIKey = ""
	cfg.APISecret = ""
	cfg.HistoricDataPath = path
	cfg.PaperBalance = 1000

	svc, err := NewService(ctx, cfg)
	assert.NoError(t, err)

	// Ensure a replay scans once and stops the service.
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second * 5):
		t.Fatal("expected the replay to stop the service")
	}
}

func TestServiceGracefulShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	market := &marketMock{price: 50, symbols: []string{"BTCUSDT"}}
	cfg := baseConfig(cancel)
	cfg.History = market
	cfg.Prices = market
	cfg.Lister = market
	cfg.Gateway = &gatewayStub{}
	cfg.MetricsAddr = "127.0.0.1:0"

	svc, err := NewService(ctx, cfg)
	assert.NoError(t, err)

	// Ensure the service can be run and gracefully terminated.
	time.AfterFunc(time.Millisecond*200, func() {
		cancel()
	})
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	<-done
}
