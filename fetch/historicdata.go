package fetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/dnldd/dipper/shared"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// HistoricDataConfig represents the historic data source configuration.
type HistoricDataConfig struct {
	// FilePath is the filepath to the recorded market data. The file maps symbols to
	// timeframes to kline rows as returned by the klines endpoint.
	FilePath string
	// PriceTimeframe is the timeframe whose last close serves as the current price.
	PriceTimeframe shared.Timeframe
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *HistoricDataConfig) Validate() error {
	var errs error

	if cfg.FilePath == "" {
		errs = errors.Join(errs, fmt.Errorf("file path cannot be empty"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// HistoricData serves recorded market data for replays and dry runs.
type HistoricData struct {
	cfg    *HistoricDataConfig
	closes map[string]map[shared.Timeframe][]float64
}

// Ensure HistoricData implements the price and listing interfaces.
var (
	_ shared.PriceHistoryProvider = (*HistoricData)(nil)
	_ shared.PriceProvider        = (*HistoricData)(nil)
	_ shared.SymbolLister         = (*HistoricData)(nil)
)

// loadHistoricData loads the historic data bytes from the provided file path.
func loadHistoricData(filepath string) (gjson.Result, error) {
	readb, err := os.ReadFile(filepath)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("reading historic data from file with path '%s': %v", filepath, err)
	}

	if !gjson.ValidBytes(readb) {
		return gjson.Result{}, fmt.Errorf("invalid historic data json in '%s'", filepath)
	}

	return gjson.ParseBytes(readb), nil
}

// NewHistoricData initializes a new historic data source.
func NewHistoricData(cfg *HistoricDataConfig) (*HistoricData, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating historic data config: %w", err)
	}

	data, err := loadHistoricData(cfg.FilePath)
	if err != nil {
		return nil, fmt.Errorf("loading historic data: %v", err)
	}

	historicData := HistoricData{
		cfg:    cfg,
		closes: make(map[string]map[shared.Timeframe][]float64),
	}

	var parseErr error
	data.ForEach(func(symbol, timeframes gjson.Result) bool {
		series := make(map[shared.Timeframe][]float64)
		timeframes.ForEach(func(key, rows gjson.Result) bool {
			timeframe, err := shared.ParseTimeframe(key.String())
			if err != nil {
				parseErr = fmt.Errorf("parsing %s timeframe: %w", symbol.String(), err)
				return false
			}

			closes, err := ParseCloses(rows.Array())
			if err != nil {
				parseErr = fmt.Errorf("parsing %s %s closes: %w", symbol.String(), key.String(), err)
				return false
			}

			series[timeframe] = closes
			return true
		})

		historicData.closes[symbol.String()] = series
		return parseErr == nil
	})
	if parseErr != nil {
		return nil, parseErr
	}

	cfg.Logger.Info().Msgf("loaded historic data for %d symbols from %s", len(historicData.closes), cfg.FilePath)

	return &historicData, nil
}

// FetchHistory returns the recorded closing prices of the provided symbol and timeframe,
// capped at the history limit.
func (h *HistoricData) FetchHistory(ctx context.Context, symbol string, timeframe shared.Timeframe) ([]float64, error) {
	closes, ok := h.closes[symbol][timeframe]
	if !ok {
		return nil, fmt.Errorf("no recorded %s history for %s: %w", timeframe.String(), symbol, shared.ErrFeedUnavailable)
	}

	start := max(0, len(closes)-shared.HistoryLimit)
	series := make([]float64, len(closes)-start)
	copy(series, closes[start:])

	return series, nil
}

// FetchPrice returns the last recorded close of the price timeframe as the current price.
func (h *HistoricData) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	closes, ok := h.closes[symbol][h.cfg.PriceTimeframe]
	if !ok || len(closes) == 0 {
		return 0, fmt.Errorf("no recorded %s price for %s: %w", h.cfg.PriceTimeframe.String(), symbol, shared.ErrFeedUnavailable)
	}

	return closes[len(closes)-1], nil
}

// ListSymbols lists the recorded symbols quoted in the provided asset.
func (h *HistoricData) ListSymbols(ctx context.Context, quoteAsset string) ([]string, error) {
	symbols := make([]string, 0, len(h.closes))
	for symbol := range h.closes {
		if strings.HasSuffix(symbol, quoteAsset) && !strings.Contains(symbol, "PERP") {
			symbols = append(symbols, symbol)
		}
	}

	sort.Strings(symbols)

	return symbols, nil
}
