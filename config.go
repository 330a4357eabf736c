package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/dnldd/dipper/fetch"
	"github.com/dnldd/dipper/service"
	"github.com/dnldd/dipper/shared"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config is the configuration struct for the service.
type Config struct {
	// Symbols represents the tracked symbols, the universe is listed when empty.
	Symbols []string
	// QuoteAsset is the quote asset of the listed universe.
	QuoteAsset string
	// APIKey is the binance API key.
	APIKey string
	// APISecret is the binance API secret.
	APISecret string
	// BaseURL is the binance futures REST endpoint.
	BaseURL string
	// Amplitude defines the entry and exit thresholds of every episode.
	Amplitude float64
	// PollInterval is the wait between poll iterations of an episode.
	PollInterval time.Duration
	// MaxIterations bounds the number of poll iterations of an episode.
	MaxIterations uint
	// MaxEpisodeDuration bounds the duration of an episode.
	MaxEpisodeDuration time.Duration
	// ReferencePeriod is the period of the diagnostic reference wave, disabled when zero.
	ReferencePeriod time.Duration
	// ScanInterval is the wait between universe scans.
	ScanInterval time.Duration
	// Ladder is the confirmation ladder, ordered coarsest to finest.
	Ladder []string
	// EntryTimeframe is the timeframe the entry envelope is built on.
	EntryTimeframe string
	// MaxWorkers is the number of symbols evaluated concurrently.
	MaxWorkers int
	// DryRun is the paper trading flag.
	DryRun bool
	// PaperBalance is the starting balance of paper trading.
	PaperBalance float64
	// HistoricDataPath is the filepath to recorded market data to replay.
	HistoricDataPath string
	// DBEndpoint is the database endpoint.
	DBEndpoint string
	// DBUser is the database user.
	DBUser string
	// DBPass is the database user pass.
	DBPass string
	// TelegramToken is the telegram bot token.
	TelegramToken string
	// TelegramChatID is the telegram chat id.
	TelegramChatID string
	// MetricsAddr is the metrics server address.
	MetricsAddr string
	// LogLevel is the log level.
	LogLevel string

	registeredFlags map[string]bool
}

// setDefaults sets the defaults used when neither the environment nor flags provide a value.
func (cfg *Config) setDefaults() {
	cfg.QuoteAsset = "USDT"
	cfg.Amplitude = 100
	cfg.BaseURL = fetch.DefaultBinanceURL
	cfg.PollInterval = time.Second * 5
	cfg.MaxIterations = 720
	cfg.MaxEpisodeDuration = time.Hour
	cfg.ScanInterval = time.Minute * 5
	cfg.Ladder = make([]string, 0, len(shared.DefaultLadder))
	for _, timeframe := range shared.DefaultLadder {
		cfg.Ladder = append(cfg.Ladder, timeframe.String())
	}
	cfg.EntryTimeframe = shared.DefaultEntryTimeframe.String()
	cfg.MaxWorkers = 8
	cfg.PaperBalance = 1000
	cfg.LogLevel = zerolog.InfoLevel.String()
}

// Validate asserts the config sane inputs.
func (cfg *Config) Validate() error {
	var errs error

	if len(cfg.Symbols) == 0 && cfg.QuoteAsset == "" {
		errs = errors.Join(errs, fmt.Errorf("no symbols or quote asset provided"))
	}
	if cfg.Amplitude <= 0 {
		errs = errors.Join(errs, fmt.Errorf("amplitude must be positive"))
	}
	if uint64(cfg.MaxIterations) > math.MaxUint32 {
		errs = errors.Join(errs, fmt.Errorf("max iterations cannot exceed %d", uint64(math.MaxUint32)))
	}
	if cfg.MaxIterations == 0 && cfg.MaxEpisodeDuration <= 0 {
		errs = errors.Join(errs, fmt.Errorf("either max iterations or max episode duration must be set"))
	}
	if cfg.ScanInterval <= 0 {
		errs = errors.Join(errs, fmt.Errorf("scan interval must be positive"))
	}
	if _, err := shared.ParseLadder(cfg.Ladder); err != nil {
		errs = errors.Join(errs, fmt.Errorf("invalid ladder: %w", err))
	}
	if _, err := shared.ParseTimeframe(cfg.EntryTimeframe); err != nil {
		errs = errors.Join(errs, fmt.Errorf("invalid entry timeframe: %w", err))
	}
	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		errs = errors.Join(errs, fmt.Errorf("invalid log level: %w", err))
	}

	switch {
	case cfg.DryRun || cfg.HistoricDataPath != "":
		if cfg.PaperBalance <= 0 {
			errs = errors.Join(errs, fmt.Errorf("paper balance must be positive"))
		}
	default:
		if cfg.APIKey == "" {
			errs = errors.Join(errs, fmt.Errorf("api key cannot be an empty string"))
		}
		if cfg.APISecret == "" {
			errs = errors.Join(errs, fmt.Errorf("api secret cannot be an empty string"))
		}
	}

	return errs
}

// serviceConfig creates the service configuration from the config.
func (cfg *Config) serviceConfig(cancel context.CancelFunc) (*service.ServiceConfig, error) {
	ladder, err := shared.ParseLadder(cfg.Ladder)
	if err != nil {
		return nil, err
	}

	entryTimeframe, err := shared.ParseTimeframe(cfg.EntryTimeframe)
	if err != nil {
		return nil, err
	}

	return &service.ServiceConfig{
		Symbols:            cfg.Symbols,
		QuoteAsset:         cfg.QuoteAsset,
		APIKey:             cfg.APIKey,
		APISecret:          cfg.APISecret,
		BaseURL:            cfg.BaseURL,
		Amplitude:          cfg.Amplitude,
		PollInterval:       cfg.PollInterval,
		MaxIterations:      uint32(cfg.MaxIterations),
		MaxEpisodeDuration: cfg.MaxEpisodeDuration,
		ReferencePeriod:    cfg.ReferencePeriod,
		ScanInterval:       cfg.ScanInterval,
		Ladder:             ladder,
		EntryTimeframe:     entryTimeframe,
		MaxWorkers:         cfg.MaxWorkers,
		DryRun:             cfg.DryRun,
		PaperBalance:       cfg.PaperBalance,
		HistoricDataPath:   cfg.HistoricDataPath,
		DBEndpoint:         cfg.DBEndpoint,
		DBUser:             cfg.DBUser,
		DBPass:             cfg.DBPass,
		TelegramToken:      cfg.TelegramToken,
		TelegramChatID:     cfg.TelegramChatID,
		MetricsAddr:        cfg.MetricsAddr,
		Cancel:             cancel,
	}, nil
}

// registerFlag registers command line arguments of any type and tracks them to avoid reregistration.
// Environment values take precedence over the current value as the flag default.
func (cfg *Config) registerFlag(name string, value interface{}, usage string) error {
	if cfg.registeredFlags == nil {
		cfg.registeredFlags = make(map[string]bool)
	}

	if cfg.registeredFlags[name] {
		return nil
	}

	cfg.registeredFlags[name] = true

	defValue := os.Getenv(name)
	val := reflect.ValueOf(value)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("%s: value must be a non-nil pointer", name)
	}

	if val.Elem().Type() == reflect.TypeOf(time.Duration(0)) {
		def := *value.(*time.Duration)
		if defValue != "" {
			parsed, err := time.ParseDuration(defValue)
			if err != nil {
				return fmt.Errorf("%s: parsing duration: %w", name, err)
			}
			def = parsed
		}
		flag.DurationVar(value.(*time.Duration), name, def, usage)
		return nil
	}

	switch val.Elem().Kind() {
	case reflect.String:
		def := *value.(*string)
		if defValue != "" {
			def = defValue
		}
		flag.StringVar(value.(*string), name, def, usage)
	case reflect.Bool:
		def := *value.(*bool)
		if defValue != "" {
			def, _ = strconv.ParseBool(defValue)
		}
		flag.BoolVar(value.(*bool), name, def, usage)
	case reflect.Int:
		def := *value.(*int)
		if defValue != "" {
			def, _ = strconv.Atoi(defValue)
		}
		flag.IntVar(value.(*int), name, def, usage)
	case reflect.Uint:
		def := *value.(*uint)
		if defValue != "" {
			parsed, err := strconv.ParseUint(defValue, 10, 0)
			if err != nil {
				return fmt.Errorf("%s: parsing uint: %w", name, err)
			}
			def = uint(parsed)
		}
		flag.UintVar(value.(*uint), name, def, usage)
	case reflect.Float64:
		def := *value.(*float64)
		if defValue != "" {
			parsed, err := strconv.ParseFloat(defValue, 64)
			if err != nil {
				return fmt.Errorf("%s: parsing float: %w", name, err)
			}
			def = parsed
		}
		flag.Float64Var(value.(*float64), name, def, usage)
	case reflect.Slice:
		// Only handle []string
		if val.Elem().Type().Elem().Kind() == reflect.String {
			var def []string
			if defValue != "" {
				def = strings.Split(defValue, ",")
			}
			flag.Func(name, usage, func(s string) error {
				*value.(*[]string) = strings.Split(s, ",")
				return nil
			})
			// Set default if not provided via flag
			if len(def) > 0 {
				*value.(*[]string) = def
			}
		} else {
			return fmt.Errorf("%s: unsupported slice type", name)
		}
	default:
		return fmt.Errorf("%s: unsupported type", name)
	}

	return nil
}

// loadConfig loads the configuration from environment variables and command line flags.
func loadConfig(cfg *Config, path string) error {
	if path == "" {
		path = ".env"
	}

	// Check if the expected .env file exists before loading it.
	_, err := os.Stat(path)
	if err == nil {
		err := godotenv.Load(path)
		if err != nil {
			return fmt.Errorf("loading .env file: %w", err)
		}
	}

	cfg.setDefaults()

	// Register command line arguments using loaded environment variables as defaults.
	flags := []struct {
		name  string
		value interface{}
		usage string
	}{
		{"symbols", &cfg.Symbols, "the tracked symbols, the quote asset universe is listed when empty"},
		{"quoteasset", &cfg.QuoteAsset, "the quote asset of the listed universe"},
		{"apikey", &cfg.APIKey, "the binance api key"},
		{"apisecret", &cfg.APISecret, "the binance api secret"},
		{"baseurl", &cfg.BaseURL, "the binance futures endpoint"},
		{"amplitude", &cfg.Amplitude, "the episode amplitude defining entry and exit thresholds"},
		{"pollinterval", &cfg.PollInterval, "the wait between episode poll iterations"},
		{"maxiterations", &cfg.MaxIterations, "the maximum poll iterations of an episode"},
		{"maxepisodeduration", &cfg.MaxEpisodeDuration, "the maximum duration of an episode"},
		{"referenceperiod", &cfg.ReferencePeriod, "the period of the diagnostic reference wave"},
		{"scaninterval", &cfg.ScanInterval, "the wait between universe scans"},
		{"ladder", &cfg.Ladder, "the confirmation ladder, coarsest to finest"},
		{"entrytimeframe", &cfg.EntryTimeframe, "the entry envelope timeframe"},
		{"maxworkers", &cfg.MaxWorkers, "the number of symbols evaluated concurrently"},
		{"dryrun", &cfg.DryRun, "the paper trading flag"},
		{"paperbalance", &cfg.PaperBalance, "the starting paper trading balance"},
		{"historicdatapath", &cfg.HistoricDataPath, "the recorded market data filepath to replay"},
		{"dbendpoint", &cfg.DBEndpoint, "the database endpoint"},
		{"dbuser", &cfg.DBUser, "the database user"},
		{"dbpass", &cfg.DBPass, "the database user pass"},
		{"telegramtoken", &cfg.TelegramToken, "the telegram bot token"},
		{"telegramchatid", &cfg.TelegramChatID, "the telegram chat id"},
		{"metricsaddr", &cfg.MetricsAddr, "the metrics server address"},
		{"loglevel", &cfg.LogLevel, "the log level"},
	}

	for idx := range flags {
		err = cfg.registerFlag(flags[idx].name, flags[idx].value, flags[idx].usage)
		if err != nil {
			return err
		}
	}

	// Parse command-line flags.
	flag.Parse()

	return cfg.Validate()
}
