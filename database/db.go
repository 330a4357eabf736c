package database

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/dnldd/dipper/position"
	rqlitehttp "github.com/rqlite/rqlite-go-http"
	"github.com/rs/zerolog"
)

const (
	// SQL statements.
	createEpisodeTableSQL   = "CREATE TABLE IF NOT EXISTS episode (id TEXT PRIMARY KEY, symbol TEXT, direction TEXT, amplitude REAL, entry REAL, exit REAL, entered INTEGER, quantity REAL, entryprice REAL, exitprice REAL, pnlpercent REAL, iterations INTEGER, reason TEXT, closeerror TEXT, createdon INTEGER, closedon INTEGER)"
	createStatsTableSQL     = "CREATE TABLE IF NOT EXISTS stats (id TEXT PRIMARY KEY, symbol TEXT, total INTEGER, entered INTEGER, wins INTEGER, winpercent REAL, losses INTEGER, losspercent REAL, createdon INTEGER)"
	persistClosedEpisodeSQL = "INSERT INTO episode(id, symbol, direction, amplitude, entry, exit, entered, quantity, entryprice, exitprice, pnlpercent, iterations, reason, closeerror, createdon, closedon) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)"
	upsertStatsSQL          = "INSERT INTO stats(id, symbol, total, entered, wins, winpercent, losses, losspercent, createdon) VALUES(?,?,1,?,?,?,?,?,?) ON CONFLICT(id) DO UPDATE SET total = total + 1, entered = entered + excluded.entered, wins = wins + excluded.wins, winpercent = winpercent + excluded.winpercent, losses = losses + excluded.losses, losspercent = losspercent + excluded.losspercent"
)

// EpisodeStorer defines the requirements for storing episodes.
type EpisodeStorer interface {
	// PersistClosedEpisode stores the provided closed episode to the database.
	PersistClosedEpisode(ctx context.Context, episode *position.Episode) error
}

// DatabaseConfig is the configuration for the database.
type DatabaseConfig struct {
	// Endpoint represents the database connection endpoint.
	Endpoint string
	// User is the database user.
	User string
	// Pass is the database user pass.
	Pass string
	// Logger is the database logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *DatabaseConfig) Validate() error {
	var errs error

	if cfg.Endpoint == "" {
		errs = errors.Join(errs, fmt.Errorf("database endpoint cannot be empty"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// Database represents the database connection.
type Database struct {
	cfg    *DatabaseConfig
	client *rqlitehttp.Client
	now    func() time.Time
}

// Ensure the database implements the EpisodeStorer interface.
var _ EpisodeStorer = (*Database)(nil)

// NewDatabase initializes a new database connection.
func NewDatabase(ctx context.Context, cfg *DatabaseConfig) (*Database, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating database config: %w", err)
	}

	httpc := &http.Client{Timeout: time.Second * 5}
	client, err := rqlitehttp.NewClient(cfg.Endpoint, httpc)
	if err != nil {
		return nil, fmt.Errorf("creating database client: %w", err)
	}

	if cfg.User != "" {
		client.SetBasicAuth(cfg.User, cfg.Pass)
	}

	db := &Database{
		cfg:    cfg,
		client: client,
		now:    time.Now,
	}

	err = db.bootstrap(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrapping database: %w", err)
	}

	return db, nil
}

// execute executes the provided statements in a transaction.
func (db *Database) execute(ctx context.Context, statements rqlitehttp.SQLStatements) error {
	resp, err := db.client.Execute(ctx, statements, &rqlitehttp.ExecuteOptions{
		Transaction: true,
		Timings:     true,
	})
	if err != nil {
		return err
	}

	has, idx, errStr := resp.HasError()
	if has {
		return fmt.Errorf("statement %d: %s", idx, errStr)
	}

	return nil
}

// bootstrap initializes the database.
func (db *Database) bootstrap(ctx context.Context) error {
	return db.execute(ctx, rqlitehttp.SQLStatements{
		{SQL: createEpisodeTableSQL},
		{SQL: createStatsTableSQL},
	})
}

// generateStatsID generates deterministic ids for stats using the current month, week
// and symbol.
func generateStatsID(currentTime time.Time, symbol string) string {
	month := currentTime.Month().String()
	week := (currentTime.Day()-1)/7 + 1

	id := fmt.Sprintf("%d-%s-Week-%d-%s", currentTime.Year(), month, week, symbol)
	return id
}

// statsDelta represents the contribution of a closed episode to its symbol stats.
type statsDelta struct {
	entered     int
	wins        int
	winpercent  float64
	losses      int
	losspercent float64
}

// computeStatsDelta computes the stats contribution of the provided closed episode.
func computeStatsDelta(episode *position.Episode) statsDelta {
	var delta statsDelta
	if !episode.Entered {
		return delta
	}

	delta.entered = 1
	pnl := episode.PNLPercent(episode.ExitPrice)

	switch {
	case pnl > 0:
		delta.wins = 1
		delta.winpercent = pnl
	case pnl < 0:
		delta.losses = 1
		delta.losspercent = pnl
	default:
		// do nothing.
	}

	return delta
}

// PersistClosedEpisode stores the provided closed episode and updates the stats of its symbol.
func (db *Database) PersistClosedEpisode(ctx context.Context, episode *position.Episode) error {
	if episode.Reason == position.NotClosed {
		db.cfg.Logger.Error().Msgf("unexpected open episode provided for persistence: %s", spew.Sdump(episode))
		return fmt.Errorf("episode %s is not closed", episode.ID)
	}

	var closeErr string
	if episode.CloseErr != nil {
		closeErr = episode.CloseErr.Error()
	}

	now := db.now().UTC()
	id := generateStatsID(now, episode.Symbol)
	delta := computeStatsDelta(episode)

	err := db.execute(ctx, rqlitehttp.SQLStatements{
		{
			SQL: persistClosedEpisodeSQL,
			PositionalParams: []any{episode.ID, episode.Symbol, episode.Direction.String(), episode.Amplitude,
				episode.Entry, episode.Exit, episode.Entered, episode.Quantity, episode.EntryPrice,
				episode.ExitPrice, episode.PNLPercent(episode.ExitPrice), episode.Iterations,
				episode.Reason.String(), closeErr, episode.CreatedOn.Unix(), episode.ClosedOn.Unix()},
		},
		{
			SQL: upsertStatsSQL,
			PositionalParams: []any{id, episode.Symbol, delta.entered, delta.wins, delta.winpercent,
				delta.losses, delta.losspercent, now.Unix()},
		},
	})
	if err != nil {
		return fmt.Errorf("persisting closed episode %s: %w", episode.ID, err)
	}

	return nil
}
