package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dnldd/dipper/position"
	"github.com/dnldd/dipper/shared"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dipper"

// Recorder records scan, confirmation, episode and order metrics using Prometheus.
type Recorder struct {
	registry        *prometheus.Registry
	scans           prometheus.Counter
	scanDuration    prometheus.Histogram
	evaluations     *prometheus.CounterVec
	confirmations   *prometheus.CounterVec
	episodes        *prometheus.CounterVec
	episodeDuration *prometheus.HistogramVec
	episodePNL      *prometheus.HistogramVec
	orders          *prometheus.CounterVec
}

// New creates a new Prometheus metrics recorder registering on the provided registry.
func New(registry *prometheus.Registry) *Recorder {
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,
		scans: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scans_total",
				Help:      "Total number of universe scans",
			},
		),
		scanDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "scan_duration_seconds",
				Help:      "Duration of universe scans in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
			},
		),
		evaluations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluations_total",
				Help:      "Total number of symbol evaluations by outcome",
			},
			[]string{"outcome"},
		),
		confirmations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "confirmations_total",
				Help:      "Total number of confirmation cascades by direction, result and failing timeframe",
			},
			[]string{"direction", "confirmed", "failed_at"},
		),
		episodes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "episodes_closed_total",
				Help:      "Total number of closed execution episodes by direction and close reason",
			},
			[]string{"direction", "reason", "entered"},
		),
		episodeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "episode_duration_seconds",
				Help:      "Duration of execution episodes in seconds",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
			},
			[]string{"direction"},
		),
		episodePNL: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "episode_pnl_percent",
				Help:      "Profit percentage of entered execution episodes",
				Buckets:   prometheus.LinearBuckets(-50, 10, 11),
			},
			[]string{"direction"},
		),
		orders: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_total",
				Help:      "Total number of trading commands by command and result",
			},
			[]string{"command", "result"},
		),
	}
}

// Handler returns the http handler serving the registered metrics.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// RegisterActiveEpisodes registers a gauge reporting the number of active episodes.
func (r *Recorder) RegisterActiveEpisodes(count func() int) {
	promauto.With(r.registry).NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_episodes",
			Help:      "Number of active execution episodes",
		},
		func() float64 { return float64(count()) },
	)
}

// RecordScan records a completed universe scan.
func (r *Recorder) RecordScan(duration time.Duration) {
	r.scans.Inc()
	r.scanDuration.Observe(duration.Seconds())
}

// RecordEvaluation records the outcome of a symbol evaluation.
func (r *Recorder) RecordEvaluation(outcome shared.Outcome) {
	r.evaluations.WithLabelValues(outcome.String()).Inc()
}

// RecordConfirmation records the provided confirmation result.
func (r *Recorder) RecordConfirmation(result *shared.ConfirmationResult) {
	confirmed := "false"
	failedAt := "none"
	switch {
	case result.Confirmed:
		confirmed = "true"
	case len(result.Evaluated) > 0:
		failedAt = result.FailedAt.String()
	}

	r.confirmations.WithLabelValues(result.Direction.String(), confirmed, failedAt).Inc()
}

// RecordClosedEpisode records the provided closed episode.
func (r *Recorder) RecordClosedEpisode(episode *position.Episode) {
	entered := "false"
	if episode.Entered {
		entered = "true"
		r.episodePNL.WithLabelValues(episode.Direction.String()).Observe(episode.PNLPercent(episode.ExitPrice))
	}

	r.episodes.WithLabelValues(episode.Direction.String(), episode.Reason.String(), entered).Inc()
	if !episode.ClosedOn.IsZero() {
		r.episodeDuration.WithLabelValues(episode.Direction.String()).
			Observe(episode.ClosedOn.Sub(episode.CreatedOn).Seconds())
	}
}

// recordOrder records the result of a trading command.
func (r *Recorder) recordOrder(command string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, shared.ErrAuthFailure):
		result = "auth_failure"
	case errors.Is(err, shared.ErrOrderUnconfirmed):
		result = "unconfirmed"
	case errors.Is(err, shared.ErrOrderRejected):
		result = "rejected"
	case errors.Is(err, shared.ErrFeedUnavailable):
		result = "feed_unavailable"
	default:
		result = "error"
	}

	r.orders.WithLabelValues(command, result).Inc()
}

// instrumentedGateway records the result of every trading command of the wrapped gateway.
type instrumentedGateway struct {
	gateway  shared.TradingGateway
	recorder *Recorder
}

// InstrumentGateway wraps the provided gateway to record the results of its trading commands.
func (r *Recorder) InstrumentGateway(gateway shared.TradingGateway) shared.TradingGateway {
	return &instrumentedGateway{gateway: gateway, recorder: r}
}

// Buy places a buy order through the wrapped gateway.
func (g *instrumentedGateway) Buy(ctx context.Context, symbol string, quantity float64) error {
	err := g.gateway.Buy(ctx, symbol, quantity)
	g.recorder.recordOrder("buy", err)
	return err
}

// Sell places a sell order through the wrapped gateway.
func (g *instrumentedGateway) Sell(ctx context.Context, symbol string, quantity float64) error {
	err := g.gateway.Sell(ctx, symbol, quantity)
	g.recorder.recordOrder("sell", err)
	return err
}

// CloseAllPositions closes positions through the wrapped gateway.
func (g *instrumentedGateway) CloseAllPositions(ctx context.Context, symbol string) error {
	err := g.gateway.CloseAllPositions(ctx, symbol)
	g.recorder.recordOrder("close", err)
	return err
}

// FetchBalance fetches the balance through the wrapped gateway.
func (g *instrumentedGateway) FetchBalance(ctx context.Context) (float64, error) {
	balance, err := g.gateway.FetchBalance(ctx)
	g.recorder.recordOrder("balance", err)
	return balance, err
}
