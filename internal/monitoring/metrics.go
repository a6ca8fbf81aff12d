// Package monitoring holds the Prometheus metrics exposed by the
// competition orchestration core.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the core registers. Components
// take a *Metrics at construction time and call its Record/Update methods
// directly rather than reaching for a package-level global.
type Metrics struct {
	DispatchTotal    *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec

	TurnScore *prometheus.HistogramVec

	CompetitionsActive prometheus.Gauge
	CompetitionTotal   *prometheus.CounterVec

	MarketBetsTotal *prometheus.CounterVec
	MarketPoolSize  *prometheus.GaugeVec

	RatingChange *prometheus.HistogramVec

	WSConnections prometheus.Gauge
	WSRejected    *prometheus.CounterVec
}

// NewMetrics creates and registers every collector against reg. Pass
// prometheus.DefaultRegisterer in production; tests pass a fresh
// prometheus.NewRegistry() so repeated calls don't collide.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		DispatchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ocx_dispatch_total",
				Help: "Total agent dispatch attempts by outcome",
			},
			[]string{"outcome"}, // ok, timeout, error
		),
		DispatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ocx_dispatch_duration_seconds",
				Help:    "Duration of a single agent turn dispatch",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"transport"}, // webhook, apikey
		),
		TurnScore: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ocx_turn_score",
				Help:    "Scored value of a single turn",
				Buckets: []float64{0, 0.2, 0.4, 0.6, 0.8, 1.0},
			},
			[]string{"domain_tag"},
		),
		CompetitionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ocx_competitions_active",
				Help: "Number of competitions currently running",
			},
		),
		CompetitionTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ocx_competitions_total",
				Help: "Total competitions by terminal status",
			},
			[]string{"status"}, // completed, cancelled, error
		),
		MarketBetsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ocx_market_bets_total",
				Help: "Total meta-market bets placed",
			},
			[]string{"market_id"},
		),
		MarketPoolSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ocx_market_pool_size",
				Help: "Current CPMM pool size for a market outcome",
			},
			[]string{"market_id", "outcome_id"},
		),
		RatingChange: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ocx_rating_change",
				Help:    "Glicko-2 rating delta applied after a competition",
				Buckets: []float64{-200, -100, -50, -20, 0, 20, 50, 100, 200},
			},
			[]string{"domain_tag"},
		),
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ocx_ws_connections",
				Help: "Currently open WebSocket connections",
			},
		),
		WSRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ocx_ws_rejected_total",
				Help: "WebSocket connections rejected by admission control",
			},
			[]string{"reason"}, // ip_cap, rate_limit
		),
	}
}

// RecordDispatch records one completed agent dispatch attempt.
func (m *Metrics) RecordDispatch(transport, outcome string, seconds float64) {
	m.DispatchTotal.WithLabelValues(outcome).Inc()
	m.DispatchDuration.WithLabelValues(transport).Observe(seconds)
}

// RecordTurnScore records a scored turn's value for a domain.
func (m *Metrics) RecordTurnScore(domainTag string, score float64) {
	m.TurnScore.WithLabelValues(domainTag).Observe(score)
}

// SetCompetitionsActive updates the live competition-count gauge.
func (m *Metrics) SetCompetitionsActive(n int) {
	m.CompetitionsActive.Set(float64(n))
}

// RecordCompetitionEnd records a competition's terminal status.
func (m *Metrics) RecordCompetitionEnd(status string) {
	m.CompetitionTotal.WithLabelValues(status).Inc()
}

// RecordBet records a placed meta-market bet.
func (m *Metrics) RecordBet(marketID string) {
	m.MarketBetsTotal.WithLabelValues(marketID).Inc()
}

// SetPoolSize updates a market outcome's current pool size.
func (m *Metrics) SetPoolSize(marketID, outcomeID string, size float64) {
	m.MarketPoolSize.WithLabelValues(marketID, outcomeID).Set(size)
}

// RecordRatingChange records a Glicko-2 delta applied to an agent.
func (m *Metrics) RecordRatingChange(domainTag string, delta float64) {
	m.RatingChange.WithLabelValues(domainTag).Observe(delta)
}

// SetWSConnections updates the live WebSocket connection gauge.
func (m *Metrics) SetWSConnections(n int) {
	m.WSConnections.Set(float64(n))
}

// RecordWSRejected records a WebSocket connection rejected by admission
// control, keyed by the reason it was rejected.
func (m *Metrics) RecordWSRejected(reason string) {
	m.WSRejected.WithLabelValues(reason).Inc()
}
