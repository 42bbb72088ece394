package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for Venture
type Metrics struct {
	// Cycle metrics
	CyclesTotal      *prometheus.CounterVec
	CycleDuration    *prometheus.HistogramVec
	PhaseTransitions *prometheus.CounterVec
	CycleConflicts   *prometheus.CounterVec

	// Task metrics
	TasksDispatched *prometheus.CounterVec
	TaskRetries     *prometheus.CounterVec
	TaskDuration    *prometheus.HistogramVec
	TaskOutcomes    *prometheus.CounterVec

	// Decision metrics
	DecisionsTotal   *prometheus.CounterVec
	StrategiesScored *prometheus.HistogramVec

	// Strategy cache metrics
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheEvictions prometheus.Counter
	CacheRebuilds  prometheus.Counter
	CacheEntries   prometheus.Gauge

	// Profit metrics
	RevenueTotal     *prometheus.CounterVec
	ProfitEntries    *prometheus.CounterVec
	DirectivesIssued *prometheus.CounterVec

	// System metrics
	DatabaseConnections prometheus.Gauge
	EventsPublished     *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			// Cycle metrics
			CyclesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "venture_cycles_total",
					Help: "Total number of orchestration cycles by final status",
				},
				[]string{"tenant_id", "status"},
			),
			CycleDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "venture_cycle_duration_seconds",
					Help:    "Duration of orchestration cycles in seconds",
					Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to 68min
				},
				[]string{"tenant_id"},
			),
			PhaseTransitions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "venture_phase_transitions_total",
					Help: "Total number of cycle phase transitions",
				},
				[]string{"tenant_id", "from_phase", "to_phase"},
			),
			CycleConflicts: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "venture_cycle_conflicts_total",
					Help: "Cycle starts skipped because another runner held the lease",
				},
				[]string{"tenant_id"},
			),

			// Task metrics
			TasksDispatched: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "venture_tasks_dispatched_total",
					Help: "Total number of channel tasks dispatched",
				},
				[]string{"tenant_id", "channel"},
			),
			TaskRetries: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "venture_task_retries_total",
					Help: "Total number of task retry attempts",
				},
				[]string{"tenant_id", "channel"},
			),
			TaskDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "venture_task_duration_seconds",
					Help:    "Duration of channel task attempts in seconds",
					Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to 51s
				},
				[]string{"channel", "success"},
			),
			TaskOutcomes: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "venture_task_outcomes_total",
					Help: "Total number of settled task outcomes",
				},
				[]string{"tenant_id", "channel", "result"},
			),

			// Decision metrics
			DecisionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "venture_decisions_total",
					Help: "Total number of strategy decisions by mode",
				},
				[]string{"tenant_id", "mode"},
			),
			StrategiesScored: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "venture_strategy_score",
					Help:    "Distribution of expected-value scores at decision time",
					Buckets: prometheus.LinearBuckets(0, 0.1, 11), // 0.0 to 1.0
				},
				[]string{"tenant_id"},
			),

			// Strategy cache metrics
			CacheHits: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "venture_strategy_cache_hits_total",
					Help: "Total number of strategy cache hits",
				},
			),
			CacheMisses: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "venture_strategy_cache_misses_total",
					Help: "Total number of strategy cache misses",
				},
			),
			CacheEvictions: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "venture_strategy_cache_evictions_total",
					Help: "Total number of strategy cache evictions",
				},
			),
			CacheRebuilds: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "venture_strategy_cache_rebuilds_total",
					Help: "Total number of cache entries rebuilt from the ledger",
				},
			),
			CacheEntries: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "venture_strategy_cache_entries",
					Help: "Number of live entries in the strategy cache index",
				},
			),

			// Profit metrics
			RevenueTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "venture_revenue_total",
					Help: "Total revenue recorded, by channel",
				},
				[]string{"tenant_id", "channel"},
			),
			ProfitEntries: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "venture_profit_entries_total",
					Help: "Total number of profit ledger entries",
				},
				[]string{"tenant_id", "category"},
			),
			DirectivesIssued: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "venture_reinvest_directives_total",
					Help: "Total number of reinvestment directives issued",
				},
				[]string{"tenant_id", "action"},
			),

			// System metrics
			DatabaseConnections: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "venture_database_connections",
					Help: "Number of active database connections",
				},
			),
			EventsPublished: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "venture_events_published_total",
					Help: "Total number of events published",
				},
				[]string{"event_type", "tenant_id"},
			),
			HTTPRequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "venture_http_requests_total",
					Help: "Total number of HTTP requests",
				},
				[]string{"method", "path", "status"},
			),
			HTTPRequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "venture_http_request_duration_seconds",
					Help:    "HTTP request duration in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"method", "path"},
			),
		}
	})

	return sharedMetrics
}

// RecordTaskAttempt records one channel task attempt
func (m *Metrics) RecordTaskAttempt(channel string, success bool, seconds float64) {
	successStr := "false"
	if success {
		successStr = "true"
	}
	m.TaskDuration.WithLabelValues(channel, successStr).Observe(seconds)
}

// RecordPhaseTransition records a cycle phase transition
func (m *Metrics) RecordPhaseTransition(tenantID, fromPhase, toPhase string) {
	m.PhaseTransitions.WithLabelValues(tenantID, fromPhase, toPhase).Inc()
}

// RecordCycle records a finished cycle
func (m *Metrics) RecordCycle(tenantID, status string, seconds float64) {
	m.CyclesTotal.WithLabelValues(tenantID, status).Inc()
	m.CycleDuration.WithLabelValues(tenantID).Observe(seconds)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration float64) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}
