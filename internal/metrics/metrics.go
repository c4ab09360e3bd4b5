// Package metrics provides Prometheus collectors for the advisor.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lpadvisor"

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Decision metrics
	Recommendations *prometheus.CounterVec
	RLFallbacks     *prometheus.CounterVec

	// Lifecycle metrics
	AlertsEmitted    prometheus.Counter
	AlertsSuppressed prometheus.Counter
	StaleSignals     prometheus.Counter
	StateRaces       prometheus.Counter
	OpenPositions    *prometheus.GaugeVec

	// Scheduler metrics
	TaskRuns     *prometheus.CounterVec
	TaskDuration *prometheus.HistogramVec

	// Provider metrics
	ProviderRetries   *prometheus.CounterVec
	ProviderCacheHits *prometheus.CounterVec

	// Training metrics
	EpisodesTrained prometheus.Counter
	EpisodeReward   prometheus.Gauge
}

// New creates collectors registered on reg. A nil reg gets a fresh registry that also
// carries the Go runtime and process collectors.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Recommendations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "recommendations_total",
			Help:      "Recommendation sets served by strategy",
		}, []string{"strategy"}),
		RLFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "rl_fallbacks_total",
			Help:      "Times the RL strategy fell back to rules, by reason",
		}, []string{"reason"}),

		AlertsEmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "alerts_emitted_total",
			Help:      "Exit alerts recorded",
		}),
		AlertsSuppressed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "alerts_suppressed_total",
			Help:      "Exit alerts suppressed by the cooldown",
		}),
		StaleSignals: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "stale_signals_total",
			Help:      "Position evaluations skipped for a stale or missing signal",
		}),
		StateRaces: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "state_races_total",
			Help:      "Position writes that raced another writer",
		}),
		OpenPositions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "positions",
			Help:      "Positions by status at the last monitor run",
		}, []string{"status"}),

		TaskRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "task_runs_total",
			Help:      "Scheduled task runs by outcome",
		}, []string{"task", "outcome"}),
		TaskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "task_duration_seconds",
			Help:      "Scheduled task duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"task"}),

		ProviderRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "retries_total",
			Help:      "Data provider retries by call",
		}, []string{"call"}),
		ProviderCacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "cache_hits_total",
			Help:      "Calls served from the last good snapshot or health memo",
		}, []string{"call"}),

		EpisodesTrained: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "episodes_total",
			Help:      "Training episodes completed",
		}),
		EpisodeReward: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "last_episode_reward",
			Help:      "Total reward of the last training episode",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordRecommendation(strategy string) {
	if m == nil {
		return
	}
	m.Recommendations.WithLabelValues(strategy).Inc()
}

func (m *Metrics) RecordFallback(reason string) {
	if m == nil {
		return
	}
	m.RLFallbacks.WithLabelValues(reason).Inc()
}

// RecordAlert counts an emitted or suppressed alert.
func (m *Metrics) RecordAlert(emitted bool) {
	if m == nil {
		return
	}
	if emitted {
		m.AlertsEmitted.Inc()
	} else {
		m.AlertsSuppressed.Inc()
	}
}

func (m *Metrics) RecordStaleSignal() {
	if m == nil {
		return
	}
	m.StaleSignals.Inc()
}

func (m *Metrics) RecordStateRace() {
	if m == nil {
		return
	}
	m.StateRaces.Inc()
}

// SetPositionCounts replaces the per-status gauge values.
func (m *Metrics) SetPositionCounts(counts map[string]int) {
	if m == nil {
		return
	}
	m.OpenPositions.Reset()
	for status, n := range counts {
		m.OpenPositions.WithLabelValues(status).Set(float64(n))
	}
}

// RecordTask records one scheduled run.
func (m *Metrics) RecordTask(task string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.TaskRuns.WithLabelValues(task, outcome).Inc()
	m.TaskDuration.WithLabelValues(task).Observe(d.Seconds())
}

func (m *Metrics) RecordRetry(call string) {
	if m == nil {
		return
	}
	m.ProviderRetries.WithLabelValues(call).Inc()
}

func (m *Metrics) RecordCacheHit(call string) {
	if m == nil {
		return
	}
	m.ProviderCacheHits.WithLabelValues(call).Inc()
}

// RecordEpisode records a finished training episode.
func (m *Metrics) RecordEpisode(totalReward float64) {
	if m == nil {
		return
	}
	m.EpisodesTrained.Inc()
	m.EpisodeReward.Set(totalReward)
}
