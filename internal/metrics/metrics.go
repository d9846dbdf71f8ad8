// Package metrics exposes engine counters to Prometheus. All methods are safe
// on a nil *Metrics so components can run without instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "booner"

type Metrics struct {
	registry *prometheus.Registry

	decisions      *prometheus.CounterVec
	gateResults    *prometheus.CounterVec
	closes         *prometheus.CounterVec
	storeRetries   *prometheus.CounterVec
	optimizerRuns  *prometheus.CounterVec
	openPositions  prometheus.Gauge
	portfolioRisk  prometheus.Gauge
	advisorFailure prometheus.Counter
}

// New registers every collector on reg. A nil reg gets a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: reg,
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Pipeline decisions by terminal outcome.",
		}, []string{"outcome"}),
		gateResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_results_total",
			Help:      "Execution gate results (opened, duplicate, cooldown, venue_error, store_error).",
		}, []string{"result"}),
		closes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "position_closes_total",
			Help:      "Closed positions by close reason.",
		}, []string{"reason"}),
		storeRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_contention_retries_total",
			Help:      "Retried store writes by operation.",
		}, []string{"op"}),
		optimizerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "optimizer_updates_total",
			Help:      "Weight optimizer runs by status.",
		}, []string{"status"}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_positions",
			Help:      "Open positions seen by the last monitor cycle.",
		}),
		portfolioRisk: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "portfolio_risk_pct",
			Help:      "Aggregate open risk as a percentage of account equity.",
		}),
		advisorFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "advisor_failures_total",
			Help:      "Advisor calls that failed or timed out.",
		}),
	}
	reg.MustRegister(
		m.decisions,
		m.gateResults,
		m.closes,
		m.storeRetries,
		m.optimizerRuns,
		m.openPositions,
		m.portfolioRisk,
		m.advisorFailure,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveDecision(outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveGate(result string) {
	if m == nil {
		return
	}
	m.gateResults.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveClose(reason string) {
	if m == nil {
		return
	}
	m.closes.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveStoreRetry(op string) {
	if m == nil {
		return
	}
	m.storeRetries.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveOptimizer(status string) {
	if m == nil {
		return
	}
	m.optimizerRuns.WithLabelValues(status).Inc()
}

func (m *Metrics) SetOpenPositions(n int) {
	if m == nil {
		return
	}
	m.openPositions.Set(float64(n))
}

func (m *Metrics) SetPortfolioRisk(pct float64) {
	if m == nil {
		return
	}
	m.portfolioRisk.Set(pct)
}

func (m *Metrics) ObserveAdvisorFailure() {
	if m == nil {
		return
	}
	m.advisorFailure.Inc()
}
