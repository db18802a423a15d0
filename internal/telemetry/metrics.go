// Package telemetry holds the sync engine's prometheus metrics.
package telemetry

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/julianstephens/streakly/internal/models"
)

const namespace = "streakly"

// Metrics is a private registry so several engines (and tests) never collide.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	remoteWriteFailures *prometheus.CounterVec
	readFallbacks       *prometheus.CounterVec
	migrationPhases     *prometheus.CounterVec
	completions         *prometheus.CounterVec
	realtimeRefetches   *prometheus.CounterVec
	tier                prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		remoteWriteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_write_failures_total",
			Help:      "Remote writes that failed and were left to the local copy.",
		}, []string{"op", "collection"}),
		readFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_read_fallbacks_total",
			Help:      "Remote reads that failed and were served from the local store.",
		}, []string{"collection"}),
		migrationPhases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migration_phase_total",
			Help:      "Migration phases by outcome.",
		}, []string{"phase", "result"}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completions_total",
			Help:      "Habit completions recorded, by tier.",
		}, []string{"tier"}),
		realtimeRefetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_refetch_total",
			Help:      "Collection re-fetches triggered by realtime change events.",
		}, []string{"collection"}),
		tier: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tier",
			Help:      "Current tier: 0 unknown, 1 free, 2 premium.",
		}),
	}
	m.registry.MustRegister(
		m.remoteWriteFailures,
		m.readFallbacks,
		m.migrationPhases,
		m.completions,
		m.realtimeRefetches,
		m.tier,
	)
	return m
}

func (m *Metrics) RemoteWriteFailed(op, collection string) {
	if m == nil {
		return
	}
	m.remoteWriteFailures.WithLabelValues(op, collection).Inc()
}

func (m *Metrics) ReadFellBack(collection string) {
	if m == nil {
		return
	}
	m.readFallbacks.WithLabelValues(collection).Inc()
}

// MigrationPhase records a phase outcome; result is "ok" or "failed".
func (m *Metrics) MigrationPhase(phase string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.migrationPhases.WithLabelValues(phase, result).Inc()
}

func (m *Metrics) Completed(tier models.Tier) {
	if m == nil {
		return
	}
	m.completions.WithLabelValues(tier.String()).Inc()
}

func (m *Metrics) Refetched(collection string) {
	if m == nil {
		return
	}
	m.realtimeRefetches.WithLabelValues(collection).Inc()
}

func (m *Metrics) SetTier(tier models.Tier) {
	if m == nil {
		return
	}
	switch tier {
	case models.TierFree:
		m.tier.Set(1)
	case models.TierPremium:
		m.tier.Set(2)
	default:
		m.tier.Set(0)
	}
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Snapshot renders every non-zero sample as "name{labels} value", sorted.
func (m *Metrics) Snapshot() ([]string, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("failed to gather metrics: %w", err)
	}

	var lines []string
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			var value float64
			switch {
			case metric.GetCounter() != nil:
				value = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				value = metric.GetGauge().GetValue()
			default:
				continue
			}
			if value == 0 {
				continue
			}

			var labels []string
			for _, lp := range metric.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
			}
			name := mf.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}
			lines = append(lines, fmt.Sprintf("%s %g", name, value))
		}
	}
	sort.Strings(lines)
	return lines, nil
}
