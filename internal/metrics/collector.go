// Package metrics exposes Prometheus counters and histograms for session
// and bridge health, registered through promauto the way the pack's
// agentflow metrics collector does.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds every metric this control plane exports.
type Collector struct {
	sessionsActive       prometheus.Gauge
	sessionsStartedTotal *prometheus.CounterVec
	sessionDuration      prometheus.Histogram

	actionsExecutedTotal *prometheus.CounterVec
	actionDuration       *prometheus.HistogramVec

	bridgeReconnectsTotal prometheus.Counter
	bridgeState           *prometheus.GaugeVec
}

// NewCollector registers every metric under namespace and returns the
// Collector. Call once per process; promauto panics on duplicate
// registration.
func NewCollector(namespace string) *Collector {
	return &Collector{
		sessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of sessions currently running.",
		}),
		sessionsStartedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total sessions started, by outcome once finished.",
		}, []string{"outcome"}),
		sessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Wall-clock duration of a session run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		actionsExecutedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_executed_total",
			Help:      "Total actions executed, by kind and success.",
		}, []string{"kind", "success"}),
		actionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_duration_seconds",
			Help:      "Duration of one action execution.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		bridgeReconnectsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_reconnects_total",
			Help:      "Total bridge reconnect attempts.",
		}),
		bridgeState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bridge_state",
			Help:      "1 if the bridge is currently in the given state, else 0.",
		}, []string{"state"}),
	}
}

func (c *Collector) SessionStarted() { c.sessionsActive.Inc() }

func (c *Collector) SessionFinished(outcome string, duration time.Duration) {
	c.sessionsActive.Dec()
	c.sessionsStartedTotal.WithLabelValues(outcome).Inc()
	c.sessionDuration.Observe(duration.Seconds())
}

func (c *Collector) RecordAction(kind string, success bool, duration time.Duration) {
	c.actionsExecutedTotal.WithLabelValues(kind, successLabel(success)).Inc()
	c.actionDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func (c *Collector) RecordBridgeReconnect() { c.bridgeReconnectsTotal.Inc() }

// SetBridgeState zeroes every other known state and sets state to 1, so
// the gauge vector always reflects exactly one active state.
func (c *Collector) SetBridgeState(state string, allStates []string) {
	for _, s := range allStates {
		if s == state {
			c.bridgeState.WithLabelValues(s).Set(1)
		} else {
			c.bridgeState.WithLabelValues(s).Set(0)
		}
	}
}

func successLabel(ok bool) string {
	if ok {
		return "true"
	}
	return "false"
}
