package engine

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts what the engine does. One Metrics may be shared by many
// Stores. All methods are safe on a nil *Metrics.
type Metrics struct {
	ActionsApplied    prometheus.Counter
	ActionsSuppressed prometheus.Counter
	EffectsStarted    *prometheus.CounterVec
	EffectsCancelled  *prometheus.CounterVec
}

// NewMetrics builds the engine collectors and registers them with reg.
// A nil reg leaves them unregistered, which is convenient in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActionsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arcana",
			Name:      "actions_applied_total",
			Help:      "Actions applied by a reducer.",
		}),
		ActionsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arcana",
			Name:      "actions_suppressed_total",
			Help:      "Actions dropped because the effect that produced them was cancelled.",
		}),
		EffectsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arcana",
			Name:      "effects_started_total",
			Help:      "Effect tasks started, by cancellation key.",
		}, []string{"key"}),
		EffectsCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arcana",
			Name:      "effects_cancelled_total",
			Help:      "Effect tasks cancelled or superseded, by cancellation key.",
		}, []string{"key"}),
	}
	if reg != nil {
		reg.MustRegister(m.ActionsApplied, m.ActionsSuppressed, m.EffectsStarted, m.EffectsCancelled)
	}
	return m
}

func (m *Metrics) actionApplied() {
	if m != nil {
		m.ActionsApplied.Inc()
	}
}

func (m *Metrics) actionSuppressed() {
	if m != nil {
		m.ActionsSuppressed.Inc()
	}
}

func (m *Metrics) effectStarted(key string) {
	if m != nil {
		m.EffectsStarted.WithLabelValues(keyLabel(key)).Inc()
	}
}

func (m *Metrics) effectCancelled(key string) {
	if m != nil {
		m.EffectsCancelled.WithLabelValues(keyLabel(key)).Inc()
	}
}

// keyLabel drops the session scope from a key so label cardinality stays
// bounded: "stack/12/insight-loading" becomes "insight-loading".
func keyLabel(key string) string {
	if key == "" {
		return "anonymous"
	}
	return key[strings.LastIndex(key, "/")+1:]
}
