package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"request-throttle-service/domain"
)

type StatsSource interface {
	Stats() domain.StatsSnapshot
}

// Listener exports decision counters and per-category gauges to a
// prometheus registry. Gauges are refreshed from a full stats snapshot on
// every decision, so they stay correct across config changes and history
// resets, not only for the category the decision belongs to.
type Listener struct {
	stats StatsSource

	decisions        *prometheus.CounterVec
	burstUtilization *prometheus.GaugeVec
	rateUtilization  *prometheus.GaugeVec
	rateLimit        *prometheus.GaugeVec
	breakerState     *prometheus.GaugeVec
}

func NewListener(registry *prometheus.Registry, stats StatsSource) *Listener {
	listener := &Listener{
		stats: stats,
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "throttle",
			Name:      "decisions_total",
			Help:      "Decisions made, by category, verdict and reason.",
		}, []string{"category", "verdict", "reason"}),
		burstUtilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "throttle",
			Name:      "burst_utilization_percent",
			Help:      "Burst window utilization of a category, in percent.",
		}, []string{"category"}),
		rateUtilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "throttle",
			Name:      "rate_utilization_percent",
			Help:      "Rate window utilization of a category, in percent.",
		}, []string{"category"}),
		rateLimit: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "throttle",
			Name:      "rate_limit",
			Help:      "Configured rate limit of a category.",
		}, []string{"category"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "throttle",
			Name:      "breaker_state",
			Help:      "Circuit breaker state of a category: 0 closed, 1 half-open, 2 open.",
		}, []string{"category"}),
	}
	registry.MustRegister(
		listener.decisions,
		listener.burstUtilization,
		listener.rateUtilization,
		listener.rateLimit,
		listener.breakerState,
	)
	return listener
}

func (l *Listener) Notify(_ context.Context, decision domain.Decision) {
	l.decisions.WithLabelValues(
		decision.Category.String(),
		string(decision.Verdict),
		string(decision.Reason),
	).Inc()

	snapshot := l.stats.Stats()
	for category, stats := range snapshot.Categories {
		name := category.String()
		l.burstUtilization.WithLabelValues(name).Set(stats.BurstUtilization)
		l.rateUtilization.WithLabelValues(name).Set(stats.RateUtilization)
		l.rateLimit.WithLabelValues(name).Set(float64(stats.RateLimit))
		l.breakerState.WithLabelValues(name).Set(breakerStateValue(stats.BreakerState))
	}
}

func breakerStateValue(state domain.BreakerState) float64 {
	switch state {
	case domain.BreakerOpen:
		return 2
	case domain.BreakerHalfOpen:
		return 1
	default:
		return 0
	}
}
