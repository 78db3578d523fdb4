// Package metrics provides Prometheus instrumentation for the moderation bot.
// It exposes counters for message throughput and enforcement actions, and a
// histogram for per-message handling latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessagesTotal counts processed messages, labeled by outcome:
	// "clean", "abuse", "link" or "skipped".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guardbot_messages_total",
		Help: "Total number of messages processed",
	}, []string{"type"})

	// ActionsTotal counts platform actions by kind ("delete", "restrict",
	// "notice", "cleanup") and result ("ok", "error").
	ActionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guardbot_actions_total",
		Help: "Platform actions attempted",
	}, []string{"action", "result"})

	// ViolationTierTotal counts violations by the tier they reached.
	ViolationTierTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guardbot_violation_tier_total",
		Help: "Violations by escalation tier",
	}, []string{"tier"})

	// PermissionChecks counts permission lookups: "hit", "miss" or "error".
	PermissionChecks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guardbot_permission_checks_total",
		Help: "Bot permission lookups",
	}, []string{"result"})

	// DecayResets counts records reset by the decay sweep.
	DecayResets = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "guardbot_decay_resets_total",
		Help: "Violation records reset by inactivity decay",
	})

	// WelcomeTotal counts welcome messages by result ("photo", "text", "error").
	WelcomeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guardbot_welcome_total",
		Help: "Welcome messages sent",
	}, []string{"result"})

	// HandleDuration records the time spent handling one text message.
	HandleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "guardbot_handle_seconds",
		Help:    "Message handling latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})
)

func init() {
	prometheus.MustRegister(
		MessagesTotal,
		ActionsTotal,
		ViolationTierTotal,
		PermissionChecks,
		DecayResets,
		WelcomeTotal,
		HandleDuration,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Result maps an error to the "ok" / "error" label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
