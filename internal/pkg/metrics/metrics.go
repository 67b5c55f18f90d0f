// Package metrics defines and registers all custom Prometheus metrics for the
// portal identity engine. It is the single source of truth for metric names,
// labels, and help strings.
//
// Metrics are registered with the default Prometheus registry on package
// initialisation through promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "portal"

// ── Session metrics ───────────────────────────────────────────────────────────

// SessionEventsTotal counts auth-state transitions applied by session managers.
// Label:
//   - kind: "initial", "SIGNED_IN", "SIGNED_OUT", "TOKEN_REFRESHED", "USER_UPDATED", "local"
var SessionEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_events_total",
		Help:      "Total number of auth-state transitions applied, by kind.",
	},
	[]string{"kind"},
)

// SessionInitTimeoutsTotal counts initialisations released by the watchdog.
var SessionInitTimeoutsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_init_timeouts_total",
		Help:      "Total number of session initialisations that hit the loading watchdog.",
	},
)

// ── Permission metrics ────────────────────────────────────────────────────────

// PermissionChecksTotal counts single permission evaluations.
// Label:
//   - result: "granted", "denied", "error" (failed closed) or "anonymous" (no user, no call)
var PermissionChecksTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "permission_checks_total",
		Help:      "Total number of permission evaluations, by result.",
	},
	[]string{"result"},
)

// ── Approval metrics ──────────────────────────────────────────────────────────

// ApprovalDecisionsTotal counts approval transitions requested by admins.
// Labels:
//   - outcome: "approve" or "reject"
//   - result: "applied", "refused", "invalid", "error"
var ApprovalDecisionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "approval_decisions_total",
		Help:      "Total number of approval decisions, by outcome and result.",
	},
	[]string{"outcome", "result"},
)

// ── Guard metrics ─────────────────────────────────────────────────────────────

// GuardDecisionsTotal counts access-guard evaluations.
// Label:
//   - state: the resulting guard state (e.g. "granted", "pending_approval")
var GuardDecisionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "guard_decisions_total",
		Help:      "Total number of access-guard decisions, by resulting state.",
	},
	[]string{"state"},
)

// GuardStaleReevaluationsTotal counts evaluations discarded because the auth
// state changed while permission checks were in flight.
var GuardStaleReevaluationsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "guard_stale_reevaluations_total",
		Help:      "Total number of guard evaluations discarded as stale and re-run.",
	},
)
