// Package metrics defines and registers all custom Prometheus metrics for the
// gigmarket identity API. It is the single source of truth for metric names,
// labels, and help strings.
//
// Metrics are registered with the default Prometheus registry at package
// init through promauto and exposed on GET /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "identity"

// ── Auth metrics ──────────────────────────────────────────────────────────────

// AuthRequestsTotal counts auth operations by outcome.
// Labels:
//   - operation: "signup", "login", "forgot_password", "verify_otp", "resend_otp", "reset_password", "change_password"
//   - outcome: "ok" or a short failure reason (e.g. "invalid_credentials", "conflict", "weak_password")
var AuthRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auth_requests_total",
		Help:      "Total number of auth operations, by operation and outcome.",
	},
	[]string{"operation", "outcome"},
)

// RateLimitedTotal counts attempts rejected by the rate limiter.
// Label:
//   - class: the endpoint class whose budget was exhausted (e.g. "login")
var RateLimitedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_total",
		Help:      "Total number of attempts denied by the rate limiter, by endpoint class.",
	},
	[]string{"class"},
)

// RateLimiterErrorsTotal counts limiter backend failures. Requests proceed
// when the backend fails, so a rising value means limits are not enforced.
var RateLimiterErrorsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limiter_errors_total",
		Help:      "Total number of rate limiter backend errors, by endpoint class.",
	},
	[]string{"class"},
)

// UnauthorizedTotal counts bearer-token rejections on protected routes.
var UnauthorizedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "unauthorized_total",
		Help:      "Total number of requests rejected for a missing or invalid bearer token.",
	},
)

// ── Mail metrics ──────────────────────────────────────────────────────────────

// MailQueueDepth tracks the current number of reset mails waiting in each worker channel.
// Label:
//   - worker_id: numeric worker index (e.g. "0", "1", …)
var MailQueueDepth = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "mail_queue_depth",
		Help:      "Current number of reset mails pending in each dispatcher worker channel.",
	},
	[]string{"worker_id"},
)

// MailDeliveriesTotal counts reset mail send attempts.
// Label:
//   - result: "sent", "failed" or "dropped" (queue full)
var MailDeliveriesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mail_deliveries_total",
		Help:      "Total number of reset mail deliveries, by result.",
	},
	[]string{"result"},
)

// MailSendDuration measures how long a single send takes.
var MailSendDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "mail_send_duration_seconds",
		Help:      "Duration of a single reset mail send.",
		Buckets:   prometheus.DefBuckets,
	},
)

// ── Credential metrics ────────────────────────────────────────────────────────

// ResetCyclesTotal counts reset cycles started.
// Label:
//   - trigger: "forgot_password" or "resend_otp"
var ResetCyclesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reset_cycles_total",
		Help:      "Total number of password reset cycles started, by trigger.",
	},
	[]string{"trigger"},
)

// TokensIssuedTotal counts bearer tokens handed out on login.
var TokensIssuedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tokens_issued_total",
		Help:      "Total number of bearer tokens issued.",
	},
)

// HashDuration measures password hash and compare calls, including time spent
// waiting for a hashing slot.
// Label:
//   - op: "hash" or "compare"
var HashDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "password_hash_duration_seconds",
		Help:      "Duration of password hash and compare calls.",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	},
	[]string{"op"},
)
