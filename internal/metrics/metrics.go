package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amp_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "amp_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Routing metrics
	MessagesRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amp_messages_routed_total",
			Help: "Total messages routed, by outcome",
		},
		[]string{"route"}, // "local", "remote", "relay"
	)

	RoutingFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amp_routing_failures_total",
			Help: "Total routing failures, by kind",
		},
		[]string{"kind"},
	)

	MessagesForwarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "amp_messages_forwarded_total",
			Help: "Total messages forwarded between agents",
		},
	)

	ContentFlagged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "amp_content_flagged_total",
			Help: "Total messages flagged by content security",
		},
	)

	SignaturesVerified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amp_signatures_verified_total",
			Help: "Total envelope signature checks",
		},
		[]string{"result"}, // "ok" or "fail"
	)

	// Delivery metrics
	WebhookAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amp_webhook_attempts_total",
			Help: "Total webhook delivery attempts, by result",
		},
		[]string{"result"}, // "ok", "fail", "rejected"
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amp_notifications_sent_total",
			Help: "Total interactive notifications, by result",
		},
		[]string{"result"},
	)

	RelayQueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "amp_relay_queued_total",
			Help: "Total messages placed on the relay queue",
		},
	)

	RelayDrained = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "amp_relay_drained_total",
			Help: "Total relay entries handed to pickups",
		},
	)

	// Registry metrics
	AgentsRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "amp_agents_registered_total",
			Help: "Total agents registered",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amp_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)
)
