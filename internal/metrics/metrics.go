package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics. Blob size is the only shape the relay is allowed
	// to observe about message content.
	KeysRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_keys_registered_total",
			Help: "Total public key registrations (including upserts)",
		},
	)

	MessagesAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_messages_accepted_total",
			Help: "Total encrypted messages accepted for storage",
		},
	)

	MessagesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_rejected_total",
			Help: "Total messages rejected before storage",
		},
		[]string{"reason"}, // "too_small", "too_large", "bad_request"
	)

	BlobSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_blob_size_bytes",
			Help:    "Size of accepted encrypted blobs",
			Buckets: prometheus.ExponentialBuckets(100, 4, 8),
		},
	)

	MessagesFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_messages_fetched_total",
			Help: "Total messages returned to devices",
		},
	)

	MessagesPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_messages_purged_total",
			Help: "Total messages removed by the retention janitor",
		},
	)

	NotificationsQueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_notifications_queued_total",
			Help: "Total push-notification events queued",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)
)
