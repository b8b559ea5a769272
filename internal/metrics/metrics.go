package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signage_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "signage_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "signage_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signage_rate_limit_rejections_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"scope"},
	)
)

// Device sync metrics
var (
	DeviceActivations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signage_device_activations_total",
			Help: "Device activation attempts by outcome",
		},
		[]string{"result"}, // "success", "not_found", "error"
	)

	LayoutsAssembled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signage_layouts_assembled_total",
			Help: "Layouts assembled by addressing policy of the first slide",
		},
		[]string{"policy"},
	)

	DeviceHeartbeats = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "signage_device_heartbeats_total",
			Help: "Heartbeats received from playback devices",
		},
	)

	RenderRequestsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signage_render_requests_enqueued_total",
			Help: "Render requests handed to the queue by outcome",
		},
		[]string{"result"},
	)

	RenderRequestsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signage_render_requests_processed_total",
			Help: "Queued render requests by transport and outcome",
		},
		[]string{"transport", "outcome"}, // outcome: "ok", "failed", "dropped", "superseded", "requeued"
	)

	LayoutIntegrityWarnings = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "signage_layout_integrity_warnings_total",
			Help: "Layouts whose image slide count did not match the active rotation count",
		},
	)
)

// Rendering metrics
var (
	CapturesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signage_captures_total",
			Help: "Browser captures by mode and status",
		},
		[]string{"mode", "status"}, // mode: "still", "screencast", "sampled"
	)

	CaptureDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "signage_capture_duration_seconds",
			Help:    "Browser capture duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300, 600},
		},
		[]string{"mode"},
	)

	BatchItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signage_batch_items_total",
			Help: "Batch items by job and outcome",
		},
		[]string{"job", "status"},
	)

	RenderQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "signage_render_queue_depth",
			Help: "On-demand render jobs waiting for a worker",
		},
	)
)

// Transcode and publish metrics
var (
	TranscodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "signage_transcode_duration_seconds",
			Help:    "ffmpeg invocation duration in seconds",
			Buckets: []float64{1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"step"}, // "encode", "segment", "loop"
	)

	TranscodeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signage_transcode_failures_total",
			Help: "Failed transcode steps",
		},
		[]string{"step"},
	)

	ArtifactsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signage_artifacts_published_total",
			Help: "Artifacts written to the addressable store",
		},
		[]string{"kind"}, // "slide", "still", "stream"
	)

	ArtifactsDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signage_artifacts_deleted_total",
			Help: "Stale artifacts removed from the addressable store",
		},
		[]string{"kind"},
	)
)
