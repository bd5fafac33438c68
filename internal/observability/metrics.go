package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ImagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facegroups",
		Name:      "images_processed_total",
		Help:      "Total number of images processed, by terminal status",
	}, []string{"status"})

	FacesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "facegroups",
		Name:      "faces_detected_total",
		Help:      "Total number of faces detected",
	})

	FacesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "facegroups",
		Name:      "faces_skipped_total",
		Help:      "Total number of detections skipped for invalid embeddings",
	})

	GroupsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "facegroups",
		Name:      "groups_created_total",
		Help:      "Total number of person groups created",
	})

	GroupsMatched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "facegroups",
		Name:      "groups_matched_total",
		Help:      "Total number of faces matched to existing groups",
	})

	ProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "facegroups",
		Name:      "processing_duration_seconds",
		Help:      "End-to-end duration of one image processing attempt",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "facegroups",
		Name:      "stage_duration_seconds",
		Help:      "Duration of pipeline stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "facegroups",
		Name:      "queue_depth",
		Help:      "Number of pending process tasks in queue",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "facegroups",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "facegroups",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
