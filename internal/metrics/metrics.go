package metrics

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "echolens_sessions_active",
		Help: "Live narration sessions",
	})

	FramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "echolens_frames_total",
		Help: "Frames processed by final state",
	}, []string{"state"})

	FramesInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "echolens_frames_in_flight",
		Help: "Frames currently inside the pipeline",
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "echolens_stage_duration_seconds",
		Help:    "Per-stage latency",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	}, []string{"stage"})

	E2EDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "echolens_frame_duration_seconds",
		Help:    "End-to-end latency from frame receipt to audio",
		Buckets: []float64{0.25, 0.5, 1.0, 2.0, 3.0, 5.0, 8.0, 13.0, 30.0},
	})

	QueueWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "echolens_turn_wait_seconds",
		Help:    "Time a frame waited for earlier frames of its session",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "echolens_errors_total",
		Help: "Error counts by stage",
	}, []string{"stage", "error_type"})

	Retries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "echolens_provider_retries_total",
		Help: "Transient provider failures retried",
	}, []string{"stage"})

	ArtifactsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "echolens_artifacts_swept_total",
		Help: "Stale artifact files removed by the janitor",
	})

	PromptChars = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "echolens_prompt_chars",
		Help:    "Length of the description prompt",
		Buckets: prometheus.ExponentialBuckets(64, 2, 8),
	})
)

// Register exposes the default registry on GET /metrics.
func Register(e *echo.Echo) {
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}
