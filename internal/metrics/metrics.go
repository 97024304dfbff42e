// Package metrics provides Prometheus metrics for the capture and publish loops.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "posenode"

var (
	framesCaptured = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "frames_total",
		Help:      "Frames read from the capture device",
	})

	captureFPS = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "fps",
		Help:      "Rolling capture and inference throughput",
	})

	inferenceErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "inference",
		Name:      "errors_total",
		Help:      "Frames whose inference failed and were treated as empty",
	})

	inferenceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "inference",
		Name:      "duration_seconds",
		Help:      "Model inference time per frame",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})

	posesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "inference",
		Name:      "poses_total",
		Help:      "Detected poses by threshold outcome",
	}, []string{"result"})

	queueDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "frames_dropped_total",
		Help:      "Pose frames evicted because the queue was full",
	})

	queueDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "frames_discarded_total",
		Help:      "Pose frames left in the queue at shutdown",
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Pose frames waiting for the publisher",
	})

	recordsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sink",
		Name:      "records_total",
		Help:      "Pose records submitted to a sink by result",
	}, []string{"sink", "result"})

	pipelineState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "state",
		Help:      "1 for the current orchestrator state, 0 otherwise",
	}, []string{"state"})
)

// IncFramesCaptured records one frame read from the device.
func IncFramesCaptured() {
	framesCaptured.Inc()
}

// SetCaptureFPS sets the current rolling throughput.
func SetCaptureFPS(fps float64) {
	captureFPS.Set(fps)
}

// IncInferenceErrors records a failed inference.
func IncInferenceErrors() {
	inferenceErrors.Inc()
}

// ObserveInference records the model's inference time for one frame.
func ObserveInference(d time.Duration) {
	inferenceDuration.Observe(d.Seconds())
}

// AddPoses records detections kept and rejected by the confidence filter.
func AddPoses(kept, rejected int) {
	posesDetected.WithLabelValues("kept").Add(float64(kept))
	posesDetected.WithLabelValues("rejected").Add(float64(rejected))
}

// IncQueueDropped records a frame evicted from a full queue.
func IncQueueDropped() {
	queueDropped.Inc()
}

// AddQueueDiscarded records frames thrown away when the queue closed.
func AddQueueDiscarded(n int) {
	queueDiscarded.Add(float64(n))
}

// SetQueueDepth sets the current queue length.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// IncRecords records a sink write outcome. result is "ok" or "error".
func IncRecords(sink, result string) {
	recordsWritten.WithLabelValues(sink, result).Inc()
}

// SetPipelineState marks state as current and clears all others.
func SetPipelineState(state string, all []string) {
	for _, s := range all {
		if s == state {
			pipelineState.WithLabelValues(s).Set(1)
		} else {
			pipelineState.WithLabelValues(s).Set(0)
		}
	}
}

// Handler returns the Prometheus metrics HTTP handler.
// It serves every promauto-registered metric.
func Handler() http.Handler {
	return promhttp.Handler()
}
