package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	qualityRequestsTotal  *prometheus.CounterVec
	qualityLatencySeconds *prometheus.HistogramVec
	qualityErrorsTotal    *prometheus.CounterVec
	executionsRecorded    *prometheus.CounterVec
	detectionF1           *prometheus.HistogramVec
	detectionIoU          *prometheus.HistogramVec
	optimizationsTotal    *prometheus.CounterVec
	insightsGenerated     *prometheus.CounterVec
	sweepFailures         prometheus.Counter
)

// RegisterMetrics initialises the Prometheus collectors used by the quality API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		qualityRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quality_requests_total",
			Help: "Total number of quality API requests served.",
		}, []string{"method", "route", "status"})

		qualityLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quality_latency_seconds",
			Help:    "Latency distribution for quality API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		qualityErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quality_errors_total",
			Help: "Total number of error responses returned by quality endpoints.",
		}, []string{"method", "route", "status"})

		executionsRecorded = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quality_executions_recorded_total",
			Help: "Test executions recorded, by task and outcome.",
		}, []string{"task", "outcome"})

		detectionF1 = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quality_detection_f1",
			Help:    "F1 score of scored test executions.",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		}, []string{"task"})

		detectionIoU = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quality_detection_avg_iou",
			Help:    "Average IoU of matched sections in scored test executions.",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		}, []string{"task"})

		optimizationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quality_optimizations_total",
			Help: "Prompt optimizations recorded, by target metric and rollout strategy.",
		}, []string{"target_metric", "strategy"})

		insightsGenerated = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quality_insights_generated_total",
			Help: "Learning insights generated, by priority.",
		}, []string{"priority"})

		sweepFailures = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quality_learning_sweep_failures_total",
			Help: "Failed runs of the periodic learning sweep.",
		})

		prometheus.MustRegister(
			qualityRequestsTotal,
			qualityLatencySeconds,
			qualityErrorsTotal,
			executionsRecorded,
			detectionF1,
			detectionIoU,
			optimizationsTotal,
			insightsGenerated,
			sweepFailures,
		)
	})
}

// QualityRequests exposes the counter for quality API requests.
func QualityRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return qualityRequestsTotal
}

// QualityLatency exposes the latency histogram for quality API requests.
func QualityLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return qualityLatencySeconds
}

// QualityErrors exposes the counter for quality API error responses.
func QualityErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return qualityErrorsTotal
}

// ExecutionsRecorded exposes the recorded executions counter.
func ExecutionsRecorded() *prometheus.CounterVec {
	RegisterMetrics()
	return executionsRecorded
}

// DetectionF1 exposes the F1 histogram.
func DetectionF1() *prometheus.HistogramVec {
	RegisterMetrics()
	return detectionF1
}

// DetectionIoU exposes the average IoU histogram.
func DetectionIoU() *prometheus.HistogramVec {
	RegisterMetrics()
	return detectionIoU
}

// OptimizationsTotal exposes the optimization counter.
func OptimizationsTotal() *prometheus.CounterVec {
	RegisterMetrics()
	return optimizationsTotal
}

// InsightsGenerated exposes the insight counter.
func InsightsGenerated() *prometheus.CounterVec {
	RegisterMetrics()
	return insightsGenerated
}

// SweepFailures exposes the learning sweep failure counter.
func SweepFailures() prometheus.Counter {
	RegisterMetrics()
	return sweepFailures
}
