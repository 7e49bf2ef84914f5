package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	stepTotal     *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
	stepsInFlight prometheus.Gauge
	segmentTotal  *prometheus.CounterVec
	queueLag      *prometheus.HistogramVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	stepTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kip",
			Subsystem: "worker",
			Name:      "step_total",
			Help:      "Total executed pipeline steps by step name and status.",
		},
		[]string{"service", "step", "status"},
	)
	stepDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kip",
			Subsystem: "worker",
			Name:      "step_duration_seconds",
			Help:      "Pipeline step duration in seconds by step name and status.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"service", "step", "status"},
	)
	stepsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kip",
			Subsystem: "worker",
			Name:      "steps_in_flight",
			Help:      "Number of in-flight pipeline steps.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	segmentTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kip",
			Subsystem: "worker",
			Name:      "segment_extract_total",
			Help:      "Total segment extraction outcomes.",
		},
		[]string{"service", "status"},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kip",
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between step dispatch and execution start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)

	registry.MustRegister(stepTotal, stepDuration, stepsInFlight, segmentTotal, queueLag)

	return &WorkerMetrics{
		registry:      registry,
		stepTotal:     stepTotal,
		stepDuration:  stepDuration,
		stepsInFlight: stepsInFlight,
		segmentTotal:  segmentTotal,
		queueLag:      queueLag,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartStep() {
	m.stepsInFlight.Inc()
}

func (m *WorkerMetrics) FinishStep(service, step string, duration time.Duration, err error) {
	m.stepsInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.stepTotal.WithLabelValues(service, step, status).Inc()
	m.stepDuration.WithLabelValues(service, step, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) RecordSegmentExtraction(service string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.segmentTotal.WithLabelValues(service, status).Inc()
}

func (m *WorkerMetrics) ObserveQueueLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(service).Observe(lag.Seconds())
}
