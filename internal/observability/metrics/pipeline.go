package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/document-scanner/internal/core/domain"
	"github.com/kirillkom/document-scanner/internal/core/ports"
)

const namespace = "docscan"

var _ ports.PipelineObserver = (*PipelineMetrics)(nil)

type PipelineMetrics struct {
	batchSize      prometheus.Histogram
	stageInFlight  *prometheus.GaugeVec
	stageTotal     *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	queueLag       prometheus.Histogram
	staleDiscarded *prometheus.CounterVec
	documents      *prometheus.GaugeVec
	estimate       prometheus.Gauge
	running        prometheus.Gauge
}

func NewPipelineMetrics(service string, reg prometheus.Registerer) *PipelineMetrics {
	labels := prometheus.Labels{"service": service}

	m := &PipelineMetrics{
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "batch_size",
			Help:        "Documents admitted per quick-scan batch.",
			Buckets:     []float64{1, 2, 3, 5, 8, 13},
			ConstLabels: labels,
		}),
		stageInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "stage_in_flight",
			Help:        "Analyzer runs currently in flight by stage.",
			ConstLabels: labels,
		}, []string{"stage"}),
		stageTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "stage_runs_total",
			Help:        "Finished analyzer runs by stage and status.",
			ConstLabels: labels,
		}, []string{"stage", "status"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "stage_duration_seconds",
			Help:        "Analyzer run duration in seconds by stage.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		}, []string{"stage"}),
		queueLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "queue_lag_seconds",
			Help:        "Delay between ingestion and admission to a batch.",
			Buckets:     []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			ConstLabels: labels,
		}),
		staleDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "stale_results_discarded_total",
			Help:        "Analyzer results dropped because the registry was cleared.",
			ConstLabels: labels,
		}, []string{"stage"}),
		documents: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "registry",
			Name:        "documents",
			Help:        "Documents in the registry by scan phase.",
			ConstLabels: labels,
		}, []string{"phase"}),
		estimate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "scan_job",
			Name:        "estimated_remaining_seconds",
			Help:        "Estimated time until the current scan job finishes.",
			ConstLabels: labels,
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "scan_job",
			Name:        "running",
			Help:        "1 while a scan job is running.",
			ConstLabels: labels,
		}),
	}
	reg.MustRegister(m.batchSize, m.stageInFlight, m.stageTotal, m.stageDuration, m.queueLag,
		m.staleDiscarded, m.documents, m.estimate, m.running)
	return m
}

func (m *PipelineMetrics) BatchAdmitted(size int) {
	m.batchSize.Observe(float64(size))
}

func (m *PipelineMetrics) StageStarted(stage domain.Stage) {
	m.stageInFlight.WithLabelValues(string(stage)).Inc()
}

func (m *PipelineMetrics) StageFinished(stage domain.Stage, duration time.Duration, err error) {
	m.stageInFlight.WithLabelValues(string(stage)).Dec()
	status := "success"
	if err != nil {
		status = "error"
	}
	m.stageTotal.WithLabelValues(string(stage), status).Inc()
	m.stageDuration.WithLabelValues(string(stage)).Observe(duration.Seconds())
}

func (m *PipelineMetrics) QueueLag(lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.Observe(lag.Seconds())
}

func (m *PipelineMetrics) StaleResultDiscarded(stage domain.Stage) {
	m.staleDiscarded.WithLabelValues(string(stage)).Inc()
}

// ObserveSnapshot refreshes the registry and scan job gauges. It is meant to
// be attached as a snapshot subscriber.
func (m *PipelineMetrics) ObserveSnapshot(s domain.Snapshot) {
	p := s.Job.Phases
	m.documents.WithLabelValues(string(domain.PhaseQueued)).Set(float64(p.Queued))
	m.documents.WithLabelValues(string(domain.PhaseQuickScanning)).Set(float64(p.QuickScanning))
	m.documents.WithLabelValues(string(domain.PhaseCompleted)).Set(float64(p.Completed))
	m.documents.WithLabelValues(string(domain.PhaseError)).Set(float64(p.Errored))
	m.estimate.Set(s.Job.EstimatedRemaining.Seconds())
	if s.Job.IsRunning {
		m.running.Set(1)
	} else {
		m.running.Set(0)
	}
}

// Handler exposes everything registered in g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
