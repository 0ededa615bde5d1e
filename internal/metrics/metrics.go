// Package metrics exposes Prometheus collectors for the render pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maauso/videogen-api/internal/job"
	"github.com/maauso/videogen-api/internal/media"
)

const namespace = "videogen"

// Metrics holds the service collectors and the registry they are bound to.
type Metrics struct {
	registry *prometheus.Registry

	jobsSubmitted  *prometheus.CounterVec
	jobsFinished   *prometheus.CounterVec
	renderDuration *prometheus.HistogramVec
	downloads      *prometheus.CounterVec
	downloadTime   *prometheus.HistogramVec
	httpRequests   *prometheus.CounterVec
}

// Compile-time check that Metrics observes job lifecycle events.
var _ job.Observer = (*Metrics)(nil)

// New creates the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		jobsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Render jobs accepted, by template.",
		}, []string{"template"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Render jobs that reached a terminal state, by template and status.",
		}, []string{"template", "status"}),
		renderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "Wall time of render processes.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"template"}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_downloads_total",
			Help:      "Remote media downloads, by kind and result.",
		}, []string{"kind", "result"}),
		downloadTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "media_download_duration_seconds",
			Help:      "Time spent downloading remote media.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests, by method and status code.",
		}, []string{"method", "code"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.jobsSubmitted,
		m.jobsFinished,
		m.renderDuration,
		m.downloads,
		m.downloadTime,
		m.httpRequests,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RegisterQueueDepth exposes the number of jobs waiting for a worker.
func (m *Metrics) RegisterQueueDepth(depth func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Jobs waiting for a render worker.",
	}, func() float64 { return float64(depth()) }))
}

// JobSubmitted implements job.Observer.
func (m *Metrics) JobSubmitted(templateID string) {
	m.jobsSubmitted.WithLabelValues(templateID).Inc()
}

// JobFinished implements job.Observer. Abandoned jobs report zero elapsed
// time and are not added to the duration histogram.
func (m *Metrics) JobFinished(templateID string, status job.Status, elapsed time.Duration) {
	m.jobsFinished.WithLabelValues(templateID, string(status)).Inc()
	if elapsed > 0 {
		m.renderDuration.WithLabelValues(templateID).Observe(elapsed.Seconds())
	}
}

// ObserveDownload matches media.Observer.
func (m *Metrics) ObserveDownload(kind media.Kind, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.downloads.WithLabelValues(string(kind), result).Inc()
	m.downloadTime.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
}

// ObserveRequest counts one HTTP response.
func (m *Metrics) ObserveRequest(method string, code int) {
	m.httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
}
