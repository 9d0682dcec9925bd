package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	PagesTotal          *prometheus.CounterVec
	TendersTotal        *prometheus.CounterVec
	ErrorsTotal         *prometheus.CounterVec
	TasksTotal          *prometheus.CounterVec
	ImageUploadsTotal   *prometheus.CounterVec
	DocumentFieldsTotal *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PagesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tender_listing_pages_total",
			Help: "The total number of listing pages fetched",
		}, []string{"category", "status"}), // status: 'ok', 'empty', 'failed'
		TendersTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tender_records_processed_total",
			Help: "The total number of tenders processed",
		}, []string{"category", "status"}),
		ErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tender_errors_total",
			Help: "The total number of errors encountered",
		}, []string{"type"}),
		TasksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tender_background_tasks_total",
			Help: "Background tasks by outcome",
		}, []string{"task", "status"}),
		ImageUploadsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tender_image_uploads_total",
			Help: "Image uploads to the archive by outcome",
		}, []string{"status"}),
		DocumentFieldsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tender_document_fields_found_total",
			Help: "Evaluation report labels resolved",
		}, []string{"label"}),
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}
}

func (m *Metrics) IncPages(category, status string) {
	if m == nil {
		return
	}
	m.PagesTotal.WithLabelValues(category, status).Inc()
}

func (m *Metrics) IncTenders(category, status string) {
	if m == nil {
		return
	}
	m.TendersTotal.WithLabelValues(category, status).Inc()
}

func (m *Metrics) IncErrorsTotal(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

func (m *Metrics) IncTask(task, status string) {
	if m == nil {
		return
	}
	m.TasksTotal.WithLabelValues(task, status).Inc()
}

func (m *Metrics) AddImageUploads(status string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ImageUploadsTotal.WithLabelValues(status).Add(float64(n))
}

func (m *Metrics) IncDocumentField(label string) {
	if m == nil {
		return
	}
	m.DocumentFieldsTotal.WithLabelValues(label).Inc()
}

func (m *Metrics) ObserveHTTP(method, path, status string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(seconds)
}
