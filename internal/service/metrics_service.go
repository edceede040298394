package service

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the
// code-issuance domain alongside generic HTTP request metrics.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	codesGenerated  prometheus.Counter
	redemptions     *prometheus.CounterVec
	importRows      *prometheus.CounterVec
	importJobs      *prometheus.CounterVec
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	codesGenerated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "registration_codes_generated_total",
		Help: "Total registration codes generated and reserved",
	})

	redemptions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "registration_code_redemptions_total",
		Help: "Redemption attempts by outcome",
	}, []string{"result"})

	importRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "import_rows_total",
		Help: "Bulk import rows by outcome",
	}, []string{"result"})

	importJobs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "import_jobs_total",
		Help: "Bulk import jobs by terminal status",
	}, []string{"status"})

	registry.MustRegister(requestDuration, requestTotal, codesGenerated, redemptions, importRows, importJobs)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		codesGenerated:  codesGenerated,
		redemptions:     redemptions,
		importRows:      importRows,
		importJobs:      importJobs,
	}
}

// Handler exposes the Prometheus scrape endpoint.
func (s *MetricsService) Handler() http.Handler {
	return s.handler
}

// ObserveHTTPRequest records a completed HTTP request.
func (s *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	code := strconv.Itoa(status)
	s.requestDuration.WithLabelValues(method, path, code).Observe(duration.Seconds())
	s.requestTotal.WithLabelValues(method, path, code).Inc()
}

// AddCodesGenerated counts successfully reserved codes.
func (s *MetricsService) AddCodesGenerated(n int) {
	if n > 0 {
		s.codesGenerated.Add(float64(n))
	}
}

// IncRedemption counts one redemption attempt by outcome.
func (s *MetricsService) IncRedemption(result string) {
	s.redemptions.WithLabelValues(result).Inc()
}

// AddImportRows counts processed import rows by outcome.
func (s *MetricsService) AddImportRows(result string, n int) {
	if n > 0 {
		s.importRows.WithLabelValues(result).Add(float64(n))
	}
}

// IncImportJob counts one import job reaching a terminal status.
func (s *MetricsService) IncImportJob(status string) {
	s.importJobs.WithLabelValues(status).Inc()
}
