package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics must be global for registration
var (
	// PagesTotal tracks the number of catalog pages processed
	PagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_pages_total",
			Help: "Total number of catalog pages processed",
		},
		[]string{"outcome"}, // outcome: committed, empty, failed
	)

	// CandidatesTotal tracks candidate sources seen on fetched pages
	CandidatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_candidates_total",
			Help: "Total number of candidate sources seen",
		},
		[]string{"outcome"}, // outcome: known, fetched, failed
	)

	// DetectionsInserted counts detections newly written to the store
	DetectionsInserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_detections_inserted_total",
			Help: "Total number of detections newly inserted into the store",
		},
	)

	// DetectionsStored reports the committed detection count
	DetectionsStored = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "harvester_detections_stored",
			Help: "Number of detections in the store",
		},
	)

	// TargetRecords reports the configured target count
	TargetRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "harvester_target_records",
			Help: "Configured target detection count",
		},
	)

	// ConsecutiveEmptyPages reports the current exhaustion counter
	ConsecutiveEmptyPages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "harvester_consecutive_empty_pages",
			Help: "Number of consecutive empty or failed pages",
		},
	)

	// CommitDuration measures batch commit time
	CommitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvester_commit_duration_seconds",
			Help:    "Batch commit duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"status"},
	)

	// CatalogRequests counts broker API requests
	CatalogRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_catalog_requests_total",
			Help: "Total number of catalog API requests",
		},
		[]string{"endpoint", "status"}, // endpoint: objects, detections; status: success, error
	)

	// CatalogRequestDuration measures broker API latency
	CatalogRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvester_catalog_request_duration_seconds",
			Help:    "Catalog API request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"endpoint"},
	)

	// RunsTotal counts finished harvest runs by termination reason
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_runs_total",
			Help: "Total number of harvest runs by termination reason",
		},
		[]string{"reason"},
	)

	// ErrorsTotal counts total number of errors
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// RecordPage records the outcome of one page
func RecordPage(outcome string) {
	PagesTotal.WithLabelValues(outcome).Inc()
}

// RecordCandidates records candidate outcomes for one page
func RecordCandidates(known, fetched, failed int) {
	CandidatesTotal.WithLabelValues("known").Add(float64(known))
	CandidatesTotal.WithLabelValues("fetched").Add(float64(fetched))
	CandidatesTotal.WithLabelValues("failed").Add(float64(failed))
}

// RecordCommit records a batch commit
func RecordCommit(status string, inserted int64, duration float64) {
	CommitDuration.WithLabelValues(status).Observe(duration)

	if inserted > 0 {
		DetectionsInserted.Add(float64(inserted))
	}
}

// RecordProgress records the current counts
func RecordProgress(stored, target int64, emptyPages int) {
	DetectionsStored.Set(float64(stored))
	TargetRecords.Set(float64(target))
	ConsecutiveEmptyPages.Set(float64(emptyPages))
}

// RecordCatalogRequest records catalog API request metrics
func RecordCatalogRequest(endpoint, status string, duration float64) {
	CatalogRequests.WithLabelValues(endpoint, status).Inc()
	CatalogRequestDuration.WithLabelValues(endpoint).Observe(duration)
}

// RecordRun records a finished run
func RecordRun(reason string) {
	RunsTotal.WithLabelValues(reason).Inc()
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
