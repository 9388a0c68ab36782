// Package metrics provides Prometheus metrics for the Screenie client.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Remote API metrics
	remoteRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screenie_remote_requests_total",
			Help: "Total number of remote API requests",
		},
		[]string{"endpoint", "status"},
	)

	remoteRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "screenie_remote_request_duration_seconds",
			Help:    "Remote API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	authFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "screenie_auth_failures_total",
			Help: "Total 401 responses from the remote API",
		},
	)

	// Snapshot metrics
	snapshotFetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "screenie_snapshot_fetch_duration_seconds",
			Help:    "Time to fetch the folder listing",
			Buckets: prometheus.DefBuckets,
		},
	)

	snapshotReadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screenie_snapshot_reads_total",
			Help: "Snapshot reads by source (cache or remote)",
		},
		[]string{"source"},
	)

	snapshotFolders = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "screenie_snapshot_folders",
			Help: "Number of folders in the current snapshot",
		},
	)

	// Bulk metrics
	bulkItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screenie_bulk_items_total",
			Help: "Bulk job items by operation and result",
		},
		[]string{"operation", "result"},
	)

	bulkJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "screenie_bulk_job_duration_seconds",
			Help:    "Bulk job duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Image metrics
	imageLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screenie_image_loads_total",
			Help: "Image loads by kind and result",
		},
		[]string{"kind", "result"},
	)

	imageBytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "screenie_image_bytes_downloaded_total",
			Help: "Total image bytes downloaded",
		},
	)

	liveHandles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "screenie_live_handles",
			Help: "Number of live image handles",
		},
	)

	// Upload metrics
	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screenie_uploads_total",
			Help: "Total uploads by result",
		},
		[]string{"result"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordRemoteRequest records a remote API call. status is 0 on transport failure.
func RecordRemoteRequest(endpoint string, status int, duration time.Duration) {
	remoteRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	remoteRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
	if status == http.StatusUnauthorized {
		authFailuresTotal.Inc()
	}
}

// RecordSnapshotFetch records a remote folder listing fetch.
func RecordSnapshotFetch(duration time.Duration, folders int) {
	snapshotFetchDuration.Observe(duration.Seconds())
	snapshotReadsTotal.WithLabelValues("remote").Inc()
	snapshotFolders.Set(float64(folders))
}

// RecordSnapshotCacheHit records a snapshot read served from cache.
func RecordSnapshotCacheHit() {
	snapshotReadsTotal.WithLabelValues("cache").Inc()
}

// RecordBulkItem records a settled bulk job item.
func RecordBulkItem(operation string, success bool) {
	bulkItemsTotal.WithLabelValues(operation, result(success)).Inc()
}

// RecordBulkJob records a finished bulk job.
func RecordBulkJob(operation string, duration time.Duration) {
	bulkJobDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordImageLoad records an image load.
func RecordImageLoad(kind string, bytes int64, success bool) {
	imageLoadsTotal.WithLabelValues(kind, result(success)).Inc()
	if success {
		imageBytesDownloaded.Add(float64(bytes))
	}
}

// SetLiveHandles sets the number of live image handles.
func SetLiveHandles(count int) {
	liveHandles.Set(float64(count))
}

// RecordUpload records an upload.
func RecordUpload(success bool) {
	uploadsTotal.WithLabelValues(result(success)).Inc()
}
