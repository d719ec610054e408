// Package metrics provides Prometheus metrics for repository mounts.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	remoteRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repostream_remote_requests_total",
			Help: "Total repository API requests by operation and outcome",
		},
		[]string{"op", "status"},
	)

	fetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repostream_fetch_duration_seconds",
			Help:    "Repository API request duration in seconds, retries included",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	materializedFilesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "repostream_materialized_files_total",
			Help: "Files written to local disk from the remote",
		},
	)

	bytesDownloadedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "repostream_bytes_downloaded_total",
			Help: "Bytes downloaded from the remote",
		},
	)

	listingCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repostream_listing_cache_total",
			Help: "Remote listing cache lookups by result",
		},
		[]string{"result"},
	)

	activeMounts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "repostream_active_mounts",
			Help: "Number of active mounts in the default router",
		},
	)
)

// RecordRemoteRequest records one repository API operation.
func RecordRemoteRequest(op string, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	remoteRequestsTotal.WithLabelValues(op, status).Inc()
	fetchDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordMaterialized records a file written to local disk.
func RecordMaterialized(size int64) {
	materializedFilesTotal.Inc()
	bytesDownloadedTotal.Add(float64(size))
}

// RecordListingCache records a listing cache hit or miss.
func RecordListingCache(hit bool) {
	if hit {
		listingCacheTotal.WithLabelValues("hit").Inc()
	} else {
		listingCacheTotal.WithLabelValues("miss").Inc()
	}
}

// SetActiveMounts sets the active mount gauge.
func SetActiveMounts(n int) {
	activeMounts.Set(float64(n))
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
