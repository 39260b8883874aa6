// SPDX-License-Identifier: MPL-2.0

// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every modhost collector plus the Go and process collectors.
var Registry = prometheus.NewRegistry()

var (
	// ResolutionsTotal counts loader requests by error code name.
	ResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modhost_resolutions_total",
			Help: "Number of loader requests answered, by result code.",
		},
		[]string{"code"},
	)

	// ResolutionDuration observes the time to answer a loader request,
	// including any retrieval it waited for.
	ResolutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "modhost_resolution_duration_seconds",
			Help:    "Time taken to answer a loader request.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// SessionsPending is the number of sessions waiting behind the active one.
	SessionsPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "modhost_sessions_pending",
			Help: "Number of sessions queued behind the active retrieval.",
		},
	)

	// SessionsActive is 1 while a retrieval session is active.
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "modhost_sessions_active",
			Help: "Whether a retrieval session is active.",
		},
	)

	// SessionOutcomesTotal counts terminal session outcomes.
	SessionOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modhost_session_outcomes_total",
			Help: "Number of sessions terminated, by outcome.",
		},
		[]string{"outcome"},
	)

	// CatalogChangesTotal counts modules the differ reported per source.
	CatalogChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modhost_catalog_changes_total",
			Help: "Number of installed modules found changed or removed by catalog syncs.",
		},
		[]string{"source", "kind"},
	)

	// CleanupFailuresTotal counts artifact deletions that failed during a diff.
	CleanupFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "modhost_cleanup_failures_total",
			Help: "Number of artifact deletions that failed during catalog syncs.",
		},
	)

	// SyncDuration observes full source syncs.
	SyncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modhost_sync_duration_seconds",
			Help:    "Time taken to fetch, diff and publish a source catalog.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	// DownloadsTotal counts artifact downloads by result.
	DownloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modhost_downloads_total",
			Help: "Number of artifact downloads, by result.",
		},
		[]string{"result"},
	)

	// DownloadBytesTotal counts bytes written by verified downloads.
	DownloadBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "modhost_download_bytes_total",
			Help: "Bytes of verified artifacts written to local storage.",
		},
	)

	// ManifestCacheTotal counts remote manifest lookups by cache result.
	ManifestCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modhost_manifest_cache_total",
			Help: "Remote manifest lookups, by cache result.",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		ResolutionsTotal,
		ResolutionDuration,
		SessionsPending,
		SessionsActive,
		SessionOutcomesTotal,
		CatalogChangesTotal,
		CleanupFailuresTotal,
		SyncDuration,
		DownloadsTotal,
		DownloadBytesTotal,
		ManifestCacheTotal,
	)
}

// Handler serves Registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
