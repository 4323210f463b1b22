package internal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus collectors for the download pipeline. Registered once on the
// default registry; the server exposes them on /metrics.
var (
	DownloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fetchtube",
		Name:      "downloads_total",
		Help:      "Completed download requests by terminal outcome.",
	}, []string{"outcome"})

	DownloadAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fetchtube",
		Name:      "download_attempts_total",
		Help:      "Individual extractor attempts by classified result.",
	}, []string{"result"})

	AttemptDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fetchtube",
		Name:      "attempt_duration_seconds",
		Help:      "Wall time of a single extractor attempt.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	})

	ActiveDownloads = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fetchtube",
		Name:      "active_downloads",
		Help:      "Downloads currently in flight.",
	})

	CredentialRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fetchtube",
		Name:      "credential_refreshes_total",
		Help:      "Credential bundle acquisitions by source.",
	}, []string{"source"})
)
