package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InstancesStored counts SOP instances successfully ingested via STOW-RS.
	InstancesStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "archive_instances_stored_total",
		Help: "Number of SOP instances stored",
	})

	// StoreFailures counts failed STOW-RS parts by failure reason.
	StoreFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archive_store_failures_total",
		Help: "Number of STOW-RS parts that failed to store",
	}, []string{"reason"})

	// Queries counts QIDO-RS searches by hierarchy level.
	Queries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archive_queries_total",
		Help: "Number of QIDO-RS searches",
	}, []string{"level"})

	// RetrievedBytes counts bytes streamed by WADO-RS as-stored retrieval.
	RetrievedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "archive_retrieved_bytes_total",
		Help: "Bytes streamed in WADO-RS responses",
	})

	// RenderDuration observes rendered/thumbnail production time in seconds.
	RenderDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "archive_render_duration_seconds",
		Help:    "Time to decode and encode a rendered representation",
		Buckets: prometheus.DefBuckets,
	})

	// RenderCacheHits counts rendered responses served from cache.
	RenderCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "archive_render_cache_hits_total",
		Help: "Rendered representations served from cache",
	})
)
