// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsTotal counts decode events delivered by kind
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pcapminer_events_total",
			Help: "Total number of decode events delivered to analyzers",
		},
		[]string{"kind"},
	)

	// EventsSkippedTotal counts events an analyzer declined as malformed or irrelevant
	EventsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pcapminer_events_skipped_total",
			Help: "Total number of events skipped by analyzers",
		},
		[]string{"analyzer"},
	)

	// DecodeErrorsTotal counts frames that could not be decoded at all
	DecodeErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pcapminer_decode_errors_total",
			Help: "Total number of frames that failed link-layer decoding",
		},
	)

	// SubmissionsTotal counts worker submissions by outcome
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pcapminer_submissions_total",
			Help: "Total number of worker submissions handled by the coordinator",
		},
		[]string{"outcome"},
	)

	// SubmissionsLostTotal counts submissions lost to transport failures or timeouts
	SubmissionsLostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pcapminer_submissions_lost_total",
			Help: "Total number of submissions lost before reaching aggregation",
		},
		[]string{"side", "reason"},
	)

	// ConnectionsActive tracks currently connected workers
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pcapminer_coordinator_connections_active",
			Help: "Number of worker connections currently open",
		},
	)

	// AggregationSeconds measures finalize+merge+finalize per submission
	AggregationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pcapminer_aggregation_seconds",
			Help:    "Time spent aggregating one submission",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~30s
		},
	)

	// AggregateUnavailableTotal counts analyzer indices whose aggregate became unavailable
	AggregateUnavailableTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pcapminer_aggregate_unavailable_total",
			Help: "Total number of merges that left an analyzer aggregate unavailable",
		},
		[]string{"analyzer", "reason"},
	)

	// EnrichmentLookupsTotal counts registry lookups by result
	EnrichmentLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pcapminer_enrichment_lookups_total",
			Help: "Total number of enrichment lookups",
		},
		[]string{"result"}, // hit | resolved | unresolved | error
	)

	// ArtifactsWrittenTotal counts artifacts persisted by scope
	ArtifactsWrittenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pcapminer_artifacts_written_total",
			Help: "Total number of artifacts written",
		},
		[]string{"scope"}, // local | worker | aggregate
	)

	// SinkErrorsTotal counts sink write failures
	SinkErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pcapminer_sink_errors_total",
			Help: "Total number of artifact write failures",
		},
		[]string{"sink"},
	)
)

// Artifact scope label values.
const (
	ScopeLocal     = "local"
	ScopeWorker    = "worker"
	ScopeAggregate = "aggregate"
)

// Submission outcome label values.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
)
