package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// INSTRUMENTS - Prometheus collectors for the engine
// =============================================================================

type Instruments struct {
	SamplesIngested   *prometheus.CounterVec // by channel
	MergesApplied     prometheus.Counter
	MergeConflicts    prometheus.Counter
	AnomaliesDetected *prometheus.CounterVec // by severity
	AnomaliesResolved *prometheus.CounterVec // by status
	SyncPublished     prometheus.Counter
	SyncReceived      prometheus.Counter
	SyncFallbacks     prometheus.Counter
	CacheReplayed     prometheus.Counter
	Connectivity      prometheus.Gauge // 0=online 1=offline 2=syncing
}

// NewInstruments registers the engine collectors. A nil registerer gets a
// private registry so the engine stays usable in tests without one.
func NewInstruments(reg prometheus.Registerer) *Instruments {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Instruments{
		SamplesIngested: f.NewCounterVec(prometheus.CounterOpts{
			Name: "metrics_engine_samples_ingested_total",
			Help: "Samples accepted by ingestion adapters.",
		}, []string{"channel"}),
		MergesApplied: f.NewCounter(prometheus.CounterOpts{
			Name: "metrics_engine_merges_applied_total",
			Help: "Canonical record writes (creates and updates).",
		}),
		MergeConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "metrics_engine_merge_conflicts_total",
			Help: "Same-key value disagreements resolved by policy.",
		}),
		AnomaliesDetected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "metrics_engine_anomalies_detected_total",
			Help: "Out-of-range samples flagged pending verification.",
		}, []string{"severity"}),
		AnomaliesResolved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "metrics_engine_anomalies_resolved_total",
			Help: "Anomalies moved to a terminal status.",
		}, []string{"status"}),
		SyncPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "metrics_engine_sync_published_total",
			Help: "Metric deltas broadcast to peers.",
		}),
		SyncReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "metrics_engine_sync_received_total",
			Help: "Peer metric deltas applied locally.",
		}),
		SyncFallbacks: f.NewCounter(prometheus.CounterOpts{
			Name: "metrics_engine_sync_fallbacks_total",
			Help: "Broadcasts diverted to the offline cache.",
		}),
		CacheReplayed: f.NewCounter(prometheus.CounterOpts{
			Name: "metrics_engine_cache_replayed_total",
			Help: "Cached samples replayed after reconnection.",
		}),
		Connectivity: f.NewGauge(prometheus.GaugeOpts{
			Name: "metrics_engine_connectivity_state",
			Help: "Connectivity state machine: 0 online, 1 offline, 2 syncing.",
		}),
	}
}
