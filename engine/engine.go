/*
Package engine provides the State Manager: the explicitly constructed
object that owns the metric store and composes ingestion, merge, anomaly
detection, phase baselines, peer sync and the offline cache behind one
public API.

PURPOSE:
  Callers construct an Engine (no global singleton) and inject it wherever
  the metrics subsystem is needed. Ingestion and merge calls are
  synchronous: when they return, the store reflects the change and reads
  observe it. Only the sync broadcast is fire-and-forget.

CONNECTIVITY STATE MACHINE:
  Online -> Offline   transport publish fails
  Offline -> Syncing  Reconnect() called with pending cached entries
  Syncing -> Online   pending queue drained

  Local operations (ingest, merge, anomaly, baseline) succeed or fail
  deterministically regardless of connectivity; only broadcasts are
  connectivity-sensitive and degrade silently to the cache.

SEE ALSO:
  - metrics/: Core algorithms this package orchestrates
  - syncbus/: Peer transport
  - offline/: Durable fallback cache
*/
package engine

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/warp/metrics-engine/metrics"
	"github.com/warp/metrics-engine/offline"
	"github.com/warp/metrics-engine/syncbus"
	"github.com/warp/metrics-engine/wellness"
)

// =============================================================================
// CONNECTIVITY STATE
// =============================================================================

type ConnState int32

const (
	StateOnline ConnState = iota
	StateOffline
	StateSyncing
)

func (s ConnState) String() string {
	switch s {
	case StateOnline:
		return "online"
	case StateOffline:
		return "offline"
	case StateSyncing:
		return "syncing"
	default:
		return "unknown"
	}
}

// =============================================================================
// ENGINE
// =============================================================================

type Config struct {
	DeviceID  string
	Store     metrics.MetricStore
	Anomalies metrics.AnomalyStore
	Baselines metrics.BaselineStore

	// Ranges is the pluggable expected-range predicate. Nil falls back to
	// the wellness default table.
	Ranges metrics.RangeSource

	Bus   syncbus.Bus
	Cache offline.Cache

	// Epsilon overrides the merge agreement tolerance. Zero keeps the
	// engine default.
	Epsilon decimal.Decimal

	// Registry receives the Prometheus collectors. Nil uses a private
	// registry (collectors still work, nothing is exported).
	Registry prometheus.Registerer
}

type Engine struct {
	merge     *metrics.MergeEngine
	detector  *metrics.Detector
	phases    *metrics.PhaseManager
	query     *metrics.QueryEngine
	transport *syncbus.Transport
	cache     offline.Cache
	inst      *Instruments

	state      atomic.Int32
	cancelSync func()
}

func New(cfg Config) *Engine {
	ranges := cfg.Ranges
	if ranges == nil {
		ranges = wellness.DefaultRanges()
	}

	e := &Engine{
		merge:    &metrics.MergeEngine{Store: cfg.Store, Epsilon: cfg.Epsilon},
		detector: metrics.NewDetector(ranges, cfg.Anomalies),
		phases:   metrics.NewPhaseManager(cfg.Store, cfg.Baselines),
		query:    metrics.NewQueryEngine(cfg.Store),
		cache:    cfg.Cache,
		inst:     NewInstruments(cfg.Registry),
	}

	if cfg.Bus != nil {
		e.transport = syncbus.NewTransport(cfg.DeviceID, cfg.Bus)
		e.cancelSync = e.transport.OnSync(e.applyRemote)
	}

	e.setState(StateOnline)
	return e
}

// Close unregisters the engine's sync listener. One in-flight delivery may
// still arrive after; remote applies are idempotent so this is harmless.
func (e *Engine) Close() {
	if e.cancelSync != nil {
		e.cancelSync()
	}
}

// Transport exposes the peer transport so the UI layer can register its
// own OnSync / OnUIStateChange listeners. Nil when no bus is configured.
func (e *Engine) Transport() *syncbus.Transport { return e.transport }

func (e *Engine) ConnectivityState() ConnState {
	return ConnState(e.state.Load())
}

func (e *Engine) setState(s ConnState) {
	e.state.Store(int32(s))
	e.inst.Connectivity.Set(float64(s))
}

// =============================================================================
// INGESTION ADAPTERS
// =============================================================================

// IngestResult reports a batch ingestion outcome.
type IngestResult struct {
	Success           bool
	ProcessedRecords  int
	AnomaliesDetected int
}

func (e *Engine) IngestProductUsage(ctx context.Context, records []wellness.ProductUsageRecord) (IngestResult, error) {
	samples, err := wellness.AdaptProductUsage(records)
	if err != nil {
		return IngestResult{}, err
	}
	return e.ingest(ctx, "product", samples)
}

func (e *Engine) IngestModalitySessions(ctx context.Context, records []wellness.ModalitySessionRecord) (IngestResult, error) {
	samples, err := wellness.AdaptModalitySessions(records)
	if err != nil {
		return IngestResult{}, err
	}
	return e.ingest(ctx, "modality", samples)
}

func (e *Engine) IngestUserInputs(ctx context.Context, records []wellness.UserInputRecord) (IngestResult, error) {
	samples, err := wellness.AdaptUserInputs(records)
	if err != nil {
		return IngestResult{}, err
	}
	return e.ingest(ctx, "manual", samples)
}

func (e *Engine) IngestWearableReadings(ctx context.Context, records []wellness.WearableReading) (IngestResult, error) {
	samples, err := wellness.AdaptWearableReadings(records)
	if err != nil {
		return IngestResult{}, err
	}
	return e.ingest(ctx, "wearable", samples)
}

// ingest merges validated samples, evaluates anomalies inline, and
// broadcasts the resulting deltas best-effort.
func (e *Engine) ingest(ctx context.Context, channel string, samples []metrics.MetricSample) (IngestResult, error) {
	var changed []metrics.MetricRecord
	anomalies := 0

	for _, s := range samples {
		res, anomaly, err := e.mergeAndDetect(ctx, s)
		if err != nil {
			return IngestResult{}, err
		}
		if res.Changed {
			changed = append(changed, res.Record)
		}
		if anomaly != nil {
			anomalies++
		}
		e.inst.SamplesIngested.WithLabelValues(channel).Inc()
	}

	e.broadcast(changed, samples)
	return IngestResult{
		Success:           true,
		ProcessedRecords:  len(samples),
		AnomaliesDetected: anomalies,
	}, nil
}

// =============================================================================
// MERGE API
// =============================================================================

// MergeExternalData merges raw samples under one source tag. Exposed for
// external feeds that bypass the typed adapters.
func (e *Engine) MergeExternalData(ctx context.Context, source metrics.SourceTag, samples []metrics.MetricSample) ([]metrics.MergeResult, error) {
	results := make([]metrics.MergeResult, 0, len(samples))
	var changed []metrics.MetricRecord

	for _, s := range samples {
		s.Source = source
		res, _, err := e.mergeAndDetect(ctx, s)
		if err != nil {
			return results, err
		}
		results = append(results, res)
		if res.Changed {
			changed = append(changed, res.Record)
		}
	}

	e.broadcast(changed, samples)
	return results, nil
}

// SingleIngestResult reports one sample's ingestion, including whether it
// tripped the anomaly detector.
type SingleIngestResult struct {
	Success         bool
	Record          metrics.MetricRecord
	AnomalyDetected bool
	Anomaly         *metrics.AnomalyRecord
}

// IngestSingleMetric merges one sample and evaluates it inline.
func (e *Engine) IngestSingleMetric(ctx context.Context, sample metrics.MetricSample) (SingleIngestResult, error) {
	res, anomaly, err := e.mergeAndDetect(ctx, sample)
	if err != nil {
		return SingleIngestResult{}, err
	}

	if res.Changed {
		e.broadcast([]metrics.MetricRecord{res.Record}, []metrics.MetricSample{sample})
	}

	return SingleIngestResult{
		Success:         true,
		Record:          res.Record,
		AnomalyDetected: anomaly != nil,
		Anomaly:         anomaly,
	}, nil
}

func (e *Engine) mergeAndDetect(ctx context.Context, sample metrics.MetricSample) (metrics.MergeResult, *metrics.AnomalyRecord, error) {
	res, err := e.merge.Merge(ctx, sample)
	if err != nil {
		return metrics.MergeResult{}, nil, err
	}
	if res.Changed {
		e.inst.MergesApplied.Inc()
	}
	if res.Conflicted {
		e.inst.MergeConflicts.Inc()
		log.Printf("merge: %v for %s/%s/%s", metrics.ErrMergeConflict,
			sample.UserID, sample.MetricName, sample.Date)
	}

	if !res.Changed {
		return res, nil, nil
	}

	anomaly, err := e.detector.Evaluate(ctx, res.Record)
	if err != nil {
		return metrics.MergeResult{}, nil, err
	}
	if anomaly != nil {
		e.inst.AnomaliesDetected.WithLabelValues(string(anomaly.Severity)).Inc()
	}
	return res, anomaly, nil
}

// =============================================================================
// QUERY API
// =============================================================================

func (e *Engine) AllMetrics(ctx context.Context) ([]metrics.MetricRecord, error) {
	return e.query.AllMetrics(ctx)
}

func (e *Engine) MetricsByCategory(ctx context.Context, category metrics.Category) ([]metrics.MetricRecord, error) {
	return e.query.MetricsByCategory(ctx, category)
}

// HealthIndexResult is the future payload for the background aggregate.
type HealthIndexResult struct {
	Index metrics.HealthIndex
	Err   error
}

// ComputeHealthIndex offloads the full-scan aggregate to a background
// goroutine and returns a future. The caller decides whether and when to
// wait; the engine makes no ordering promise beyond the channel itself.
func (e *Engine) ComputeHealthIndex(ctx context.Context, userID metrics.UserID) <-chan HealthIndexResult {
	out := make(chan HealthIndexResult, 1)
	go func() {
		idx, err := e.query.ComputeHealthIndex(ctx, userID)
		out <- HealthIndexResult{Index: idx, Err: err}
		close(out)
	}()
	return out
}

// =============================================================================
// ANOMALY API
// =============================================================================

func (e *Engine) Anomalies(ctx context.Context) ([]metrics.AnomalyRecord, error) {
	return e.detector.List(ctx)
}

func (e *Engine) VerifyAnomaly(ctx context.Context, id metrics.AnomalyID, observed metrics.Measurement, status metrics.AnomalyStatus) (*metrics.AnomalyRecord, error) {
	rec, err := e.detector.Verify(ctx, id, observed, status)
	if err != nil {
		return nil, err
	}
	e.inst.AnomaliesResolved.WithLabelValues(string(status)).Inc()
	return rec, nil
}

// =============================================================================
// PHASE API
// =============================================================================

func (e *Engine) ProcessPhaseTransition(ctx context.Context, t metrics.PhaseTransition) (metrics.TransitionResult, error) {
	return e.phases.ProcessTransition(ctx, t)
}

func (e *Engine) BaselineMetrics(ctx context.Context, phaseID metrics.PhaseID) (map[string]metrics.Measurement, error) {
	return e.phases.BaselineMetrics(ctx, phaseID)
}

func (e *Engine) TrendByMetric(ctx context.Context, metricName string, phaseID metrics.PhaseID) ([]metrics.TrendPoint, error) {
	return e.phases.TrendByMetric(ctx, metricName, phaseID)
}

// =============================================================================
// SYNC AND OFFLINE
// =============================================================================

// SyncMetrics broadcasts records to peers. An unavailable transport is
// recoverable and never surfaced: the engine transitions to Offline and
// parks the records' attributions for replay on Reconnect.
func (e *Engine) SyncMetrics(records []metrics.MetricRecord) error {
	if len(records) == 0 {
		return nil
	}
	if e.transport == nil {
		e.fallbackOffline(samplesFromRecords(records))
		return nil
	}
	if err := e.transport.SyncMetrics(records); err != nil {
		if metrics.IsRecoverable(err) {
			log.Printf("sync transport down, parking %d records: %v", len(records), err)
			e.fallbackOffline(samplesFromRecords(records))
			return nil
		}
		return err
	}
	e.inst.SyncPublished.Inc()
	return nil
}

// broadcast is the best-effort delta push after local merges. A transport
// failure transitions to Offline and parks the samples for replay; it is
// never surfaced to the ingestion caller.
func (e *Engine) broadcast(records []metrics.MetricRecord, samples []metrics.MetricSample) {
	if len(records) == 0 || e.transport == nil {
		return
	}
	if err := e.transport.SyncMetrics(records); err != nil {
		if metrics.IsRecoverable(err) {
			e.fallbackOffline(samples)
			return
		}
		log.Printf("sync broadcast failed: %v", err)
		return
	}
	e.inst.SyncPublished.Inc()
}

// fallbackOffline switches to Offline Cache mode: the connectivity state
// drops to Offline and the samples are parked pending.
func (e *Engine) fallbackOffline(samples []metrics.MetricSample) {
	e.setState(StateOffline)
	e.inst.SyncFallbacks.Inc()
	if err := e.parkPending(samples); err != nil {
		log.Printf("offline cache write failed: %v", err)
	}
}

// samplesFromRecords flattens records back into per-attribution samples,
// the replayable form the offline cache stores.
func samplesFromRecords(records []metrics.MetricRecord) []metrics.MetricSample {
	samples := make([]metrics.MetricSample, 0, len(records))
	for _, rec := range records {
		for _, attr := range rec.Sources {
			samples = append(samples, metrics.MetricSample{
				UserID:     rec.UserID,
				MetricName: rec.MetricName,
				Category:   rec.Category,
				Date:       rec.Date,
				Value:      attr.Value,
				Source:     attr.Source,
				RawRef:     attr.RawRef,
				PhaseID:    rec.PhaseIDAtCapture,
			})
		}
	}
	return samples
}

func (e *Engine) parkPending(samples []metrics.MetricSample) error {
	if e.cache == nil {
		return nil
	}
	now := time.Now().UTC()
	entries := make([]offline.Entry, 0, len(samples))
	for _, s := range samples {
		entries = append(entries, offline.Entry{
			Key:         offline.KeyFor(s),
			Sample:      s,
			CachedAt:    now,
			PendingSync: true,
		})
	}
	return e.cache.Put(context.Background(), entries)
}

// applyRemote folds a peer's delta into the local store. Each attribution
// replays as a sample, so duplicate and out-of-order deliveries converge
// on the same canonical state.
func (e *Engine) applyRemote(delta syncbus.MetricsDelta) {
	ctx := context.Background()
	for _, rec := range delta.Records {
		for _, attr := range rec.Sources {
			sample := metrics.MetricSample{
				UserID:     rec.UserID,
				MetricName: rec.MetricName,
				Category:   rec.Category,
				Date:       rec.Date,
				Value:      attr.Value,
				Source:     attr.Source,
				RawRef:     attr.RawRef,
				PhaseID:    rec.PhaseIDAtCapture,
			}
			if _, err := e.merge.Merge(ctx, sample); err != nil {
				log.Printf("remote apply failed for %s/%s/%s: %v",
					rec.UserID, rec.MetricName, rec.Date, err)
			}
		}
	}
	e.inst.SyncReceived.Inc()
}

// CacheMetricsForOffline durably persists samples. The call succeeds only
// once the snapshot is on disk. Samples cached while disconnected are
// marked pending so Reconnect replays them.
func (e *Engine) CacheMetricsForOffline(ctx context.Context, samples []metrics.MetricSample) error {
	if e.cache == nil {
		return nil
	}
	pending := e.ConnectivityState() != StateOnline
	now := time.Now().UTC()
	entries := make([]offline.Entry, 0, len(samples))
	for _, s := range samples {
		entries = append(entries, offline.Entry{
			Key:         offline.KeyFor(s),
			Sample:      s,
			CachedAt:    now,
			PendingSync: pending,
		})
	}
	return e.cache.Put(ctx, entries)
}

// CachedMetrics returns the last durable snapshot, each entry annotated
// with its cache time.
func (e *Engine) CachedMetrics(ctx context.Context) ([]offline.Entry, error) {
	if e.cache == nil {
		return nil, nil
	}
	return e.cache.Snapshot(ctx)
}

// ReplaySummary reports a Reconnect outcome.
type ReplaySummary struct {
	Replayed int
	Failed   int
}

// Reconnect drains the pending queue through the normal ingestion->merge
// path (FIFO), clears confirmed entries, and returns to Online. Failed
// entries stay pending for the next attempt.
func (e *Engine) Reconnect(ctx context.Context) (ReplaySummary, error) {
	if e.cache == nil {
		e.setState(StateOnline)
		return ReplaySummary{}, nil
	}

	pending, err := e.cache.Pending(ctx)
	if err != nil {
		return ReplaySummary{}, err
	}
	if len(pending) == 0 {
		e.setState(StateOnline)
		return ReplaySummary{}, nil
	}

	e.setState(StateSyncing)

	var summary ReplaySummary
	var cleared []string
	var changed []metrics.MetricRecord

	for _, entry := range pending {
		res, _, err := e.mergeAndDetect(ctx, entry.Sample)
		if err != nil {
			summary.Failed++
			log.Printf("replay failed for %s: %v", entry.Key, err)
			continue
		}
		summary.Replayed++
		cleared = append(cleared, entry.Key)
		if res.Changed {
			changed = append(changed, res.Record)
		}
		e.inst.CacheReplayed.Inc()
	}

	if len(cleared) > 0 {
		if err := e.cache.Clear(ctx, cleared); err != nil {
			return summary, err
		}
	}

	e.setState(StateOnline)

	if len(changed) > 0 && e.transport != nil {
		if err := e.transport.SyncMetrics(changed); err == nil {
			e.inst.SyncPublished.Inc()
		}
	}
	return summary, nil
}
