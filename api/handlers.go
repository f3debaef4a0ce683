/*
handlers.go - HTTP API handlers for the metrics engine

PURPOSE:
  Exposes the metrics synchronization engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the engine.

ENDPOINTS:
  Ingestion:
    POST   /api/ingest/products    Batch product usage logs
    POST   /api/ingest/modalities  Batch modality sessions
    POST   /api/ingest/inputs     Batch manual entries
    POST   /api/ingest/wearables  Batch wearable readings

  Merge:
    POST   /api/merge             Raw samples from external feeds

  Metrics:
    GET    /api/metrics           All records (?category= filters)
    GET    /api/metrics/health-index  Cross-category aggregate (?user_id=)

  Anomalies:
    GET    /api/anomalies         List (?status= filters)
    POST   /api/anomalies/{id}/verify  Resolve pending anomaly

  Phases:
    POST   /api/phases/transition      Record transition, snapshot baseline
    GET    /api/phases/{id}/baseline   Stored baseline map
    GET    /api/phases/{id}/trend      Baseline-relative series (?metric=)

  Sync:
    GET    /api/sync/status       Connectivity + cache depth
    POST   /api/sync/cache        Durably cache samples for offline
    GET    /api/sync/cache        Cached snapshot
    POST   /api/sync/reconnect    Replay pending queue

REQUEST FLOW:
  1. Parse HTTP request
  2. Convert DTOs to domain records
  3. Call engine
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Unknown anomaly/phase/metric
  - 409: Conflict (concurrent modification, retries exhausted)
  - 503: Sync transport unavailable
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - engine/engine.go: The State Manager behind every handler
*/
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/warp/metrics-engine/engine"
	"github.com/warp/metrics-engine/metrics"
	"github.com/warp/metrics-engine/wellness"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *engine.Engine

	// DeviceID shows up in sync status responses so a multi-device user
	// can tell which peer they are talking to.
	DeviceID string
}

// NewHandler creates a new handler around the engine.
func NewHandler(eng *engine.Engine, deviceID string) *Handler {
	return &Handler{Engine: eng, DeviceID: deviceID}
}

// =============================================================================
// INGESTION HANDLERS
// =============================================================================

// IngestProducts accepts a batch of product usage logs.
func (h *Handler) IngestProducts(w http.ResponseWriter, r *http.Request) {
	var dtos []ProductUsageDTO
	if err := json.NewDecoder(r.Body).Decode(&dtos); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	records := make([]wellness.ProductUsageRecord, len(dtos))
	for i, dto := range dtos {
		rec, err := toProductUsage(dto)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
			return
		}
		records[i] = rec
	}

	res, err := h.Engine.IngestProductUsage(r.Context(), records)
	if err != nil {
		writeDomainError(w, "Failed to ingest product usage", err)
		return
	}
	writeJSON(w, http.StatusOK, toIngestResultDTO(res))
}

// IngestModalities accepts a batch of modality session logs.
func (h *Handler) IngestModalities(w http.ResponseWriter, r *http.Request) {
	var dtos []ModalitySessionDTO
	if err := json.NewDecoder(r.Body).Decode(&dtos); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	records := make([]wellness.ModalitySessionRecord, len(dtos))
	for i, dto := range dtos {
		rec, err := toModalitySession(dto)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
			return
		}
		records[i] = rec
	}

	res, err := h.Engine.IngestModalitySessions(r.Context(), records)
	if err != nil {
		writeDomainError(w, "Failed to ingest modality sessions", err)
		return
	}
	writeJSON(w, http.StatusOK, toIngestResultDTO(res))
}

// IngestInputs accepts a batch of manual subjective entries.
func (h *Handler) IngestInputs(w http.ResponseWriter, r *http.Request) {
	var dtos []UserInputDTO
	if err := json.NewDecoder(r.Body).Decode(&dtos); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	records := make([]wellness.UserInputRecord, len(dtos))
	for i, dto := range dtos {
		rec, err := toUserInput(dto)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
			return
		}
		records[i] = rec
	}

	res, err := h.Engine.IngestUserInputs(r.Context(), records)
	if err != nil {
		writeDomainError(w, "Failed to ingest user inputs", err)
		return
	}
	writeJSON(w, http.StatusOK, toIngestResultDTO(res))
}

// IngestWearables accepts a batch of wearable readings.
func (h *Handler) IngestWearables(w http.ResponseWriter, r *http.Request) {
	var dtos []WearableReadingDTO
	if err := json.NewDecoder(r.Body).Decode(&dtos); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	records := make([]wellness.WearableReading, len(dtos))
	for i, dto := range dtos {
		rec, err := toWearableReading(dto)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
			return
		}
		records[i] = rec
	}

	res, err := h.Engine.IngestWearableReadings(r.Context(), records)
	if err != nil {
		writeDomainError(w, "Failed to ingest wearable readings", err)
		return
	}
	writeJSON(w, http.StatusOK, toIngestResultDTO(res))
}

// =============================================================================
// MERGE HANDLERS
// =============================================================================

// MergeExternal merges raw samples under one source tag.
func (h *Handler) MergeExternal(w http.ResponseWriter, r *http.Request) {
	var req MergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	source := metrics.SourceTag(req.Source)
	if !source.Valid() {
		writeError(w, http.StatusBadRequest, "Unknown source tag", nil)
		return
	}

	samples := make([]metrics.MetricSample, len(req.Samples))
	for i, dto := range req.Samples {
		s, err := toMetricSample(dto)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
			return
		}
		samples[i] = s
	}

	results, err := h.Engine.MergeExternalData(r.Context(), source, samples)
	if err != nil {
		writeDomainError(w, "Failed to merge samples", err)
		return
	}

	dtos := make([]MergeResultDTO, len(results))
	for i, res := range results {
		dtos[i] = MergeResultDTO{
			Record:     toRecordDTO(res.Record),
			Created:    res.Created,
			Changed:    res.Changed,
			Conflicted: res.Conflicted,
			Averaged:   res.Averaged,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// METRIC HANDLERS
// =============================================================================

// IngestMetric merges a single sample and reports any anomaly it tripped.
func (h *Handler) IngestMetric(w http.ResponseWriter, r *http.Request) {
	var req SingleSampleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	source := metrics.SourceTag(req.Source)
	if !source.Valid() {
		writeError(w, http.StatusBadRequest, "Unknown source tag", nil)
		return
	}

	sample, err := toMetricSample(req.MergeSampleDTO)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}
	sample.Source = source

	res, err := h.Engine.IngestSingleMetric(r.Context(), sample)
	if err != nil {
		writeDomainError(w, "Failed to ingest sample", err)
		return
	}

	dto := SingleIngestDTO{
		Success:         res.Success,
		Record:          toRecordDTO(res.Record),
		AnomalyDetected: res.AnomalyDetected,
	}
	if res.Anomaly != nil {
		a := toAnomalyDTO(*res.Anomaly)
		dto.Anomaly = &a
	}
	writeJSON(w, http.StatusOK, dto)
}

// ListMetrics returns canonical records, optionally filtered by category.
func (h *Handler) ListMetrics(w http.ResponseWriter, r *http.Request) {
	var (
		records []metrics.MetricRecord
		err     error
	)
	if category := r.URL.Query().Get("category"); category != "" {
		records, err = h.Engine.MetricsByCategory(r.Context(), metrics.Category(category))
	} else {
		records, err = h.Engine.AllMetrics(r.Context())
	}
	if err != nil {
		writeDomainError(w, "Failed to list metrics", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTOs(records))
}

// GetHealthIndex computes the cross-category aggregate for a user. The
// engine runs it in the background; the handler waits on the future so the
// HTTP contract stays synchronous.
func (h *Handler) GetHealthIndex(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}

	res := <-h.Engine.ComputeHealthIndex(r.Context(), metrics.UserID(userID))
	if res.Err != nil {
		writeDomainError(w, "Failed to compute health index", res.Err)
		return
	}
	writeJSON(w, http.StatusOK, toHealthIndexDTO(res.Index))
}

// =============================================================================
// ANOMALY HANDLERS
// =============================================================================

// ListAnomalies returns all anomalies, optionally filtered by status.
func (h *Handler) ListAnomalies(w http.ResponseWriter, r *http.Request) {
	anomalies, err := h.Engine.Anomalies(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to list anomalies", err)
		return
	}

	status := r.URL.Query().Get("status")
	dtos := make([]AnomalyDTO, 0, len(anomalies))
	for _, a := range anomalies {
		if status != "" && string(a.Status) != status {
			continue
		}
		dtos = append(dtos, toAnomalyDTO(a))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// VerifyAnomaly resolves a pending anomaly to verified or rejected.
func (h *Handler) VerifyAnomaly(w http.ResponseWriter, r *http.Request) {
	id := metrics.AnomalyID(chi.URLParam(r, "id"))

	var req VerifyAnomalyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	status := metrics.AnomalyStatus(req.Status)
	observed := metrics.NewMeasurement(req.ObservedValue, metrics.Unit(req.Unit))

	rec, err := h.Engine.VerifyAnomaly(r.Context(), id, observed, status)
	if err != nil {
		writeDomainError(w, "Failed to verify anomaly", err)
		return
	}
	writeJSON(w, http.StatusOK, toAnomalyDTO(*rec))
}

// =============================================================================
// PHASE HANDLERS
// =============================================================================

// ProcessPhaseTransition records a transition and snapshots the baseline.
func (h *Handler) ProcessPhaseTransition(w http.ResponseWriter, r *http.Request) {
	var req PhaseTransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	date, err := metrics.ParseDay(req.TransitionDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid transition_date format (use YYYY-MM-DD)", err)
		return
	}

	res, err := h.Engine.ProcessPhaseTransition(r.Context(), metrics.PhaseTransition{
		UserID:         metrics.UserID(req.UserID),
		FromPhase:      metrics.PhaseID(req.FromPhase),
		ToPhase:        metrics.PhaseID(req.ToPhase),
		TransitionDate: date,
	})
	if err != nil {
		writeDomainError(w, "Failed to process phase transition", err)
		return
	}

	code := http.StatusOK
	if res.Created {
		code = http.StatusCreated
	}
	writeJSON(w, code, toBaselineDTO(res.Baseline, res.Created))
}

// GetBaseline returns the stored baseline map for a phase.
func (h *Handler) GetBaseline(w http.ResponseWriter, r *http.Request) {
	phaseID := metrics.PhaseID(chi.URLParam(r, "id"))

	values, err := h.Engine.BaselineMetrics(r.Context(), phaseID)
	if err != nil {
		writeDomainError(w, "Failed to get baseline", err)
		return
	}

	out := make(map[string]float64, len(values))
	for name, m := range values {
		f, _ := m.Value.Float64()
		out[name] = f
	}
	writeJSON(w, http.StatusOK, out)
}

// GetTrend returns the baseline-relative series for one metric in a phase.
func (h *Handler) GetTrend(w http.ResponseWriter, r *http.Request) {
	phaseID := metrics.PhaseID(chi.URLParam(r, "id"))
	metricName := r.URL.Query().Get("metric")
	if metricName == "" {
		writeError(w, http.StatusBadRequest, "metric is required", nil)
		return
	}

	points, err := h.Engine.TrendByMetric(r.Context(), metricName, phaseID)
	if err != nil {
		writeDomainError(w, "Failed to compute trend", err)
		return
	}

	dtos := make([]TrendPointDTO, len(points))
	for i, p := range points {
		value, _ := p.Value.Value.Float64()
		change, _ := p.PercentChange.Float64()
		dtos[i] = TrendPointDTO{
			Date:          p.Date.String(),
			Value:         value,
			Unit:          string(p.Value.Unit),
			PercentChange: change,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// SYNC HANDLERS
// =============================================================================

// SyncStatus reports connectivity state and cache depth.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Engine.CachedMetrics(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to read cache", err)
		return
	}

	pending := 0
	for _, e := range entries {
		if e.PendingSync {
			pending++
		}
	}

	writeJSON(w, http.StatusOK, SyncStatusDTO{
		DeviceID:     h.DeviceID,
		Connectivity: h.Engine.ConnectivityState().String(),
		PendingSync:  pending,
		CachedTotal:  len(entries),
	})
}

// CacheSamples durably persists samples for offline access.
func (h *Handler) CacheSamples(w http.ResponseWriter, r *http.Request) {
	var req MergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	source := metrics.SourceTag(req.Source)
	if !source.Valid() {
		writeError(w, http.StatusBadRequest, "Unknown source tag", nil)
		return
	}

	samples := make([]metrics.MetricSample, len(req.Samples))
	for i, dto := range req.Samples {
		s, err := toMetricSample(dto)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
			return
		}
		s.Source = source
		samples[i] = s
	}

	if err := h.Engine.CacheMetricsForOffline(r.Context(), samples); err != nil {
		writeDomainError(w, "Failed to cache samples", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cached": len(samples)})
}

// ListCached returns the durable cache snapshot.
func (h *Handler) ListCached(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Engine.CachedMetrics(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to read cache", err)
		return
	}

	dtos := make([]CachedEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toCachedEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Reconnect replays the pending queue and returns to online.
func (h *Handler) Reconnect(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Engine.Reconnect(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to replay pending queue", err)
		return
	}
	writeJSON(w, http.StatusOK, ReplaySummaryDTO{
		Replayed:     summary.Replayed,
		Failed:       summary.Failed,
		Connectivity: h.Engine.ConnectivityState().String(),
	})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps engine errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case metrics.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case metrics.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case metrics.IsRetryable(err), errors.Is(err, metrics.ErrRetriesExhausted):
		writeError(w, http.StatusConflict, message, err)
	case metrics.IsRecoverable(err):
		writeError(w, http.StatusServiceUnavailable, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
