/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Ingestion:
    ProductUsageDTO, ModalitySessionDTO, UserInputDTO, WearableReadingDTO
    IngestResultDTO

  Metrics:
    MetricRecordDTO, SourceAttributionDTO, MergeSampleDTO, MergeResultDTO

  Anomalies:
    AnomalyDTO, VerifyAnomalyRequest

  Phases:
    PhaseTransitionRequest, BaselineDTO, TrendPointDTO

  Sync:
    SyncStatusDTO, CachedEntryDTO, ReplaySummaryDTO

VALIDATION:
  Structural validation (dates, numbers) is done here during conversion;
  semantic validation lives in the wellness adapters. DTOs carry float64
  values on the wire; the domain uses decimal internally.

SEE ALSO:
  - handlers.go: Uses these types
  - wellness/types.go: Domain input records
*/
package api

import (
	"time"

	"github.com/warp/metrics-engine/engine"
	"github.com/warp/metrics-engine/metrics"
	"github.com/warp/metrics-engine/offline"
	"github.com/warp/metrics-engine/wellness"
)

// =============================================================================
// INGESTION REQUEST TYPES
// =============================================================================

// ProductUsageDTO is one day's usage log for one product.
type ProductUsageDTO struct {
	UserID        string `json:"user_id"`
	Product       string `json:"product"`
	Date          string `json:"date"` // YYYY-MM-DD
	DosesTaken    int    `json:"doses_taken"`
	DosesExpected int    `json:"doses_expected"`
	RefID         string `json:"ref_id,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

// ModalitySessionDTO is one therapy session log.
type ModalitySessionDTO struct {
	UserID          string `json:"user_id"`
	Modality        string `json:"modality"`
	Date            string `json:"date"`
	DurationMinutes int    `json:"duration_minutes"`
	Intensity       int    `json:"intensity,omitempty"`
	Completed       bool   `json:"completed"`
	RefID           string `json:"ref_id,omitempty"`
}

// UserInputDTO is a manual subjective entry.
type UserInputDTO struct {
	UserID     string  `json:"user_id"`
	MetricName string  `json:"metric_name"`
	Date       string  `json:"date"`
	Value      float64 `json:"value"`
	Unit       string  `json:"unit,omitempty"`
	RefID      string  `json:"ref_id,omitempty"`
	Notes      string  `json:"notes,omitempty"`
}

// WearableReadingDTO is one normalized wearable feed reading.
type WearableReadingDTO struct {
	UserID     string  `json:"user_id"`
	Device     string  `json:"device"`
	MetricName string  `json:"metric_name"`
	Date       string  `json:"date"`
	Value      float64 `json:"value"`
	Unit       string  `json:"unit"`
	RefID      string  `json:"ref_id,omitempty"`
}

// IngestResultDTO is the response for batch ingestion.
type IngestResultDTO struct {
	Success           bool `json:"success"`
	ProcessedRecords  int  `json:"processed_records"`
	AnomaliesDetected int  `json:"anomalies_detected"`
}

// =============================================================================
// METRIC TYPES
// =============================================================================

// SourceAttributionDTO is one channel's contribution to a merged record.
type SourceAttributionDTO struct {
	Source     string  `json:"source"`
	RawRef     string  `json:"raw_ref,omitempty"`
	Value      float64 `json:"value"`
	Unit       string  `json:"unit"`
	RecordedAt string  `json:"recorded_at"`
}

// MetricRecordDTO is the canonical merged record in API responses.
type MetricRecordDTO struct {
	UserID     string                 `json:"user_id"`
	MetricName string                 `json:"metric_name"`
	Category   string                 `json:"category"`
	Date       string                 `json:"date"`
	Value      float64                `json:"value"`
	Unit       string                 `json:"unit"`
	Sources    []SourceAttributionDTO `json:"sources"`
	Confidence float64                `json:"confidence"`
	PhaseID    string                 `json:"phase_id,omitempty"`
	Revision   int64                  `json:"revision"`
	MergedAt   string                 `json:"merged_at"`
}

// MergeSampleDTO is one raw sample submitted through the external merge
// endpoint.
type MergeSampleDTO struct {
	UserID     string  `json:"user_id"`
	MetricName string  `json:"metric_name"`
	Category   string  `json:"category"`
	Date       string  `json:"date"`
	Value      float64 `json:"value"`
	Unit       string  `json:"unit"`
	RawRef     string  `json:"raw_ref,omitempty"`
	PhaseID    string  `json:"phase_id,omitempty"`
}

// MergeRequest is the external merge request body.
type MergeRequest struct {
	Source  string           `json:"source"`
	Samples []MergeSampleDTO `json:"samples"`
}

// SingleSampleRequest submits one sample with its source tag inline.
type SingleSampleRequest struct {
	Source string `json:"source"`
	MergeSampleDTO
}

// SingleIngestDTO reports one sample's ingestion, including any anomaly it
// tripped.
type SingleIngestDTO struct {
	Success         bool            `json:"success"`
	Record          MetricRecordDTO `json:"record"`
	AnomalyDetected bool            `json:"anomaly_detected"`
	Anomaly         *AnomalyDTO     `json:"anomaly,omitempty"`
}

// MergeResultDTO reports one sample's merge outcome.
type MergeResultDTO struct {
	Record     MetricRecordDTO `json:"record"`
	Created    bool            `json:"created"`
	Changed    bool            `json:"changed"`
	Conflicted bool            `json:"conflicted"`
	Averaged   bool            `json:"averaged"`
}

// HealthIndexDTO is the cross-category aggregate.
type HealthIndexDTO struct {
	UserID      string             `json:"user_id"`
	Score       float64            `json:"score"`
	ByCategory  map[string]float64 `json:"by_category"`
	SampleCount int                `json:"sample_count"`
}

// =============================================================================
// ANOMALY TYPES
// =============================================================================

// AnomalyDTO represents an anomaly in API responses.
type AnomalyDTO struct {
	ID             string   `json:"id"`
	UserID         string   `json:"user_id"`
	MetricName     string   `json:"metric_name"`
	Date           string   `json:"date"`
	ExpectedMin    float64  `json:"expected_min"`
	ExpectedMax    float64  `json:"expected_max"`
	ActualValue    float64  `json:"actual_value"`
	Unit           string   `json:"unit"`
	Severity       string   `json:"severity"`
	Status         string   `json:"status"`
	PossibleCauses []string `json:"possible_causes,omitempty"`
	DetectedAt     string   `json:"detected_at"`
	ObservedValue  *float64 `json:"observed_value,omitempty"`
	ResolvedAt     *string  `json:"resolved_at,omitempty"`
}

// VerifyAnomalyRequest resolves a pending anomaly.
type VerifyAnomalyRequest struct {
	ObservedValue float64 `json:"observed_value"`
	Unit          string  `json:"unit,omitempty"`
	Status        string  `json:"status"` // "verified" or "rejected"
}

// =============================================================================
// PHASE TYPES
// =============================================================================

// PhaseTransitionRequest records a user entering a new phase.
type PhaseTransitionRequest struct {
	UserID         string `json:"user_id"`
	FromPhase      string `json:"from_phase,omitempty"`
	ToPhase        string `json:"to_phase"`
	TransitionDate string `json:"transition_date"` // YYYY-MM-DD
}

// BaselineDTO is the write-once phase snapshot.
type BaselineDTO struct {
	PhaseID        string             `json:"phase_id"`
	UserID         string             `json:"user_id"`
	TransitionDate string             `json:"transition_date"`
	Metrics        map[string]float64 `json:"metrics"`
	TakenAt        string             `json:"taken_at"`
	Created        bool               `json:"created"`
}

// TrendPointDTO is one element of a baseline-relative series.
type TrendPointDTO struct {
	Date          string  `json:"date"`
	Value         float64 `json:"value"`
	Unit          string  `json:"unit"`
	PercentChange float64 `json:"percent_change"`
}

// =============================================================================
// SYNC TYPES
// =============================================================================

// SyncStatusDTO reports connectivity and cache depth.
type SyncStatusDTO struct {
	DeviceID     string `json:"device_id,omitempty"`
	Connectivity string `json:"connectivity"`
	PendingSync  int    `json:"pending_sync"`
	CachedTotal  int    `json:"cached_total"`
}

// CachedEntryDTO is one offline cache entry.
type CachedEntryDTO struct {
	Key         string         `json:"key"`
	Sample      MergeSampleDTO `json:"sample"`
	Source      string         `json:"source"`
	CachedAt    string         `json:"cached_at"`
	PendingSync bool           `json:"pending_sync"`
}

// ReplaySummaryDTO reports a reconnect replay outcome.
type ReplaySummaryDTO struct {
	Replayed     int    `json:"replayed"`
	Failed       int    `json:"failed"`
	Connectivity string `json:"connectivity"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toRecordDTO(rec metrics.MetricRecord) MetricRecordDTO {
	value, _ := rec.Value.Value.Float64()
	confidence, _ := rec.Confidence.Float64()

	sources := make([]SourceAttributionDTO, len(rec.Sources))
	for i, s := range rec.Sources {
		sv, _ := s.Value.Value.Float64()
		sources[i] = SourceAttributionDTO{
			Source:     string(s.Source),
			RawRef:     s.RawRef,
			Value:      sv,
			Unit:       string(s.Value.Unit),
			RecordedAt: s.RecordedAt.Format(time.RFC3339),
		}
	}

	return MetricRecordDTO{
		UserID:     string(rec.UserID),
		MetricName: rec.MetricName,
		Category:   string(rec.Category),
		Date:       rec.Date.String(),
		Value:      value,
		Unit:       string(rec.Value.Unit),
		Sources:    sources,
		Confidence: confidence,
		PhaseID:    string(rec.PhaseIDAtCapture),
		Revision:   rec.Revision,
		MergedAt:   rec.MergedAt.Format(time.RFC3339),
	}
}

func toRecordDTOs(recs []metrics.MetricRecord) []MetricRecordDTO {
	dtos := make([]MetricRecordDTO, len(recs))
	for i, rec := range recs {
		dtos[i] = toRecordDTO(rec)
	}
	return dtos
}

func toAnomalyDTO(a metrics.AnomalyRecord) AnomalyDTO {
	minVal, _ := a.Expected.Min.Float64()
	maxVal, _ := a.Expected.Max.Float64()
	actual, _ := a.Actual.Value.Float64()

	dto := AnomalyDTO{
		ID:             string(a.ID),
		UserID:         string(a.UserID),
		MetricName:     a.MetricName,
		Date:           a.Date.String(),
		ExpectedMin:    minVal,
		ExpectedMax:    maxVal,
		ActualValue:    actual,
		Unit:           string(a.Actual.Unit),
		Severity:       string(a.Severity),
		Status:         string(a.Status),
		PossibleCauses: a.PossibleCauses,
		DetectedAt:     a.DetectedAt.Format(time.RFC3339),
	}
	if a.ObservedValue != nil {
		v, _ := a.ObservedValue.Value.Float64()
		dto.ObservedValue = &v
	}
	if a.ResolvedAt != nil {
		s := a.ResolvedAt.Format(time.RFC3339)
		dto.ResolvedAt = &s
	}
	return dto
}

func toSampleDTO(s metrics.MetricSample) MergeSampleDTO {
	value, _ := s.Value.Value.Float64()
	return MergeSampleDTO{
		UserID:     string(s.UserID),
		MetricName: s.MetricName,
		Category:   string(s.Category),
		Date:       s.Date.String(),
		Value:      value,
		Unit:       string(s.Value.Unit),
		RawRef:     s.RawRef,
		PhaseID:    string(s.PhaseID),
	}
}

func toCachedEntryDTO(e offline.Entry) CachedEntryDTO {
	return CachedEntryDTO{
		Key:         e.Key,
		Sample:      toSampleDTO(e.Sample),
		Source:      string(e.Sample.Source),
		CachedAt:    e.CachedAt.Format(time.RFC3339),
		PendingSync: e.PendingSync,
	}
}

func toHealthIndexDTO(idx metrics.HealthIndex) HealthIndexDTO {
	score, _ := idx.Score.Float64()
	byCat := make(map[string]float64, len(idx.ByCategory))
	for cat, v := range idx.ByCategory {
		f, _ := v.Float64()
		byCat[string(cat)] = f
	}
	return HealthIndexDTO{
		UserID:      string(idx.UserID),
		Score:       score,
		ByCategory:  byCat,
		SampleCount: idx.SampleCount,
	}
}

func toBaselineDTO(b metrics.PhaseBaseline, created bool) BaselineDTO {
	values := make(map[string]float64, len(b.BaselineMetrics))
	for name, m := range b.BaselineMetrics {
		f, _ := m.Value.Float64()
		values[name] = f
	}
	return BaselineDTO{
		PhaseID:        string(b.PhaseID),
		UserID:         string(b.UserID),
		TransitionDate: b.TransitionDate.String(),
		Metrics:        values,
		TakenAt:        b.TakenAt.Format(time.RFC3339),
		Created:        created,
	}
}

func toProductUsage(dto ProductUsageDTO) (wellness.ProductUsageRecord, error) {
	date, err := metrics.ParseDay(dto.Date)
	if err != nil {
		return wellness.ProductUsageRecord{}, err
	}
	return wellness.ProductUsageRecord{
		UserID:        metrics.UserID(dto.UserID),
		Product:       dto.Product,
		Date:          date,
		DosesTaken:    dto.DosesTaken,
		DosesExpected: dto.DosesExpected,
		RefID:         dto.RefID,
		Notes:         dto.Notes,
	}, nil
}

func toModalitySession(dto ModalitySessionDTO) (wellness.ModalitySessionRecord, error) {
	date, err := metrics.ParseDay(dto.Date)
	if err != nil {
		return wellness.ModalitySessionRecord{}, err
	}
	return wellness.ModalitySessionRecord{
		UserID:          metrics.UserID(dto.UserID),
		Modality:        dto.Modality,
		Date:            date,
		DurationMinutes: dto.DurationMinutes,
		Intensity:       dto.Intensity,
		Completed:       dto.Completed,
		RefID:           dto.RefID,
	}, nil
}

func toUserInput(dto UserInputDTO) (wellness.UserInputRecord, error) {
	date, err := metrics.ParseDay(dto.Date)
	if err != nil {
		return wellness.UserInputRecord{}, err
	}
	return wellness.UserInputRecord{
		UserID:     metrics.UserID(dto.UserID),
		MetricName: dto.MetricName,
		Date:       date,
		Value:      dto.Value,
		Unit:       metrics.Unit(dto.Unit),
		RefID:      dto.RefID,
		Notes:      dto.Notes,
	}, nil
}

func toWearableReading(dto WearableReadingDTO) (wellness.WearableReading, error) {
	date, err := metrics.ParseDay(dto.Date)
	if err != nil {
		return wellness.WearableReading{}, err
	}
	return wellness.WearableReading{
		UserID:     metrics.UserID(dto.UserID),
		Device:     dto.Device,
		MetricName: dto.MetricName,
		Date:       date,
		Value:      dto.Value,
		Unit:       metrics.Unit(dto.Unit),
		RefID:      dto.RefID,
	}, nil
}

func toMetricSample(dto MergeSampleDTO) (metrics.MetricSample, error) {
	date, err := metrics.ParseDay(dto.Date)
	if err != nil {
		return metrics.MetricSample{}, err
	}
	return metrics.MetricSample{
		UserID:     metrics.UserID(dto.UserID),
		MetricName: dto.MetricName,
		Category:   metrics.Category(dto.Category),
		Date:       date,
		Value:      metrics.NewMeasurement(dto.Value, metrics.Unit(dto.Unit)),
		RawRef:     dto.RawRef,
		PhaseID:    metrics.PhaseID(dto.PhaseID),
	}, nil
}

func toIngestResultDTO(res engine.IngestResult) IngestResultDTO {
	return IngestResultDTO{
		Success:           res.Success,
		ProcessedRecords:  res.ProcessedRecords,
		AnomaliesDetected: res.AnomaliesDetected,
	}
}
