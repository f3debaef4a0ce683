/*
Package sqlite provides the SQLite-backed implementation of the metrics
persistence interfaces.

PURPOSE:
  Implements metrics.MetricStore, metrics.AnomalyStore and
  metrics.BaselineStore over one SQLite database. The same patterns apply
  to PostgreSQL with minor dialect differences.

COMPARE-AND-SWAP:
  Canonical record writes are optimistic: creates rely on the primary key
  (a losing INSERT maps to ErrConcurrentModification), updates guard on
  `WHERE revision = ?` and check RowsAffected. No row locks are held across
  the read-merge-write cycle.

KEY TABLES:
  metric_records:  Canonical merged records (one row per user+metric+date)
  anomalies:       Append-only anomaly audit trail
  phase_baselines: Write-once baseline snapshots

WAL MODE:
  Opened with WAL so concurrent ingestion readers never block on the
  single writer.

USAGE:
  st, err := sqlite.New("./data/metrics.db")
  if err != nil { log.Fatal(err) }
  defer st.Close()

  eng := engine.New(engine.Config{
      Store:     st.Metrics(),
      Anomalies: st.Anomalies(),
      Baselines: st.Baselines(),
      ...
  })

SEE ALSO:
  - metrics/store.go: Interface contracts
  - metrics/store/memory.go: In-memory equivalent for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/metrics-engine/metrics"
)

// Store owns the database handle. The typed views returned by Metrics(),
// Anomalies() and Baselines() implement the engine's store interfaces.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a store at dbPath. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Metrics() metrics.MetricStore     { return &metricStore{db: s.db} }
func (s *Store) Anomalies() metrics.AnomalyStore  { return &anomalyStore{db: s.db} }
func (s *Store) Baselines() metrics.BaselineStore { return &baselineStore{db: s.db} }

func (s *Store) migrate() error {
	schema := `
	-- Canonical merged records: exactly one row per (user, metric, date)
	CREATE TABLE IF NOT EXISTS metric_records (
		user_id      TEXT NOT NULL,
		metric_name  TEXT NOT NULL,
		date         TEXT NOT NULL,
		category     TEXT NOT NULL,
		value        TEXT NOT NULL,
		unit         TEXT NOT NULL,
		confidence   TEXT NOT NULL,
		phase_id     TEXT,
		revision     INTEGER NOT NULL,
		merged_at    TEXT NOT NULL,
		sources_json TEXT NOT NULL,
		PRIMARY KEY (user_id, metric_name, date)
	);

	CREATE INDEX IF NOT EXISTS idx_metric_records_category
		ON metric_records(category);

	-- Append-only anomaly audit trail
	CREATE TABLE IF NOT EXISTS anomalies (
		id             TEXT PRIMARY KEY,
		user_id        TEXT NOT NULL,
		metric_name    TEXT NOT NULL,
		date           TEXT NOT NULL,
		range_min      TEXT NOT NULL,
		range_max      TEXT NOT NULL,
		actual_value   TEXT NOT NULL,
		actual_unit    TEXT NOT NULL,
		severity       TEXT NOT NULL,
		status         TEXT NOT NULL,
		causes_json    TEXT,
		detected_at    TEXT NOT NULL,
		observed_value TEXT,
		observed_unit  TEXT,
		resolved_at    TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_anomalies_status ON anomalies(status);
	CREATE INDEX IF NOT EXISTS idx_anomalies_detected ON anomalies(detected_at DESC);

	-- Write-once phase baselines
	CREATE TABLE IF NOT EXISTS phase_baselines (
		phase_id        TEXT PRIMARY KEY,
		user_id         TEXT NOT NULL,
		transition_date TEXT NOT NULL,
		metrics_json    TEXT NOT NULL,
		taken_at        TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_baselines_transition
		ON phase_baselines(transition_date);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// METRIC STORE VIEW
// =============================================================================

type metricStore struct {
	db *sql.DB
}

const recordColumns = `user_id, metric_name, date, category, value, unit,
	confidence, phase_id, revision, merged_at, sources_json`

func (m *metricStore) Get(ctx context.Context, key metrics.MetricKey) (*metrics.MetricRecord, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM metric_records
		WHERE user_id = ? AND metric_name = ? AND date = ?`,
		string(key.UserID), key.MetricName, key.Date.String())

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (m *metricStore) Put(ctx context.Context, rec metrics.MetricRecord, expectedRevision int64) error {
	sourcesJSON, err := json.Marshal(rec.Sources)
	if err != nil {
		return err
	}

	if expectedRevision == 0 {
		_, err := m.db.ExecContext(ctx, `
			INSERT INTO metric_records
				(user_id, metric_name, date, category, value, unit, confidence,
				 phase_id, revision, merged_at, sources_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
			string(rec.UserID), rec.MetricName, rec.Date.String(),
			string(rec.Category), rec.Value.Value.String(), string(rec.Value.Unit),
			rec.Confidence.String(), string(rec.PhaseIDAtCapture),
			rec.MergedAt.UTC().Format(time.RFC3339Nano), string(sourcesJSON))
		if err != nil {
			if isUniqueConstraintError(err) {
				return metrics.ErrConcurrentModification
			}
			return fmt.Errorf("failed to insert record: %w", err)
		}
		return nil
	}

	res, err := m.db.ExecContext(ctx, `
		UPDATE metric_records
		SET category = ?, value = ?, unit = ?, confidence = ?, phase_id = ?,
		    revision = revision + 1, merged_at = ?, sources_json = ?
		WHERE user_id = ? AND metric_name = ? AND date = ? AND revision = ?`,
		string(rec.Category), rec.Value.Value.String(), string(rec.Value.Unit),
		rec.Confidence.String(), string(rec.PhaseIDAtCapture),
		rec.MergedAt.UTC().Format(time.RFC3339Nano), string(sourcesJSON),
		string(rec.UserID), rec.MetricName, rec.Date.String(), expectedRevision)
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return metrics.ErrConcurrentModification
	}
	return nil
}

func (m *metricStore) List(ctx context.Context) ([]metrics.MetricRecord, error) {
	return m.queryRecords(ctx, `
		SELECT `+recordColumns+`
		FROM metric_records
		ORDER BY user_id, metric_name, date`)
}

func (m *metricStore) ListByCategory(ctx context.Context, category metrics.Category) ([]metrics.MetricRecord, error) {
	return m.queryRecords(ctx, `
		SELECT `+recordColumns+`
		FROM metric_records
		WHERE category = ?
		ORDER BY user_id, metric_name, date`, string(category))
}

func (m *metricStore) ListByMetric(ctx context.Context, userID metrics.UserID, metricName string) ([]metrics.MetricRecord, error) {
	return m.queryRecords(ctx, `
		SELECT `+recordColumns+`
		FROM metric_records
		WHERE user_id = ? AND metric_name = ?
		ORDER BY date`, string(userID), metricName)
}

func (m *metricStore) queryRecords(ctx context.Context, query string, args ...any) ([]metrics.MetricRecord, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []metrics.MetricRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*metrics.MetricRecord, error) {
	var (
		userID, metricName, date, category string
		value, unit, confidence            string
		phaseID                            sql.NullString
		revision                           int64
		mergedAt, sourcesJSON              string
	)
	if err := row.Scan(&userID, &metricName, &date, &category, &value, &unit,
		&confidence, &phaseID, &revision, &mergedAt, &sourcesJSON); err != nil {
		return nil, err
	}

	day, err := metrics.ParseDay(date)
	if err != nil {
		return nil, err
	}
	val, err := decimal.NewFromString(value)
	if err != nil {
		return nil, err
	}
	conf, err := decimal.NewFromString(confidence)
	if err != nil {
		return nil, err
	}
	merged, err := time.Parse(time.RFC3339Nano, mergedAt)
	if err != nil {
		return nil, err
	}

	var sources []metrics.SourceAttribution
	if err := json.Unmarshal([]byte(sourcesJSON), &sources); err != nil {
		return nil, err
	}

	return &metrics.MetricRecord{
		UserID:           metrics.UserID(userID),
		MetricName:       metricName,
		Category:         metrics.Category(category),
		Date:             day,
		Value:            metrics.Measurement{Value: val, Unit: metrics.Unit(unit)},
		Sources:          sources,
		Confidence:       conf,
		PhaseIDAtCapture: metrics.PhaseID(phaseID.String),
		Revision:         revision,
		MergedAt:         merged,
	}, nil
}

// =============================================================================
// ANOMALY STORE VIEW
// =============================================================================

type anomalyStore struct {
	db *sql.DB
}

const anomalyColumns = `id, user_id, metric_name, date, range_min, range_max,
	actual_value, actual_unit, severity, status, causes_json, detected_at,
	observed_value, observed_unit, resolved_at`

func (a *anomalyStore) Append(ctx context.Context, rec metrics.AnomalyRecord) error {
	causesJSON, err := json.Marshal(rec.PossibleCauses)
	if err != nil {
		return err
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT INTO anomalies
			(id, user_id, metric_name, date, range_min, range_max,
			 actual_value, actual_unit, severity, status, causes_json, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(rec.ID), string(rec.UserID), rec.MetricName, rec.Date.String(),
		rec.Expected.Min.String(), rec.Expected.Max.String(),
		rec.Actual.Value.String(), string(rec.Actual.Unit),
		string(rec.Severity), string(rec.Status), string(causesJSON),
		rec.DetectedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueConstraintError(err) {
			return metrics.ErrConcurrentModification
		}
		return fmt.Errorf("failed to append anomaly: %w", err)
	}
	return nil
}

func (a *anomalyStore) Get(ctx context.Context, id metrics.AnomalyID) (*metrics.AnomalyRecord, error) {
	row := a.db.QueryRowContext(ctx, `
		SELECT `+anomalyColumns+`
		FROM anomalies WHERE id = ?`, string(id))

	rec, err := scanAnomaly(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (a *anomalyStore) Resolve(ctx context.Context, id metrics.AnomalyID, observed metrics.Measurement, status metrics.AnomalyStatus) error {
	res, err := a.db.ExecContext(ctx, `
		UPDATE anomalies
		SET status = ?, observed_value = ?, observed_unit = ?, resolved_at = ?
		WHERE id = ? AND status = ?`,
		string(status), observed.Value.String(), string(observed.Unit),
		time.Now().UTC().Format(time.RFC3339Nano),
		string(id), string(metrics.AnomalyPending))
	if err != nil {
		return fmt.Errorf("failed to resolve anomaly: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		existing, err := a.Get(ctx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return &metrics.NotFoundError{Kind: "anomaly", ID: string(id)}
		}
		return &metrics.InvalidStateError{AnomalyID: id, Current: existing.Status, Requested: status}
	}
	return nil
}

func (a *anomalyStore) List(ctx context.Context) ([]metrics.AnomalyRecord, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT `+anomalyColumns+`
		FROM anomalies ORDER BY detected_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []metrics.AnomalyRecord
	for rows.Next() {
		rec, err := scanAnomaly(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func scanAnomaly(row rowScanner) (*metrics.AnomalyRecord, error) {
	var (
		id, userID, metricName, date            string
		rangeMin, rangeMax, actual, actualUnit  string
		severity, status                        string
		causesJSON                              sql.NullString
		detectedAt                              string
		observedValue, observedUnit, resolvedAt sql.NullString
	)
	if err := row.Scan(&id, &userID, &metricName, &date, &rangeMin, &rangeMax,
		&actual, &actualUnit, &severity, &status, &causesJSON, &detectedAt,
		&observedValue, &observedUnit, &resolvedAt); err != nil {
		return nil, err
	}

	day, err := metrics.ParseDay(date)
	if err != nil {
		return nil, err
	}
	minVal, err := decimal.NewFromString(rangeMin)
	if err != nil {
		return nil, err
	}
	maxVal, err := decimal.NewFromString(rangeMax)
	if err != nil {
		return nil, err
	}
	actualVal, err := decimal.NewFromString(actual)
	if err != nil {
		return nil, err
	}
	detected, err := time.Parse(time.RFC3339Nano, detectedAt)
	if err != nil {
		return nil, err
	}

	rec := &metrics.AnomalyRecord{
		ID:         metrics.AnomalyID(id),
		UserID:     metrics.UserID(userID),
		MetricName: metricName,
		Date:       day,
		Expected:   metrics.Range{Min: minVal, Max: maxVal},
		Actual:     metrics.Measurement{Value: actualVal, Unit: metrics.Unit(actualUnit)},
		Severity:   metrics.Severity(severity),
		Status:     metrics.AnomalyStatus(status),
		DetectedAt: detected,
	}

	if causesJSON.Valid && causesJSON.String != "" {
		if err := json.Unmarshal([]byte(causesJSON.String), &rec.PossibleCauses); err != nil {
			return nil, err
		}
	}
	if observedValue.Valid {
		v, err := decimal.NewFromString(observedValue.String)
		if err != nil {
			return nil, err
		}
		m := metrics.Measurement{Value: v, Unit: metrics.Unit(observedUnit.String)}
		rec.ObservedValue = &m
	}
	if resolvedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, resolvedAt.String)
		if err != nil {
			return nil, err
		}
		rec.ResolvedAt = &t
	}
	return rec, nil
}

// =============================================================================
// BASELINE STORE VIEW
// =============================================================================

type baselineStore struct {
	db *sql.DB
}

func (b *baselineStore) Save(ctx context.Context, baseline metrics.PhaseBaseline) error {
	metricsJSON, err := json.Marshal(baseline.BaselineMetrics)
	if err != nil {
		return err
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO phase_baselines (phase_id, user_id, transition_date, metrics_json, taken_at)
		VALUES (?, ?, ?, ?, ?)`,
		string(baseline.PhaseID), string(baseline.UserID),
		baseline.TransitionDate.String(), string(metricsJSON),
		baseline.TakenAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueConstraintError(err) {
			return metrics.ErrBaselineExists
		}
		return fmt.Errorf("failed to save baseline: %w", err)
	}
	return nil
}

func (b *baselineStore) Get(ctx context.Context, phaseID metrics.PhaseID) (*metrics.PhaseBaseline, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT phase_id, user_id, transition_date, metrics_json, taken_at
		FROM phase_baselines WHERE phase_id = ?`, string(phaseID))

	baseline, err := scanBaseline(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return baseline, nil
}

func (b *baselineStore) List(ctx context.Context) ([]metrics.PhaseBaseline, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT phase_id, user_id, transition_date, metrics_json, taken_at
		FROM phase_baselines ORDER BY transition_date`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []metrics.PhaseBaseline
	for rows.Next() {
		baseline, err := scanBaseline(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *baseline)
	}
	return out, rows.Err()
}

func scanBaseline(row rowScanner) (*metrics.PhaseBaseline, error) {
	var phaseID, userID, transitionDate, metricsJSON, takenAt string
	if err := row.Scan(&phaseID, &userID, &transitionDate, &metricsJSON, &takenAt); err != nil {
		return nil, err
	}

	day, err := metrics.ParseDay(transitionDate)
	if err != nil {
		return nil, err
	}
	taken, err := time.Parse(time.RFC3339Nano, takenAt)
	if err != nil {
		return nil, err
	}

	values := make(map[string]metrics.Measurement)
	if err := json.Unmarshal([]byte(metricsJSON), &values); err != nil {
		return nil, err
	}

	return &metrics.PhaseBaseline{
		PhaseID:         metrics.PhaseID(phaseID),
		UserID:          metrics.UserID(userID),
		TransitionDate:  day,
		BaselineMetrics: values,
		TakenAt:         taken,
	}, nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
