// Package relstore is the outbound client for the relational store
// backing feedback, telemetry, and issue-tracking tables: interactions,
// learning_feedback, query_gaps, issues, telemetry_events,
// performance_metrics, experiment_assignments, experiment_results.
// It wraps jackc/pgx/v5's pgxpool with a connect-then-ping
// construction and a small repository-style method set.
package relstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/itsneelabh/hybrid-coordinator/apperrors"
	"github.com/itsneelabh/hybrid-coordinator/logging"
)

// Store wraps a pgxpool.Pool with the handful of operations the
// interaction tracker, feedback capture, and issue tracker need.
type Store struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

// New parses dsn, opens a pool, and verifies connectivity.
func New(ctx context.Context, dsn string, logger logging.Logger) (*Store, error) {
	if dsn == "" {
		return nil, apperrors.Newf(apperrors.KindValidation, "postgres DSN is required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, apperrors.New("relstore.New", apperrors.KindValidation, err)
	}
	cfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, apperrors.New("relstore.New", apperrors.KindUpstreamError, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, apperrors.New("relstore.New", apperrors.KindUpstreamError, err)
	}

	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if cal, ok := logger.(logging.ComponentAwareLogger); ok {
		logger = cal.WithComponent("relstore/store")
	}

	return &Store{pool: pool, logger: logger}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Healthz checks pool connectivity.
func (s *Store) Healthz(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return apperrors.New("relstore.Healthz", apperrors.KindUpstreamError, err)
	}
	return nil
}

// FeedbackRecord mirrors the data model's FeedbackRecord entity.
type FeedbackRecord struct {
	FeedbackID    string
	InteractionID string
	Query         string
	Rating        int
	Note          string
	Correction    string
	Tags          []string
	Model         string
	Variant       string
	CreatedAt     time.Time
}

// InsertFeedback persists a FeedbackRecord into learning_feedback.
func (s *Store) InsertFeedback(ctx context.Context, f FeedbackRecord) error {
	const q = `
		INSERT INTO learning_feedback
			(feedback_id, interaction_id, query, rating, note, correction, tags, model, variant, created_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := s.pool.Exec(ctx, q,
		f.FeedbackID, f.InteractionID, f.Query, f.Rating, f.Note, f.Correction, f.Tags, f.Model, f.Variant, f.CreatedAt)
	if err != nil {
		return apperrors.New("relstore.InsertFeedback", apperrors.KindUpstreamError, err)
	}
	return nil
}

// Issue mirrors the data model's Issue entity, deduplicated by
// normalized error hash.
type Issue struct {
	ID                  string
	Severity            string
	Category            string
	Component           string
	OccurrenceCount      int
	FirstSeen           time.Time
	LastSeen            time.Time
	ErrorHash           string
	SuggestedFixes      []string
	SystemChangesNeeded []string
	Status              string
}

// UpsertIssue inserts a new issue or, when error_hash already exists,
// bumps occurrence_count and last_seen.
func (s *Store) UpsertIssue(ctx context.Context, issue Issue) error {
	const q = `
		INSERT INTO issues
			(id, severity, category, component, occurrence_count, first_seen, last_seen, error_hash, suggested_fixes, system_changes_needed, status)
		VALUES ($1, $2, $3, $4, 1, $5, $5, $6, $7, $8, $9)
		ON CONFLICT (error_hash) DO UPDATE SET
			occurrence_count = issues.occurrence_count + 1,
			last_seen = EXCLUDED.last_seen`
	_, err := s.pool.Exec(ctx, q,
		issue.ID, issue.Severity, issue.Category, issue.Component, issue.LastSeen,
		issue.ErrorHash, issue.SuggestedFixes, issue.SystemChangesNeeded, issue.Status)
	if err != nil {
		return apperrors.New("relstore.UpsertIssue", apperrors.KindUpstreamError, err)
	}
	return nil
}

// RecordTelemetryEvent appends a row to telemetry_events; used as the
// durable counterpart of the JSONL telemetry stream the learning
// pipeline tails.
func (s *Store) RecordTelemetryEvent(ctx context.Context, source, eventType string, payload []byte, createdAt time.Time) error {
	const q = `INSERT INTO telemetry_events (source, event_type, payload, created_at) VALUES ($1, $2, $3, $4)`
	_, err := s.pool.Exec(ctx, q, source, eventType, payload, createdAt)
	if err != nil {
		return apperrors.New("relstore.RecordTelemetryEvent", apperrors.KindUpstreamError, err)
	}
	return nil
}

// ExperimentAssignment records which variant a subject was assigned for
// an A/B comparison.
type ExperimentAssignment struct {
	ExperimentName string
	SubjectID      string
	Variant        string
	AssignedAt     time.Time
}

func (s *Store) InsertExperimentAssignment(ctx context.Context, a ExperimentAssignment) error {
	const q = `
		INSERT INTO experiment_assignments (experiment_name, subject_id, variant, assigned_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (experiment_name, subject_id) DO NOTHING`
	_, err := s.pool.Exec(ctx, q, a.ExperimentName, a.SubjectID, a.Variant, a.AssignedAt)
	if err != nil {
		return apperrors.New("relstore.InsertExperimentAssignment", apperrors.KindUpstreamError, err)
	}
	return nil
}

// VariantStats aggregates experiment_results for one variant of an
// experiment, the shape /learning/ab_compare reports.
type VariantStats struct {
	Variant  string
	Count    int64
	AvgValue float64
}

func (s *Store) CompareExperiment(ctx context.Context, experimentName string) ([]VariantStats, error) {
	const q = `
		SELECT variant, COUNT(*), AVG(value_score)
		FROM experiment_results
		WHERE experiment_name = $1
		GROUP BY variant
		ORDER BY variant`
	rows, err := s.pool.Query(ctx, q, experimentName)
	if err != nil {
		return nil, apperrors.New("relstore.CompareExperiment", apperrors.KindUpstreamError, err)
	}
	defer rows.Close()

	var out []VariantStats
	for rows.Next() {
		var v VariantStats
		if err := rows.Scan(&v.Variant, &v.Count, &v.AvgValue); err != nil {
			return nil, apperrors.New("relstore.CompareExperiment", apperrors.KindUpstreamError, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.New("relstore.CompareExperiment", apperrors.KindUpstreamError, err)
	}
	return out, nil
}

// IsNotFound reports whether err is pgx's not-found sentinel, letting
// callers distinguish "no row" from a real failure without importing
// pgx directly.
func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
