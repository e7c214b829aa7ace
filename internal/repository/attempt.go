package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/brightclass/speech_service/internal/client"
)

// Attempt statuses.
const (
	AttemptStatusProcessing = "processing"
	AttemptStatusCompleted  = "completed"
	AttemptStatusFailed     = "failed"
)

// Attempt stages.
const (
	AttemptStageScoring   = "scoring"
	AttemptStageUploading = "uploading"
	AttemptStageDone      = "done"
)

// Attempt represents one run of the pronunciation analysis pipeline.
type Attempt struct {
	ID                 uuid.UUID       `json:"id"`
	ProgressID         *int64          `json:"progress_id,omitempty"`
	ContentItemID      *int64          `json:"content_item_id,omitempty"`
	ReferenceText      string          `json:"reference_text"`
	Preview            bool            `json:"preview"`
	Status             string          `json:"status"`
	Stage              string          `json:"stage"`
	PronunciationScore *float64        `json:"pronunciation_score,omitempty"`
	AccuracyScore      *float64        `json:"accuracy_score,omitempty"`
	FluencyScore       *float64        `json:"fluency_score,omitempty"`
	CompletenessScore  *float64        `json:"completeness_score,omitempty"`
	Words              json.RawMessage `json:"words,omitempty"`
	AnalysisSummary    string          `json:"analysis_summary,omitempty"`
	AudioURL           string          `json:"audio_url,omitempty"`
	Error              string          `json:"error,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// GetID returns the attempt ID as a string.
func (a *Attempt) GetID() string {
	return a.ID.String()
}

// AttemptScores carries the four dimension scores written on completion.
type AttemptScores struct {
	Pronunciation float64
	Accuracy      float64
	Fluency       float64
	Completeness  float64
}

// AttemptRepository defines the interface for analysis attempt data access.
type AttemptRepository interface {
	Create(ctx context.Context, attempt *Attempt) error
	UpdateStage(ctx context.Context, id uuid.UUID, stage string) error
	Complete(ctx context.Context, id uuid.UUID, scores AttemptScores, words json.RawMessage, summary, audioURL string) error
	Fail(ctx context.Context, id uuid.UUID, stage, message string) error
	GetByID(ctx context.Context, id uuid.UUID) (*Attempt, error)
	ListByProgress(ctx context.Context, progressID int64, limit int) ([]*Attempt, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// PostgresAttemptRepository implements AttemptRepository with PostgreSQL.
type PostgresAttemptRepository struct {
	db *client.PostgresClient
}

// NewPostgresAttemptRepository creates a new PostgresAttemptRepository.
func NewPostgresAttemptRepository(db *client.PostgresClient) *PostgresAttemptRepository {
	return &PostgresAttemptRepository{db: db}
}

// Create inserts a new attempt and fills in its generated fields.
func (r *PostgresAttemptRepository) Create(ctx context.Context, attempt *Attempt) error {
	if r.db == nil || r.db.Pool == nil {
		return fmt.Errorf("database not configured")
	}

	query := `
		INSERT INTO analysis_attempts (progress_id, content_item_id, reference_text, preview, status, stage)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		attempt.ProgressID,
		attempt.ContentItemID,
		attempt.ReferenceText,
		attempt.Preview,
		attempt.Status,
		attempt.Stage,
	).Scan(&attempt.ID, &attempt.CreatedAt, &attempt.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create attempt: %w", err)
	}

	return nil
}

// UpdateStage moves an in-flight attempt to the given pipeline stage.
func (r *PostgresAttemptRepository) UpdateStage(ctx context.Context, id uuid.UUID, stage string) error {
	if r.db == nil || r.db.Pool == nil {
		return fmt.Errorf("database not configured")
	}

	query := `
		UPDATE analysis_attempts
		SET stage = $2, updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.Pool.Exec(ctx, query, id, stage)
	if err != nil {
		return fmt.Errorf("failed to update attempt stage: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// Complete records the final scores and marks the attempt completed.
func (r *PostgresAttemptRepository) Complete(ctx context.Context, id uuid.UUID, scores AttemptScores, words json.RawMessage, summary, audioURL string) error {
	if r.db == nil || r.db.Pool == nil {
		return fmt.Errorf("database not configured")
	}

	query := `
		UPDATE analysis_attempts
		SET status = $2, stage = $3,
		    pronunciation_score = $4, accuracy_score = $5,
		    fluency_score = $6, completeness_score = $7,
		    words = $8, analysis_summary = $9, audio_url = $10,
		    error = '', updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.Pool.Exec(ctx, query,
		id,
		AttemptStatusCompleted,
		AttemptStageDone,
		scores.Pronunciation,
		scores.Accuracy,
		scores.Fluency,
		scores.Completeness,
		words,
		summary,
		audioURL,
	)
	if err != nil {
		return fmt.Errorf("failed to complete attempt: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// Fail marks the attempt failed, keeping the stage it failed in.
func (r *PostgresAttemptRepository) Fail(ctx context.Context, id uuid.UUID, stage, message string) error {
	if r.db == nil || r.db.Pool == nil {
		return fmt.Errorf("database not configured")
	}

	query := `
		UPDATE analysis_attempts
		SET status = $2, stage = $3, error = $4, updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.Pool.Exec(ctx, query, id, AttemptStatusFailed, stage, message)
	if err != nil {
		return fmt.Errorf("failed to mark attempt failed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// GetByID retrieves an attempt by its ID.
func (r *PostgresAttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*Attempt, error) {
	if r.db == nil || r.db.Pool == nil {
		return nil, fmt.Errorf("database not configured")
	}

	query := `
		SELECT id, progress_id, content_item_id, reference_text, preview,
		       status, stage,
		       pronunciation_score, accuracy_score, fluency_score, completeness_score,
		       words, analysis_summary, audio_url, error,
		       created_at, updated_at
		FROM analysis_attempts
		WHERE id = $1
	`

	var attempt Attempt
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&attempt.ID,
		&attempt.ProgressID,
		&attempt.ContentItemID,
		&attempt.ReferenceText,
		&attempt.Preview,
		&attempt.Status,
		&attempt.Stage,
		&attempt.PronunciationScore,
		&attempt.AccuracyScore,
		&attempt.FluencyScore,
		&attempt.CompletenessScore,
		&attempt.Words,
		&attempt.AnalysisSummary,
		&attempt.AudioURL,
		&attempt.Error,
		&attempt.CreatedAt,
		&attempt.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}

	return &attempt, nil
}

// ListByProgress retrieves the most recent attempts for a progress record.
func (r *PostgresAttemptRepository) ListByProgress(ctx context.Context, progressID int64, limit int) ([]*Attempt, error) {
	if r.db == nil || r.db.Pool == nil {
		return nil, fmt.Errorf("database not configured")
	}
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, progress_id, content_item_id, reference_text, preview,
		       status, stage,
		       pronunciation_score, accuracy_score, fluency_score, completeness_score,
		       words, analysis_summary, audio_url, error,
		       created_at, updated_at
		FROM analysis_attempts
		WHERE progress_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, progressID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*Attempt
	for rows.Next() {
		var attempt Attempt
		err := rows.Scan(
			&attempt.ID,
			&attempt.ProgressID,
			&attempt.ContentItemID,
			&attempt.ReferenceText,
			&attempt.Preview,
			&attempt.Status,
			&attempt.Stage,
			&attempt.PronunciationScore,
			&attempt.AccuracyScore,
			&attempt.FluencyScore,
			&attempt.CompletenessScore,
			&attempt.Words,
			&attempt.AnalysisSummary,
			&attempt.AudioURL,
			&attempt.Error,
			&attempt.CreatedAt,
			&attempt.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		attempts = append(attempts, &attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate attempts: %w", err)
	}

	return attempts, nil
}

// DeleteOlderThan removes attempts created before the cutoff and reports
// how many rows were deleted.
func (r *PostgresAttemptRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if r.db == nil || r.db.Pool == nil {
		return 0, fmt.Errorf("database not configured")
	}

	result, err := r.db.Pool.Exec(ctx, `DELETE FROM analysis_attempts WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old attempts: %w", err)
	}

	return result.RowsAffected(), nil
}

// InMemoryAttemptRepository implements AttemptRepository without a database.
// It backs development and test setups where DATABASE_URL is unset.
type InMemoryAttemptRepository struct {
	store *InMemoryRepository[*Attempt]
}

// NewInMemoryAttemptRepository creates a new InMemoryAttemptRepository.
func NewInMemoryAttemptRepository() *InMemoryAttemptRepository {
	return &InMemoryAttemptRepository{store: NewInMemoryRepository[*Attempt]()}
}

// Create assigns an ID and timestamps and stores the attempt.
func (r *InMemoryAttemptRepository) Create(ctx context.Context, attempt *Attempt) error {
	attempt.ID = uuid.New()
	now := time.Now().UTC()
	attempt.CreatedAt = now
	attempt.UpdatedAt = now
	return r.store.Create(ctx, attempt)
}

func (r *InMemoryAttemptRepository) mutate(ctx context.Context, id uuid.UUID, fn func(*Attempt)) error {
	current, err := r.store.GetByID(ctx, id.String())
	if err != nil {
		return err
	}

	// Copy before mutating so readers never observe a half-written attempt.
	updated := *current
	fn(&updated)
	updated.UpdatedAt = time.Now().UTC()
	return r.store.Update(ctx, &updated)
}

// UpdateStage moves an in-flight attempt to the given pipeline stage.
func (r *InMemoryAttemptRepository) UpdateStage(ctx context.Context, id uuid.UUID, stage string) error {
	return r.mutate(ctx, id, func(a *Attempt) {
		a.Stage = stage
	})
}

// Complete records the final scores and marks the attempt completed.
func (r *InMemoryAttemptRepository) Complete(ctx context.Context, id uuid.UUID, scores AttemptScores, words json.RawMessage, summary, audioURL string) error {
	return r.mutate(ctx, id, func(a *Attempt) {
		a.Status = AttemptStatusCompleted
		a.Stage = AttemptStageDone
		a.PronunciationScore = &scores.Pronunciation
		a.AccuracyScore = &scores.Accuracy
		a.FluencyScore = &scores.Fluency
		a.CompletenessScore = &scores.Completeness
		a.Words = words
		a.AnalysisSummary = summary
		a.AudioURL = audioURL
		a.Error = ""
	})
}

// Fail marks the attempt failed, keeping the stage it failed in.
func (r *InMemoryAttemptRepository) Fail(ctx context.Context, id uuid.UUID, stage, message string) error {
	return r.mutate(ctx, id, func(a *Attempt) {
		a.Status = AttemptStatusFailed
		a.Stage = stage
		a.Error = message
	})
}

// GetByID retrieves an attempt by its ID.
func (r *InMemoryAttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*Attempt, error) {
	return r.store.GetByID(ctx, id.String())
}

// ListByProgress retrieves the most recent attempts for a progress record.
func (r *InMemoryAttemptRepository) ListByProgress(ctx context.Context, progressID int64, limit int) ([]*Attempt, error) {
	if limit <= 0 {
		limit = 20
	}

	all, err := r.store.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	var attempts []*Attempt
	for _, attempt := range all {
		if attempt.ProgressID != nil && *attempt.ProgressID == progressID {
			attempts = append(attempts, attempt)
		}
	}
	sort.Slice(attempts, func(i, j int) bool {
		return attempts[i].CreatedAt.After(attempts[j].CreatedAt)
	})
	if len(attempts) > limit {
		attempts = attempts[:limit]
	}

	return attempts, nil
}

// DeleteOlderThan removes attempts created before the cutoff.
func (r *InMemoryAttemptRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	all, err := r.store.GetAll(ctx)
	if err != nil {
		return 0, err
	}

	var deleted int64
	for _, attempt := range all {
		if attempt.CreatedAt.Before(cutoff) {
			if err := r.store.Delete(ctx, attempt.GetID()); err == nil {
				deleted++
			}
		}
	}

	return deleted, nil
}
