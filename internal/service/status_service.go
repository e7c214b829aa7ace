package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/brightclass/speech_service/internal/client"
)

const (
	// Redis key prefix for per-analysis status hashes
	statusKeyPrefix = "analysis:"
	// TTL for status hashes in Redis
	statusTTL = 24 * time.Hour
)

// AnalysisStatus is the externally visible state of one analysis run.
type AnalysisStatus struct {
	AnalysisID string `json:"analysis_id"`
	Status     string `json:"status"`          // processing, completed, failed
	Stage      string `json:"stage,omitempty"` // scoring, uploading, done
	Error      string `json:"error,omitempty"`
	UpdatedAt  string `json:"updated_at"`
}

// StatusNotifier receives status snapshots as they change. The WebSocket
// hub implements it to push updates to subscribed clients.
type StatusNotifier interface {
	NotifyStatus(status *AnalysisStatus)
}

// StatusService tracks per-analysis pipeline state in Redis.
type StatusService struct {
	redis    *client.RedisClient
	notifier StatusNotifier
	log      zerolog.Logger
}

// NewStatusService creates a new StatusService.
func NewStatusService(redis *client.RedisClient, log zerolog.Logger) *StatusService {
	return &StatusService{
		redis: redis,
		log:   log,
	}
}

// WithNotifier attaches a live status notifier. Returns the service for chaining.
func (s *StatusService) WithNotifier(notifier StatusNotifier) *StatusService {
	s.notifier = notifier
	return s
}

// Set records the current state of an analysis and fans it out to any
// attached notifier. Redis being unconfigured is not an error.
func (s *StatusService) Set(ctx context.Context, analysisID, status, stage, errMsg string) error {
	snapshot := &AnalysisStatus{
		AnalysisID: analysisID,
		Status:     status,
		Stage:      stage,
		Error:      errMsg,
		UpdatedAt:  time.Now().UTC().Format(time.RFC3339),
	}

	if s.notifier != nil {
		s.notifier.NotifyStatus(snapshot)
	}

	if s.redis == nil {
		return nil // Redis not configured, skip silently
	}

	key := statusKeyPrefix + analysisID
	err := s.redis.HSet(ctx, key,
		"status", snapshot.Status,
		"stage", snapshot.Stage,
		"error", snapshot.Error,
		"updated_at", snapshot.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to set analysis status: %w", err)
	}

	_ = s.redis.SetExpiry(ctx, key, statusTTL)

	s.log.Debug().
		Str("analysis_id", analysisID).
		Str("status", status).
		Str("stage", stage).
		Msg("Analysis status updated")

	return nil
}

// Get returns the tracked state of an analysis, or (nil, nil) when nothing
// is tracked under that ID.
func (s *StatusService) Get(ctx context.Context, analysisID string) (*AnalysisStatus, error) {
	if s.redis == nil {
		return nil, fmt.Errorf("redis not configured")
	}

	key := statusKeyPrefix + analysisID
	fields, err := s.redis.HGetAll(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis status: %w", err)
	}

	if len(fields) == 0 {
		return nil, nil // not tracked
	}

	return &AnalysisStatus{
		AnalysisID: analysisID,
		Status:     fields["status"],
		Stage:      fields["stage"],
		Error:      fields["error"],
		UpdatedAt:  fields["updated_at"],
	}, nil
}
