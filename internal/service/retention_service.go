package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/brightclass/speech_service/internal/metrics"
	"github.com/brightclass/speech_service/internal/repository"
)

// RetentionService periodically removes old analysis attempts.
type RetentionService struct {
	attempts repository.AttemptRepository
	schedule string
	maxAge   time.Duration
	cron     *cron.Cron
	log      zerolog.Logger
}

// NewRetentionService creates a sweeper that deletes attempts older than
// retentionDays on the given cron schedule (e.g. "@daily").
func NewRetentionService(attempts repository.AttemptRepository, schedule string, retentionDays int, log zerolog.Logger) *RetentionService {
	return &RetentionService{
		attempts: attempts,
		schedule: schedule,
		maxAge:   time.Duration(retentionDays) * 24 * time.Hour,
		log:      log,
	}
}

// Start schedules the sweeper. Call Stop on shutdown.
func (s *RetentionService) Start() error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.schedule, s.sweep); err != nil {
		return fmt.Errorf("failed to schedule retention sweep: %w", err)
	}
	s.cron.Start()

	s.log.Info().
		Str("schedule", s.schedule).
		Dur("max_age", s.maxAge).
		Msg("Retention sweeper scheduled")

	return nil
}

// Stop cancels future sweeps. Does not interrupt a sweep in progress.
func (s *RetentionService) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

func (s *RetentionService) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, err := s.SweepNow(ctx); err != nil {
		s.log.Error().Err(err).Msg("Retention sweep failed")
	}
}

// SweepNow deletes attempts past the retention window and reports how many
// were removed.
func (s *RetentionService) SweepNow(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-s.maxAge)
	deleted, err := s.attempts.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		metrics.AttemptsSweptTotal.Add(float64(deleted))
		s.log.Info().
			Int64("deleted", deleted).
			Time("cutoff", cutoff).
			Msg("Old analysis attempts removed")
	}

	return deleted, nil
}
