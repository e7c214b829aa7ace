package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightclass/speech_service/internal/repository"
)

type sweepRecorder struct {
	*repository.InMemoryAttemptRepository
	cutoff  time.Time
	deleted int64
}

func (r *sweepRecorder) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.cutoff = cutoff
	return r.deleted, nil
}

func TestSweepNowUsesRetentionWindow(t *testing.T) {
	repo := &sweepRecorder{InMemoryAttemptRepository: repository.NewInMemoryAttemptRepository(), deleted: 3}
	svc := NewRetentionService(repo, "@daily", 90, zerolog.Nop())

	before := time.Now().Add(-90 * 24 * time.Hour)
	deleted, err := svc.SweepNow(context.Background())
	after := time.Now().Add(-90 * 24 * time.Hour)

	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
	assert.False(t, repo.cutoff.Before(before))
	assert.False(t, repo.cutoff.After(after))
}

func TestRetentionStartRejectsBadSchedule(t *testing.T) {
	svc := NewRetentionService(repository.NewInMemoryAttemptRepository(), "not-a-schedule", 90, zerolog.Nop())
	assert.Error(t, svc.Start())
}

func TestRetentionStartStop(t *testing.T) {
	svc := NewRetentionService(repository.NewInMemoryAttemptRepository(), "@daily", 90, zerolog.Nop())
	require.NoError(t, svc.Start())
	svc.Stop()
}
