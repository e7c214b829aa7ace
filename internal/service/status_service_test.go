package service

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusSetWithoutRedisStillNotifies(t *testing.T) {
	recorder := &statusRecorder{}
	s := NewStatusService(nil, zerolog.Nop()).WithNotifier(recorder)

	err := s.Set(context.Background(), "a-1", "processing", "scoring", "")
	require.NoError(t, err)

	require.Len(t, recorder.snapshots, 1)
	got := recorder.snapshots[0]
	assert.Equal(t, "a-1", got.AnalysisID)
	assert.Equal(t, "processing", got.Status)
	assert.Equal(t, "scoring", got.Stage)
	assert.NotEmpty(t, got.UpdatedAt)
}

func TestStatusGetWithoutRedisErrors(t *testing.T) {
	s := NewStatusService(nil, zerolog.Nop())

	_, err := s.Get(context.Background(), "a-1")
	assert.Error(t, err)
}
