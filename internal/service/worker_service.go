package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/brightclass/speech_service/internal/client"
	"github.com/brightclass/speech_service/internal/errors"
)

const (
	// Redis list holding queued analysis jobs
	analysisQueueKey = "analysis:queue"
	// Redis key prefix for finished job outcomes
	replyKeyPrefix = "analysis:reply:"
	// TTL for job outcomes awaiting pickup
	replyTTL = 10 * time.Minute
	// How long one BLPOP on the queue blocks before looping
	dequeueTimeout = 5 * time.Second
	// How long AwaitOutcome waits before reporting "still processing"
	defaultAwaitTimeout = 10 * time.Second
	// Upper bound for one queued pipeline run
	jobTimeout = 5 * time.Minute
)

// queuedAnalysis is the wire format of one job on the queue.
type queuedAnalysis struct {
	JobID   string         `json:"job_id"`
	Request AnalyzeRequest `json:"request"`
}

// AsyncOutcome is what a finished background job leaves behind for pickup.
type AsyncOutcome struct {
	JobID     string          `json:"job_id"`
	Status    string          `json:"status"` // completed, failed
	Result    *AnalysisResult `json:"result,omitempty"`
	ErrorCode string          `json:"error_code,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// WorkerService runs analysis jobs pulled from a Redis queue. The HTTP
// layer is the producer, Run is the consumer.
type WorkerService struct {
	redis    *client.RedisClient
	analysis *AnalysisService
	log      zerolog.Logger
}

// NewWorkerService creates a new WorkerService.
func NewWorkerService(redis *client.RedisClient, analysis *AnalysisService, log zerolog.Logger) *WorkerService {
	return &WorkerService{
		redis:    redis,
		analysis: analysis,
		log:      log,
	}
}

// Enqueue queues a request for background processing and returns the job ID
// the caller polls with.
func (s *WorkerService) Enqueue(ctx context.Context, req AnalyzeRequest) (string, error) {
	if s.redis == nil {
		return "", errors.New(errors.ErrInternal, "async processing requires Redis")
	}

	jobID := fmt.Sprintf("job_%s", uuid.New().String()[:8])
	job := queuedAnalysis{JobID: jobID, Request: req}

	if err := s.redis.RPush(ctx, analysisQueueKey, job); err != nil {
		return "", errors.Wrap(errors.ErrDatabase, "failed to enqueue analysis", err)
	}

	s.log.Info().
		Str("job_id", jobID).
		Str("handle", req.Handle).
		Bool("preview", req.Preview).
		Msg("Analysis job queued")

	return jobID, nil
}

// Run consumes the queue until ctx is cancelled. Start it once from main.
func (s *WorkerService) Run(ctx context.Context) {
	if s.redis == nil {
		s.log.Info().Msg("Redis not configured, analysis worker disabled")
		return
	}

	s.log.Info().Msg("Analysis worker started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Analysis worker shutting down")
			return
		default:
		}

		data, err := s.redis.BLPop(ctx, dequeueTimeout, analysisQueueKey)
		if err != nil {
			if err == redis.Nil {
				continue // queue empty, poll again
			}
			if ctx.Err() != nil {
				return
			}
			s.log.Error().Err(err).Msg("Failed to dequeue analysis job")
			time.Sleep(time.Second)
			continue
		}

		var job queuedAnalysis
		if err := json.Unmarshal(data, &job); err != nil {
			s.log.Error().Err(err).Msg("Failed to decode queued job, dropping it")
			continue
		}

		s.process(job)
	}
}

// process runs one job end to end and stores its outcome for pickup. The
// job gets its own timeout so a stuck run never wedges the worker.
func (s *WorkerService) process(job queuedAnalysis) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	s.log.Info().Str("job_id", job.JobID).Msg("Processing queued analysis")

	outcome := AsyncOutcome{JobID: job.JobID}
	result, err := s.analysis.AnalyzeAndUpload(ctx, job.Request)
	if err != nil {
		outcome.Status = "failed"
		outcome.ErrorCode = string(errors.CodeOf(err))
		outcome.Error = err.Error()
	} else {
		outcome.Status = "completed"
		outcome.Result = result
	}

	replyKey := replyKeyPrefix + job.JobID
	if err := s.redis.RPush(ctx, replyKey, outcome); err != nil {
		s.log.Error().Err(err).Str("job_id", job.JobID).Msg("Failed to store job outcome")
		return
	}
	_ = s.redis.SetExpiry(ctx, replyKey, replyTTL)

	s.log.Info().
		Str("job_id", job.JobID).
		Str("status", outcome.Status).
		Msg("Queued analysis finished")
}

// AwaitOutcome blocks until the job's outcome is available. Returns
// (nil, nil) when the job is still processing after the wait.
func (s *WorkerService) AwaitOutcome(ctx context.Context, jobID string) (*AsyncOutcome, error) {
	if s.redis == nil {
		return nil, errors.New(errors.ErrInternal, "async processing requires Redis")
	}

	data, err := s.redis.BLPop(ctx, defaultAwaitTimeout, replyKeyPrefix+jobID)
	if err != nil {
		if err == redis.Nil {
			return nil, nil // still processing
		}
		return nil, errors.Wrap(errors.ErrDatabase, "failed to read job outcome", err)
	}

	var outcome AsyncOutcome
	if err := json.Unmarshal(data, &outcome); err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "failed to parse job outcome", err)
	}

	return &outcome, nil
}
