package service

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/brightclass/speech_service/internal/client"
	"github.com/brightclass/speech_service/internal/errors"
	"github.com/brightclass/speech_service/internal/metrics"
	"github.com/brightclass/speech_service/internal/recording"
	"github.com/brightclass/speech_service/internal/repository"
	"github.com/brightclass/speech_service/internal/retry"
)

// Scorer grades a recording against reference text.
type Scorer interface {
	Score(ctx context.Context, rec *recording.Recording, referenceText string) (*client.ScoreResult, error)
}

// ResultUploader delivers a finished analysis to the learning platform.
type ResultUploader interface {
	UploadAnalysis(ctx context.Context, token string, progressID, contentItemID int64, rec *recording.Recording, payload client.AnalysisPayload) (json.RawMessage, error)
}

// Archiver stores a copy of the learner's recording.
type Archiver interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Notifier receives user-facing failure notifications as a short headline
// plus a detailed message.
type Notifier interface {
	Notify(short, detail string)
}

// BusyState reflects what the pipeline is doing right now.
type BusyState struct {
	Busy    bool   `json:"busy"`
	Message string `json:"message,omitempty"`
}

// AnalyzeRequest describes one analysis run. The audio arrives either as a
// handle to dereference or as an inline Recording when the caller uploaded
// the bytes directly; inline audio rides the async queue with the request.
type AnalyzeRequest struct {
	Handle        string               `json:"handle,omitempty"`
	Recording     *recording.Recording `json:"recording,omitempty"`
	ReferenceText string               `json:"reference_text"`
	ProgressID    *int64               `json:"progress_id,omitempty"`
	ContentItemID *int64               `json:"content_item_id,omitempty"`
	Preview       bool                 `json:"preview"`

	// Bearer credential for result delivery. Never serialized; async runs
	// fall back to the configured service token.
	Token string `json:"-"`
}

// AnalysisResult is the normalized outcome of a successful run. The
// recognized text is intentionally always empty: callers get scores and
// feedback, never a transcript.
type AnalysisResult struct {
	AnalysisID         string             `json:"analysis_id"`
	RecognizedText     string             `json:"recognized_text"`
	PronunciationScore float64            `json:"pronunciation_score"`
	AccuracyScore      float64            `json:"accuracy_score"`
	FluencyScore       float64            `json:"fluency_score"`
	CompletenessScore  float64            `json:"completeness_score"`
	OverallScore       float64            `json:"overall_score"`
	Words              []client.WordScore `json:"words,omitempty"`
	AnalysisSummary    string             `json:"analysis_summary,omitempty"`
	AudioURL           string             `json:"audio_url,omitempty"`
	Uploaded           bool               `json:"uploaded"`
	UploadResponse     json.RawMessage    `json:"upload_response,omitempty"`
}

// AnalysisService orchestrates the full pipeline: resolve the recording,
// score it, optionally archive it, and deliver the result to the platform.
type AnalysisService struct {
	source   recording.Source
	scorer   Scorer
	attempts repository.AttemptRepository
	status   *StatusService
	log      zerolog.Logger

	uploader     ResultUploader
	serviceToken string
	feedback     *FeedbackService
	archiver     Archiver
	pubsub       *client.PubSubClient
	notifier     Notifier

	retryAttempts int
	retryDelay    time.Duration

	mu   sync.Mutex
	busy BusyState
}

// NewAnalysisService creates a new AnalysisService.
func NewAnalysisService(
	source recording.Source,
	scorer Scorer,
	attempts repository.AttemptRepository,
	status *StatusService,
	log zerolog.Logger,
) *AnalysisService {
	return &AnalysisService{
		source:        source,
		scorer:        scorer,
		attempts:      attempts,
		status:        status,
		log:           log,
		retryAttempts: retry.DefaultMaxAttempts,
		retryDelay:    retry.DefaultBaseDelay,
	}
}

// WithUploader attaches the platform delivery client and the service token
// used when a request carries no credential of its own.
func (s *AnalysisService) WithUploader(uploader ResultUploader, serviceToken string) *AnalysisService {
	s.uploader = uploader
	s.serviceToken = serviceToken
	return s
}

// WithFeedback attaches the AI feedback generator.
func (s *AnalysisService) WithFeedback(feedback *FeedbackService) *AnalysisService {
	s.feedback = feedback
	return s
}

// WithArchiver attaches recording archive storage.
func (s *AnalysisService) WithArchiver(archiver Archiver) *AnalysisService {
	s.archiver = archiver
	return s
}

// WithPubSub attaches the completion event publisher.
func (s *AnalysisService) WithPubSub(pubsub *client.PubSubClient) *AnalysisService {
	s.pubsub = pubsub
	return s
}

// WithNotifier attaches the user notification seam.
func (s *AnalysisService) WithNotifier(notifier Notifier) *AnalysisService {
	s.notifier = notifier
	return s
}

// WithRetryPolicy overrides the delivery retry budget.
func (s *AnalysisService) WithRetryPolicy(maxAttempts int, baseDelay time.Duration) *AnalysisService {
	s.retryAttempts = maxAttempts
	s.retryDelay = baseDelay
	return s
}

// Busy returns the current busy indicator. Writes are last-writer-wins;
// callers wanting single-flight must serialize AnalyzeAndUpload themselves.
func (s *AnalysisService) Busy() BusyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

func (s *AnalysisService) setBusy(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = BusyState{Busy: true, Message: message}
}

func (s *AnalysisService) clearBusy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = BusyState{}
}

// AnalyzeAndUpload runs the whole pipeline for one request. On failure the
// result is absent: callers get a nil result and the pipeline error. The
// busy indicator is always cleared, whatever path the run takes.
func (s *AnalysisService) AnalyzeAndUpload(ctx context.Context, req AnalyzeRequest) (*AnalysisResult, error) {
	s.setBusy(repository.AttemptStageScoring)
	defer s.clearBusy()

	attempt := &repository.Attempt{
		ProgressID:    req.ProgressID,
		ContentItemID: req.ContentItemID,
		ReferenceText: req.ReferenceText,
		Preview:       req.Preview,
		Status:        repository.AttemptStatusProcessing,
		Stage:         repository.AttemptStageScoring,
	}
	persisted := true
	if err := s.attempts.Create(ctx, attempt); err != nil {
		s.log.Error().Err(err).Msg("Failed to persist attempt, continuing without persistence")
		attempt.ID = uuid.New()
		persisted = false
	}
	analysisID := attempt.ID.String()
	log := s.log.With().Str("analysis_id", analysisID).Logger()

	s.trackStatus(ctx, analysisID, repository.AttemptStatusProcessing, repository.AttemptStageScoring, "")

	// Inline uploads skip resolution; otherwise dereference the handle.
	rec := req.Recording
	if rec == nil {
		resolved, err := s.source.Resolve(ctx, req.Handle)
		if err != nil {
			log.Error().Err(err).Str("handle", req.Handle).Msg("Recording unavailable")
			s.failRun(ctx, persisted, attempt.ID, repository.AttemptStageScoring, err,
				"We couldn't load your recording.")
			metrics.AnalysesTotal.WithLabelValues("failed_recording").Inc()
			return nil, err
		}
		rec = resolved
	}

	// Score it.
	scoreStart := time.Now()
	scored, err := s.scorer.Score(ctx, rec, req.ReferenceText)
	metrics.ScoringDuration.Observe(time.Since(scoreStart).Seconds())
	if err != nil {
		log.Error().Err(err).Msg("Scoring failed")
		s.failRun(ctx, persisted, attempt.ID, repository.AttemptStageScoring, err,
			"We couldn't score your recording.")
		metrics.AnalysesTotal.WithLabelValues("failed_scoring").Inc()
		return nil, err
	}

	log.Info().
		Float64("pronunciation", scored.PronunciationScore).
		Float64("accuracy", scored.AccuracyScore).
		Float64("fluency", scored.FluencyScore).
		Float64("completeness", scored.CompletenessScore).
		Msg("Recording scored")

	// Generate a feedback summary when the scorer didn't provide one.
	summary := scored.AnalysisSummary
	if summary == "" && s.feedback != nil {
		generated, err := s.feedback.Summarize(ctx, scored, req.ReferenceText)
		if err != nil {
			log.Warn().Err(err).Msg("Feedback generation failed, continuing without summary")
		} else {
			summary = generated
		}
	}

	// Archive the recording. Best effort, the run succeeds without it.
	var audioURL string
	if s.archiver != nil {
		key := "recordings/" + analysisID + rec.Ext()
		url, err := s.archiver.Put(ctx, key, rec.Data, rec.ContentType)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Recording archive failed, continuing")
		} else {
			audioURL = url
		}
	}

	result := &AnalysisResult{
		AnalysisID:         analysisID,
		RecognizedText:     "",
		PronunciationScore: scored.PronunciationScore,
		AccuracyScore:      scored.AccuracyScore,
		FluencyScore:       scored.FluencyScore,
		CompletenessScore:  scored.CompletenessScore,
		OverallScore:       scored.PronunciationScore,
		Words:              scored.Words,
		AnalysisSummary:    summary,
		AudioURL:           audioURL,
	}

	// Deliver the result unless this is a preview or the target is incomplete.
	if req.Preview {
		log.Debug().Msg("Preview run, skipping delivery")
		metrics.UploadsSkippedTotal.WithLabelValues("preview").Inc()
	} else if progressID, contentItemID, token, ok := s.uploadTarget(req); !ok {
		log.Debug().Msg("Delivery target incomplete, skipping delivery")
		metrics.UploadsSkippedTotal.WithLabelValues("incomplete_target").Inc()
	} else {
		s.setBusy(repository.AttemptStageUploading)
		if persisted {
			if err := s.attempts.UpdateStage(ctx, attempt.ID, repository.AttemptStageUploading); err != nil {
				log.Warn().Err(err).Msg("Failed to update attempt stage")
			}
		}
		s.trackStatus(ctx, analysisID, repository.AttemptStatusProcessing, repository.AttemptStageUploading, "")

		payload := client.AnalysisPayload{
			PronunciationScore: scored.PronunciationScore,
			AccuracyScore:      scored.AccuracyScore,
			FluencyScore:       scored.FluencyScore,
			CompletenessScore:  scored.CompletenessScore,
			OverallScore:       scored.PronunciationScore,
			ProgressID:         strconv.FormatInt(progressID, 10),
		}

		body, err := retry.Do(ctx, func(ctx context.Context) (json.RawMessage, error) {
			return s.uploader.UploadAnalysis(ctx, token, progressID, contentItemID, rec, payload)
		},
			retry.WithMaxAttempts(s.retryAttempts),
			retry.WithBaseDelay(s.retryDelay),
			retry.WithObserver(func(attempt int, err error) {
				metrics.UploadAttemptsTotal.WithLabelValues("failure").Inc()
				log.Warn().Int("attempt", attempt).Err(err).Msg("Result delivery attempt failed")
			}),
		)
		if err != nil {
			log.Error().Err(err).Msg("Result delivery exhausted")
			s.failRun(ctx, persisted, attempt.ID, repository.AttemptStageUploading, err,
				"We couldn't save your results.")
			metrics.AnalysesTotal.WithLabelValues("failed_upload").Inc()
			return nil, err
		}

		metrics.UploadAttemptsTotal.WithLabelValues("success").Inc()
		result.Uploaded = true
		result.UploadResponse = body
	}

	if persisted {
		words, err := json.Marshal(scored.Words)
		if err != nil {
			words = nil
		}
		completeErr := s.attempts.Complete(ctx, attempt.ID, repository.AttemptScores{
			Pronunciation: scored.PronunciationScore,
			Accuracy:      scored.AccuracyScore,
			Fluency:       scored.FluencyScore,
			Completeness:  scored.CompletenessScore,
		}, words, summary, audioURL)
		if completeErr != nil {
			log.Warn().Err(completeErr).Msg("Failed to mark attempt completed")
		}
	}
	s.trackStatus(ctx, analysisID, repository.AttemptStatusCompleted, repository.AttemptStageDone, "")
	s.publishCompleted(ctx, result)
	metrics.AnalysesTotal.WithLabelValues("completed").Inc()

	log.Info().Bool("uploaded", result.Uploaded).Msg("Analysis completed")
	return result, nil
}

// uploadTarget reports whether the request names a complete delivery target
// and, if so, which one. An incomplete target is never uploaded to.
func (s *AnalysisService) uploadTarget(req AnalyzeRequest) (progressID, contentItemID int64, token string, ok bool) {
	if s.uploader == nil || req.ProgressID == nil || req.ContentItemID == nil {
		return 0, 0, "", false
	}
	token = req.Token
	if token == "" {
		token = s.serviceToken
	}
	if token == "" {
		return 0, 0, "", false
	}
	return *req.ProgressID, *req.ContentItemID, token, true
}

// failRun records a failed attempt everywhere it is visible: repository,
// status tracker, and the user notification seam.
func (s *AnalysisService) failRun(ctx context.Context, persisted bool, id uuid.UUID, stage string, cause error, short string) {
	if persisted {
		if err := s.attempts.Fail(ctx, id, stage, cause.Error()); err != nil {
			s.log.Warn().Err(err).Str("analysis_id", id.String()).Msg("Failed to mark attempt failed")
		}
	}
	s.trackStatus(ctx, id.String(), repository.AttemptStatusFailed, stage, cause.Error())
	if s.notifier != nil {
		s.notifier.Notify(short, cause.Error())
	}
}

func (s *AnalysisService) trackStatus(ctx context.Context, analysisID, status, stage, errMsg string) {
	if s.status == nil {
		return
	}
	if err := s.status.Set(ctx, analysisID, status, stage, errMsg); err != nil {
		s.log.Warn().Err(err).Str("analysis_id", analysisID).Msg("Failed to track analysis status")
	}
}

// publishCompleted emits an analysis.completed event. Best effort.
func (s *AnalysisService) publishCompleted(ctx context.Context, result *AnalysisResult) {
	if s.pubsub == nil {
		return
	}
	event := map[string]interface{}{
		"analysis_id":         result.AnalysisID,
		"pronunciation_score": result.PronunciationScore,
		"accuracy_score":      result.AccuracyScore,
		"fluency_score":       result.FluencyScore,
		"completeness_score":  result.CompletenessScore,
		"overall_score":       result.OverallScore,
		"uploaded":            result.Uploaded,
	}
	if err := s.pubsub.Publish(ctx, event, map[string]string{"event": "analysis.completed"}); err != nil {
		s.log.Warn().Err(err).Str("analysis_id", result.AnalysisID).Msg("Failed to publish completion event")
	}
}

// GetAttempt returns a stored attempt by ID.
func (s *AnalysisService) GetAttempt(ctx context.Context, id uuid.UUID) (*repository.Attempt, error) {
	attempt, err := s.attempts.GetByID(ctx, id)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, errors.NotFound("analysis")
		}
		return nil, errors.DatabaseWrap("failed to load analysis", err)
	}
	return attempt, nil
}

// ListAttempts returns recent attempts for a progress record.
func (s *AnalysisService) ListAttempts(ctx context.Context, progressID int64, limit int) ([]*repository.Attempt, error) {
	attempts, err := s.attempts.ListByProgress(ctx, progressID, limit)
	if err != nil {
		return nil, errors.DatabaseWrap("failed to list analyses", err)
	}
	return attempts, nil
}
