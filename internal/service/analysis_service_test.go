package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightclass/speech_service/internal/client"
	"github.com/brightclass/speech_service/internal/errors"
	"github.com/brightclass/speech_service/internal/recording"
	"github.com/brightclass/speech_service/internal/repository"
)

type fakeSource struct {
	rec   *recording.Recording
	err   error
	calls int
}

func (f *fakeSource) Resolve(ctx context.Context, handle string) (*recording.Recording, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.rec, nil
}

type fakeScorer struct {
	result *client.ScoreResult
	err    error
	calls  int
	gotRec *recording.Recording
	hook   func()
}

func (f *fakeScorer) Score(ctx context.Context, rec *recording.Recording, referenceText string) (*client.ScoreResult, error) {
	f.calls++
	f.gotRec = rec
	if f.hook != nil {
		f.hook()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeUploader struct {
	failures int
	err      error
	body     json.RawMessage
	calls    int
	hook     func()
}

func (f *fakeUploader) UploadAnalysis(ctx context.Context, token string, progressID, contentItemID int64, rec *recording.Recording, payload client.AnalysisPayload) (json.RawMessage, error) {
	f.calls++
	if f.hook != nil {
		f.hook()
	}
	if f.calls <= f.failures {
		if f.err != nil {
			return nil, f.err
		}
		return nil, fmt.Errorf("upload failed with status 500")
	}
	if f.body != nil {
		return f.body, nil
	}
	return json.RawMessage(`{"status":"saved"}`), nil
}

type fakeArchiver struct {
	err   error
	calls int
	key   string
}

func (f *fakeArchiver) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	f.calls++
	f.key = key
	if f.err != nil {
		return "", f.err
	}
	return "gs://recordings/" + key, nil
}

type captureNotifier struct {
	shorts  []string
	details []string
}

func (n *captureNotifier) Notify(short, detail string) {
	n.shorts = append(n.shorts, short)
	n.details = append(n.details, detail)
}

type statusRecorder struct {
	snapshots []AnalysisStatus
}

func (r *statusRecorder) NotifyStatus(status *AnalysisStatus) {
	r.snapshots = append(r.snapshots, *status)
}

func i64(v int64) *int64 { return &v }

func goodScore() *client.ScoreResult {
	return &client.ScoreResult{
		PronunciationScore: 88.5,
		AccuracyScore:      91,
		FluencyScore:       85,
		CompletenessScore:  100,
		Words: []client.WordScore{
			{Word: "the", AccuracyScore: 95},
			{Word: "fox", AccuracyScore: 82},
		},
	}
}

func webmRecording() *recording.Recording {
	return &recording.Recording{
		Data:        []byte("webm-audio-bytes"),
		ContentType: "video/webm;codecs=opus",
	}
}

func completeRequest() AnalyzeRequest {
	return AnalyzeRequest{
		Handle:        "https://media.brightclass.io/rec/abc",
		ReferenceText: "the quick brown fox",
		ProgressID:    i64(42),
		ContentItemID: i64(7),
		Token:         "tok-123",
	}
}

func newTestService(source recording.Source, scorer Scorer) (*AnalysisService, *statusRecorder) {
	recorder := &statusRecorder{}
	status := NewStatusService(nil, zerolog.Nop()).WithNotifier(recorder)
	svc := NewAnalysisService(source, scorer, repository.NewInMemoryAttemptRepository(), status, zerolog.Nop()).
		WithRetryPolicy(4, time.Millisecond)
	return svc, recorder
}

func TestAnalyzeAndUploadSuccess(t *testing.T) {
	source := &fakeSource{rec: webmRecording()}
	scorer := &fakeScorer{result: goodScore()}
	uploader := &fakeUploader{body: json.RawMessage(`{"status":"saved","id":99}`)}

	svc, recorder := newTestService(source, scorer)
	svc.WithUploader(uploader, "")

	result, err := svc.AnalyzeAndUpload(context.Background(), completeRequest())
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, "", result.RecognizedText)
	assert.Equal(t, 88.5, result.PronunciationScore)
	assert.Equal(t, 88.5, result.OverallScore)
	assert.True(t, result.Uploaded)
	assert.JSONEq(t, `{"status":"saved","id":99}`, string(result.UploadResponse))
	assert.Equal(t, 1, uploader.calls)

	for _, score := range []float64{result.PronunciationScore, result.AccuracyScore, result.FluencyScore, result.CompletenessScore, result.OverallScore} {
		assert.GreaterOrEqual(t, score, 0.0)
		assert.LessOrEqual(t, score, 100.0)
	}

	assert.False(t, svc.Busy().Busy)

	// Status walked scoring -> uploading -> done.
	require.Len(t, recorder.snapshots, 3)
	assert.Equal(t, repository.AttemptStageScoring, recorder.snapshots[0].Stage)
	assert.Equal(t, repository.AttemptStageUploading, recorder.snapshots[1].Stage)
	assert.Equal(t, repository.AttemptStatusCompleted, recorder.snapshots[2].Status)
	assert.Equal(t, repository.AttemptStageDone, recorder.snapshots[2].Stage)
}

func TestAnalyzeAndUploadInlineRecording(t *testing.T) {
	source := &fakeSource{err: errors.RecordingUnavailable("", nil)}
	scorer := &fakeScorer{result: goodScore()}
	uploader := &fakeUploader{}

	svc, _ := newTestService(source, scorer)
	svc.WithUploader(uploader, "svc-token")

	req := completeRequest()
	req.Handle = ""
	req.Recording = webmRecording()

	result, err := svc.AnalyzeAndUpload(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, result)

	// The inline bytes go straight to the scorer; no handle is resolved.
	assert.Equal(t, 0, source.calls)
	require.NotNil(t, scorer.gotRec)
	assert.Equal(t, webmRecording().Data, scorer.gotRec.Data)
	assert.True(t, result.Uploaded)
}

func TestAnalyzeAndUploadPersistsAttempt(t *testing.T) {
	source := &fakeSource{rec: webmRecording()}
	scorer := &fakeScorer{result: goodScore()}
	repo := repository.NewInMemoryAttemptRepository()

	svc := NewAnalysisService(source, scorer, repo, NewStatusService(nil, zerolog.Nop()), zerolog.Nop()).
		WithRetryPolicy(4, time.Millisecond).
		WithUploader(&fakeUploader{}, "svc-token")

	result, err := svc.AnalyzeAndUpload(context.Background(), completeRequest())
	require.NoError(t, err)

	attempts, err := repo.ListByProgress(context.Background(), 42, 10)
	require.NoError(t, err)
	require.Len(t, attempts, 1)

	got := attempts[0]
	assert.Equal(t, result.AnalysisID, got.ID.String())
	assert.Equal(t, repository.AttemptStatusCompleted, got.Status)
	assert.Equal(t, repository.AttemptStageDone, got.Stage)
	require.NotNil(t, got.PronunciationScore)
	assert.Equal(t, 88.5, *got.PronunciationScore)

	var words []client.WordScore
	require.NoError(t, json.Unmarshal(got.Words, &words))
	assert.Len(t, words, 2)
}

func TestAnalyzeAndUploadPreviewSkipsDelivery(t *testing.T) {
	source := &fakeSource{rec: webmRecording()}
	scorer := &fakeScorer{result: goodScore()}
	uploader := &fakeUploader{}

	svc, _ := newTestService(source, scorer)
	svc.WithUploader(uploader, "svc-token")

	req := completeRequest()
	req.Preview = true

	result, err := svc.AnalyzeAndUpload(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, 0, uploader.calls)
	assert.False(t, result.Uploaded)
	assert.Nil(t, result.UploadResponse)
}

func TestAnalyzeAndUploadIncompleteTargetSkips(t *testing.T) {
	tests := []struct {
		name   string
		mangle func(*AnalyzeRequest, *AnalysisService)
	}{
		{"missing progress id", func(r *AnalyzeRequest, s *AnalysisService) { r.ProgressID = nil }},
		{"missing content item id", func(r *AnalyzeRequest, s *AnalysisService) { r.ContentItemID = nil }},
		{"no credential anywhere", func(r *AnalyzeRequest, s *AnalysisService) { r.Token = ""; s.serviceToken = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &fakeSource{rec: webmRecording()}
			scorer := &fakeScorer{result: goodScore()}
			uploader := &fakeUploader{}
			notifier := &captureNotifier{}

			svc, _ := newTestService(source, scorer)
			svc.WithUploader(uploader, "svc-token").WithNotifier(notifier)

			req := completeRequest()
			tt.mangle(&req, svc)

			result, err := svc.AnalyzeAndUpload(context.Background(), req)
			require.NoError(t, err)
			require.NotNil(t, result)

			assert.Equal(t, 0, uploader.calls)
			assert.False(t, result.Uploaded)
			assert.Empty(t, notifier.shorts)
		})
	}
}

func TestAnalyzeAndUploadRecordingUnavailable(t *testing.T) {
	source := &fakeSource{err: errors.RecordingUnavailable("https://media/rec", fmt.Errorf("status 404"))}
	scorer := &fakeScorer{}
	uploader := &fakeUploader{}
	notifier := &captureNotifier{}

	svc, recorder := newTestService(source, scorer)
	svc.WithUploader(uploader, "svc-token").WithNotifier(notifier)

	result, err := svc.AnalyzeAndUpload(context.Background(), completeRequest())
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, errors.IsCode(err, errors.ErrRecordingUnavailable))

	assert.Equal(t, 0, scorer.calls)
	assert.Equal(t, 0, uploader.calls)
	assert.False(t, svc.Busy().Busy)

	require.Len(t, notifier.shorts, 1)
	assert.Equal(t, "We couldn't load your recording.", notifier.shorts[0])
	assert.NotEmpty(t, notifier.details[0])

	last := recorder.snapshots[len(recorder.snapshots)-1]
	assert.Equal(t, repository.AttemptStatusFailed, last.Status)
	assert.Equal(t, repository.AttemptStageScoring, last.Stage)
}

func TestAnalyzeAndUploadScoringFailureSkipsDelivery(t *testing.T) {
	source := &fakeSource{rec: webmRecording()}
	scorer := &fakeScorer{err: errors.ScoringFailed("scoring service returned no results", nil)}
	uploader := &fakeUploader{}
	notifier := &captureNotifier{}
	repo := repository.NewInMemoryAttemptRepository()

	svc := NewAnalysisService(source, scorer, repo, NewStatusService(nil, zerolog.Nop()), zerolog.Nop()).
		WithRetryPolicy(4, time.Millisecond).
		WithUploader(uploader, "svc-token").
		WithNotifier(notifier)

	result, err := svc.AnalyzeAndUpload(context.Background(), completeRequest())
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, errors.IsCode(err, errors.ErrScoring))

	assert.Equal(t, 0, uploader.calls)
	assert.False(t, svc.Busy().Busy)
	require.Len(t, notifier.shorts, 1)
	assert.Equal(t, "We couldn't score your recording.", notifier.shorts[0])

	attempts, err := repo.ListByProgress(context.Background(), 42, 10)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, repository.AttemptStatusFailed, attempts[0].Status)
	assert.Equal(t, repository.AttemptStageScoring, attempts[0].Stage)
	assert.NotEmpty(t, attempts[0].Error)
}

func TestAnalyzeAndUploadRetriesThenSucceeds(t *testing.T) {
	source := &fakeSource{rec: webmRecording()}
	scorer := &fakeScorer{result: goodScore()}
	uploader := &fakeUploader{failures: 2, body: json.RawMessage(`{"status":"saved","attempt":3}`)}

	svc, _ := newTestService(source, scorer)
	svc.WithUploader(uploader, "svc-token")

	result, err := svc.AnalyzeAndUpload(context.Background(), completeRequest())
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, 3, uploader.calls)
	assert.True(t, result.Uploaded)
	assert.JSONEq(t, `{"status":"saved","attempt":3}`, string(result.UploadResponse))
}

func TestAnalyzeAndUploadDeliveryExhausted(t *testing.T) {
	lastErr := fmt.Errorf("upload failed with status 503")
	source := &fakeSource{rec: webmRecording()}
	scorer := &fakeScorer{result: goodScore()}
	uploader := &fakeUploader{failures: 100, err: lastErr}
	notifier := &captureNotifier{}
	repo := repository.NewInMemoryAttemptRepository()

	svc := NewAnalysisService(source, scorer, repo, NewStatusService(nil, zerolog.Nop()), zerolog.Nop()).
		WithRetryPolicy(4, time.Millisecond).
		WithUploader(uploader, "svc-token").
		WithNotifier(notifier)

	result, err := svc.AnalyzeAndUpload(context.Background(), completeRequest())
	require.Error(t, err)
	assert.Nil(t, result)

	assert.Equal(t, 4, uploader.calls)
	assert.True(t, errors.IsCode(err, errors.ErrUploadExhausted))
	assert.ErrorIs(t, err, lastErr)
	assert.False(t, svc.Busy().Busy)

	require.Len(t, notifier.shorts, 1)
	assert.Equal(t, "We couldn't save your results.", notifier.shorts[0])

	attempts, listErr := repo.ListByProgress(context.Background(), 42, 10)
	require.NoError(t, listErr)
	require.Len(t, attempts, 1)
	assert.Equal(t, repository.AttemptStatusFailed, attempts[0].Status)
	assert.Equal(t, repository.AttemptStageUploading, attempts[0].Stage)
}

func TestAnalyzeAndUploadMultipartDelivery(t *testing.T) {
	audio := []byte("webm-audio-bytes")
	var gotPath, gotAuth, gotFilename, gotProgressField string
	var gotAudio []byte
	var gotPayload map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, r.ParseMultipartForm(32<<20))

		file, header, err := r.FormFile("audio_file")
		require.NoError(t, err)
		defer file.Close()
		gotFilename = header.Filename
		gotAudio, _ = io.ReadAll(file)

		gotProgressField = r.FormValue("progress_id")
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("analysis_json")), &gotPayload))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"saved"}`)
	}))
	defer srv.Close()

	source := &fakeSource{rec: &recording.Recording{Data: audio, ContentType: "video/webm;codecs=opus"}}
	scorer := &fakeScorer{result: goodScore()}

	svc, _ := newTestService(source, scorer)
	svc.WithUploader(client.NewProgressClient(srv.URL), "")

	result, err := svc.AnalyzeAndUpload(context.Background(), completeRequest())
	require.NoError(t, err)
	assert.True(t, result.Uploaded)

	assert.Equal(t, "/api/v1/content-items/7/analysis", gotPath)
	assert.Equal(t, "Bearer tok-123", gotAuth)
	assert.Equal(t, "recording.webm", gotFilename)
	assert.Equal(t, audio, gotAudio)
	assert.Equal(t, "42", gotProgressField)

	assert.Equal(t, "42", gotPayload["progress_id"])
	for _, key := range []string{"pronunciation_score", "accuracy_score", "fluency_score", "completeness_score", "overall_score"} {
		assert.Contains(t, gotPayload, key)
	}
	assert.Equal(t, gotPayload["overall_score"], gotPayload["pronunciation_score"])
}

func TestAnalyzeAndUploadIdempotentRuns(t *testing.T) {
	source := &fakeSource{rec: webmRecording()}
	scorer := &fakeScorer{result: goodScore()}
	uploader := &fakeUploader{}
	repo := repository.NewInMemoryAttemptRepository()

	svc := NewAnalysisService(source, scorer, repo, NewStatusService(nil, zerolog.Nop()), zerolog.Nop()).
		WithRetryPolicy(4, time.Millisecond).
		WithUploader(uploader, "svc-token")

	first, err := svc.AnalyzeAndUpload(context.Background(), completeRequest())
	require.NoError(t, err)
	second, err := svc.AnalyzeAndUpload(context.Background(), completeRequest())
	require.NoError(t, err)

	assert.Equal(t, first.PronunciationScore, second.PronunciationScore)
	assert.Equal(t, first.OverallScore, second.OverallScore)
	assert.Equal(t, first.RecognizedText, second.RecognizedText)
	assert.NotEqual(t, first.AnalysisID, second.AnalysisID)
	assert.Equal(t, 2, uploader.calls)

	attempts, err := repo.ListByProgress(context.Background(), 42, 10)
	require.NoError(t, err)
	assert.Len(t, attempts, 2)
}

func TestBusyIndicatorDuringRun(t *testing.T) {
	source := &fakeSource{rec: webmRecording()}
	scorer := &fakeScorer{result: goodScore()}
	uploader := &fakeUploader{}

	svc, _ := newTestService(source, scorer)
	svc.WithUploader(uploader, "svc-token")

	var duringScoring, duringUpload BusyState
	scorer.hook = func() { duringScoring = svc.Busy() }
	uploader.hook = func() { duringUpload = svc.Busy() }

	_, err := svc.AnalyzeAndUpload(context.Background(), completeRequest())
	require.NoError(t, err)

	assert.Equal(t, BusyState{Busy: true, Message: "scoring"}, duringScoring)
	assert.Equal(t, BusyState{Busy: true, Message: "uploading"}, duringUpload)
	assert.Equal(t, BusyState{}, svc.Busy())
}

func TestAnalyzeAndUploadArchiveFailureIsNonFatal(t *testing.T) {
	source := &fakeSource{rec: webmRecording()}
	scorer := &fakeScorer{result: goodScore()}
	archiver := &fakeArchiver{err: fmt.Errorf("bucket unavailable")}

	svc, _ := newTestService(source, scorer)
	svc.WithArchiver(archiver)

	req := completeRequest()
	req.Preview = true

	result, err := svc.AnalyzeAndUpload(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 1, archiver.calls)
	assert.Empty(t, result.AudioURL)
}

func TestAnalyzeAndUploadArchivesRecording(t *testing.T) {
	source := &fakeSource{rec: webmRecording()}
	scorer := &fakeScorer{result: goodScore()}
	archiver := &fakeArchiver{}

	svc, _ := newTestService(source, scorer)
	svc.WithArchiver(archiver)

	req := completeRequest()
	req.Preview = true

	result, err := svc.AnalyzeAndUpload(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "recordings/"+result.AnalysisID+".webm", archiver.key)
	assert.Equal(t, "gs://recordings/"+archiver.key, result.AudioURL)
}

func TestAnalyzeAndUploadFillsSummaryFromFeedback(t *testing.T) {
	source := &fakeSource{rec: webmRecording()}
	scorer := &fakeScorer{result: goodScore()}

	feedback := &FeedbackService{log: zerolog.Nop()}
	feedback.providers = append(feedback.providers, feedbackProvider{
		name: "test",
		chat: func(ctx context.Context, prompt string) (string, error) {
			return "Nice pacing, work on 'fox'.", nil
		},
	})

	svc, _ := newTestService(source, scorer)
	svc.WithFeedback(feedback)

	req := completeRequest()
	req.Preview = true

	result, err := svc.AnalyzeAndUpload(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Nice pacing, work on 'fox'.", result.AnalysisSummary)
}

func TestGetAttemptNotFound(t *testing.T) {
	svc, _ := newTestService(&fakeSource{}, &fakeScorer{})

	_, err := svc.GetAttempt(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrNotFound))
}
