package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightclass/speech_service/internal/errors"
	"github.com/brightclass/speech_service/internal/recording"
	"github.com/brightclass/speech_service/internal/retry"
)

func TestUploadAnalysisMultipartBody(t *testing.T) {
	var (
		gotPath     string
		gotAuth     string
		gotFilename string
		gotAnalysis string
		gotProgress string
		gotAudio    []byte
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")

		require.NoError(t, r.ParseMultipartForm(10<<20))
		file, header, err := r.FormFile("audio_file")
		require.NoError(t, err)
		defer file.Close()

		gotFilename = header.Filename
		gotAudio, err = io.ReadAll(file)
		require.NoError(t, err)
		gotAnalysis = r.FormValue("analysis_json")
		gotProgress = r.FormValue("progress_id")

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"saved"}`))
	}))
	defer srv.Close()

	c := NewProgressClient(srv.URL)
	rec := &recording.Recording{Data: []byte("webm-bytes"), ContentType: "audio/webm;codecs=opus"}
	payload := AnalysisPayload{
		PronunciationScore: 87.5,
		AccuracyScore:      90,
		FluencyScore:       82.1,
		CompletenessScore:  100,
		OverallScore:       87.5,
		ProgressID:         "42",
	}

	respBody, err := c.UploadAnalysis(context.Background(), "tok-abc", 42, 7, rec, payload)
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/content-items/7/analysis", gotPath)
	assert.Equal(t, "Bearer tok-abc", gotAuth)
	assert.Equal(t, "recording.webm", gotFilename)
	assert.Equal(t, []byte("webm-bytes"), gotAudio)
	assert.Equal(t, "42", gotProgress)
	assert.Contains(t, gotAnalysis, `"progress_id":"42"`)
	assert.JSONEq(t, `{"status":"saved"}`, string(respBody))

	var decoded AnalysisPayload
	require.NoError(t, json.Unmarshal([]byte(gotAnalysis), &decoded))
	assert.Equal(t, payload, decoded)
}

func TestUploadAnalysisNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewProgressClient(srv.URL)
	_, err := c.UploadAnalysis(context.Background(), "t", 1, 2,
		&recording.Recording{Data: []byte("a")}, AnalysisPayload{ProgressID: "1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

// Three 500s then a 200: wrapped in the retry helper, the resolved value must
// be the 200 response's body.
func TestUploadAnalysisRetriedUntilSuccess(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= 3 {
			http.Error(w, "transient", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"saved","attempt":4}`))
	}))
	defer srv.Close()

	c := NewProgressClient(srv.URL)
	rec := &recording.Recording{Data: []byte("a"), ContentType: "audio/webm"}

	observed := 0
	body, err := retry.Do(context.Background(), func(ctx context.Context) (json.RawMessage, error) {
		return c.UploadAnalysis(ctx, "t", 42, 7, rec, AnalysisPayload{ProgressID: "42"})
	},
		retry.WithMaxAttempts(4),
		retry.WithBaseDelay(time.Millisecond),
		retry.WithObserver(func(attempt int, err error) { observed++ }),
	)

	require.NoError(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, 3, observed)
	assert.JSONEq(t, `{"status":"saved","attempt":4}`, string(body))
}

func TestUploadAnalysisExhaustsRetries(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewProgressClient(srv.URL)
	rec := &recording.Recording{Data: []byte("a")}

	_, err := retry.Do(context.Background(), func(ctx context.Context) (json.RawMessage, error) {
		return c.UploadAnalysis(ctx, "t", 1, 1, rec, AnalysisPayload{ProgressID: "1"})
	}, retry.WithMaxAttempts(4), retry.WithBaseDelay(time.Millisecond))

	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.True(t, errors.IsCode(err, errors.ErrUploadExhausted))
}
