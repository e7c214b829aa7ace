package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/brightclass/speech_service/internal/recording"
)

// AnalysisPayload is the analysis_json document attached to an upload. The
// progress id is string-encoded, matching what the platform backend expects.
type AnalysisPayload struct {
	PronunciationScore float64 `json:"pronunciation_score"`
	AccuracyScore      float64 `json:"accuracy_score"`
	FluencyScore       float64 `json:"fluency_score"`
	CompletenessScore  float64 `json:"completeness_score"`
	OverallScore       float64 `json:"overall_score"`
	ProgressID         string  `json:"progress_id"`
}

// ProgressClient uploads analyzed recordings to the platform backend. One
// call is one attempt; the caller owns the retry policy.
type ProgressClient struct {
	baseURL string
	client  *http.Client
}

// NewProgressClient creates a platform upload client.
func NewProgressClient(baseURL string) *ProgressClient {
	return &ProgressClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 120 * time.Second, // audio uploads can be large
		},
	}
}

// UploadAnalysis POSTs the recording and its analysis to the content item's
// analysis endpoint. The bearer token is supplied per call, never read from
// ambient state. Any non-2xx status is a failure. On success the raw JSON
// response body is returned.
func (c *ProgressClient) UploadAnalysis(
	ctx context.Context,
	token string,
	progressID, contentItemID int64,
	rec *recording.Recording,
	payload AnalysisPayload,
) (json.RawMessage, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("platform base URL not configured")
	}

	analysisJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal analysis payload: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("audio_file", rec.Filename())
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(rec.Data); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	_ = writer.WriteField("analysis_json", string(analysisJSON))
	_ = writer.WriteField("progress_id", strconv.FormatInt(progressID, 10))

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	uploadURL := fmt.Sprintf("%s/api/v1/content-items/%d/analysis", c.baseURL, contentItemID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("upload endpoint returned %d: %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}
