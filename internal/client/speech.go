package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/brightclass/speech_service/internal/errors"
	"github.com/brightclass/speech_service/internal/recording"
)

// defaultAudioContentType is sent when a recording carries no declared type.
const defaultAudioContentType = "audio/wav; codecs=audio/pcm; samplerate=16000"

// WordScore is one word-level entry of a pronunciation assessment.
type WordScore struct {
	Word          string  `json:"word"`
	AccuracyScore float64 `json:"accuracy_score"`
	ErrorType     string  `json:"error_type,omitempty"`
}

// ScoreResult is the normalized output of one scoring call. All four
// aggregate scores are hundred-mark values.
type ScoreResult struct {
	PronunciationScore float64         `json:"pronunciation_score"`
	AccuracyScore      float64         `json:"accuracy_score"`
	FluencyScore       float64         `json:"fluency_score"`
	CompletenessScore  float64         `json:"completeness_score"`
	Words              []WordScore     `json:"words"`
	AnalysisSummary    string          `json:"analysis_summary,omitempty"`
	DetailedWords      json.RawMessage `json:"detailed_words,omitempty"`
}

// SpeechClient calls the pronunciation assessment REST API. It performs a
// single request per Score call; retry policy belongs to the caller.
type SpeechClient struct {
	apiKey   string
	region   string
	endpoint string
	language string
	limiter  *rate.Limiter
	client   *http.Client
}

// NewSpeechClient creates a pronunciation scoring client. rps bounds the
// outbound request rate; zero or negative disables the limiter.
func NewSpeechClient(apiKey, region, language string, rps float64) *SpeechClient {
	var limiter *rate.Limiter
	if rps > 0 {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}

	return &SpeechClient{
		apiKey:   apiKey,
		region:   region,
		language: language,
		limiter:  limiter,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithEndpoint overrides the region-derived service URL. Used for staging
// deployments and tests.
func (c *SpeechClient) WithEndpoint(endpoint string) *SpeechClient {
	c.endpoint = endpoint
	return c
}

// speechResponse mirrors the detailed-format assessment payload.
type speechResponse struct {
	RecognitionStatus string       `json:"RecognitionStatus"`
	NBest             []nbestEntry `json:"NBest"`
}

type nbestEntry struct {
	PronScore         float64         `json:"PronScore"`
	AccuracyScore     float64         `json:"AccuracyScore"`
	FluencyScore      float64         `json:"FluencyScore"`
	CompletenessScore float64         `json:"CompletenessScore"`
	Words             json.RawMessage `json:"Words"`
}

type nbestWord struct {
	Word          string  `json:"Word"`
	AccuracyScore float64 `json:"AccuracyScore"`
	ErrorType     string  `json:"ErrorType"`
}

// Score sends one recording with its reference text for assessment and
// returns the normalized result. Failures are reported with code
// SCORING_FAILED whether the service was unreachable, answered non-200,
// returned a malformed payload, or recognized nothing.
func (c *SpeechClient) Score(ctx context.Context, rec *recording.Recording, referenceText string) (*ScoreResult, error) {
	if rec == nil || len(rec.Data) == 0 {
		return nil, errors.Validation("audio payload is empty")
	}
	if referenceText == "" {
		return nil, errors.Validation("reference text is empty")
	}
	if c.apiKey == "" && c.endpoint == "" {
		return nil, errors.ScoringFailed("pronunciation service not configured", nil)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errors.ScoringFailed("rate limiter interrupted", err)
		}
	}

	endpoint := c.endpoint
	if endpoint == "" {
		u := url.URL{
			Scheme: "https",
			Host:   fmt.Sprintf("%s.stt.speech.microsoft.com", c.region),
			Path:   "/speech/recognition/conversation/cognitiveservices/v1",
		}
		endpoint = u.String()
	}

	reqURL, err := url.Parse(endpoint)
	if err != nil {
		return nil, errors.ScoringFailed("invalid service endpoint", err)
	}
	q := reqURL.Query()
	q.Set("language", c.language)
	q.Set("format", "detailed")
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL.String(), bytes.NewReader(rec.Data))
	if err != nil {
		return nil, errors.ScoringFailed("failed to create request", err)
	}

	assessment := map[string]interface{}{
		"ReferenceText": referenceText,
		"GradingSystem": "HundredMark",
		"Granularity":   "Word",
		"EnableMiscue":  true,
		"Dimension":     "Comprehensive",
	}
	assessmentJSON, err := json.Marshal(assessment)
	if err != nil {
		return nil, errors.ScoringFailed("failed to marshal assessment params", err)
	}
	req.Header.Set("Pronunciation-Assessment", base64.StdEncoding.EncodeToString(assessmentJSON))
	req.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)
	req.Header.Set("Accept", "application/json;text/xml")

	contentType := rec.ContentType
	if contentType == "" {
		contentType = defaultAudioContentType
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.ScoringFailed("pronunciation service unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, errors.ScoringFailed(
			fmt.Sprintf("pronunciation service returned %d", resp.StatusCode),
			fmt.Errorf("%s", string(body)),
		)
	}

	var payload speechResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errors.ScoringFailed("malformed scoring response", err)
	}

	if payload.RecognitionStatus != "" && payload.RecognitionStatus != "Success" {
		return nil, errors.ScoringFailed(
			fmt.Sprintf("recognition failed: %s", payload.RecognitionStatus), nil)
	}
	if len(payload.NBest) == 0 {
		return nil, errors.ScoringFailed("scoring service returned an empty result", nil)
	}

	best := payload.NBest[0]

	var words []nbestWord
	if len(best.Words) > 0 {
		if err := json.Unmarshal(best.Words, &words); err != nil {
			return nil, errors.ScoringFailed("malformed word entries", err)
		}
	}

	result := &ScoreResult{
		PronunciationScore: clampScore(best.PronScore),
		AccuracyScore:      clampScore(best.AccuracyScore),
		FluencyScore:       clampScore(best.FluencyScore),
		CompletenessScore:  clampScore(best.CompletenessScore),
		Words:              dedupeWords(words),
		DetailedWords:      best.Words,
	}
	return result, nil
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// dedupeWords collapses duplicated word entries. Miscue detection can emit
// the same word twice, once flagged Insertion and once with another error
// type; the Insertion entry is kept with the group's average accuracy.
func dedupeWords(words []nbestWord) []WordScore {
	groups := make(map[string][]int)
	for i, w := range words {
		groups[w.Word] = append(groups[w.Word], i)
	}

	remove := make(map[int]bool)
	for _, indices := range groups {
		if len(indices) <= 1 {
			continue
		}

		insertionIdx := -1
		total := 0.0
		for _, idx := range indices {
			if words[idx].ErrorType == "Insertion" {
				insertionIdx = idx
			}
			total += words[idx].AccuracyScore
		}

		if insertionIdx != -1 {
			words[insertionIdx].AccuracyScore = total / float64(len(indices))
			for _, idx := range indices {
				if idx != insertionIdx {
					remove[idx] = true
				}
			}
		}
	}

	out := make([]WordScore, 0, len(words))
	for i, w := range words {
		if remove[i] {
			continue
		}
		out = append(out, WordScore{
			Word:          w.Word,
			AccuracyScore: clampScore(w.AccuracyScore),
			ErrorType:     w.ErrorType,
		})
	}
	return out
}
