package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/brightclass/speech_service/internal/client"
	"github.com/brightclass/speech_service/internal/errors"
)

const feedbackSystemPrompt = `You are a pronunciation coach for language learners.
Given pronunciation assessment scores and the words the learner struggled with,
write one or two short, encouraging sentences of feedback. Plain text only, no
markdown, no lists.`

const feedbackTimeout = 15 * time.Second

type feedbackProvider struct {
	name string
	chat func(ctx context.Context, prompt string) (string, error)
}

// FeedbackService turns raw assessment scores into a short human summary.
// Providers are tried in order; the first one that answers wins.
type FeedbackService struct {
	providers []feedbackProvider
	log       zerolog.Logger
}

// NewFeedbackService creates a FeedbackService from whichever AI clients are
// configured. Nil clients are skipped.
func NewFeedbackService(
	openaiClient *client.OpenAIClient,
	azureChatClient *client.AzureChatClient,
	geminiClient *client.GeminiClient,
	geminiLiteClient *client.GeminiLiteClient,
	log zerolog.Logger,
) *FeedbackService {
	s := &FeedbackService{log: log}

	if openaiClient != nil {
		s.providers = append(s.providers, feedbackProvider{
			name: "openai",
			chat: func(ctx context.Context, prompt string) (string, error) {
				return openaiClient.Chat(ctx, feedbackSystemPrompt, prompt)
			},
		})
	}
	if azureChatClient != nil {
		s.providers = append(s.providers, feedbackProvider{
			name: "azure",
			chat: func(ctx context.Context, prompt string) (string, error) {
				return azureChatClient.Chat(ctx, feedbackSystemPrompt, prompt)
			},
		})
	}
	if geminiClient != nil {
		s.providers = append(s.providers, feedbackProvider{
			name: "gemini",
			chat: func(ctx context.Context, prompt string) (string, error) {
				return geminiClient.Chat(ctx, feedbackSystemPrompt+"\n\n"+prompt)
			},
		})
	}
	if geminiLiteClient != nil {
		s.providers = append(s.providers, feedbackProvider{
			name: "gemini-lite",
			chat: func(ctx context.Context, prompt string) (string, error) {
				return geminiLiteClient.Chat(ctx, feedbackSystemPrompt+"\n\n"+prompt)
			},
		})
	}

	return s
}

// Summarize produces a short feedback sentence for the given score result.
func (s *FeedbackService) Summarize(ctx context.Context, result *client.ScoreResult, referenceText string) (string, error) {
	if len(s.providers) == 0 {
		return "", errors.New(errors.ErrAIService, "no AI provider configured")
	}

	ctx, cancel := context.WithTimeout(ctx, feedbackTimeout)
	defer cancel()

	prompt := buildFeedbackPrompt(result, referenceText)

	var lastErr error
	for _, p := range s.providers {
		summary, err := p.chat(ctx, prompt)
		if err != nil {
			s.log.Warn().Err(err).Str("provider", p.name).Msg("Feedback provider failed, trying next")
			lastErr = err
			continue
		}
		summary = strings.TrimSpace(summary)
		if summary == "" {
			lastErr = fmt.Errorf("provider %s returned empty feedback", p.name)
			continue
		}
		return summary, nil
	}

	return "", errors.Wrap(errors.ErrAIService, "all feedback providers failed", lastErr)
}

// buildFeedbackPrompt renders scores and the weakest words into a prompt.
func buildFeedbackPrompt(result *client.ScoreResult, referenceText string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reference text: %q\n", referenceText)
	fmt.Fprintf(&b, "Pronunciation: %.1f, Accuracy: %.1f, Fluency: %.1f, Completeness: %.1f (all out of 100)\n",
		result.PronunciationScore, result.AccuracyScore, result.FluencyScore, result.CompletenessScore)

	weak := weakestWords(result.Words, 5)
	if len(weak) > 0 {
		parts := make([]string, 0, len(weak))
		for _, w := range weak {
			parts = append(parts, fmt.Sprintf("%s (%.0f)", w.Word, w.AccuracyScore))
		}
		fmt.Fprintf(&b, "Weakest words: %s\n", strings.Join(parts, ", "))
	}

	return b.String()
}

func weakestWords(words []client.WordScore, limit int) []client.WordScore {
	sorted := make([]client.WordScore, len(words))
	copy(sorted, words)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].AccuracyScore < sorted[j].AccuracyScore
	})
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}
