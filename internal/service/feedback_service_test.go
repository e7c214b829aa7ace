package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightclass/speech_service/internal/client"
	"github.com/brightclass/speech_service/internal/errors"
)

func chainProvider(name, reply string, err error, calls *[]string) feedbackProvider {
	return feedbackProvider{
		name: name,
		chat: func(ctx context.Context, prompt string) (string, error) {
			*calls = append(*calls, name)
			if err != nil {
				return "", err
			}
			return reply, nil
		},
	}
}

func TestSummarizeUsesFirstWorkingProvider(t *testing.T) {
	var calls []string
	s := &FeedbackService{log: zerolog.Nop()}
	s.providers = []feedbackProvider{
		chainProvider("openai", "  Great fluency!  ", nil, &calls),
		chainProvider("azure", "unused", nil, &calls),
	}

	summary, err := s.Summarize(context.Background(), goodScore(), "the quick brown fox")
	require.NoError(t, err)
	assert.Equal(t, "Great fluency!", summary)
	assert.Equal(t, []string{"openai"}, calls)
}

func TestSummarizeFallsThroughChain(t *testing.T) {
	var calls []string
	s := &FeedbackService{log: zerolog.Nop()}
	s.providers = []feedbackProvider{
		chainProvider("openai", "", fmt.Errorf("rate limited"), &calls),
		chainProvider("azure", "", nil, &calls), // empty reply also falls through
		chainProvider("gemini", "Work on the word 'fox'.", nil, &calls),
	}

	summary, err := s.Summarize(context.Background(), goodScore(), "the quick brown fox")
	require.NoError(t, err)
	assert.Equal(t, "Work on the word 'fox'.", summary)
	assert.Equal(t, []string{"openai", "azure", "gemini"}, calls)
}

func TestSummarizeAllProvidersFail(t *testing.T) {
	var calls []string
	s := &FeedbackService{log: zerolog.Nop()}
	s.providers = []feedbackProvider{
		chainProvider("openai", "", fmt.Errorf("boom"), &calls),
		chainProvider("gemini", "", fmt.Errorf("quota"), &calls),
	}

	_, err := s.Summarize(context.Background(), goodScore(), "text")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrAIService))
}

func TestSummarizeNoProviders(t *testing.T) {
	s := NewFeedbackService(nil, nil, nil, nil, zerolog.Nop())

	_, err := s.Summarize(context.Background(), goodScore(), "text")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrAIService))
}

func TestBuildFeedbackPromptNamesWeakWords(t *testing.T) {
	result := &client.ScoreResult{
		PronunciationScore: 70,
		AccuracyScore:      72,
		FluencyScore:       68,
		CompletenessScore:  90,
		Words: []client.WordScore{
			{Word: "quick", AccuracyScore: 95},
			{Word: "brown", AccuracyScore: 40},
			{Word: "fox", AccuracyScore: 55},
		},
	}

	prompt := buildFeedbackPrompt(result, "the quick brown fox")
	assert.Contains(t, prompt, `"the quick brown fox"`)
	assert.Contains(t, prompt, "brown (40)")
	assert.Contains(t, prompt, "fox (55)")
}
