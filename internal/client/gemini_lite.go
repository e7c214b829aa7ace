package client

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiLiteClient wraps the consumer Gemini API with API-key auth. It backs
// the last-resort feedback provider on deployments without Vertex AI access.
type GeminiLiteClient struct {
	client *genai.Client
	model  string
}

// NewGeminiLiteClient creates a Gemini client authenticated by API key.
func NewGeminiLiteClient(ctx context.Context, apiKey string) (*GeminiLiteClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key not configured")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini lite client: %w", err)
	}

	return &GeminiLiteClient{
		client: client,
		model:  "gemini-2.5-flash-lite",
	}, nil
}

// WithModel sets the model to use.
func (c *GeminiLiteClient) WithModel(model string) *GeminiLiteClient {
	c.model = model
	return c
}

// Close closes the client.
func (c *GeminiLiteClient) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

// Chat sends a chat message and returns the response text.
func (c *GeminiLiteClient) Chat(ctx context.Context, message string) (string, error) {
	model := c.client.GenerativeModel(c.model)
	resp, err := model.GenerateContent(ctx, genai.Text(message))
	if err != nil {
		return "", err
	}

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", nil
	}

	var result string
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			result += string(text)
		}
	}

	return result, nil
}
