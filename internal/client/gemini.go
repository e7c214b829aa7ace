package client

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/genai"
)

// GeminiClient wraps the Vertex AI Gemini client, the fallback feedback
// provider.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a Gemini client against Vertex AI. If
// serviceAccountPath is non-empty the SDK picks the credentials up from the
// environment; otherwise application default credentials apply.
func NewGeminiClient(ctx context.Context, projectID, location, serviceAccountPath string) (*GeminiClient, error) {
	if serviceAccountPath != "" {
		if err := os.Setenv("GOOGLE_APPLICATION_CREDENTIALS", serviceAccountPath); err != nil {
			return nil, fmt.Errorf("failed to set GOOGLE_APPLICATION_CREDENTIALS: %w", err)
		}
	}

	cfg := &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiClient{
		client: client,
		model:  "gemini-2.0-flash",
	}, nil
}

// WithModel sets the model to use.
func (c *GeminiClient) WithModel(model string) *GeminiClient {
	c.model = model
	return c
}

// Chat sends a single-turn prompt and returns the response text.
func (c *GeminiClient) Chat(ctx context.Context, message string) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(message), nil)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}
