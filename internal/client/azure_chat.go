package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/brightclass/speech_service/internal/errors"
)

// AzureChatClient wraps the Azure OpenAI Chat Completions REST API, the
// second feedback provider in the fallback chain.
type AzureChatClient struct {
	endpoint   string // e.g. https://your-resource.openai.azure.com
	apiKey     string
	deployment string
	client     *http.Client
}

type chatRequest struct {
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}

// NewAzureChatClient creates a new Azure OpenAI Chat Completions client.
func NewAzureChatClient(endpoint, apiKey, deployment string) *AzureChatClient {
	return &AzureChatClient{
		endpoint:   endpoint,
		apiKey:     apiKey,
		deployment: deployment,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Chat sends a system prompt + user message and returns the assistant's
// response text.
func (c *AzureChatClient) Chat(ctx context.Context, system, user string) (string, error) {
	if c.apiKey == "" || c.endpoint == "" {
		return "", errors.New(errors.ErrAIService, "Azure OpenAI Chat credentials not configured")
	}

	reqBody := chatRequest{
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}

	bodyJSON, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=2024-10-21",
		c.endpoint, c.deployment)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyJSON))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("azure openai chat api error %d: %s", resp.StatusCode, string(respBody))
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices returned from azure openai")
	}

	return result.Choices[0].Message.Content, nil
}
