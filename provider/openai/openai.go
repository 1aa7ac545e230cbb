// Package openai_provider implements the provider interface over OpenAI's
// chat completions API. OpenRouter speaks the same wire format, so it reuses
// this client with a different base URL.
package openai_provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/errandhq/errand/provider"
)

const defaultBaseURL = "https://api.openai.com/v1"

type client struct {
	apiKey     string
	model      string
	baseURL    string
	label      string
	httpClient *http.Client
}

type request struct {
	Model       string             `json:"model"`
	Messages    []provider.Message `json:"messages"`
	Temperature float64            `json:"temperature"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
}

type response struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func init() {
	provider.Register(provider.OpenAI, func(opts provider.Options) (provider.Provider, error) {
		return newClient("openai", opts), nil
	})
	provider.Register(provider.OpenRouter, func(opts provider.Options) (provider.Provider, error) {
		if opts.BaseURL == "" {
			opts.BaseURL = "https://openrouter.ai/api/v1"
		}
		return newClient("openrouter", opts), nil
	})
}

func newClient(label string, opts provider.Options) *client {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := opts.Model
	if model == "" {
		model = "gpt-4o"
	}
	return &client{
		apiKey:     opts.APIKey,
		model:      model,
		baseURL:    baseURL,
		label:      label,
		httpClient: &http.Client{Timeout: opts.Timeout},
	}
}

func (c *client) Model() string { return c.model }

// Generate sends the conversation to the chat completions endpoint and
// returns the first choice's content.
func (c *client) Generate(ctx context.Context, messages []provider.Message, maxTokens int) (string, error) {
	requestBody := request{
		Model:       c.model,
		Messages:    messages,
		Temperature: 0.2,
		MaxTokens:   maxTokens,
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &provider.APIError{Provider: c.label, StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	}

	var apiResp response
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return apiResp.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
