// Package anthropic_provider implements the provider interface over
// Anthropic's messages API.
package anthropic_provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/errandhq/errand/provider"
)

const (
	defaultBaseURL = "https://api.anthropic.com/v1"
	apiVersion     = "2023-06-01"
)

type client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

type request struct {
	Model     string             `json:"model"`
	System    string             `json:"system,omitempty"`
	Messages  []provider.Message `json:"messages"`
	MaxTokens int                `json:"max_tokens"`
}

type response struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func init() {
	provider.Register(provider.Anthropic, func(opts provider.Options) (provider.Provider, error) {
		baseURL := opts.BaseURL
		if baseURL == "" {
			baseURL = defaultBaseURL
		}
		model := opts.Model
		if model == "" {
			model = "claude-sonnet-4-20250514"
		}
		return &client{
			apiKey:     opts.APIKey,
			model:      model,
			baseURL:    baseURL,
			httpClient: &http.Client{Timeout: opts.Timeout},
		}, nil
	})
}

func (c *client) Model() string { return c.model }

// Generate sends the conversation to the messages endpoint. The messages API
// carries the system prompt as a top-level field, so a leading system message
// is lifted out of the list.
func (c *client) Generate(ctx context.Context, messages []provider.Message, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	requestBody := request{
		Model:     c.model,
		MaxTokens: maxTokens,
	}
	for _, m := range messages {
		if m.Role == "system" && requestBody.System == "" {
			requestBody.System = m.Content
			continue
		}
		requestBody.Messages = append(requestBody.Messages, m)
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/messages", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

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
		if len(body) > 512 {
			body = body[:512]
		}
		return "", &provider.APIError{Provider: "anthropic", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var apiResp response
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("no text content in response")
}
