// Package provider abstracts the LLM backends the planning oracle talks to.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"syscall"
	"time"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI     Client = "openai"
	Anthropic  Client = "anthropic"
	OpenRouter Client = "openrouter"
)

// Message represents a message in a conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider is the interface that all LLM implementations must satisfy
type Provider interface {
	Generate(ctx context.Context, messages []Message, maxTokens int) (string, error)
	Model() string
}

// Options carries the common knobs every backend needs.
type Options struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// APIError is a non-2xx response from a backend.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// IsTransient reports whether the failure is worth retrying: timeouts,
// connection-level errors and rate-limit or server-side statuses. Everything
// else (malformed URLs, decode failures, auth errors) cannot succeed on a
// retry and fails immediately.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED)
}

// Factory builds a Provider from options. Backends register themselves in
// init so this package stays free of their imports.
type Factory func(opts Options) (Provider, error)

var factories = map[Client]Factory{}

// Register installs a backend factory. Called from backend init functions.
func Register(client Client, f Factory) {
	factories[client] = f
}

// New builds a provider of the given kind.
func New(client Client, opts Options) (Provider, error) {
	f, ok := factories[client]
	if !ok {
		return nil, fmt.Errorf("unsupported LLM provider %q (registered: %v)", client, registered())
	}
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%s: API key not set", client)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return f(opts)
}

func registered() []string {
	out := make([]string, 0, len(factories))
	for c := range factories {
		out = append(out, string(c))
	}
	sort.Strings(out)
	return out
}
