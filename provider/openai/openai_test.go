package openai_provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/errandhq/errand/provider"
)

func newTestClient(baseURL string) *client {
	return newClient("openai", provider.Options{
		APIKey:  "test-key",
		Model:   "gpt-4o-mini",
		BaseURL: baseURL,
		Timeout: 5 * time.Second,
	})
}

func TestGenerateReturnsFirstChoice(t *testing.T) {
	var gotAuth string
	var gotReq request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"plan goes here"}},{"message":{"content":"ignored"}}]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	out, err := c.Generate(context.Background(), []provider.Message{
		{Role: "system", Content: "you plan tool calls"},
		{Role: "user", Content: "add 2 and 3"},
	}, 256)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "plan goes here" {
		t.Fatalf("content = %q", out)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("auth header = %q", gotAuth)
	}
	if gotReq.Model != "gpt-4o-mini" || gotReq.MaxTokens != 256 || len(gotReq.Messages) != 2 {
		t.Fatalf("request = %+v", gotReq)
	}
}

func TestGenerateNon200IsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Generate(context.Background(), []provider.Message{{Role: "user", Content: "hi"}}, 0)
	var apiErr *provider.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests || apiErr.Provider != "openai" {
		t.Fatalf("apiErr = %+v", apiErr)
	}
	if !provider.IsTransient(err) {
		t.Fatal("expected 429 to be transient")
	}
}

func TestGenerateEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if _, err := c.Generate(context.Background(), []provider.Message{{Role: "user", Content: "hi"}}, 0); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestNewClientDefaults(t *testing.T) {
	c := newClient("openai", provider.Options{APIKey: "k"})
	if c.model != "gpt-4o" {
		t.Fatalf("default model = %q", c.model)
	}
	if c.baseURL != defaultBaseURL {
		t.Fatalf("default base URL = %q", c.baseURL)
	}
}
