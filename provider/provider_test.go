package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"syscall"
	"testing"
	"time"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("calling backend: %w", context.DeadlineExceeded), true},
		{"rate limited", &APIError{Provider: "openai", StatusCode: 429}, true},
		{"server error", &APIError{Provider: "openai", StatusCode: 503}, true},
		{"bad request", &APIError{Provider: "openai", StatusCode: 400}, false},
		{"unauthorized", &APIError{Provider: "anthropic", StatusCode: 401}, false},
		{"dial error", fmt.Errorf("failed to send request: %w",
			&url.Error{Op: "Post", URL: "http://api", Err: &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}}), true},
		{"reset mid-body", fmt.Errorf("failed to read response body: %w", syscall.ECONNRESET), true},
		{"malformed base URL", fmt.Errorf("failed to create request: %w",
			&url.Error{Op: "parse", URL: "://nope", Err: errors.New("missing protocol scheme")}), false},
		{"decode failure", fmt.Errorf("failed to parse response: %w", errors.New("invalid character 'x'")), false},
	}
	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Errorf("%s: IsTransient = %v, want %v", tc.name, got, tc.want)
		}
	}
}

type fakeProvider struct{ model string }

func (f *fakeProvider) Generate(ctx context.Context, messages []Message, maxTokens int) (string, error) {
	return "", nil
}
func (f *fakeProvider) Model() string { return f.model }

func TestNewDispatchesToRegisteredFactory(t *testing.T) {
	var got Options
	Register(Client("fake"), func(opts Options) (Provider, error) {
		got = opts
		return &fakeProvider{model: opts.Model}, nil
	})

	p, err := New(Client("fake"), Options{APIKey: "key", Model: "fake-1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Model() != "fake-1" {
		t.Fatalf("model = %q", p.Model())
	}
	if got.Timeout != 60*time.Second {
		t.Fatalf("expected default timeout, got %v", got.Timeout)
	}
}

func TestNewRejectsUnknownClientAndMissingKey(t *testing.T) {
	if _, err := New(Client("no-such-backend"), Options{APIKey: "key"}); err == nil {
		t.Fatal("expected error for unregistered client")
	}
	Register(Client("fake2"), func(opts Options) (Provider, error) {
		return &fakeProvider{}, nil
	})
	if _, err := New(Client("fake2"), Options{}); err == nil {
		t.Fatal("expected error for missing API key")
	}
}
