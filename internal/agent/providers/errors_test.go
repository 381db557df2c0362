package providers

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureClass
	}{
		{"rate limit", errors.New("429: rate limit exceeded"), FailureRateLimited},
		{"too many requests", errors.New("too many requests, slow down"), FailureRateLimited},
		{"quota", errors.New("you have exceeded your current quota"), FailureQuotaExhausted},
		{"billing", errors.New("billing hard limit reached"), FailureQuotaExhausted},
		{"auth", errors.New("401: invalid api key provided"), FailureAuth},
		{"forbidden", errors.New("403 forbidden"), FailureAuth},
		{"model missing", errors.New("model not found: gpt-9"), FailureModelUnavailable},
		{"timeout", errors.New("context deadline exceeded"), FailureTimeout},
		{"connection refused", errors.New("dial tcp: connection refused"), FailureNetwork},
		{"eof", errors.New("unexpected EOF"), FailureNetwork},
		{"broken pipe", errors.New("write: broken pipe"), FailureNetwork},
		{"server error", errors.New("500 internal server error"), FailureServerError},
		{"overloaded", errors.New("overloaded_error: try again"), FailureServerError},
		{"invalid request", errors.New("400: invalid request body"), FailureInvalidRequest},
		{"unknown", errors.New("something odd happened"), FailureUnknown},
		{"nil", nil, FailureUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	retryable := []FailureClass{
		FailureRateLimited, FailureNetwork, FailureTimeout, FailureServerError,
	}
	for _, c := range retryable {
		if !c.IsRetryable() {
			t.Errorf("%v should be retryable", c)
		}
	}
	// Quota exhaustion advances to the next attempt without retrying the
	// same credential.
	terminal := []FailureClass{
		FailureQuotaExhausted, FailureAuth, FailureInvalidRequest,
		FailureModelUnavailable, FailureUnknown,
	}
	for _, c := range terminal {
		if c.IsRetryable() {
			t.Errorf("%v should not be retryable", c)
		}
	}
}

func TestErrorWrapsCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := NewError("openai", "gpt-4o", cause)

	if !errors.Is(err, cause) {
		t.Error("NewError should wrap the cause")
	}
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatal("expected *Error")
	}
	if perr.Class != FailureNetwork {
		t.Errorf("Class = %v, want %v", perr.Class, FailureNetwork)
	}
	if perr.Provider != "openai" || perr.Model != "gpt-4o" {
		t.Errorf("unexpected provider/model: %s/%s", perr.Provider, perr.Model)
	}
	if !IsRetryable(err) {
		t.Error("network errors should be retryable")
	}
}

func TestIsRetryableNonProviderError(t *testing.T) {
	// Plain errors are classified by message before deciding.
	if !IsRetryable(fmt.Errorf("stream: %w", errors.New("connection reset by peer"))) {
		t.Error("connection reset should be retryable")
	}
	if IsRetryable(errors.New("invalid request: missing field")) {
		t.Error("invalid request should not be retryable")
	}
}
