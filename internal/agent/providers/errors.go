// Package providers implements LLM backends behind the agent.LLMProvider
// interface. Retry and failover policy lives in the reliability router;
// providers here are single-shot and classify their failures so the
// router can decide.
package providers

import (
	"errors"
	"net/http"
	"strings"
)

// FailureClass categorizes why a provider request failed.
type FailureClass string

const (
	// FailureRateLimited indicates rate limiting (HTTP 429).
	FailureRateLimited FailureClass = "rate_limited"

	// FailureQuotaExhausted indicates payment or quota issues (HTTP 402).
	FailureQuotaExhausted FailureClass = "quota_exhausted"

	// FailureAuth indicates authentication failure (HTTP 401, 403).
	FailureAuth FailureClass = "auth"

	// FailureInvalidRequest indicates a malformed request (HTTP 400).
	FailureInvalidRequest FailureClass = "invalid_request"

	// FailureNetwork indicates a transient transport failure.
	FailureNetwork FailureClass = "network"

	// FailureTimeout indicates the request timed out.
	FailureTimeout FailureClass = "timeout"

	// FailureServerError indicates a server-side failure (HTTP 5xx).
	FailureServerError FailureClass = "server_error"

	// FailureModelUnavailable indicates the requested model is missing.
	FailureModelUnavailable FailureClass = "model_unavailable"

	// FailureUnknown indicates an unclassified error.
	FailureUnknown FailureClass = "unknown"
)

// IsRetryable reports whether retrying the same attempt may succeed.
// Non-retryable failures skip the retry loop and advance straight to the
// next attempt in the chain. Quota exhaustion is deliberately not
// retryable: the same credential will not recover within a request, but
// a fallback model or provider might serve it.
func (c FailureClass) IsRetryable() bool {
	switch c {
	case FailureRateLimited, FailureNetwork, FailureTimeout, FailureServerError:
		return true
	default:
		return false
	}
}

// Error is a structured failure from one provider call.
type Error struct {
	Class    FailureClass
	Provider string
	Model    string
	Status   int
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("[" + string(e.Class) + "]")
	if e.Provider != "" {
		b.WriteString(" " + e.Provider)
	}
	if e.Model != "" {
		b.WriteString(" model=" + e.Model)
	}
	switch {
	case e.Message != "":
		b.WriteString(" " + e.Message)
	case e.Cause != nil:
		b.WriteString(" " + e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError wraps a raw provider failure, classifying its message.
func NewError(provider, model string, cause error) *Error {
	e := &Error{Provider: provider, Model: model, Cause: cause, Class: FailureUnknown}
	if cause != nil {
		e.Message = cause.Error()
		e.Class = Classify(cause)
	}
	return e
}

// WithStatus sets the HTTP status and reclassifies from it.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	if class := classifyStatus(status); class != FailureUnknown {
		e.Class = class
	}
	return e
}

// Classify inspects an error message and assigns a failure class.
func Classify(err error) FailureClass {
	if err == nil {
		return FailureUnknown
	}
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"),
		strings.Contains(msg, "context deadline"):
		return FailureTimeout
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "rate_limit"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "429"):
		return FailureRateLimited
	case strings.Contains(msg, "quota"),
		strings.Contains(msg, "billing"),
		strings.Contains(msg, "payment"),
		strings.Contains(msg, "insufficient"),
		strings.Contains(msg, "402"):
		return FailureQuotaExhausted
	case strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "invalid api key"),
		strings.Contains(msg, "invalid_api_key"),
		strings.Contains(msg, "authentication"),
		strings.Contains(msg, "401"),
		strings.Contains(msg, "403"):
		return FailureAuth
	case strings.Contains(msg, "model not found"),
		strings.Contains(msg, "model_not_found"),
		strings.Contains(msg, "does not exist"):
		return FailureModelUnavailable
	case strings.Contains(msg, "connection"),
		strings.Contains(msg, "network"),
		strings.Contains(msg, "refused"),
		strings.Contains(msg, "unreachable"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "eof"):
		return FailureNetwork
	case strings.Contains(msg, "internal server"),
		strings.Contains(msg, "server error"),
		strings.Contains(msg, "overloaded"),
		strings.Contains(msg, "500"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "504"):
		return FailureServerError
	case strings.Contains(msg, "invalid"),
		strings.Contains(msg, "validation"),
		strings.Contains(msg, "malformed"):
		return FailureInvalidRequest
	}
	return FailureUnknown
}

func classifyStatus(status int) FailureClass {
	switch {
	case status == http.StatusTooManyRequests:
		return FailureRateLimited
	case status == http.StatusPaymentRequired:
		return FailureQuotaExhausted
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return FailureAuth
	case status == http.StatusBadRequest:
		return FailureInvalidRequest
	case status == http.StatusNotFound:
		return FailureModelUnavailable
	case status >= 500:
		return FailureServerError
	default:
		return FailureUnknown
	}
}

// IsRetryable reports whether an error's failure class is retryable.
func IsRetryable(err error) bool {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Class.IsRetryable()
	}
	return Classify(err).IsRetryable()
}
