package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// ErrorKind classifies provider failures for the retry policy.
type ErrorKind string

const (
	// ErrorTimeout covers request timeouts and gateway timeouts. Retryable.
	ErrorTimeout ErrorKind = "timeout"
	// ErrorAuthFailure covers rejected credentials. Never retried.
	ErrorAuthFailure ErrorKind = "auth_failure"
	// ErrorRateLimited covers HTTP 429 responses. Retryable.
	ErrorRateLimited ErrorKind = "rate_limited"
	// ErrorUnknown covers every other transport or endpoint failure.
	ErrorUnknown ErrorKind = "unknown"
)

// ProviderError wraps a failed provider call with its classification.
type ProviderError struct {
	Kind     ErrorKind
	Provider string
	Message  string
	Status   int
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("provider %s: %s (%s, http %d)", e.Provider, e.Message, e.Kind, e.Status)
	}
	return fmt.Sprintf("provider %s: %s (%s)", e.Provider, e.Message, e.Kind)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether the failure may succeed on a later attempt.
func (e *ProviderError) Retryable() bool {
	return e.Kind == ErrorTimeout || e.Kind == ErrorRateLimited
}

// classifyError maps transport and API errors onto the error taxonomy.
// Classification is exhaustive over status codes, never over message text,
// so upstream wording changes cannot break the retry policy.
func classifyError(provider string, err error) *ProviderError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{Kind: ErrorTimeout, Provider: provider, Message: "request timed out", Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ProviderError{Kind: ErrorTimeout, Provider: provider, Message: "request timed out", Err: err}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(provider, apiErr.HTTPStatusCode, apiErr.Message, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(provider, reqErr.HTTPStatusCode, reqErr.Error(), err)
	}

	return &ProviderError{Kind: ErrorUnknown, Provider: provider, Message: err.Error(), Err: err}
}

func classifyStatus(provider string, status int, message string, err error) *ProviderError {
	kind := ErrorUnknown
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = ErrorAuthFailure
	case http.StatusTooManyRequests:
		kind = ErrorRateLimited
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		kind = ErrorTimeout
	}

	return &ProviderError{Kind: kind, Provider: provider, Message: message, Status: status, Err: err}
}
