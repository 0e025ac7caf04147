package llm

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"
)

// Kind classifies a failure so callers can map it to behavior (failover,
// retry, friendly message) without string matching.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindAuthConfig  Kind = "auth_config"
	KindRateLimited Kind = "rate_limited"
	KindNetwork     Kind = "network"
	KindUpstream    Kind = "upstream_bad_response"
	KindNotFound    Kind = "not_found"
	KindInternal    Kind = "internal"
)

// Error is a classified failure from a provider call.
type Error struct {
	Kind     Kind
	Provider string
	Err      error
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified error.
func NewError(kind Kind, provider string, err error) *Error {
	return &Error{Kind: kind, Provider: provider, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, provider, format string, args ...any) *Error {
	return &Error{Kind: kind, Provider: provider, Err: errors.Errorf(format, args...)}
}

// KindOf extracts the classification from err, KindInternal when err carries
// none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPError is a non-200 reply from a direct_http provider.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("http %d: %s", e.Status, body)
}

func kindForStatus(status int) Kind {
	switch {
	case status == 401 || status == 403:
		return KindAuthConfig
	case status == 429:
		return KindRateLimited
	default:
		return KindUpstream
	}
}

// Normalize classifies an upstream failure. Already-classified errors pass
// through with the provider filled in.
func Normalize(provider string, err error) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		if classified.Provider == "" {
			classified.Provider = provider
		}
		return classified
	}

	kind := classify(err)
	return &Error{Kind: kind, Provider: provider, Err: err}
}

func classify(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return kindForStatus(httpErr.Status)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return kindForStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return kindForStatus(reqErr.HTTPStatusCode)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "api key") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "401"):
		return KindAuthConfig
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") || strings.Contains(msg, "429"):
		return KindRateLimited
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "connection") || strings.Contains(msg, "network") || strings.Contains(msg, "no such host"):
		return KindNetwork
	default:
		return KindUpstream
	}
}
