package llm

import (
	"context"
	"errors"
	"net"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"
)

// IsTransient reports whether a provider failure is worth retrying:
// rate limits, timeouts, and 5xx-class responses. Auth failures and
// malformed requests are permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return transientStatus(apiErr.HTTPStatusCode)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return transientStatus(reqErr.HTTPStatusCode)
	}

	var anthErr *anthropic.Error
	if errors.As(err, &anthErr) {
		return transientStatus(anthErr.StatusCode)
	}

	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Transient
	}

	return false
}

func transientStatus(code int) bool {
	switch {
	case code == 429 || code == 408:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}

// ProviderError carries an explicit retry classification for providers
// whose SDK errors do not (e.g. the plain-HTTP Ollama adapter).
type ProviderError struct {
	Provider  string
	Status    int
	Transient bool
	Err       error
}

func (e *ProviderError) Error() string {
	return e.Provider + " provider error: " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error { return e.Err }
