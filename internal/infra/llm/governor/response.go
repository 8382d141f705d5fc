package governor

import (
	"errors"
	"fmt"

	"github.com/vietddude/athena/internal/core/domain"
)

// ResponseType tells callers whether to present AI-authored or canned text.
type ResponseType string

const (
	TypeResult   ResponseType = "result"
	TypeFallback ResponseType = "fallback"
)

// Fallback reasons reported on Response and in metrics.
const (
	ReasonBreakerOpen      = "breaker_open"
	ReasonQuota            = "quota"
	ReasonRetriesExhausted = "retries_exhausted"
)

// Response is the outcome of a successful Submit.
type Response struct {
	Type     ResponseType
	Text     string
	Attempts int

	// Reason is set for fallbacks.
	Reason string
}

// IsFallback reports whether Text is a canned reply.
func (r Response) IsFallback() bool {
	return r.Type == TypeFallback
}

var (
	// ErrNotStarted is returned by Submit before Start.
	ErrNotStarted = errors.New("governor not started")

	// ErrStopped is returned to callers still waiting when Stop is called.
	ErrStopped = errors.New("governor stopped")

	// errBreakerOpen is delivered to queued tickets when the breaker
	// opened while they waited.
	errBreakerOpen = errors.New("circuit breaker open")
)

// FatalError is a provider failure that must not be hidden behind a
// fallback: bad credentials, misconfiguration or an unrecognised error.
type FatalError struct {
	Provider string
	Category domain.ErrorCategory
	Err      error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal %s error from provider %s: %v", e.Category, e.Provider, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}
