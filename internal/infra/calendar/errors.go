package calendar

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/vietddude/athena/internal/core/domain"
	"github.com/vietddude/athena/internal/infra/llm/routing"
	"github.com/vietddude/athena/internal/infra/storage"
)

var (
	// ErrSlotTaken is returned when a booking overlaps an existing one.
	ErrSlotTaken = storage.ErrSlotTaken

	// ErrCalendarUnavailable is wrapped when the calendar breaker is open.
	ErrCalendarUnavailable = errors.New("calendar temporarily unavailable")

	// ErrDailyQuotaExceeded is wrapped when today's call budget is spent.
	ErrDailyQuotaExceeded = errors.New("calendar daily quota exceeded")
)

// Error is a categorized calendar failure.
type Error struct {
	Op       string
	Category domain.ErrorCategory
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("calendar %s failed (%s): %v", e.Op, e.Category, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPError is a non-2xx response from a calendar endpoint.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("calendar endpoint returned %d %s: %s",
		e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// Classify maps a calendar error to a category. HTTP status codes follow
// the calendar provider's conventions: 429 means the usage quota is spent
// and 403 usually means a short-term rate limit.
func Classify(err error) domain.ErrorCategory {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Category
	}

	var he *HTTPError
	if errors.As(err, &he) {
		if c := routing.ClassifyText(he.Body); c == domain.CategoryQuota || c == domain.CategoryRateLimit {
			return c
		}
		switch {
		case he.StatusCode == http.StatusTooManyRequests:
			return domain.CategoryQuota
		case he.StatusCode == http.StatusForbidden:
			return domain.CategoryRateLimit
		case he.StatusCode == http.StatusUnauthorized:
			return domain.CategoryAuth
		case he.StatusCode >= 500:
			return domain.CategoryTransient
		default:
			return domain.CategoryUnknown
		}
	}

	return routing.Classify(err)
}
