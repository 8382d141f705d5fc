// Package routing decides what to do with a failed provider call.
//
// This package contains:
//   - Classify / ClassifyText: map an error to a domain.ErrorCategory
//   - BackoffPolicy: exponential delay between retry attempts
//   - RetryAfter: server-provided retry hints carried on gRPC errors
package routing

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vietddude/athena/internal/core/domain"
)

// Indicator lists, checked in priority order. Quota must win over RateLimit
// because providers often report exhausted credit as HTTP 429.
var (
	quotaIndicators = []string{
		"insufficient_quota",
		"quota exceeded",
		"exceeded your current quota",
		"billing",
		"daily limit exceeded",
	}
	rateLimitIndicators = []string{
		"rate limit",
		"rate_limit",
		"too many requests",
		"throttled",
	}
	transientIndicators = []string{
		"timeout",
		"timed out",
		"deadline exceeded",
		"connection refused",
		"connection reset",
		"broken pipe",
		"eof",
		"server error",
		"service unavailable",
		"bad gateway",
		"gateway timeout",
		"overloaded",
		"temporarily unavailable",
		"empty response",
	}
	authIndicators = []string{
		"invalid api key",
		"incorrect api key",
		"invalid_api_key",
		"unauthorized",
		"authentication",
		"permission denied",
		"forbidden",
	}
)

// Status codes and short tokens only count as whole words, so key
// fragments and request ids such as "sk-A5003x" or "req_8f502ab" do not
// match.
var (
	rateLimitTokens = regexp.MustCompile(`\b429\b`)
	transientTokens = regexp.MustCompile(`\b(?:eof|50[0234])\b`)
	authTokens      = regexp.MustCompile(`\b40[13]\b`)
)

// ClassifyText assigns a category from the error text alone. Auth is
// checked before Transient so a bad key is never retried into a fallback.
func ClassifyText(text string) domain.ErrorCategory {
	s := strings.ToLower(text)

	switch {
	case containsAny(s, quotaIndicators):
		return domain.CategoryQuota
	case containsAny(s, rateLimitIndicators) || rateLimitTokens.MatchString(s):
		return domain.CategoryRateLimit
	case containsAny(s, authIndicators) || authTokens.MatchString(s):
		return domain.CategoryAuth
	case containsAny(s, transientIndicators) || transientTokens.MatchString(s):
		return domain.CategoryTransient
	default:
		return domain.CategoryUnknown
	}
}

// Classify determines the category for err. Structured errors from the
// OpenAI client and gRPC status values are inspected first; the text
// indicators still take precedence when they say Quota.
func Classify(err error) domain.ErrorCategory {
	if err == nil {
		return domain.CategoryUnknown
	}

	byText := ClassifyText(err.Error())
	if byText == domain.CategoryQuota {
		return byText
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return domain.CategoryTransient
	}

	if c, ok := classifyOpenAI(err); ok {
		return c
	}
	if c, ok := classifyStatus(err); ok {
		return c
	}

	return byText
}

func classifyOpenAI(err error) (domain.ErrorCategory, bool) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if code, ok := apiErr.Code.(string); ok && code == "insufficient_quota" {
			return domain.CategoryQuota, true
		}
		if apiErr.Type == "insufficient_quota" {
			return domain.CategoryQuota, true
		}
		return classifyHTTPStatus(apiErr.HTTPStatusCode)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyHTTPStatus(reqErr.HTTPStatusCode)
	}

	return domain.CategoryUnknown, false
}

func classifyHTTPStatus(code int) (domain.ErrorCategory, bool) {
	switch {
	case code == 429:
		return domain.CategoryRateLimit, true
	case code == 401 || code == 403:
		return domain.CategoryAuth, true
	case code >= 500:
		return domain.CategoryTransient, true
	default:
		return domain.CategoryUnknown, false
	}
}

func classifyStatus(err error) (domain.ErrorCategory, bool) {
	st, ok := status.FromError(err)
	if !ok {
		return domain.CategoryUnknown, false
	}

	switch st.Code() {
	case codes.ResourceExhausted:
		for _, d := range st.Details() {
			if _, isQuota := d.(*errdetails.QuotaFailure); isQuota {
				return domain.CategoryQuota, true
			}
		}
		return domain.CategoryRateLimit, true
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted:
		return domain.CategoryTransient, true
	case codes.Unauthenticated, codes.PermissionDenied:
		return domain.CategoryAuth, true
	default:
		return domain.CategoryUnknown, false
	}
}

// RetryAfter extracts the server-suggested delay from a gRPC RetryInfo
// detail. It returns zero when the error carries no hint.
func RetryAfter(err error) time.Duration {
	st, ok := status.FromError(err)
	if !ok {
		return 0
	}
	for _, d := range st.Details() {
		if info, isRetry := d.(*errdetails.RetryInfo); isRetry && info.GetRetryDelay() != nil {
			return info.GetRetryDelay().AsDuration()
		}
	}
	return 0
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
