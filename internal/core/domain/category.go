package domain

// ErrorCategory classifies a failure from an external dependency.
type ErrorCategory int

const (
	CategoryUnknown ErrorCategory = iota
	CategoryQuota
	CategoryRateLimit
	CategoryTransient
	CategoryAuth
)

// String returns the lowercase category name used in logs and metric labels.
func (c ErrorCategory) String() string {
	switch c {
	case CategoryQuota:
		return "quota"
	case CategoryRateLimit:
		return "rate_limit"
	case CategoryTransient:
		return "transient"
	case CategoryAuth:
		return "auth"
	default:
		return "unknown"
	}
}

// Retryable reports whether a retry with backoff may succeed.
func (c ErrorCategory) Retryable() bool {
	return c == CategoryRateLimit || c == CategoryTransient
}

// Fatal reports whether the failure must surface to an operator instead of
// being absorbed behind a fallback.
func (c ErrorCategory) Fatal() bool {
	return c == CategoryAuth || c == CategoryUnknown
}
