package githubapi

import (
	"context"
	"errors"
)

var (
	// ErrRateLimitExceeded means the retry budget was exhausted while rate limited.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrTransientNetwork means network or 5xx failures persisted past the retry budget.
	ErrTransientNetwork = errors.New("transient network error")
	// ErrMalformedResponse means the response did not match the expected schema.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrPartialPagination means a paginated result was not fully consumed.
	ErrPartialPagination = errors.New("partial pagination")
)

// ErrorReason maps an error to a stable label for reports and metrics.
func ErrorReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateLimitExceeded):
		return "rate_limit_exceeded"
	case errors.Is(err, ErrTransientNetwork):
		return "transient_network_error"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, ErrPartialPagination):
		return "partial_pagination"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
