package githubapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Bucket names one independent GitHub rate-limit budget.
type Bucket string

const (
	// BucketCore is the REST core budget.
	BucketCore Bucket = "core"
	// BucketGraphQL is the GraphQL point budget.
	BucketGraphQL Bucket = "graphql"
	// BucketSearch is the REST search budget.
	BucketSearch Bucket = "search"
)

// RateLimitHeaders contains parsed GitHub rate-limit response headers.
type RateLimitHeaders struct {
	Resource         Bucket
	Limit            int
	Remaining        int
	ResetUnix        int64
	Used             int
	RetryAfter       time.Duration
	SecondaryLimited bool
	PrimaryLimited   bool
	Present          bool
}

// Decision represents a rate-limit action decision.
type Decision struct {
	Allow   bool
	WaitFor time.Duration
	Reason  string
}

// RateLimitPolicy evaluates rate-limit actions from parsed headers.
type RateLimitPolicy struct {
	MinRemainingThreshold int
	MinResetBuffer        time.Duration
	SecondaryLimitBackoff time.Duration
	Now                   func() time.Time
}

// ParseRateLimitHeaders parses rate-limit and retry headers.
func ParseRateLimitHeaders(header http.Header, statusCode int) RateLimitHeaders {
	parsed := RateLimitHeaders{}
	if remaining, err := strconv.Atoi(strings.TrimSpace(header.Get("X-RateLimit-Remaining"))); err == nil {
		parsed.Remaining = remaining
		parsed.Present = true
	}
	parsed.Limit = parseInt(header.Get("X-RateLimit-Limit"))
	parsed.Used = parseInt(header.Get("X-RateLimit-Used"))
	parsed.ResetUnix = parseInt64(header.Get("X-RateLimit-Reset"))
	parsed.Resource = Bucket(strings.ToLower(strings.TrimSpace(header.Get("X-RateLimit-Resource"))))

	retryAfterSeconds := parseInt(header.Get("Retry-After"))
	if retryAfterSeconds > 0 {
		parsed.RetryAfter = time.Duration(retryAfterSeconds) * time.Second
	}

	if statusCode == http.StatusTooManyRequests {
		parsed.SecondaryLimited = true
	}
	if statusCode == http.StatusForbidden && parsed.RetryAfter > 0 {
		parsed.SecondaryLimited = true
	}
	if (statusCode == http.StatusForbidden || statusCode == http.StatusTooManyRequests) &&
		parsed.Present && parsed.Remaining == 0 && parsed.RetryAfter == 0 {
		parsed.SecondaryLimited = false
		parsed.PrimaryLimited = true
	}

	return parsed
}

// Evaluate decides whether calls may continue or should pause.
func (p RateLimitPolicy) Evaluate(headers RateLimitHeaders) Decision {
	now := time.Now()
	if p.Now != nil {
		now = p.Now()
	}

	if headers.SecondaryLimited {
		waitFor := p.SecondaryLimitBackoff
		if headers.RetryAfter > waitFor {
			waitFor = headers.RetryAfter
		}
		return Decision{
			Allow:   false,
			WaitFor: waitFor,
			Reason:  "secondary_limit",
		}
	}

	resetAt := time.Unix(headers.ResetUnix, 0)
	if headers.PrimaryLimited {
		waitFor := p.MinResetBuffer
		if resetAt.After(now) {
			waitFor += resetAt.Sub(now)
		}
		return Decision{
			Allow:   false,
			WaitFor: waitFor,
			Reason:  "primary_limit",
		}
	}

	if !headers.Present || headers.Remaining >= p.MinRemainingThreshold {
		return Decision{
			Allow:   true,
			WaitFor: 0,
			Reason:  "within_budget",
		}
	}

	if !resetAt.After(now) {
		return Decision{
			Allow:   true,
			WaitFor: 0,
			Reason:  "reset_elapsed",
		}
	}

	// The response itself is usable; the governor holds the next call.
	return Decision{
		Allow:   true,
		WaitFor: 0,
		Reason:  "remaining_below_threshold",
	}
}

// BucketForRequest derives the rate-limit bucket GitHub charges for a request path.
func BucketForRequest(req *http.Request) Bucket {
	if req == nil || req.URL == nil {
		return BucketCore
	}
	path := strings.TrimSuffix(req.URL.Path, "/")
	switch {
	case strings.HasSuffix(path, "/graphql"):
		return BucketGraphQL
	case strings.Contains(path+"/", "/search/"):
		return BucketSearch
	default:
		return BucketCore
	}
}

func parseInt(raw string) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return parsed
}

func parseInt64(raw string) int64 {
	parsed, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}
