package githubapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dolr-ai/github-report/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RetryConfig configures GitHub client retry behavior.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// HTTPDoer is implemented by http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// CallMetadata reports execution metadata for a client call.
type CallMetadata struct {
	Attempts        int
	Bucket          Bucket
	LastRateHeaders RateLimitHeaders
	LastDecision    Decision
	FinalPhase      RetryPhase
}

// Client wraps GitHub HTTP requests with governor, retry and rate-limit controls.
type Client struct {
	doer       HTTPDoer
	machine    RetryStateMachine
	ratePolicy RateLimitPolicy
	governor   *Governor
	// Sleep is injected for testability.
	Sleep func(ctx context.Context, duration time.Duration) error
}

// NewClient creates a GitHub API client wrapper. A nil governor disables
// pre-request budget checks.
func NewClient(doer HTTPDoer, retry RetryConfig, ratePolicy RateLimitPolicy, governor *Governor) *Client {
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	return &Client{
		doer: doer,
		machine: RetryStateMachine{
			MaxAttempts:    retry.MaxAttempts,
			InitialBackoff: retry.InitialBackoff,
			MaxBackoff:     retry.MaxBackoff,
		},
		ratePolicy: ratePolicy,
		governor:   governor,
		Sleep:      sleepContext,
	}
}

// Governor returns the governor consulted before each attempt.
func (c *Client) Governor() *Governor {
	return c.governor
}

// Do executes a request through the retry state machine. Responses with
// non-retryable statuses are returned to the caller for classification.
func (c *Client) Do(req *http.Request) (*http.Response, CallMetadata, error) {
	if req == nil {
		return nil, CallMetadata{}, fmt.Errorf("request is nil")
	}

	ctx := req.Context()
	bucket := BucketForRequest(req)
	var span trace.Span
	if telemetry.ShouldTraceDependencies() {
		ctx, span = otel.Tracer("github-report/internal/githubapi").Start(
			ctx,
			"githubapi.client.do",
			trace.WithAttributes(
				attribute.String("http.method", req.Method),
				attribute.String("http.path", req.URL.EscapedPath()),
				attribute.String("github.bucket", string(bucket)),
				attribute.Int("github.max_attempts", c.machine.MaxAttempts),
			),
		)
		defer span.End()
	}

	metadata := CallMetadata{Bucket: bucket}
	state := c.machine.Start()
	var resp *http.Response
	for {
		metadata.FinalPhase = state.Phase
		switch state.Phase {
		case RetrySucceeded:
			if span != nil {
				span.SetStatus(codes.Ok, "request completed")
			}
			return resp, metadata, nil

		case RetryFailed:
			if span != nil {
				span.RecordError(state.Err)
				span.SetStatus(codes.Error, state.Err.Error())
			}
			return nil, metadata, state.Err

		case RetryWaitingOnRateLimit, RetryBackingOff:
			if span != nil {
				span.AddEvent(string(state.Phase), trace.WithAttributes(
					attribute.Int("github.attempt", state.Attempt),
					attribute.Int64("github.wait_ms", state.WaitFor.Milliseconds()),
					attribute.String("github.reason", state.Reason),
				))
			}
			if err := c.Sleep(ctx, state.WaitFor); err != nil {
				return nil, metadata, err
			}
			state = c.machine.Apply(state, RetryEvent{Kind: EventWaitComplete})

		case RetryAttempting:
			metadata.Attempts = state.Attempt
			if err := c.governor.AwaitBudget(ctx, bucket, 0); err != nil {
				if span != nil {
					span.SetStatus(codes.Error, err.Error())
				}
				return nil, metadata, err
			}

			var event RetryEvent
			resp, event = c.attempt(ctx, req, bucket, &metadata)
			if ctx.Err() != nil {
				return nil, metadata, ctx.Err()
			}
			if span != nil {
				span.AddEvent("attempt_completed", trace.WithAttributes(
					attribute.Int("github.attempt", state.Attempt),
					attribute.String("github.outcome", string(event.Kind)),
					attribute.Int("github.rate_limit_remaining", metadata.LastRateHeaders.Remaining),
					attribute.String("github.rate_limit_reason", metadata.LastDecision.Reason),
				))
			}
			state = c.machine.Apply(state, event)
		}
	}
}

func (c *Client) attempt(ctx context.Context, req *http.Request, bucket Bucket, metadata *CallMetadata) (*http.Response, RetryEvent) {
	nextReq := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, RetryEvent{Kind: EventPermanentFailure, Err: fmt.Errorf("rewind request body: %w", err)}
		}
		nextReq.Body = body
	}

	resp, err := c.doer.Do(nextReq)
	if err != nil {
		return nil, RetryEvent{Kind: EventTransientFailure, Err: err}
	}
	if resp == nil {
		return nil, RetryEvent{Kind: EventTransientFailure, Err: fmt.Errorf("nil response")}
	}

	headers := ParseRateLimitHeaders(resp.Header, resp.StatusCode)
	c.governor.Observe(bucket, headers)
	decision := c.ratePolicy.Evaluate(headers)
	metadata.LastRateHeaders = headers
	metadata.LastDecision = decision

	if !decision.Allow {
		closeBody(resp)
		return nil, RetryEvent{Kind: EventRateLimited, Decision: decision}
	}
	if isTransientStatus(resp.StatusCode) {
		closeBody(resp)
		return nil, RetryEvent{Kind: EventTransientFailure, Err: fmt.Errorf("transient status %d", resp.StatusCode)}
	}
	return resp, RetryEvent{Kind: EventResponseOK}
}

func isTransientStatus(statusCode int) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}
	return statusCode >= 500 && statusCode <= 599
}

func closeBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
}
