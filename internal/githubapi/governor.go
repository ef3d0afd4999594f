package githubapi

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RateBudget is the remaining call budget of one bucket.
type RateBudget struct {
	Bucket     Bucket
	Limit      int
	Remaining  int
	ResetAt    time.Time
	ObservedAt time.Time
}

// RateSource reads authoritative budgets from the remote usage endpoint.
type RateSource interface {
	RateBudgets(ctx context.Context) (map[Bucket]RateBudget, error)
}

// GovernorConfig configures budget waits and the fallback backoff used when
// the usage endpoint itself is unavailable.
type GovernorConfig struct {
	MinRemaining     int
	ResetBuffer      time.Duration
	FallbackBase     time.Duration
	FallbackAttempts int
}

// Governor blocks callers before a bucket's budget is exhausted.
type Governor struct {
	source RateSource
	config GovernorConfig
	logger *zap.Logger

	mu      sync.Mutex
	buckets map[Bucket]*bucketState

	// Now and Sleep are injected for testability.
	Now   func() time.Time
	Sleep func(ctx context.Context, duration time.Duration) error
}

type bucketState struct {
	// waitMu serializes budget waits; mu guards budget.
	waitMu sync.Mutex
	mu     sync.Mutex
	budget RateBudget
	known  bool
}

// NewGovernor creates a governor. A nil source makes the governor rely on
// response headers alone.
func NewGovernor(source RateSource, config GovernorConfig, logger ...*zap.Logger) *Governor {
	if config.ResetBuffer <= 0 {
		config.ResetBuffer = 2 * time.Second
	}
	if config.FallbackBase <= 0 {
		config.FallbackBase = 5 * time.Second
	}
	if config.FallbackAttempts <= 0 {
		config.FallbackAttempts = 10
	}
	baseLogger := zap.NewNop()
	if len(logger) > 0 && logger[0] != nil {
		baseLogger = logger[0]
	}
	return &Governor{
		source:  source,
		config:  config,
		logger:  baseLogger,
		buckets: make(map[Bucket]*bucketState),
		Now:     time.Now,
		Sleep:   sleepContext,
	}
}

// AwaitBudget blocks until bucket has at least minRemaining calls available.
// A non-positive minRemaining uses the configured floor.
func (g *Governor) AwaitBudget(ctx context.Context, bucket Bucket, minRemaining int) error {
	if g == nil {
		return nil
	}
	if minRemaining <= 0 {
		minRemaining = g.config.MinRemaining
	}
	state := g.bucket(bucket)
	state.waitMu.Lock()
	defer state.waitMu.Unlock()

	budget, known := state.snapshot()
	if known && budget.Remaining >= floorFor(budget, minRemaining) {
		return nil
	}

	if g.source != nil {
		refreshed, err := g.refresh(ctx, bucket)
		if err != nil {
			return err
		}
		budget = refreshed
		known = true
	}
	floor := floorFor(budget, minRemaining)
	if !known || budget.Remaining >= floor {
		return nil
	}

	now := g.Now()
	waitFor := g.config.ResetBuffer
	if budget.ResetAt.After(now) {
		waitFor += budget.ResetAt.Sub(now)
	}
	g.logger.Warn(
		"rate limit budget below floor; waiting for reset",
		zap.String("bucket", string(bucket)),
		zap.Int("remaining", budget.Remaining),
		zap.Int("min_remaining", floor),
		zap.Time("reset_at", budget.ResetAt),
		zap.Duration("wait", waitFor),
	)
	if err := g.Sleep(ctx, waitFor); err != nil {
		return fmt.Errorf("wait for %s rate limit reset: %w", bucket, err)
	}
	state.forget()
	return nil
}

// Observe records the budget reported by response headers.
func (g *Governor) Observe(bucket Bucket, headers RateLimitHeaders) {
	if g == nil || !headers.Present {
		return
	}
	if headers.Resource != "" {
		bucket = headers.Resource
	}
	g.bucket(bucket).update(RateBudget{
		Bucket:     bucket,
		Limit:      headers.Limit,
		Remaining:  headers.Remaining,
		ResetAt:    time.Unix(headers.ResetUnix, 0).UTC(),
		ObservedAt: g.Now(),
	})
}

// Snapshot returns the last known budget of every bucket, ordered by name.
func (g *Governor) Snapshot() []RateBudget {
	if g == nil {
		return nil
	}
	g.mu.Lock()
	states := make([]*bucketState, 0, len(g.buckets))
	for _, state := range g.buckets {
		states = append(states, state)
	}
	g.mu.Unlock()

	budgets := make([]RateBudget, 0, len(states))
	for _, state := range states {
		if budget, known := state.snapshot(); known {
			budgets = append(budgets, budget)
		}
	}
	sort.Slice(budgets, func(i, j int) bool {
		return budgets[i].Bucket < budgets[j].Bucket
	})
	return budgets
}

// Refresh replaces every bucket with the usage endpoint's view and returns
// the resulting snapshot.
func (g *Governor) Refresh(ctx context.Context) ([]RateBudget, error) {
	if g == nil || g.source == nil {
		return g.Snapshot(), nil
	}
	if _, err := g.refresh(ctx, BucketCore); err != nil {
		return nil, err
	}
	return g.Snapshot(), nil
}

func (g *Governor) refresh(ctx context.Context, bucket Bucket) (RateBudget, error) {
	var lastErr error
	for attempt := 1; attempt <= g.config.FallbackAttempts; attempt++ {
		budgets, err := g.source.RateBudgets(ctx)
		if err == nil {
			for name, budget := range budgets {
				budget.Bucket = name
				if budget.ObservedAt.IsZero() {
					budget.ObservedAt = g.Now()
				}
				g.bucket(name).replace(budget)
			}
			if budget, ok := budgets[bucket]; ok {
				budget.Bucket = bucket
				return budget, nil
			}
			err = fmt.Errorf("usage endpoint returned no %q bucket", bucket)
		}
		lastErr = err
		if ctx.Err() != nil {
			return RateBudget{}, fmt.Errorf("query rate limit usage: %w", ctx.Err())
		}
		if attempt == g.config.FallbackAttempts {
			break
		}
		backoff := backoffForAttempt(g.config.FallbackBase, 0, attempt)
		g.logger.Debug(
			"rate limit usage query failed; backing off",
			zap.String("bucket", string(bucket)),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if sleepErr := g.Sleep(ctx, backoff); sleepErr != nil {
			return RateBudget{}, fmt.Errorf("query rate limit usage: %w", sleepErr)
		}
	}
	return RateBudget{}, fmt.Errorf("%w: usage endpoint failed %d times: %w", ErrRateLimitExceeded, g.config.FallbackAttempts, lastErr)
}

// floorFor caps the floor at a tenth of the bucket's limit so that small
// buckets such as search (30 per minute) are not permanently below it.
func floorFor(budget RateBudget, minRemaining int) int {
	if budget.Limit <= 0 {
		return minRemaining
	}
	return min(minRemaining, max(1, budget.Limit/10))
}

func (g *Governor) bucket(name Bucket) *bucketState {
	g.mu.Lock()
	defer g.mu.Unlock()
	state, ok := g.buckets[name]
	if !ok {
		state = &bucketState{}
		g.buckets[name] = state
	}
	return state
}

func (s *bucketState) snapshot() (RateBudget, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.budget, s.known
}

func (s *bucketState) replace(budget RateBudget) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.budget = budget
	s.known = true
}

// update merges header observations that may arrive out of order.
func (s *bucketState) update(budget RateBudget) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.known {
		switch {
		case budget.ResetAt.Before(s.budget.ResetAt):
			return
		case budget.ResetAt.Equal(s.budget.ResetAt) && budget.Remaining > s.budget.Remaining:
			return
		}
	}
	s.budget = budget
	s.known = true
}

func (s *bucketState) forget() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.known = false
}

func sleepContext(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
