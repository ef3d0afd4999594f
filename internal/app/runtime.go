package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dolr-ai/github-report/internal/activity"
	"github.com/dolr-ai/github-report/internal/backfill"
	"github.com/dolr-ai/github-report/internal/collect"
	"github.com/dolr-ai/github-report/internal/config"
	"github.com/dolr-ai/github-report/internal/exporter"
	"github.com/dolr-ai/github-report/internal/githubapi"
	"github.com/dolr-ai/github-report/internal/health"
	"github.com/dolr-ai/github-report/internal/scoring"
	"github.com/dolr-ai/github-report/internal/store"
)

type dateCollector interface {
	Run(ctx context.Context, dates []string, force bool) collect.RunReport
	CollectDate(ctx context.Context, date string, force bool) collect.DateOutcome
}

type leaderboardBuilder interface {
	Build(ctx context.Context, period scoring.Period) (scoring.Leaderboard, error)
}

type budgetSource interface {
	Snapshot() []githubapi.RateBudget
}

type runtimeStore interface {
	UpsertMetric(point store.MetricPoint) error
	AddMetric(point store.MetricPoint) error
	AcquireJobLock(jobID string, ttl time.Duration, now time.Time) bool
	Snapshot() []store.MetricPoint
	GC(now time.Time)
}

type runtimeQueue interface {
	Publish(msg backfill.Message) error
	Consume(ctx context.Context, handler func(backfill.Message) error, maxMessageAge time.Duration, nowFn func() time.Time)
	Depth() int
	Expired() int64
}

// Dependencies are the collaborators of a Runtime.
type Dependencies struct {
	Collector dateCollector
	Builder   leaderboardBuilder
	Budgets   budgetSource
	// Deduper holds backfill dedup locks. Nil uses the metric store.
	Deduper backfill.Deduper
}

// Runtime schedules collection runs, consumes backfill jobs and serves
// metrics, leaderboards and health.
type Runtime struct {
	cfg          *config.Config
	collector    dateCollector
	builder      leaderboardBuilder
	budgets      budgetSource
	store        runtimeStore
	queue        runtimeQueue
	dispatcher   *backfill.Dispatcher
	evaluator    *health.StatusEvaluator
	leaderboards *exporter.CachedSnapshotReader
	logger       *zap.Logger

	mu                  sync.RWMutex
	cacheHealthy        bool
	schedulerHealthy    bool
	githubClientUsable  bool
	consumerHealthy     bool
	githubHealthy       bool
	lastRunFailed       bool
	githubCooldownUntil time.Time
	githubFailureStreak int
	githubRecoverStreak int
	cancel              context.CancelFunc
	wg                  sync.WaitGroup

	// Now and Sleep are injected for deterministic tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewRuntime creates a runtime instance.
func NewRuntime(cfg *config.Config, deps Dependencies, logger ...*zap.Logger) *Runtime {
	if cfg == nil {
		cfg = config.Default()
	}
	baseLogger := zap.NewNop()
	if len(logger) > 0 && logger[0] != nil {
		baseLogger = logger[0]
	}

	metricStore, queue := newRuntimeBackends(cfg)
	deduper := deps.Deduper
	if deduper == nil {
		deduper = metricStore
	}
	dispatcher := backfill.NewDispatcher(backfill.Config{
		DedupTTL:                   cfg.Schedule.BackfillDedupTTL,
		MaxEnqueuesPerOrgPerMinute: cfg.Schedule.BackfillMaxEnqueuesPerMinute,
		MaxAttempts:                cfg.Schedule.BackfillMaxAttempts,
	}, queue, deduper)

	r := &Runtime{
		cfg:                cfg,
		collector:          deps.Collector,
		builder:            deps.Builder,
		budgets:            deps.Budgets,
		store:              metricStore,
		queue:              queue,
		dispatcher:         dispatcher,
		evaluator:          health.NewStatusEvaluator(),
		logger:             baseLogger,
		cacheHealthy:       true,
		githubHealthy:      true,
		githubClientUsable: deps.Collector != nil,
		Now:                time.Now,
		Sleep:              sleepContext,
	}
	r.leaderboards = exporter.NewCachedSnapshotReader(exporter.ReaderFunc(r.leaderboardPoints), exporter.CacheConfig{
		RefreshInterval: cfg.Schedule.MetricRefreshInterval,
		Now:             func() time.Time { return r.Now() },
	})
	return r
}

// Store exposes the operational metric store.
func (r *Runtime) Store() runtimeStore {
	return r.store
}

// QueueDepth returns queued backfill messages.
func (r *Runtime) QueueDepth() int {
	return r.queue.Depth()
}

// Handler returns the combined HTTP handler.
func (r *Runtime) Handler() http.Handler {
	metricsHandler := exporter.NewOpenMetricsHandler(
		r.store,
		exporter.ReaderFunc(r.livePoints),
		r.leaderboards,
	)
	return NewHTTPHandler(metricsHandler, health.NewHandler(r), r)
}

// Start launches the schedule loop and the backfill consumer.
func (r *Runtime) Start(ctx context.Context) {
	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.schedulerHealthy = true
	r.mu.Unlock()

	r.logger.Info(
		"starting serve runtime",
		zap.String("org", r.cfg.GitHub.Org),
		zap.Duration("interval", r.interval()),
		zap.Int("days_back", r.cfg.Fetch.DaysBack),
	)
	if r.collector == nil {
		r.logger.Warn("no collector configured; scheduled cycles will only serve cached leaderboards")
	}

	r.wg.Go(func() { r.runScheduleLoop(runCtx) })
	r.wg.Go(func() { r.runConsumerLoop(runCtx) })
}

// Stop cancels both loops and waits for them to return.
func (r *Runtime) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	r.wg.Wait()

	r.mu.Lock()
	r.schedulerHealthy = false
	r.mu.Unlock()
	r.logger.Info("stopped serve runtime")
}

// CurrentStatus returns current health status.
func (r *Runtime) CurrentStatus(_ context.Context) health.Status {
	r.mu.RLock()
	input := health.Input{
		CacheHealthy:       r.cacheHealthy,
		SchedulerHealthy:   r.schedulerHealthy,
		GitHubClientUsable: r.githubClientUsable,
		ConsumerHealthy:    r.consumerHealthy,
		GitHubHealthy:      r.githubHealthy,
		LastRunFailed:      r.lastRunFailed,
	}
	r.mu.RUnlock()
	return r.evaluator.Evaluate(input)
}

// Leaderboard builds the named period from the cache.
func (r *Runtime) Leaderboard(ctx context.Context, name string) (scoring.Leaderboard, error) {
	period, err := scoring.PeriodByName(name, r.Now(), r.location())
	if err != nil {
		return scoring.Leaderboard{}, err
	}
	if r.builder == nil {
		return scoring.Leaderboard{}, errors.New("leaderboard builder is not configured")
	}
	board, err := r.builder.Build(ctx, period)
	r.setCacheHealthy(err == nil)
	return board, err
}

// RunCycle collects the last fetch.days_back dates and re-queues failures.
// While GitHub is in cooldown the cycle only re-queues the dates.
func (r *Runtime) RunCycle(ctx context.Context) error {
	now := r.Now()
	dates := activity.LastDays(now, r.location(), r.cfg.Fetch.DaysBack)
	r.logger.Debug("collection cycle started", zap.Time("now", now), zap.Int("dates", len(dates)))

	if r.collector == nil {
		r.recordDependencyHealthMetrics(now)
		r.store.GC(now)
		return nil
	}
	if r.shouldSkipGitHub(now) {
		return r.runCooldownCycle(now, dates)
	}

	report := r.collector.Run(ctx, dates, false)
	finished := r.Now()

	githubFailures := 0
	backfillEnqueued := 0
	for _, outcome := range report.Outcomes {
		r.recordDateOutcome(finished, outcome)
		if outcome.Status != collect.StatusFailed {
			continue
		}
		if isGitHubFailure(outcome.Reason) {
			githubFailures++
		}
		if r.enqueueBackfill(finished, outcome.Date, outcome.Reason) {
			backfillEnqueued++
		}
	}

	for _, status := range []collect.Status{collect.StatusWritten, collect.StatusCached, collect.StatusFailed} {
		r.recordMetricBestEffort(finished, exporter.MetricRunDates, float64(report.Count(status)), map[string]string{
			"status": string(status),
		})
	}
	r.recordMetricBestEffort(finished, exporter.MetricLastRunUnix, float64(finished.Unix()), nil)
	r.recordMetricBestEffort(finished, exporter.MetricLastRunDuration, report.FinishedAt.Sub(report.StartedAt).Seconds(), nil)

	r.mu.Lock()
	r.lastRunFailed = len(report.Failed()) > 0
	r.updateGitHubHealthLocked(finished, githubFailures == 0)
	currentGitHubHealthy := r.githubHealthy
	r.mu.Unlock()

	if report.Count(collect.StatusWritten) > 0 {
		r.leaderboards.Invalidate()
	}
	r.recordDependencyHealthMetrics(finished)
	r.store.GC(finished)

	r.logger.Info(
		"collection cycle completed",
		zap.String("run_id", report.RunID),
		zap.Int("written", report.Count(collect.StatusWritten)),
		zap.Int("cached", report.Count(collect.StatusCached)),
		zap.Int("failed", report.Count(collect.StatusFailed)),
		zap.Int("backfill_enqueued", backfillEnqueued),
		zap.Int("queue_depth", r.queue.Depth()),
		zap.Bool("github_healthy", currentGitHubHealthy),
	)
	return report.Err()
}

// HandleBackfill re-collects one date and schedules a retry when it fails again.
func (r *Runtime) HandleBackfill(ctx context.Context, msg backfill.Message) error {
	lockTTL := r.cfg.Schedule.BackfillDedupTTL
	if lockTTL <= 0 {
		lockTTL = r.cfg.Schedule.BackfillMaxMessageAge
	}
	if msg.JobID != "" && !r.store.AcquireJobLock(msg.JobID, lockTTL, r.Now()) {
		r.logger.Debug("skipped duplicate backfill message", zap.String("job_id", msg.JobID))
		return nil
	}
	if r.collector == nil {
		return errors.New("backfill consumer has no collector")
	}

	if err := r.waitForGitHub(ctx); err != nil {
		return err
	}
	if delay := r.retryDelay(msg.Attempt); delay > 0 {
		if err := r.Sleep(ctx, delay); err != nil {
			return err
		}
	}

	outcome := r.collector.CollectDate(ctx, msg.Date, true)
	now := r.Now()
	r.recordDateOutcome(now, outcome)

	result := "written"
	var resultErr error
	if outcome.Status == collect.StatusFailed {
		result = "failed"
		resultErr = outcome.Err
		retry := r.dispatcher.Retry(msg, outcome.Reason, now)
		switch {
		case retry.Published:
			r.recordCounterBestEffort(now, exporter.MetricBackfillEnqueued, map[string]string{
				"org":    msg.Org,
				"reason": outcome.Reason,
			})
		case retry.DroppedByRateLimit:
			r.recordCounterBestEffort(now, exporter.MetricBackfillDropped, map[string]string{
				"org":    msg.Org,
				"reason": "org_rate_cap",
			})
		case errors.Is(retry.Err, backfill.ErrAttemptsExhausted):
			result = "exhausted"
			r.logger.Warn(
				"backfill attempts exhausted",
				zap.String("date", msg.Date),
				zap.Int("attempt", msg.Attempt),
				zap.String("reason", outcome.Reason),
			)
		case retry.Err != nil:
			r.logger.Warn("backfill retry could not be published", zap.String("date", msg.Date), zap.Error(retry.Err))
		}
	} else {
		r.leaderboards.Invalidate()
	}

	r.recordCounterBestEffort(now, exporter.MetricBackfillProcessed, map[string]string{
		"org":    msg.Org,
		"result": result,
	})
	r.logger.Debug(
		"processed backfill message",
		zap.String("date", msg.Date),
		zap.Int("attempt", msg.Attempt),
		zap.String("result", result),
		zap.Int("queue_depth", r.queue.Depth()),
	)
	return resultErr
}

func (r *Runtime) runScheduleLoop(ctx context.Context) {
	ticker := time.NewTicker(r.interval())
	defer ticker.Stop()

	if err := r.RunCycle(ctx); err != nil {
		r.logger.Warn("collection cycle finished with errors", zap.Error(err))
	}
	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("schedule loop stopped")
			return
		case <-ticker.C:
			if err := r.RunCycle(ctx); err != nil {
				r.logger.Warn("collection cycle finished with errors", zap.Error(err))
			}
		}
	}
}

func (r *Runtime) runConsumerLoop(ctx context.Context) {
	r.mu.Lock()
	r.consumerHealthy = true
	r.mu.Unlock()

	maxAge := r.cfg.Schedule.BackfillMaxMessageAge
	if maxAge <= 0 {
		maxAge = 48 * time.Hour
	}
	r.queue.Consume(ctx, func(msg backfill.Message) error {
		return r.HandleBackfill(ctx, msg)
	}, maxAge, r.Now)

	r.mu.Lock()
	r.consumerHealthy = false
	r.mu.Unlock()
}

func (r *Runtime) runCooldownCycle(now time.Time, dates []string) error {
	r.logger.Warn(
		"github is unhealthy; skipping collection cycle",
		zap.Time("cooldown_until", r.cooldownUntil()),
		zap.Int("dates", len(dates)),
	)
	for _, date := range dates {
		r.enqueueBackfill(now, date, "github_unhealthy")
	}
	r.recordMetricBestEffort(now, exporter.MetricRunDates, float64(len(dates)), map[string]string{
		"status": "skipped_unhealthy",
	})
	r.recordMetricBestEffort(now, exporter.MetricLastRunUnix, float64(now.Unix()), nil)
	r.recordDependencyHealthMetrics(now)
	r.store.GC(now)
	return nil
}

func (r *Runtime) enqueueBackfill(now time.Time, date, reason string) bool {
	org := r.cfg.GitHub.Org
	result := r.dispatcher.EnqueueMissing(backfill.MessageInput{
		Org:    org,
		Date:   date,
		Reason: reason,
		Now:    now,
	})
	if result.Published {
		r.recordCounterBestEffort(now, exporter.MetricBackfillEnqueued, map[string]string{
			"org":    org,
			"reason": reason,
		})
	}
	if result.DedupSuppressed {
		r.recordCounterBestEffort(now, exporter.MetricBackfillDeduped, map[string]string{
			"org":    org,
			"reason": reason,
		})
		r.logger.Debug("backfill message dedup-suppressed", zap.String("date", date), zap.String("reason", reason))
	}
	if result.DroppedByRateLimit {
		r.recordCounterBestEffort(now, exporter.MetricBackfillDropped, map[string]string{
			"org":    org,
			"reason": "org_rate_cap",
		})
		r.logger.Warn("backfill message dropped by dispatcher rate limit", zap.String("date", date), zap.String("reason", reason))
	}
	if result.Err != nil {
		r.recordCounterBestEffort(now, exporter.MetricBackfillDropped, map[string]string{
			"org":    org,
			"reason": "publish_failed",
		})
		r.logger.Warn("backfill message could not be published", zap.String("date", date), zap.Error(result.Err))
	}
	return result.Published
}

// recordDateOutcome sets the current status series of a date to 1 and its
// other statuses to 0.
func (r *Runtime) recordDateOutcome(now time.Time, outcome collect.DateOutcome) {
	for _, status := range []collect.Status{collect.StatusWritten, collect.StatusCached, collect.StatusFailed} {
		value := 0.0
		if outcome.Status == status {
			value = 1
		}
		r.recordMetricBestEffort(now, exporter.MetricDateOutcome, value, map[string]string{
			"date":   outcome.Date,
			"status": string(status),
		})
	}
}

func (r *Runtime) leaderboardPoints() []store.MetricPoint {
	if r.builder == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var points []store.MetricPoint
	for _, name := range []string{"daily", "weekly"} {
		board, err := r.Leaderboard(ctx, name)
		if err != nil {
			r.logger.Warn("leaderboard build failed", zap.String("period", name), zap.Error(err))
			continue
		}
		points = append(points, exporter.LeaderboardPoints(r.cfg.GitHub.Org, board)...)
	}
	return points
}

// livePoints renders values read at scrape time.
func (r *Runtime) livePoints() []store.MetricPoint {
	now := r.Now()
	points := []store.MetricPoint{
		{Name: exporter.MetricBackfillQueueDepth, Value: float64(r.queue.Depth()), UpdatedAt: now},
		{Name: exporter.MetricBackfillExpired, Value: float64(r.queue.Expired()), UpdatedAt: now},
	}
	if r.budgets != nil {
		points = append(points, exporter.BudgetPoints(r.budgets.Snapshot())...)
	}
	return points
}

func (r *Runtime) recordMetric(now time.Time, name string, value float64, labels map[string]string) error {
	return r.store.UpsertMetric(store.MetricPoint{
		Name:      name,
		Labels:    labels,
		Value:     value,
		UpdatedAt: now,
	})
}

func (r *Runtime) recordMetricBestEffort(now time.Time, name string, value float64, labels map[string]string) {
	if err := r.recordMetric(now, name, value, labels); err != nil {
		r.logger.Warn("failed to persist operational metric", zap.String("metric", name), zap.Error(err))
	}
}

func (r *Runtime) recordCounterBestEffort(now time.Time, name string, labels map[string]string) {
	err := r.store.AddMetric(store.MetricPoint{
		Name:      name,
		Labels:    labels,
		Value:     1,
		UpdatedAt: now,
	})
	if err != nil {
		r.logger.Warn("failed to persist operational counter", zap.String("metric", name), zap.Error(err))
	}
}

func (r *Runtime) shouldSkipGitHub(now time.Time) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.githubCooldownUntil.IsZero() && now.Before(r.githubCooldownUntil)
}

func (r *Runtime) cooldownUntil() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.githubCooldownUntil
}

// waitForGitHub blocks the consumer until a GitHub cooldown has passed.
func (r *Runtime) waitForGitHub(ctx context.Context) error {
	until := r.cooldownUntil()
	now := r.Now()
	if until.IsZero() || !now.Before(until) {
		return nil
	}
	return r.Sleep(ctx, until.Sub(now))
}

func (r *Runtime) retryDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	delay := r.cfg.Retry.InitialBackoff
	for i := 2; i < attempt; i++ {
		delay *= 2
		if r.cfg.Retry.MaxBackoff > 0 && delay >= r.cfg.Retry.MaxBackoff {
			return r.cfg.Retry.MaxBackoff
		}
	}
	if r.cfg.Retry.MaxBackoff > 0 && delay > r.cfg.Retry.MaxBackoff {
		return r.cfg.Retry.MaxBackoff
	}
	return delay
}

func (r *Runtime) updateGitHubHealthLocked(now time.Time, cycleSuccessful bool) {
	threshold := r.cfg.GitHub.UnhealthyFailureThreshold
	if threshold <= 0 {
		threshold = 1
	}
	cooldown := r.cfg.GitHub.UnhealthyCooldown
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	recoverThreshold := r.cfg.Schedule.GitHubRecoverSuccessThreshold
	if recoverThreshold <= 0 {
		recoverThreshold = 1
	}

	if cycleSuccessful {
		r.githubFailureStreak = 0
		if r.githubHealthy {
			r.githubRecoverStreak = 0
			r.githubCooldownUntil = time.Time{}
			return
		}
		r.githubRecoverStreak++
		if r.githubRecoverStreak >= recoverThreshold {
			r.githubHealthy = true
			r.githubRecoverStreak = 0
			r.githubCooldownUntil = time.Time{}
		}
		return
	}

	r.githubRecoverStreak = 0
	r.githubFailureStreak++
	if r.githubFailureStreak >= threshold {
		r.githubHealthy = false
		r.githubCooldownUntil = now.Add(cooldown)
	}
}

func (r *Runtime) setCacheHealthy(healthy bool) {
	r.mu.Lock()
	r.cacheHealthy = healthy
	r.mu.Unlock()
}

func (r *Runtime) recordDependencyHealthMetrics(now time.Time) {
	r.mu.RLock()
	components := map[string]bool{
		"cache":     r.cacheHealthy,
		"scheduler": r.schedulerHealthy,
		"github":    r.githubHealthy,
		"consumer":  r.consumerHealthy,
	}
	r.mu.RUnlock()

	for dependency, healthy := range components {
		value := 0.0
		if healthy {
			value = 1
		}
		r.recordMetricBestEffort(now, exporter.MetricDependencyHealth, value, map[string]string{
			"dependency": dependency,
		})
	}
}

func (r *Runtime) interval() time.Duration {
	if r.cfg.Schedule.Interval > 0 {
		return r.cfg.Schedule.Interval
	}
	return time.Hour
}

func (r *Runtime) location() *time.Location {
	if r.cfg.Fetch.Location != nil {
		return r.cfg.Fetch.Location
	}
	return time.UTC
}

// isGitHubFailure reports whether a failure reason points at the GitHub API
// rather than local state.
func isGitHubFailure(reason string) bool {
	switch reason {
	case "", "invalid_date", "cache_write_failed", "canceled":
		return false
	default:
		return true
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
