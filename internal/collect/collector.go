package collect

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dolr-ai/github-report/internal/activity"
	"github.com/dolr-ai/github-report/internal/cache"
	"github.com/dolr-ai/github-report/internal/githubapi"
	"github.com/dolr-ai/github-report/internal/telemetry"
)

// RepositoryScanner selects repositories that may hold commits in a window.
type RepositoryScanner interface {
	Scan(ctx context.Context, org string, window activity.Window) ([]activity.RepositoryRef, error)
}

// CommitFetcher collects per-branch commit observations for repositories.
type CommitFetcher interface {
	Fetch(ctx context.Context, repos []activity.RepositoryRef, window activity.Window) ([]activity.Observation, error)
}

// IssueCollector fetches closed issues per user.
type IssueCollector interface {
	FetchAll(ctx context.Context, usernames []string, window activity.Window) ([]activity.IssueRecord, []activity.UserFailure)
}

// Config controls a Collector.
type Config struct {
	Org      string
	Tracked  []string
	Location *time.Location
	Workers  int
}

// Collector runs the per-date pipeline over a worker pool and writes results to the cache.
type Collector struct {
	scanner RepositoryScanner
	fetcher CommitFetcher
	issues  IssueCollector
	store   cache.Store
	authors activity.AuthorFilter
	config  Config
	logger  *zap.Logger
	writeMu sync.Mutex

	Now   func() time.Time
	NewID func() string
}

// NewCollector creates a collector.
func NewCollector(
	scanner RepositoryScanner,
	fetcher CommitFetcher,
	issues IssueCollector,
	store cache.Store,
	authors activity.AuthorFilter,
	config Config,
	logger ...*zap.Logger,
) *Collector {
	zapLogger := zap.NewNop()
	if len(logger) > 0 && logger[0] != nil {
		zapLogger = logger[0]
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	return &Collector{
		scanner: scanner,
		fetcher: fetcher,
		issues:  issues,
		store:   store,
		authors: authors,
		config:  config,
		logger:  zapLogger,
		Now:     time.Now,
		NewID:   uuid.NewString,
	}
}

// Run collects every date with up to Config.Workers dates in flight. With force
// unset, dates that already have a valid cache entry are skipped.
func (c *Collector) Run(ctx context.Context, dates []string, force bool) RunReport {
	report := RunReport{
		RunID:     c.NewID(),
		Org:       c.config.Org,
		Force:     force,
		StartedAt: c.Now().UTC(),
		Outcomes:  make([]DateOutcome, len(dates)),
	}
	logger := c.logger.With(zap.String("run_id", report.RunID))
	logger.Info(
		"collection run started",
		zap.String("org", c.config.Org),
		zap.Int("dates", len(dates)),
		zap.Bool("force", force),
	)

	workers := c.config.Workers
	if workers > len(dates) {
		workers = len(dates)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for range workers {
		wg.Go(func() {
			for i := range jobs {
				report.Outcomes[i] = c.CollectDate(ctx, dates[i], force)
			}
		})
	}
	for i := range dates {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	report.FinishedAt = c.Now().UTC()
	logger.Info(
		"collection run finished",
		zap.Int("written", report.Count(StatusWritten)),
		zap.Int("cached", report.Count(StatusCached)),
		zap.Int("failed", report.Count(StatusFailed)),
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report
}

// CollectDate runs scan, fetch, dedup and issue collection for one date and
// replaces its cache entry. Nothing is written when any step or user fails.
func (c *Collector) CollectDate(ctx context.Context, date string, force bool) DateOutcome {
	started := c.Now()
	outcome := DateOutcome{Date: date}
	ctx, span := telemetry.StartSpan(ctx, "collect", "collect.date",
		attribute.String("date", date),
		attribute.Bool("force", force),
	)
	finish := func(status Status, err error) DateOutcome {
		outcome.Status = status
		outcome.Duration = c.Now().Sub(started)
		span.SetAttributes(
			attribute.String("status", string(status)),
			attribute.Int("commits", outcome.Commits),
			attribute.Int("issues", outcome.Issues),
		)
		telemetry.EndSpan(span, err)
		if err != nil {
			outcome.Err = err
			if outcome.Reason == "" {
				outcome.Reason = githubapi.ErrorReason(err)
			}
			c.logger.Warn(
				"date collection failed",
				zap.String("date", date),
				zap.String("reason", outcome.Reason),
				zap.Error(err),
			)
		}
		return outcome
	}

	window, err := activity.DayWindow(date, c.config.Location)
	if err != nil {
		outcome.Reason = "invalid_date"
		return finish(StatusFailed, err)
	}

	if !force {
		cached, found, err := c.store.Read(ctx, date)
		if err != nil {
			c.logger.Warn("cache read failed, fetching", zap.String("date", date), zap.Error(err))
		} else if found && cached.IsStructurallyValid() {
			outcome.Commits = cached.CommitCount
			outcome.Issues = cached.IssueCount
			return finish(StatusCached, nil)
		} else if found {
			c.logger.Info("cached entry is invalid, re-fetching", zap.String("date", date))
		}
	}

	var (
		commits  []activity.CommitRecord
		issues   []activity.IssueRecord
		failures []activity.UserFailure
	)
	if c.authors.TracksAll() {
		// Issue search needs an assignee, so the users are the date's commit authors.
		commits, err = c.collectCommits(ctx, window, &outcome)
		if err == nil {
			issues, failures = c.issues.FetchAll(ctx, commitAuthors(commits), window)
		}
	} else {
		group, groupCtx := errgroup.WithContext(ctx)
		group.Go(func() error {
			var commitErr error
			commits, commitErr = c.collectCommits(groupCtx, window, &outcome)
			return commitErr
		})
		group.Go(func() error {
			issues, failures = c.issues.FetchAll(groupCtx, c.config.Tracked, window)
			return nil
		})
		err = group.Wait()
	}
	if err != nil {
		return finish(StatusFailed, err)
	}
	if len(failures) > 0 {
		outcome.IssueFailures = failures
		outcome.Reason = "issue_fetch_failed"
		return finish(StatusFailed, userFailuresError(failures))
	}

	sortIssues(issues)
	snapshot := activity.NewDailySnapshot(date, commits, issues, c.Now())
	outcome.Commits = snapshot.CommitCount
	outcome.Issues = snapshot.IssueCount

	c.writeMu.Lock()
	err = c.store.Write(ctx, snapshot)
	c.writeMu.Unlock()
	if err != nil {
		outcome.Reason = "cache_write_failed"
		return finish(StatusFailed, fmt.Errorf("write cache entry: %w", err))
	}

	c.logger.Info(
		"date collected",
		zap.String("date", date),
		zap.Int("repositories", outcome.Repositories),
		zap.Int("commits", outcome.Commits),
		zap.Int("issues", outcome.Issues),
	)
	return finish(StatusWritten, nil)
}

func (c *Collector) collectCommits(ctx context.Context, window activity.Window, outcome *DateOutcome) ([]activity.CommitRecord, error) {
	repos, err := c.scanner.Scan(ctx, c.config.Org, window)
	if err != nil {
		return nil, fmt.Errorf("scan repositories: %w", err)
	}
	outcome.Repositories = len(repos)
	if len(repos) == 0 {
		return []activity.CommitRecord{}, nil
	}

	observations, err := c.fetcher.Fetch(ctx, repos, window)
	if err != nil {
		return nil, fmt.Errorf("fetch commit history: %w", err)
	}
	return activity.Dedup(observations), nil
}

func commitAuthors(commits []activity.CommitRecord) []string {
	seen := make(map[string]struct{}, len(commits))
	var authors []string
	for _, commit := range commits {
		key := strings.ToLower(commit.AuthorLogin)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		authors = append(authors, commit.AuthorLogin)
	}
	sort.Strings(authors)
	return authors
}

func sortIssues(issues []activity.IssueRecord) {
	sort.Slice(issues, func(i, j int) bool {
		if !issues[i].ClosedAt.Equal(issues[j].ClosedAt) {
			return issues[i].ClosedAt.Before(issues[j].ClosedAt)
		}
		if issues[i].Repository != issues[j].Repository {
			return issues[i].Repository < issues[j].Repository
		}
		if issues[i].Number != issues[j].Number {
			return issues[i].Number < issues[j].Number
		}
		return issues[i].AssigneeLogin < issues[j].AssigneeLogin
	})
}

func userFailuresError(failures []activity.UserFailure) error {
	errs := make([]error, 0, len(failures))
	for _, failure := range failures {
		errs = append(errs, fmt.Errorf("issues for %s: %w", failure.Username, failure.Err))
	}
	return errors.Join(errs...)
}
