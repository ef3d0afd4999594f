package activity

import (
	"context"
	"fmt"

	"github.com/dolr-ai/github-report/internal/githubapi"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// HistorySource reads branch histories with inline line stats.
type HistorySource interface {
	FetchBranchHistories(ctx context.Context, repos []githubapi.RepoKey, query githubapi.HistoryQuery) ([]githubapi.RepoBranches, error)
	FetchRefsPage(ctx context.Context, repo githubapi.RepoKey, query githubapi.HistoryQuery, after string) (githubapi.RepoBranches, error)
	FetchHistoryPage(ctx context.Context, repo githubapi.RepoKey, branch string, query githubapi.HistoryQuery, after string) (githubapi.HistoryPage, error)
}

// FetcherConfig configures history traversal.
type FetcherConfig struct {
	BatchSize       int
	Workers         int
	RefsPageSize    int
	HistoryPageSize int
}

// Fetcher enumerates every branch of every repository and emits one
// observation per (commit, branch) inside the window.
type Fetcher struct {
	source  HistorySource
	authors AuthorFilter
	config  FetcherConfig
	logger  *zap.Logger
}

// NewFetcher creates a commit history fetcher.
func NewFetcher(source HistorySource, authors AuthorFilter, config FetcherConfig, logger ...*zap.Logger) *Fetcher {
	if config.BatchSize <= 0 {
		config.BatchSize = 5
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	baseLogger := zap.NewNop()
	if len(logger) > 0 && logger[0] != nil {
		baseLogger = logger[0]
	}
	return &Fetcher{
		source:  source,
		authors: authors,
		config:  config,
		logger:  baseLogger,
	}
}

// Fetch returns every accepted observation, or an error if any repository
// batch could not be read completely.
func (f *Fetcher) Fetch(ctx context.Context, repos []RepositoryRef, window Window) ([]Observation, error) {
	if err := window.Validate(); err != nil {
		return nil, err
	}
	if len(repos) == 0 {
		return nil, nil
	}
	query := githubapi.HistoryQuery{
		Since:           window.Start,
		Until:           window.End,
		RefsPageSize:    f.config.RefsPageSize,
		HistoryPageSize: f.config.HistoryPageSize,
	}

	batches := batchRepositories(repos, f.config.BatchSize)
	results := make([][]Observation, len(batches))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(f.config.Workers)
	for i, batch := range batches {
		group.Go(func() error {
			observations, err := f.fetchBatch(groupCtx, batch, query, window)
			if err != nil {
				return err
			}
			results[i] = observations
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	var observations []Observation
	for _, batch := range results {
		observations = append(observations, batch...)
	}
	return observations, nil
}

func (f *Fetcher) fetchBatch(ctx context.Context, batch []RepositoryRef, query githubapi.HistoryQuery, window Window) ([]Observation, error) {
	keys := make([]githubapi.RepoKey, 0, len(batch))
	for _, repo := range batch {
		keys = append(keys, repo.key())
	}
	pages, err := f.source.FetchBranchHistories(ctx, keys, query)
	if err != nil {
		return nil, err
	}
	if len(pages) != len(keys) {
		return nil, fmt.Errorf("%w: requested %d repositories, got %d", githubapi.ErrMalformedResponse, len(keys), len(pages))
	}

	var observations []Observation
	for _, page := range pages {
		if page.Missing {
			f.logger.Warn("repository disappeared before history fetch", zap.String("repo", page.Repo.FullName()))
			continue
		}
		repoObservations, err := f.collectRepository(ctx, page, query, window)
		if err != nil {
			return nil, err
		}
		observations = append(observations, repoObservations...)
	}
	return observations, nil
}

func (f *Fetcher) collectRepository(ctx context.Context, page githubapi.RepoBranches, query githubapi.HistoryQuery, window Window) ([]Observation, error) {
	repo := page.Repo
	var (
		observations []Observation
		refsCursor   string
		branchCount  int
	)
	for {
		for _, branch := range page.Branches {
			branchObservations, err := f.collectBranch(ctx, repo, branch, query, window)
			if err != nil {
				return nil, err
			}
			observations = append(observations, branchObservations...)
			branchCount++
		}

		next, ok, err := page.RefsPage.NextCursor()
		if err != nil {
			return nil, fmt.Errorf("branches of %s: %w", repo.FullName(), err)
		}
		if !ok {
			break
		}
		if next == refsCursor {
			return nil, fmt.Errorf("%w: branch cursor of %s did not advance", githubapi.ErrPartialPagination, repo.FullName())
		}
		refsCursor = next
		page, err = f.source.FetchRefsPage(ctx, repo, query, refsCursor)
		if err != nil {
			return nil, err
		}
		if page.Missing {
			return nil, fmt.Errorf("%w: repository %s disappeared while listing branches", githubapi.ErrPartialPagination, repo.FullName())
		}
	}

	f.logger.Debug(
		"repository history collected",
		zap.String("repo", repo.FullName()),
		zap.Int("branches", branchCount),
		zap.Int("observations", len(observations)),
	)
	return observations, nil
}

func (f *Fetcher) collectBranch(ctx context.Context, repo githubapi.RepoKey, branch githubapi.BranchHistory, query githubapi.HistoryQuery, window Window) ([]Observation, error) {
	var (
		observations  []Observation
		historyCursor string
	)
	page := branch.History
	for {
		for _, commit := range page.Commits {
			if !window.Contains(commit.CommittedDate) || !f.authors.Accept(commit.AuthorLogin) {
				continue
			}
			observations = append(observations, Observation{
				Repository: repo.FullName(),
				Branch:     branch.Name,
				Commit:     commit,
			})
		}

		next, ok, err := page.PageInfo.NextCursor()
		if err != nil {
			return nil, fmt.Errorf("history of %s@%s: %w", repo.FullName(), branch.Name, err)
		}
		if !ok {
			return observations, nil
		}
		if next == historyCursor {
			return nil, fmt.Errorf("%w: history cursor of %s@%s did not advance", githubapi.ErrPartialPagination, repo.FullName(), branch.Name)
		}
		historyCursor = next
		page, err = f.source.FetchHistoryPage(ctx, repo, branch.Name, query, historyCursor)
		if err != nil {
			return nil, err
		}
		if page.Missing {
			// Commits still reachable from other branches are collected there.
			f.logger.Warn(
				"branch deleted during history pagination",
				zap.String("repo", repo.FullName()),
				zap.String("branch", branch.Name),
			)
			return observations, nil
		}
	}
}

func batchRepositories(repos []RepositoryRef, size int) [][]RepositoryRef {
	batches := make([][]RepositoryRef, 0, (len(repos)+size-1)/size)
	for start := 0; start < len(repos); start += size {
		end := min(start+size, len(repos))
		batches = append(batches, repos[start:end])
	}
	return batches
}
