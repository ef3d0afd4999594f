package activity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dolr-ai/github-report/internal/githubapi"
	"go.uber.org/zap"
)

// RepositoryLister pages organization repositories, most recently pushed first.
type RepositoryLister interface {
	ListOrgRepositoriesByPush(ctx context.Context, org, after string, pageSize int) (githubapi.RepositoryPage, error)
}

// ScannerConfig configures repository discovery.
type ScannerConfig struct {
	LookbehindPadding time.Duration
	PageSize          int
}

// Scanner finds repositories that may hold commits inside a window.
type Scanner struct {
	lister RepositoryLister
	config ScannerConfig
	logger *zap.Logger
}

// NewScanner creates a repository discovery scanner.
func NewScanner(lister RepositoryLister, config ScannerConfig, logger ...*zap.Logger) *Scanner {
	if config.LookbehindPadding < 0 {
		config.LookbehindPadding = 0
	}
	if config.PageSize <= 0 {
		config.PageSize = 100
	}
	baseLogger := zap.NewNop()
	if len(logger) > 0 && logger[0] != nil {
		baseLogger = logger[0]
	}
	return &Scanner{
		lister: lister,
		config: config,
		logger: baseLogger,
	}
}

// Scan returns repositories pushed at or after window.Start minus the
// lookbehind padding. Repositories pushed after window.End are kept.
func (s *Scanner) Scan(ctx context.Context, org string, window Window) ([]RepositoryRef, error) {
	trimmedOrg := strings.TrimSpace(org)
	if trimmedOrg == "" {
		return nil, fmt.Errorf("organization is required")
	}
	if err := window.Validate(); err != nil {
		return nil, err
	}
	cutoff := window.Start.Add(-s.config.LookbehindPadding)

	var (
		repos   []RepositoryRef
		after   string
		pages   int
		skipped int
	)
	for {
		page, err := s.lister.ListOrgRepositoriesByPush(ctx, trimmedOrg, after, s.config.PageSize)
		if err != nil {
			return nil, err
		}
		pages++

		reachedCutoff := false
		for _, repo := range page.Repos {
			if repo.Empty || repo.PushedAt.IsZero() {
				skipped++
				continue
			}
			if repo.PushedAt.Before(cutoff) {
				reachedCutoff = true
				break
			}
			repos = append(repos, RepositoryRef{
				Owner:        repo.Owner,
				Name:         repo.Name,
				LastPushedAt: repo.PushedAt,
			})
		}
		if reachedCutoff {
			break
		}

		next, ok, err := page.PageInfo.NextCursor()
		if err != nil {
			return nil, fmt.Errorf("list repositories for %q: %w", trimmedOrg, err)
		}
		if !ok {
			break
		}
		if next == after {
			return nil, fmt.Errorf("%w: repository cursor %q did not advance", githubapi.ErrPartialPagination, next)
		}
		after = next
	}

	s.logger.Debug(
		"repository discovery complete",
		zap.String("org", trimmedOrg),
		zap.Time("cutoff", cutoff),
		zap.Int("pages", pages),
		zap.Int("repos_active", len(repos)),
		zap.Int("repos_skipped_empty", skipped),
	)
	return repos, nil
}
