package activity

import (
	"context"
	"fmt"
	"strings"

	"github.com/dolr-ai/github-report/internal/githubapi"
	"go.uber.org/zap"
)

// maxSearchPages bounds issue search pagination; the API serves at most 1000 hits.
const maxSearchPages = 10

// IssueSearcher reads closed-issue search pages.
type IssueSearcher interface {
	SearchClosedIssues(ctx context.Context, query githubapi.IssueSearchQuery, page int) (githubapi.IssueSearchPage, error)
}

// UserFailure is a per-user issue fetch failure.
type UserFailure struct {
	Username string
	Err      error
}

// IssueFetcher enumerates closed issues explicitly assigned to tracked users.
type IssueFetcher struct {
	searcher IssueSearcher
	org      string
	pageSize int
	logger   *zap.Logger
}

// NewIssueFetcher creates an issue fetcher for one organization.
func NewIssueFetcher(searcher IssueSearcher, org string, pageSize int, logger ...*zap.Logger) *IssueFetcher {
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 100
	}
	baseLogger := zap.NewNop()
	if len(logger) > 0 && logger[0] != nil {
		baseLogger = logger[0]
	}
	return &IssueFetcher{
		searcher: searcher,
		org:      strings.TrimSpace(org),
		pageSize: pageSize,
		logger:   baseLogger,
	}
}

// FetchForUser returns every issue closed in window, assigned to username,
// inside the organization.
func (f *IssueFetcher) FetchForUser(ctx context.Context, username string, window Window) ([]IssueRecord, error) {
	trimmed := strings.TrimSpace(username)
	if trimmed == "" {
		return nil, fmt.Errorf("username is required")
	}
	if err := window.Validate(); err != nil {
		return nil, err
	}
	query := githubapi.IssueSearchQuery{
		Org:      f.org,
		Assignee: trimmed,
		Start:    window.Start,
		End:      window.End,
		PerPage:  f.pageSize,
	}

	records := []IssueRecord{}
	seen := make(map[string]struct{})
	for page := 1; ; page++ {
		result, err := f.searcher.SearchClosedIssues(ctx, query, page)
		if err != nil {
			return nil, fmt.Errorf("issues for %s: %w", trimmed, err)
		}
		for _, issue := range result.Issues {
			if !acceptIssue(issue, trimmed, f.org, window) {
				continue
			}
			repository := issue.RepositoryOwner + "/" + issue.RepositoryName
			key := fmt.Sprintf("%s#%d", repository, issue.Number)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			records = append(records, IssueRecord{
				Number:        issue.Number,
				Title:         issue.Title,
				ClosedAt:      issue.ClosedAt.UTC(),
				URL:           issue.URL,
				Repository:    repository,
				AssigneeLogin: trimmed,
				Labels:        append([]string(nil), issue.Labels...),
			})
		}
		if !result.HasNextPage {
			return records, nil
		}
		if page >= maxSearchPages {
			return nil, fmt.Errorf("issues for %s: %w: search has more than %d pages", trimmed, githubapi.ErrPartialPagination, maxSearchPages)
		}
	}
}

// FetchAll fetches issues for every user. A failing user does not stop the others.
func (f *IssueFetcher) FetchAll(ctx context.Context, usernames []string, window Window) ([]IssueRecord, []UserFailure) {
	records := []IssueRecord{}
	var failures []UserFailure
	for _, username := range usernames {
		if ctx.Err() != nil {
			failures = append(failures, UserFailure{Username: username, Err: ctx.Err()})
			continue
		}
		userRecords, err := f.FetchForUser(ctx, username, window)
		if err != nil {
			f.logger.Warn(
				"issue fetch failed",
				zap.String("user", username),
				zap.String("reason", githubapi.ErrorReason(err)),
				zap.Error(err),
			)
			failures = append(failures, UserFailure{Username: username, Err: err})
			continue
		}
		records = append(records, userRecords...)
	}
	return records, failures
}

// acceptIssue applies the four mandatory filters plus the pull-request exclusion.
func acceptIssue(issue githubapi.Issue, username, org string, window Window) bool {
	if !strings.EqualFold(issue.State, "closed") || issue.IsPullRequest {
		return false
	}
	if !strings.EqualFold(issue.RepositoryOwner, org) {
		return false
	}
	if issue.ClosedAt.IsZero() || !window.Contains(issue.ClosedAt) {
		return false
	}
	for _, assignee := range issue.Assignees {
		if strings.EqualFold(assignee, username) {
			return true
		}
	}
	return false
}
