package scoring

import (
	"sort"
	"strings"

	"github.com/dolr-ai/github-report/internal/activity"
)

// priorityBranches are preferred, in order, when a commit sits on several branches.
var priorityBranches = []string{"main", "master", "develop", "development", "staging", "production"}

// BranchTally is the activity of one contributor on one branch of one repository.
type BranchTally struct {
	Commits   int `json:"commits"`
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
	TotalLOC  int `json:"total_loc"`
}

// ContributorMetrics is one contributor's activity over a period.
type ContributorMetrics struct {
	Username       string                            `json:"username"`
	IssuesClosed   int                               `json:"issues_closed"`
	CommitCount    int                               `json:"commit_count"`
	TotalAdditions int                               `json:"total_additions"`
	TotalDeletions int                               `json:"total_deletions"`
	TotalLOC       int                               `json:"total_loc"`
	Repositories   []string                          `json:"repositories"`
	Breakdown      map[string]map[string]BranchTally `json:"breakdown"`
	Commits        []activity.CommitRecord           `json:"commits"`
	Issues         []activity.IssueRecord            `json:"issues"`
}

// PrimaryBranch picks the branch a multi-branch commit is tallied under.
func PrimaryBranch(branches []string) string {
	if len(branches) == 0 {
		return "unknown"
	}
	for _, preferred := range priorityBranches {
		for _, branch := range branches {
			if branch == preferred {
				return branch
			}
		}
	}
	sorted := append([]string(nil), branches...)
	sort.Strings(sorted)
	return sorted[0]
}

// Aggregate folds snapshots into per-contributor metrics. Tracked users are
// always part of the cohort; with no tracked users the cohort is every
// attributed author or assignee found in the snapshots.
func Aggregate(tracked []string, authors activity.AuthorFilter, snapshots []activity.DailySnapshot) []ContributorMetrics {
	byUser := make(map[string]*ContributorMetrics)
	get := func(username string) *ContributorMetrics {
		key := strings.ToLower(username)
		metrics, ok := byUser[key]
		if !ok {
			metrics = &ContributorMetrics{
				Username:  username,
				Breakdown: make(map[string]map[string]BranchTally),
				Commits:   []activity.CommitRecord{},
				Issues:    []activity.IssueRecord{},
			}
			byUser[key] = metrics
		}
		return metrics
	}
	for _, username := range tracked {
		if trimmed := strings.TrimSpace(username); trimmed != "" {
			get(trimmed)
		}
	}

	for _, snapshot := range snapshots {
		for _, commit := range snapshot.Commits {
			username, ok := authors.Canonical(commit.AuthorLogin)
			if !ok {
				continue
			}
			metrics := get(username)
			metrics.CommitCount++
			metrics.TotalAdditions += commit.Additions
			metrics.TotalDeletions += commit.Deletions
			metrics.TotalLOC += commit.TotalLOC()
			metrics.Commits = append(metrics.Commits, commit)

			branches, ok := metrics.Breakdown[commit.Repository]
			if !ok {
				branches = make(map[string]BranchTally)
				metrics.Breakdown[commit.Repository] = branches
			}
			primary := PrimaryBranch(commit.Branches)
			tally := branches[primary]
			tally.Commits++
			tally.Additions += commit.Additions
			tally.Deletions += commit.Deletions
			tally.TotalLOC += commit.TotalLOC()
			branches[primary] = tally
		}
		for _, issue := range snapshot.Issues {
			username, ok := authors.Canonical(issue.AssigneeLogin)
			if !ok {
				continue
			}
			metrics := get(username)
			metrics.IssuesClosed++
			metrics.Issues = append(metrics.Issues, issue)
		}
	}

	result := make([]ContributorMetrics, 0, len(byUser))
	for _, metrics := range byUser {
		metrics.Repositories = make([]string, 0, len(metrics.Breakdown))
		for repository := range metrics.Breakdown {
			metrics.Repositories = append(metrics.Repositories, repository)
		}
		sort.Strings(metrics.Repositories)
		result = append(result, *metrics)
	}
	sort.Slice(result, func(i, j int) bool {
		return lessUsername(result[i].Username, result[j].Username)
	})
	return result
}

func lessUsername(a, b string) bool {
	lowerA, lowerB := strings.ToLower(a), strings.ToLower(b)
	if lowerA != lowerB {
		return lowerA < lowerB
	}
	return a < b
}
