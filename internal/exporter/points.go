package exporter

import (
	"time"

	"github.com/dolr-ai/github-report/internal/githubapi"
	"github.com/dolr-ai/github-report/internal/scoring"
	"github.com/dolr-ai/github-report/internal/store"
)

// Metric names rendered on /metrics.
const (
	MetricRateLimitRemaining   = "github_report_rate_limit_remaining"
	MetricRateLimitLimit       = "github_report_rate_limit_limit"
	MetricRateLimitResetUnix   = "github_report_rate_limit_reset_unixtime"
	MetricContributorScore     = "github_report_contributor_score"
	MetricContributorRank      = "github_report_contributor_rank"
	MetricContributorCommits   = "github_report_contributor_commits"
	MetricContributorIssues    = "github_report_contributor_issues_closed"
	MetricContributorAdditions = "github_report_contributor_additions"
	MetricContributorDeletions = "github_report_contributor_deletions"
	MetricLeaderboardMissing   = "github_report_leaderboard_missing_dates"
	MetricLeaderboardInvalid   = "github_report_leaderboard_invalid_dates"
	MetricDateOutcome          = "github_report_date_outcome"
	MetricRunDates             = "github_report_run_dates"
	MetricLastRunUnix          = "github_report_last_run_unixtime"
	MetricLastRunDuration      = "github_report_last_run_duration_seconds"
	MetricBackfillEnqueued     = "github_report_backfill_jobs_enqueued_total"
	MetricBackfillDeduped      = "github_report_backfill_jobs_deduped_total"
	MetricBackfillDropped      = "github_report_backfill_enqueues_dropped_total"
	MetricBackfillProcessed    = "github_report_backfill_jobs_processed_total"
	MetricBackfillQueueDepth   = "github_report_backfill_queue_depth"
	MetricBackfillExpired      = "github_report_backfill_messages_expired_total"
	MetricDependencyHealth     = "github_report_dependency_health"
)

var metricHelp = map[string]string{
	MetricRateLimitRemaining:   "Remaining GitHub API budget per rate-limit bucket.",
	MetricRateLimitLimit:       "GitHub API budget size per rate-limit bucket.",
	MetricRateLimitResetUnix:   "Unix time at which the bucket budget resets.",
	MetricContributorScore:     "Normalized contributor score for the period.",
	MetricContributorRank:      "Competition rank of the contributor for the period.",
	MetricContributorCommits:   "Unique commits attributed to the contributor in the period.",
	MetricContributorIssues:    "Issues closed by the contributor in the period.",
	MetricContributorAdditions: "Lines added by the contributor in the period.",
	MetricContributorDeletions: "Lines deleted by the contributor in the period.",
	MetricLeaderboardMissing:   "Dates of the period without a cache entry.",
	MetricLeaderboardInvalid:   "Dates of the period whose cache entry failed validation.",
	MetricDateOutcome:          "Last collection outcome per date; 1 for the current status.",
	MetricRunDates:             "Dates per status in the last collection run.",
	MetricLastRunUnix:          "Unix time at which the last collection run finished.",
	MetricLastRunDuration:      "Duration of the last collection run.",
	MetricBackfillEnqueued:     "Backfill jobs published.",
	MetricBackfillDeduped:      "Backfill requests suppressed by deduplication.",
	MetricBackfillDropped:      "Backfill requests dropped by the per-org cap or a full queue.",
	MetricBackfillProcessed:    "Backfill jobs consumed, by result.",
	MetricBackfillQueueDepth:   "Backfill jobs waiting in the queue.",
	MetricBackfillExpired:      "Backfill jobs dropped for exceeding the maximum message age.",
	MetricDependencyHealth:     "Health of runtime components; 1 is healthy.",
}

func helpText(name string) string {
	if help, ok := metricHelp[name]; ok {
		return help
	}
	return name
}

// BudgetPoints renders governor budgets.
func BudgetPoints(budgets []githubapi.RateBudget) []store.MetricPoint {
	points := make([]store.MetricPoint, 0, len(budgets)*3)
	for _, budget := range budgets {
		labels := map[string]string{"bucket": string(budget.Bucket)}
		points = append(points,
			store.MetricPoint{Name: MetricRateLimitRemaining, Labels: labels, Value: float64(budget.Remaining), UpdatedAt: budget.ObservedAt},
			store.MetricPoint{Name: MetricRateLimitLimit, Labels: labels, Value: float64(budget.Limit), UpdatedAt: budget.ObservedAt},
		)
		if !budget.ResetAt.IsZero() {
			points = append(points, store.MetricPoint{
				Name:      MetricRateLimitResetUnix,
				Labels:    labels,
				Value:     float64(budget.ResetAt.Unix()),
				UpdatedAt: budget.ObservedAt,
			})
		}
	}
	return points
}

// LeaderboardPoints renders one leaderboard as per-contributor series labeled by period.
func LeaderboardPoints(org string, board scoring.Leaderboard) []store.MetricPoint {
	updatedAt := board.GeneratedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	period := board.Period.Name
	points := make([]store.MetricPoint, 0, len(board.Entries)*6+2)
	for _, entry := range board.Entries {
		labels := map[string]string{
			"org":    org,
			"period": period,
			"user":   entry.Metrics.Username,
		}
		points = append(points,
			store.MetricPoint{Name: MetricContributorScore, Labels: labels, Value: entry.Score, UpdatedAt: updatedAt},
			store.MetricPoint{Name: MetricContributorRank, Labels: labels, Value: float64(entry.Rank), UpdatedAt: updatedAt},
			store.MetricPoint{Name: MetricContributorCommits, Labels: labels, Value: float64(entry.Metrics.CommitCount), UpdatedAt: updatedAt},
			store.MetricPoint{Name: MetricContributorIssues, Labels: labels, Value: float64(entry.Metrics.IssuesClosed), UpdatedAt: updatedAt},
			store.MetricPoint{Name: MetricContributorAdditions, Labels: labels, Value: float64(entry.Metrics.TotalAdditions), UpdatedAt: updatedAt},
			store.MetricPoint{Name: MetricContributorDeletions, Labels: labels, Value: float64(entry.Metrics.TotalDeletions), UpdatedAt: updatedAt},
		)
	}
	periodLabels := map[string]string{"org": org, "period": period}
	points = append(points,
		store.MetricPoint{Name: MetricLeaderboardMissing, Labels: periodLabels, Value: float64(len(board.MissingDates)), UpdatedAt: updatedAt},
		store.MetricPoint{Name: MetricLeaderboardInvalid, Labels: periodLabels, Value: float64(len(board.InvalidDates)), UpdatedAt: updatedAt},
	)
	return points
}
