package report

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter/tw"

	"github.com/dolr-ai/github-report/internal/activity"
	"github.com/dolr-ai/github-report/internal/githubapi"
)

// SnapshotLister lists and reads cached snapshots.
type SnapshotLister interface {
	Dates(ctx context.Context) ([]string, error)
	Read(ctx context.Context, date string) (activity.DailySnapshot, bool, error)
}

// DateStatus summarizes one cached date.
type DateStatus struct {
	Date      string
	Commits   int
	Issues    int
	FetchedAt time.Time
	Valid     bool
	Problem   string
}

// InspectCache reads every cached date and checks it structurally.
func InspectCache(ctx context.Context, snapshots SnapshotLister) ([]DateStatus, error) {
	dates, err := snapshots.Dates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cached dates: %w", err)
	}

	statuses := make([]DateStatus, 0, len(dates))
	for _, date := range dates {
		snapshot, found, err := snapshots.Read(ctx, date)
		if err != nil {
			return nil, fmt.Errorf("read cached date %s: %w", date, err)
		}
		if !found {
			continue
		}
		status := DateStatus{
			Date:      date,
			Commits:   len(snapshot.Commits),
			Issues:    len(snapshot.Issues),
			FetchedAt: snapshot.FetchedAt,
			Valid:     true,
		}
		if err := snapshot.Validate(); err != nil {
			status.Valid = false
			status.Problem = err.Error()
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// CacheStatus renders the cached dates.
func (r *Renderer) CacheStatus(statuses []DateStatus) error {
	if len(statuses) == 0 {
		return r.printf("%s\n", r.warn("cache is empty"))
	}

	rows := make([][]string, 0, len(statuses))
	invalid := 0
	for _, status := range statuses {
		state := r.good("valid")
		if !status.Valid {
			invalid++
			state = r.bad("invalid: " + status.Problem)
		}
		fetched := "-"
		if !status.FetchedAt.IsZero() {
			fetched = status.FetchedAt.UTC().Format(time.RFC3339)
		}
		rows = append(rows, []string{
			status.Date,
			strconv.Itoa(status.Commits),
			strconv.Itoa(status.Issues),
			fetched,
			state,
		})
	}
	if err := r.table([]string{"Date", "Commits", "Issues", "Fetched", "Status"}, rows, tw.AlignLeft); err != nil {
		return err
	}
	return r.printf("%d cached dates, %d invalid\n", len(statuses), invalid)
}

// Budgets renders the governor budgets. Buckets under a tenth of their limit
// are highlighted.
func (r *Renderer) Budgets(budgets []githubapi.RateBudget, now time.Time) error {
	if len(budgets) == 0 {
		return r.printf("%s\n", r.warn("no rate-limit budgets observed"))
	}

	rows := make([][]string, 0, len(budgets))
	for _, budget := range budgets {
		remaining := strconv.Itoa(budget.Remaining)
		if budget.Limit > 0 && budget.Remaining*10 < budget.Limit {
			remaining = r.bad(remaining)
		}
		resetsIn := "-"
		if !budget.ResetAt.IsZero() {
			resetsIn = budget.ResetAt.Sub(now).Round(time.Second).String()
			if budget.ResetAt.Before(now) {
				resetsIn = "elapsed"
			}
		}
		rows = append(rows, []string{
			string(budget.Bucket),
			remaining,
			strconv.Itoa(budget.Limit),
			resetsIn,
		})
	}
	return r.table([]string{"Bucket", "Remaining", "Limit", "Resets In"}, rows, tw.AlignLeft)
}
