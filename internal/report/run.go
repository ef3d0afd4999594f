package report

import (
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter/tw"

	"github.com/dolr-ai/github-report/internal/collect"
)

// Run renders the per-date outcomes of a collection run followed by any
// per-user issue failures.
func (r *Renderer) Run(run collect.RunReport) error {
	rows := make([][]string, 0, len(run.Outcomes))
	var failures [][]string
	for _, outcome := range run.Outcomes {
		rows = append(rows, []string{
			outcome.Date,
			r.status(outcome.Status),
			strconv.Itoa(outcome.Repositories),
			strconv.Itoa(outcome.Commits),
			strconv.Itoa(outcome.Issues),
			outcome.Reason,
		})
		for _, failure := range outcome.IssueFailures {
			message := ""
			if failure.Err != nil {
				message = failure.Err.Error()
			}
			failures = append(failures, []string{outcome.Date, failure.Username, message})
		}
	}
	if len(rows) > 0 {
		if err := r.table([]string{"Date", "Status", "Repos", "Commits", "Issues", "Reason"}, rows, tw.AlignLeft); err != nil {
			return err
		}
	}
	if len(failures) > 0 {
		if err := r.printf("%s\n", r.bad("issue fetch failures:")); err != nil {
			return err
		}
		if err := r.table([]string{"Date", "User", "Error"}, failures, tw.AlignLeft); err != nil {
			return err
		}
	}
	return r.printf("run %s: %d written, %d cached, %d failed in %s\n",
		run.RunID,
		run.Count(collect.StatusWritten),
		run.Count(collect.StatusCached),
		run.Count(collect.StatusFailed),
		run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond),
	)
}

func (r *Renderer) status(status collect.Status) string {
	switch status {
	case collect.StatusWritten:
		return r.good(string(status))
	case collect.StatusFailed:
		return r.bad(string(status))
	default:
		return string(status)
	}
}
