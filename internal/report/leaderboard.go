package report

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter/tw"

	"github.com/dolr-ai/github-report/internal/scoring"
)

// Leaderboard renders a ranked period with its missing and invalid dates.
func (r *Renderer) Leaderboard(board scoring.Leaderboard) error {
	period := board.Period
	if err := r.printf("%s %s..%s (%d days)\n", r.title(strings.ToUpper(period.Name)), period.Start, period.End, len(period.Dates)); err != nil {
		return err
	}
	weights := board.Weights
	if err := r.printf("weights: issues=%d commits=%d additions=%d deletions=%d\n",
		weights.Issues, weights.Commits, weights.Additions, weights.Deletions); err != nil {
		return err
	}

	if len(board.Entries) == 0 {
		if err := r.printf("%s\n", r.warn("no contributors with activity")); err != nil {
			return err
		}
	} else {
		rows := make([][]string, 0, len(board.Entries))
		for _, entry := range board.Entries {
			metrics := entry.Metrics
			rows = append(rows, []string{
				r.rank(entry.Rank),
				metrics.Username,
				strconv.FormatFloat(entry.Score, 'f', 2, 64),
				strconv.Itoa(metrics.CommitCount),
				strconv.Itoa(metrics.IssuesClosed),
				fmt.Sprintf("+%d/-%d", metrics.TotalAdditions, metrics.TotalDeletions),
				strconv.Itoa(len(metrics.Repositories)),
			})
		}
		headers := []string{"Rank", "User", "Score", "Commits", "Issues", "+/-", "Repos"}
		if err := r.table(headers, rows, tw.AlignRight); err != nil {
			return err
		}
	}

	if len(board.MissingDates) > 0 {
		if err := r.printf("%s %s\n", r.warn("missing from cache:"), strings.Join(board.MissingDates, ", ")); err != nil {
			return err
		}
	}
	if len(board.InvalidDates) > 0 {
		if err := r.printf("%s %s\n", r.bad("invalid cache entries:"), strings.Join(board.InvalidDates, ", ")); err != nil {
			return err
		}
	}
	return nil
}

// Breakdown renders per-repository branch tallies for each ranked contributor.
func (r *Renderer) Breakdown(board scoring.Leaderboard) error {
	var rows [][]string
	for _, entry := range board.Entries {
		metrics := entry.Metrics
		for _, repo := range metrics.Repositories {
			branches := metrics.Breakdown[repo]
			names := make([]string, 0, len(branches))
			for branch := range branches {
				names = append(names, branch)
			}
			slices.Sort(names)
			for _, branch := range names {
				tally := branches[branch]
				rows = append(rows, []string{
					metrics.Username,
					repo,
					branch,
					strconv.Itoa(tally.Commits),
					fmt.Sprintf("+%d/-%d", tally.Additions, tally.Deletions),
				})
			}
		}
	}
	if len(rows) == 0 {
		return nil
	}
	return r.table([]string{"User", "Repository", "Branch", "Commits", "+/-"}, rows, tw.AlignLeft)
}

func (r *Renderer) rank(rank int) string {
	label := strconv.Itoa(rank)
	if rank == 1 {
		return r.good(label)
	}
	return label
}
