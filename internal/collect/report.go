package collect

import (
	"errors"
	"fmt"
	"time"

	"github.com/dolr-ai/github-report/internal/activity"
)

// Status is the outcome of one date in a collection run.
type Status string

const (
	// StatusWritten means the date was fetched and its cache entry replaced.
	StatusWritten Status = "written"
	// StatusCached means a structurally valid cache entry already existed.
	StatusCached Status = "cached"
	// StatusFailed means the date was not written.
	StatusFailed Status = "failed"
)

// DateOutcome reports what happened to one date.
type DateOutcome struct {
	Date          string
	Status        Status
	Commits       int
	Issues        int
	Repositories  int
	Reason        string
	Err           error
	IssueFailures []activity.UserFailure
	Duration      time.Duration
}

// RunReport aggregates the per-date outcomes of one run.
type RunReport struct {
	RunID      string
	Org        string
	Force      bool
	StartedAt  time.Time
	FinishedAt time.Time
	Outcomes   []DateOutcome
}

// Count returns the number of outcomes with status.
func (r RunReport) Count(status Status) int {
	count := 0
	for _, outcome := range r.Outcomes {
		if outcome.Status == status {
			count++
		}
	}
	return count
}

// Failed returns the failed outcomes in date order.
func (r RunReport) Failed() []DateOutcome {
	var failed []DateOutcome
	for _, outcome := range r.Outcomes {
		if outcome.Status == StatusFailed {
			failed = append(failed, outcome)
		}
	}
	return failed
}

// Err combines every failed date into one error, or nil when all dates succeeded.
func (r RunReport) Err() error {
	var errs []error
	for _, outcome := range r.Failed() {
		err := outcome.Err
		if err == nil {
			err = errors.New(outcome.Reason)
		}
		errs = append(errs, fmt.Errorf("%s: %w", outcome.Date, err))
	}
	return errors.Join(errs...)
}
