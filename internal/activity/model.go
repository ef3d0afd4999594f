package activity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dolr-ai/github-report/internal/githubapi"
)

// DateLayout is the calendar date format used for snapshot keys.
const DateLayout = "2006-01-02"

// SchemaVersion is the current DailySnapshot layout. Older entries are re-fetched.
const SchemaVersion = 2

// Window is the half-open interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Validate checks the window is non-empty.
func (w Window) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return fmt.Errorf("window bounds are required")
	}
	if !w.End.After(w.Start) {
		return fmt.Errorf("window end %s must be after start %s", w.End.Format(time.RFC3339), w.Start.Format(time.RFC3339))
	}
	return nil
}

// DayWindow returns the window covering one calendar date in loc.
func DayWindow(date string, loc *time.Location) (Window, error) {
	if loc == nil {
		loc = time.UTC
	}
	day, err := time.ParseInLocation(DateLayout, strings.TrimSpace(date), loc)
	if err != nil {
		return Window{}, fmt.Errorf("parse date %q: %w", date, err)
	}
	return Window{Start: day, End: day.AddDate(0, 0, 1)}, nil
}

// RepositoryRef is a repository selected for history traversal.
type RepositoryRef struct {
	Owner        string
	Name         string
	LastPushedAt time.Time
}

// FullName returns owner/name.
func (r RepositoryRef) FullName() string {
	return r.Owner + "/" + r.Name
}

func (r RepositoryRef) key() githubapi.RepoKey {
	return githubapi.RepoKey{Owner: r.Owner, Name: r.Name}
}

// Observation is one commit seen on one branch.
type Observation struct {
	Repository string
	Branch     string
	Commit     githubapi.Commit
}

// CommitRecord is one unique commit with every branch it was observed on.
type CommitRecord struct {
	SHA         string    `json:"sha"`
	AuthorLogin string    `json:"author_login"`
	AuthorName  string    `json:"author_name"`
	AuthorEmail string    `json:"author_email"`
	Repository  string    `json:"repository"`
	CommittedAt time.Time `json:"committed_at"`
	Message     string    `json:"message"`
	Additions   int       `json:"additions"`
	Deletions   int       `json:"deletions"`
	Branches    []string  `json:"branches"`
}

// TotalLOC returns additions plus deletions.
func (c CommitRecord) TotalLOC() int {
	return c.Additions + c.Deletions
}

// IssueRecord is one closed issue assigned to a tracked user.
type IssueRecord struct {
	Number        int       `json:"number"`
	Title         string    `json:"title"`
	ClosedAt      time.Time `json:"closed_at"`
	URL           string    `json:"url"`
	Repository    string    `json:"repository"`
	AssigneeLogin string    `json:"assignee_login"`
	Labels        []string  `json:"labels"`
}

// DailySnapshot is the cached unit of one calendar date.
type DailySnapshot struct {
	SchemaVersion int            `json:"schema_version"`
	Date          string         `json:"date"`
	FetchedAt     time.Time      `json:"fetched_at"`
	Commits       []CommitRecord `json:"commits"`
	CommitCount   int            `json:"commit_count"`
	Issues        []IssueRecord  `json:"issues"`
	IssueCount    int            `json:"issue_count"`
}

// NewDailySnapshot builds a snapshot with consistent counts.
func NewDailySnapshot(date string, commits []CommitRecord, issues []IssueRecord, fetchedAt time.Time) DailySnapshot {
	if commits == nil {
		commits = []CommitRecord{}
	}
	if issues == nil {
		issues = []IssueRecord{}
	}
	return DailySnapshot{
		SchemaVersion: SchemaVersion,
		Date:          date,
		FetchedAt:     fetchedAt.UTC(),
		Commits:       commits,
		CommitCount:   len(commits),
		Issues:        issues,
		IssueCount:    len(issues),
	}
}

// Validate returns every structural problem of the snapshot.
func (s DailySnapshot) Validate() error {
	var errs []error
	if _, err := time.Parse(DateLayout, s.Date); err != nil {
		errs = append(errs, fmt.Errorf("date %q is not %s", s.Date, DateLayout))
	}
	if s.SchemaVersion != SchemaVersion {
		errs = append(errs, fmt.Errorf("schema version %d, want %d", s.SchemaVersion, SchemaVersion))
	}
	if s.Commits == nil {
		errs = append(errs, errors.New("commits are missing"))
	}
	if s.Issues == nil {
		errs = append(errs, errors.New("issues are missing"))
	}
	if s.CommitCount != len(s.Commits) {
		errs = append(errs, fmt.Errorf("commit_count %d does not match %d commits", s.CommitCount, len(s.Commits)))
	}
	if s.IssueCount != len(s.Issues) {
		errs = append(errs, fmt.Errorf("issue_count %d does not match %d issues", s.IssueCount, len(s.Issues)))
	}
	for i, commit := range s.Commits {
		if strings.TrimSpace(commit.SHA) == "" {
			errs = append(errs, fmt.Errorf("commit %d has no sha", i))
			continue
		}
		if len(commit.Branches) == 0 {
			errs = append(errs, fmt.Errorf("commit %s has no branches", shortSHA(commit.SHA)))
		}
	}
	return errors.Join(errs...)
}

// IsStructurallyValid reports whether the snapshot can be used without a re-fetch.
func (s DailySnapshot) IsStructurallyValid() bool {
	return s.Validate() == nil
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

// DateRange returns every calendar date from start to end inclusive.
func DateRange(start, end string) ([]string, error) {
	first, err := time.Parse(DateLayout, strings.TrimSpace(start))
	if err != nil {
		return nil, fmt.Errorf("parse start date %q: %w", start, err)
	}
	last, err := time.Parse(DateLayout, strings.TrimSpace(end))
	if err != nil {
		return nil, fmt.Errorf("parse end date %q: %w", end, err)
	}
	if last.Before(first) {
		return nil, fmt.Errorf("end date %s is before start date %s", end, start)
	}
	var dates []string
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		dates = append(dates, day.Format(DateLayout))
	}
	return dates, nil
}

// LastDays returns the n complete calendar dates ending yesterday in loc, oldest first.
func LastDays(now time.Time, loc *time.Location, n int) []string {
	if n <= 0 {
		return nil
	}
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	dates := make([]string, 0, n)
	for offset := n; offset >= 1; offset-- {
		dates = append(dates, today.AddDate(0, 0, -offset).Format(DateLayout))
	}
	return dates
}
