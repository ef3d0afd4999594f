package scoring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dolr-ai/github-report/internal/activity"
	"go.uber.org/zap"
)

// Period names a set of calendar dates scored together.
type Period struct {
	Name  string   `json:"name"`
	Start string   `json:"start"`
	End   string   `json:"end"`
	Dates []string `json:"dates"`
}

// Daily is yesterday in loc.
func Daily(now time.Time, loc *time.Location) Period {
	return periodFromDates("daily", activity.LastDays(now, loc, 1))
}

// Weekly is the seven days ending yesterday in loc.
func Weekly(now time.Time, loc *time.Location) Period {
	return periodFromDates("weekly", activity.LastDays(now, loc, 7))
}

// Custom is an inclusive date range.
func Custom(start, end string) (Period, error) {
	dates, err := activity.DateRange(start, end)
	if err != nil {
		return Period{}, err
	}
	return periodFromDates("custom", dates), nil
}

// ErrUnknownPeriod is returned by PeriodByName for names other than daily and weekly.
var ErrUnknownPeriod = errors.New("unknown period")

// PeriodByName resolves daily or weekly.
func PeriodByName(name string, now time.Time, loc *time.Location) (Period, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "daily":
		return Daily(now, loc), nil
	case "weekly":
		return Weekly(now, loc), nil
	default:
		return Period{}, fmt.Errorf("%w %q (want daily or weekly)", ErrUnknownPeriod, name)
	}
}

func periodFromDates(name string, dates []string) Period {
	period := Period{Name: name, Dates: dates}
	if len(dates) > 0 {
		period.Start = dates[0]
		period.End = dates[len(dates)-1]
	}
	return period
}

// SnapshotReader reads cached daily snapshots.
type SnapshotReader interface {
	Read(ctx context.Context, date string) (activity.DailySnapshot, bool, error)
}

// Entry is one ranked contributor.
type Entry struct {
	Rank    int                `json:"rank"`
	Score   float64            `json:"score"`
	Metrics ContributorMetrics `json:"metrics"`
}

// Leaderboard is the ranked cohort for one period.
type Leaderboard struct {
	Period       Period    `json:"period"`
	GeneratedAt  time.Time `json:"generated_at"`
	Weights      Weights   `json:"weights"`
	Entries      []Entry   `json:"entries"`
	MissingDates []string  `json:"missing_dates"`
	InvalidDates []string  `json:"invalid_dates"`
}

// Builder assembles leaderboards from cached snapshots.
type Builder struct {
	reader  SnapshotReader
	tracked []string
	authors activity.AuthorFilter
	weights Weights
	logger  *zap.Logger

	// Now is injected for testability.
	Now func() time.Time
}

// NewBuilder creates a leaderboard builder.
func NewBuilder(reader SnapshotReader, tracked []string, authors activity.AuthorFilter, weights Weights, logger ...*zap.Logger) *Builder {
	baseLogger := zap.NewNop()
	if len(logger) > 0 && logger[0] != nil {
		baseLogger = logger[0]
	}
	return &Builder{
		reader:  reader,
		tracked: tracked,
		authors: authors,
		weights: weights,
		logger:  baseLogger,
		Now:     time.Now,
	}
}

// Build scores every cached date of period. Missing or structurally invalid
// dates are listed instead of being counted as zero activity.
func (b *Builder) Build(ctx context.Context, period Period) (Leaderboard, error) {
	board := Leaderboard{
		Period:       period,
		GeneratedAt:  b.Now().UTC(),
		Weights:      b.weights,
		Entries:      []Entry{},
		MissingDates: []string{},
		InvalidDates: []string{},
	}

	snapshots := make([]activity.DailySnapshot, 0, len(period.Dates))
	for _, date := range period.Dates {
		snapshot, ok, err := b.reader.Read(ctx, date)
		if err != nil {
			return Leaderboard{}, fmt.Errorf("read snapshot %s: %w", date, err)
		}
		if !ok {
			board.MissingDates = append(board.MissingDates, date)
			continue
		}
		if err := snapshot.Validate(); err != nil {
			b.logger.Warn("ignoring invalid snapshot", zap.String("date", date), zap.Error(err))
			board.InvalidDates = append(board.InvalidDates, date)
			continue
		}
		snapshots = append(snapshots, snapshot)
	}

	cohort := Aggregate(b.tracked, b.authors, snapshots)
	byUser := make(map[string]ContributorMetrics, len(cohort))
	for _, metrics := range cohort {
		byUser[metrics.Username] = metrics
	}
	for _, score := range Rank(cohort, b.weights) {
		board.Entries = append(board.Entries, Entry{
			Rank:    score.Rank,
			Score:   score.NormalizedScore,
			Metrics: byUser[score.Username],
		})
	}
	return board, nil
}

// Complete reports whether every date of the period was scored.
func (l Leaderboard) Complete() bool {
	return len(l.MissingDates) == 0 && len(l.InvalidDates) == 0
}
