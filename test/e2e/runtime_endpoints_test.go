//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dolr-ai/github-report/internal/activity"
	"github.com/dolr-ai/github-report/internal/app"
	"github.com/dolr-ai/github-report/internal/config"
	"github.com/dolr-ai/github-report/internal/health"
	"github.com/dolr-ai/github-report/internal/scoring"
)

const (
	e2eOrg   = "acme"
	e2eToken = "e2e-token"
)

type runtimeHarness struct {
	api        *fakeGitHubAPI
	pipeline   *app.Pipeline
	runtime    *app.Runtime
	baseURL    string
	httpClient *http.Client
	yesterday  string
	dayBefore  string
}

func TestRuntimeServesCollectedActivity(t *testing.T) {
	t.Parallel()

	harness := newRuntimeHarness(t)

	t.Run("first_cycle_writes_every_date", func(t *testing.T) {
		err := waitForCondition(30*time.Second, 100*time.Millisecond, func() (bool, error) {
			body, err := fetchBody(harness.httpClient, harness.baseURL+"/metrics")
			if err != nil {
				return false, err
			}
			return strings.Contains(body, "github_report_last_run_unixtime"), nil
		})
		require.NoError(t, err, "first collection cycle never completed")

		dates, err := harness.pipeline.Store.Dates(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{harness.dayBefore, harness.yesterday}, dates)

		snapshot, found, err := harness.pipeline.Store.Read(context.Background(), harness.yesterday)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, 2, snapshot.CommitCount, "shared commit across branches counted once, bot dropped")
		assert.Equal(t, 1, snapshot.IssueCount)
	})

	t.Run("metrics_expose_run_outcomes_and_leaderboards", func(t *testing.T) {
		body, err := fetchBody(harness.httpClient, harness.baseURL+"/metrics")
		require.NoError(t, err)

		for _, want := range []string{
			`github_report_run_dates{status="written"} 2`,
			fmt.Sprintf(`github_report_date_outcome{date=%q,status="written"} 1`, harness.yesterday),
			`github_report_contributor_commits{org="acme",period="weekly",user="alice"} 2`,
			`github_report_contributor_commits{org="acme",period="weekly",user="bob"} 1`,
			`github_report_contributor_issues_closed{org="acme",period="weekly",user="alice"} 1`,
			`github_report_contributor_rank{org="acme",period="weekly",user="alice"} 1`,
			`github_report_leaderboard_missing_dates{org="acme",period="weekly"} 5`,
			`github_report_rate_limit_remaining{bucket="graphql"}`,
		} {
			assert.Contains(t, body, want)
		}
	})

	t.Run("weekly_leaderboard_ranks_tracked_users", func(t *testing.T) {
		resp, err := harness.httpClient.Get(harness.baseURL + "/leaderboard/weekly")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var board scoring.Leaderboard
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&board))
		assert.Equal(t, "weekly", board.Period.Name)
		assert.Equal(t, harness.yesterday, board.Period.End)
		assert.Len(t, board.MissingDates, 5)
		require.Len(t, board.Entries, 2)

		alice := board.Entries[0]
		assert.Equal(t, 1, alice.Rank)
		assert.Equal(t, "alice", alice.Metrics.Username)
		assert.Equal(t, 2, alice.Metrics.CommitCount)
		assert.Equal(t, 1, alice.Metrics.IssuesClosed)
		assert.Equal(t, 50, alice.Metrics.TotalAdditions)
		assert.Equal(t, 7, alice.Metrics.TotalDeletions)
		assert.Equal(t, []string{"acme/api"}, alice.Metrics.Repositories)

		bob := board.Entries[1]
		assert.Equal(t, 2, bob.Rank)
		assert.Equal(t, "bob", bob.Metrics.Username)
		assert.Equal(t, 1, bob.Metrics.CommitCount)
	})

	t.Run("unknown_period_is_not_found", func(t *testing.T) {
		resp, err := harness.httpClient.Get(harness.baseURL + "/leaderboard/yearly")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("health_reports_ready", func(t *testing.T) {
		err := waitForCondition(10*time.Second, 100*time.Millisecond, func() (bool, error) {
			status, err := fetchHealthStatus(harness.httpClient, harness.baseURL)
			if err != nil {
				return false, err
			}
			return status.Ready && status.Mode == health.ModeHealthy, nil
		})
		require.NoError(t, err)
	})

	t.Run("second_cycle_is_served_from_cache", func(t *testing.T) {
		graphQLCalls := harness.api.Calls("POST /graphql")
		searchCalls := harness.api.Calls("GET /search/issues")

		require.NoError(t, harness.runtime.RunCycle(context.Background()))

		assert.Equal(t, graphQLCalls, harness.api.Calls("POST /graphql"))
		assert.Equal(t, searchCalls, harness.api.Calls("GET /search/issues"))
		assert.Zero(t, harness.runtime.QueueDepth())
	})
}

func newRuntimeHarness(t *testing.T) *runtimeHarness {
	t.Helper()

	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	yesterday := today.AddDate(0, 0, -1)
	dayBefore := today.AddDate(0, 0, -2)

	api := newFakeGitHubAPI(t, e2eOrg, e2eToken)
	shared := commitFixture{
		OID:         "a1",
		Headline:    "add login endpoint",
		Login:       "alice",
		AuthorName:  "Alice",
		AuthorEmail: "alice@example.com",
		CommittedAt: yesterday.Add(10 * time.Hour),
		Additions:   40,
		Deletions:   5,
	}
	api.AddRepository(repositoryFixture{
		Name:     "api",
		PushedAt: now.Add(-time.Hour),
		Branches: map[string][]commitFixture{
			"main": {
				shared,
				{
					OID:         "b0",
					Headline:    "bump deps",
					Login:       "dependabot[bot]",
					AuthorName:  "dependabot[bot]",
					CommittedAt: yesterday.Add(11 * time.Hour),
					Additions:   300,
					Deletions:   300,
				},
			},
			"feature/login": {
				shared,
				{
					OID:         "a2",
					Headline:    "validate login payload",
					Login:       "alice",
					AuthorName:  "Alice",
					AuthorEmail: "alice@example.com",
					CommittedAt: yesterday.Add(14 * time.Hour),
					Additions:   10,
					Deletions:   2,
				},
			},
		},
	})
	api.AddRepository(repositoryFixture{
		Name:     "web",
		PushedAt: now.Add(-2 * time.Hour),
		Branches: map[string][]commitFixture{
			"main": {{
				OID:         "c1",
				Headline:    "fix navbar",
				Login:       "bob",
				AuthorName:  "Bob",
				AuthorEmail: "bob@example.com",
				CommittedAt: dayBefore.Add(15 * time.Hour),
				Additions:   7,
				Deletions:   1,
			}},
		},
	})
	api.AddRepository(repositoryFixture{
		Name:     "ghost",
		PushedAt: now.Add(-3 * time.Hour),
		Deleted:  true,
	})
	api.AddRepository(repositoryFixture{
		Name:     "legacy",
		PushedAt: now.AddDate(0, 0, -30),
		Branches: map[string][]commitFixture{
			"main": {{OID: "d1", Login: "alice", CommittedAt: yesterday.Add(9 * time.Hour), Additions: 1000}},
		},
	})
	api.AddClosedIssue("alice", issueFixture{
		Number:   12,
		Repo:     "api",
		Title:    "Login fails on expired sessions",
		ClosedAt: yesterday.Add(16 * time.Hour),
		Labels:   []string{"bug"},
	})

	redisServer := miniredis.RunT(t)

	cfg := config.Default()
	cfg.GitHub.APIBaseURL = api.URL() + "/"
	cfg.GitHub.GraphQLURL = api.URL() + "/graphql"
	cfg.GitHub.Org = e2eOrg
	cfg.GitHub.Token = e2eToken
	cfg.Tracking.Users = []string{"alice", "bob"}
	cfg.Fetch.Timezone = "UTC"
	cfg.Fetch.DaysBack = 2
	cfg.Cache.Backend = "redis"
	cfg.Cache.RedisAddr = redisServer.Addr()
	cfg.Cache.Namespace = "e2e"
	cfg.Schedule.Interval = time.Hour
	require.NoError(t, cfg.Validate())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	pipeline, err := app.NewPipeline(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pipeline.Close(); err != nil {
			t.Errorf("close pipeline: %v", err)
		}
	})

	runtime := app.NewRuntime(cfg, app.Dependencies{
		Collector: pipeline.Collector,
		Builder:   pipeline.Builder,
		Budgets:   pipeline.Governor,
		Deduper:   app.DeduperFor(pipeline.Store),
	}, zap.NewNop())
	runtime.Start(ctx)
	t.Cleanup(runtime.Stop)

	server := httptest.NewServer(runtime.Handler())
	t.Cleanup(server.Close)

	return &runtimeHarness{
		api:        api,
		pipeline:   pipeline,
		runtime:    runtime,
		baseURL:    server.URL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		yesterday:  yesterday.Format(activity.DateLayout),
		dayBefore:  dayBefore.Format(activity.DateLayout),
	}
}

func fetchBody(client *http.Client, url string) (string, error) {
	resp, err := client.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GET %s returned %d: %s", url, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return string(body), nil
}

func fetchHealthStatus(client *http.Client, baseURL string) (health.Status, error) {
	body, err := fetchBody(client, baseURL+"/healthz")
	if err != nil {
		return health.Status{}, err
	}
	var status health.Status
	if err := json.Unmarshal([]byte(body), &status); err != nil {
		return health.Status{}, fmt.Errorf("decode health status: %w", err)
	}
	return status, nil
}

func waitForCondition(timeout, interval time.Duration, check func() (bool, error)) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		ok, err := check()
		if err == nil && ok {
			return nil
		}
		lastErr = err
		time.Sleep(interval)
	}
	if lastErr != nil {
		return fmt.Errorf("condition not met within %s: %w", timeout, lastErr)
	}
	return fmt.Errorf("condition not met within %s", timeout)
}
