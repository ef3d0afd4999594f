package config

import (
	"fmt"
	"io"
	"strings"
	"testing"
	"time"
)

func TestLoadAndValidate(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		yaml       string
		wantErr    bool
		errSubstrs []string
	}{
		{
			name: "valid_full_configuration",
			yaml: baseConfigYAML(),
		},
		{
			name: "valid_minimal_configuration",
			yaml: `
github:
  org: "dolr-ai"
`,
		},
		{
			name: "invalid_log_level",
			yaml: `
server:
  log_level: "trace"
github:
  org: "dolr-ai"
`,
			wantErr:    true,
			errSubstrs: []string{"server.log_level"},
		},
		{
			name:       "missing_org",
			yaml:       "server:\n  listen_addr: \":8080\"\n",
			wantErr:    true,
			errSubstrs: []string{"github.org is required"},
		},
		{
			name: "partial_app_auth_reports_every_missing_field",
			yaml: `
github:
  org: "dolr-ai"
  app_id: 12
`,
			wantErr: true,
			errSubstrs: []string{
				"github.installation_id must be > 0",
				"github.private_key_path is required",
			},
		},
		{
			name: "unknown_timezone",
			yaml: `
github:
  org: "dolr-ai"
fetch:
  timezone: "Mars/Olympus_Mons"
`,
			wantErr:    true,
			errSubstrs: []string{"fetch.timezone"},
		},
		{
			name: "page_size_above_api_maximum",
			yaml: `
github:
  org: "dolr-ai"
fetch:
  history_page_size: 250
  issue_page_size: -1
`,
			wantErr: true,
			errSubstrs: []string{
				"fetch.history_page_size must be between 1 and 100",
				"fetch.issue_page_size must be between 1 and 100",
			},
		},
		{
			name: "unknown_cache_backend",
			yaml: `
github:
  org: "dolr-ai"
cache:
  backend: "dynamodb"
`,
			wantErr:    true,
			errSubstrs: []string{"cache.backend"},
		},
		{
			name: "postgres_requires_dsn",
			yaml: `
github:
  org: "dolr-ai"
cache:
  backend: "postgres"
`,
			wantErr:    true,
			errSubstrs: []string{"cache.dsn is required when cache.backend=postgres"},
		},
		{
			name: "sentinel_mode_requires_sentinel_addrs",
			yaml: `
github:
  org: "dolr-ai"
cache:
  backend: "redis"
  redis_mode: "sentinel"
`,
			wantErr: true,
			errSubstrs: []string{
				"cache.redis_sentinel_addrs",
				"cache.redis_master_set",
			},
		},
		{
			name: "negative_weight",
			yaml: `
github:
  org: "dolr-ai"
scoring:
  weights:
    issues: -1
    commits: 3
`,
			wantErr:    true,
			errSubstrs: []string{"scoring.weights must be >= 0"},
		},
		{
			name: "invalid_trace_mode_and_ratio",
			yaml: `
github:
  org: "dolr-ai"
telemetry:
  otel_trace_mode: "verbose"
  otel_trace_sample_ratio: 2
`,
			wantErr: true,
			errSubstrs: []string{
				"telemetry.otel_trace_mode",
				"telemetry.otel_trace_sample_ratio",
			},
		},
		{
			name: "unknown_field_rejected",
			yaml: `
github:
  org: "dolr-ai"
  orgs: ["a"]
`,
			wantErr:    true,
			errSubstrs: []string{"unmarshal yaml"},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := Load(strings.NewReader(tc.yaml))
			if tc.wantErr {
				if err == nil {
					t.Fatalf("Load() expected error, got nil")
				}
				for _, substr := range tc.errSubstrs {
					if !strings.Contains(err.Error(), substr) {
						t.Fatalf("Load() error = %q, missing substring %q", err.Error(), substr)
					}
				}
				return
			}

			if err != nil {
				t.Fatalf("Load() unexpected error: %v", err)
			}
			if cfg == nil {
				t.Fatalf("Load() returned nil config")
			}
			if cfg.Fetch.Location == nil {
				t.Fatalf("Load() did not resolve fetch.timezone")
			}
		})
	}
}

func TestLoadAdditionalBehaviors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name        string
		reader      io.Reader
		wantErr     bool
		errContains string
		assert      func(t *testing.T, cfg *Config)
	}{
		{
			name:        "nil_reader_returns_error",
			reader:      nil,
			wantErr:     true,
			errContains: "config reader is nil",
		},
		{
			name:        "invalid_yaml_returns_parse_error",
			reader:      strings.NewReader("server: [oops"),
			wantErr:     true,
			errContains: "unmarshal yaml",
		},
		{
			name:   "applies_defaults",
			reader: strings.NewReader("github:\n  org: \"dolr-ai\"\n"),
			assert: func(t *testing.T, cfg *Config) {
				t.Helper()
				if cfg.Server.ListenAddr != ":8080" {
					t.Fatalf("Server.ListenAddr = %q, want :8080", cfg.Server.ListenAddr)
				}
				if cfg.Server.LogLevel != "info" {
					t.Fatalf("Server.LogLevel = %q, want info", cfg.Server.LogLevel)
				}
				if cfg.GitHub.APIBaseURL != "https://api.github.com/" {
					t.Fatalf("GitHub.APIBaseURL = %q, want https://api.github.com/", cfg.GitHub.APIBaseURL)
				}
				if cfg.GitHub.GraphQLURL != "https://api.github.com/graphql" {
					t.Fatalf("GitHub.GraphQLURL = %q, want https://api.github.com/graphql", cfg.GitHub.GraphQLURL)
				}
				if cfg.Fetch.Workers != 4 || cfg.Fetch.RepoBatchSize != 5 || cfg.Fetch.DaysBack != 7 {
					t.Fatalf("Fetch = %+v, want workers=4 repo_batch_size=5 days_back=7", cfg.Fetch)
				}
				if cfg.Fetch.LookbehindPadding != 24*time.Hour {
					t.Fatalf("Fetch.LookbehindPadding = %s, want 24h", cfg.Fetch.LookbehindPadding)
				}
				if cfg.Fetch.Location.String() != "Asia/Kolkata" {
					t.Fatalf("Fetch.Location = %s, want Asia/Kolkata", cfg.Fetch.Location)
				}
				if cfg.RateLimit.MinRemainingThreshold != 100 || cfg.RateLimit.FallbackAttempts != 10 {
					t.Fatalf("RateLimit = %+v, want min_remaining=100 fallback_attempts=10", cfg.RateLimit)
				}
				if cfg.Retry.MaxAttempts != 10 || cfg.Retry.MaxBackoff != 5*time.Minute {
					t.Fatalf("Retry = %+v, want max_attempts=10 max_backoff=5m", cfg.Retry)
				}
				if cfg.Cache.Backend != "file" || cfg.Cache.Dir != "cache" || cfg.Cache.Table != "daily_snapshots" {
					t.Fatalf("Cache = %+v, want file backend in cache/", cfg.Cache)
				}
				wantWeights := WeightsConfig{Issues: 3, Commits: 3, Additions: 2, Deletions: 2}
				if cfg.Scoring.Weights != wantWeights {
					t.Fatalf("Scoring.Weights = %+v, want %+v", cfg.Scoring.Weights, wantWeights)
				}
				if cfg.Schedule.Interval != time.Hour || cfg.Schedule.BackfillMaxAttempts != 7 {
					t.Fatalf("Schedule = %+v, want interval=1h backfill_max_attempts=7", cfg.Schedule)
				}
				if cfg.Telemetry.OTELTraceMode != "off" {
					t.Fatalf("Telemetry.OTELTraceMode = %q, want off", cfg.Telemetry.OTELTraceMode)
				}
			},
		},
		{
			name: "parses_day_and_week_durations",
			reader: strings.NewReader(`
github:
  org: "dolr-ai"
  unhealthy_cooldown: "0.5d"
fetch:
  lookbehind_padding: "2d"
schedule:
  backfill_max_message_age: "1w"
`),
			assert: func(t *testing.T, cfg *Config) {
				t.Helper()
				if cfg.GitHub.UnhealthyCooldown != 12*time.Hour {
					t.Fatalf("GitHub.UnhealthyCooldown = %s, want 12h", cfg.GitHub.UnhealthyCooldown)
				}
				if cfg.Fetch.LookbehindPadding != 48*time.Hour {
					t.Fatalf("Fetch.LookbehindPadding = %s, want 48h", cfg.Fetch.LookbehindPadding)
				}
				if cfg.Schedule.BackfillMaxMessageAge != 7*24*time.Hour {
					t.Fatalf("Schedule.BackfillMaxMessageAge = %s, want 168h", cfg.Schedule.BackfillMaxMessageAge)
				}
			},
		},
		{
			name: "custom_api_base_url_derives_graphql_url",
			reader: strings.NewReader(`
github:
  org: "dolr-ai"
  api_base_url: "https://ghe.example.com/api/v3"
`),
			assert: func(t *testing.T, cfg *Config) {
				t.Helper()
				if cfg.GitHub.APIBaseURL != "https://ghe.example.com/api/v3/" {
					t.Fatalf("GitHub.APIBaseURL = %q, want trailing slash", cfg.GitHub.APIBaseURL)
				}
				if cfg.GitHub.GraphQLURL != "https://ghe.example.com/api/v3/graphql" {
					t.Fatalf("GitHub.GraphQLURL = %q, want derived graphql url", cfg.GitHub.GraphQLURL)
				}
			},
		},
		{
			name:   "otel_enabled_defaults_to_errors_mode",
			reader: strings.NewReader("github:\n  org: \"dolr-ai\"\ntelemetry:\n  otel_enabled: true\n"),
			assert: func(t *testing.T, cfg *Config) {
				t.Helper()
				if cfg.Telemetry.OTELTraceMode != "errors" {
					t.Fatalf("Telemetry.OTELTraceMode = %q, want errors", cfg.Telemetry.OTELTraceMode)
				}
			},
		},
		{
			name:   "full_configuration_round_trips",
			reader: strings.NewReader(baseConfigYAML()),
			assert: func(t *testing.T, cfg *Config) {
				t.Helper()
				if cfg.GitHub.Org != "dolr-ai" {
					t.Fatalf("GitHub.Org = %q, want dolr-ai", cfg.GitHub.Org)
				}
				if len(cfg.Tracking.Users) != 2 || cfg.Tracking.Users[1] != "bob" {
					t.Fatalf("Tracking.Users = %v, want [alice bob]", cfg.Tracking.Users)
				}
				if cfg.Cache.Backend != "redis" || cfg.Cache.Namespace != "reports" {
					t.Fatalf("Cache = %+v, want redis backend in namespace reports", cfg.Cache)
				}
				if cfg.Fetch.Location.String() != "UTC" {
					t.Fatalf("Fetch.Location = %s, want UTC", cfg.Fetch.Location)
				}
				if cfg.Scoring.Weights.Additions != 1 {
					t.Fatalf("Scoring.Weights.Additions = %d, want 1", cfg.Scoring.Weights.Additions)
				}
			},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := Load(tc.reader)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("Load() expected error, got nil")
				}
				if tc.errContains != "" && !strings.Contains(err.Error(), tc.errContains) {
					t.Fatalf("Load() error = %q, missing %q", err.Error(), tc.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() unexpected error: %v", err)
			}
			if tc.assert != nil {
				tc.assert(t, cfg)
			}
		})
	}
}

func TestParseEmptyDocument(t *testing.T) {
	t.Parallel()

	cfg, err := Parse(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Parse() unexpected error: %v", err)
	}
	if cfg.Cache.Backend != "file" {
		t.Fatalf("Cache.Backend = %q, want file", cfg.Cache.Backend)
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "github.org is required") {
		t.Fatalf("Validate() error = %v, want missing org", err)
	}
}

func TestRequireCredentials(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		github  GitHubConfig
		wantErr bool
	}{
		{name: "token", github: GitHubConfig{Token: "ghp_x"}},
		{name: "app_auth", github: GitHubConfig{AppID: 1, InstallationID: 2, PrivateKeyPath: "/tmp/key.pem"}},
		{name: "blank_token", github: GitHubConfig{Token: "  "}, wantErr: true},
		{name: "nothing", github: GitHubConfig{}, wantErr: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := tc.github.RequireCredentials()
			if (err != nil) != tc.wantErr {
				t.Fatalf("RequireCredentials() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: "90s", want: 90 * time.Second},
		{raw: "1d", want: 24 * time.Hour},
		{raw: "1.5d", want: 36 * time.Hour},
		{raw: "2w", want: 14 * 24 * time.Hour},
		{raw: "", want: 0},
		{raw: "3y", wantErr: true},
		{raw: "xd", wantErr: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.raw, func(t *testing.T) {
			t.Parallel()

			got, err := ParseDuration(tc.raw)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ParseDuration(%q) error = %v, wantErr %v", tc.raw, err, tc.wantErr)
			}
			if got != tc.want {
				t.Fatalf("ParseDuration(%q) = %s, want %s", tc.raw, got, tc.want)
			}
		})
	}
}

func baseConfigYAML(extraSections ...string) string {
	sections := []string{
		`server:
  listen_addr: ":9090"
  log_level: "debug"
github:
  api_base_url: "https://api.github.com/"
  org: "dolr-ai"
  request_timeout: "20s"
  unhealthy_failure_threshold: 6
  unhealthy_cooldown: "2m"
tracking:
  users: ["alice", "bob"]
  known_bots: ["ci-robot"]
fetch:
  workers: 2
  repo_batch_size: 5
  lookbehind_padding: "1d"
  timezone: "UTC"
  days_back: 14
  repo_page_size: 100
  refs_page_size: 50
  history_page_size: 100
  issue_page_size: 100
rate_limit:
  min_remaining_threshold: 200
  min_reset_buffer: "10s"
  secondary_limit_backoff: "60s"
  fallback_base: "5s"
  fallback_attempts: 10
retry:
  max_attempts: 5
  initial_backoff: "2s"
  max_backoff: "30s"
cache:
  backend: "redis"
  redis_mode: "standalone"
  redis_addr: "redis:6379"
  redis_password: ""
  redis_db: 0
  namespace: "reports"
scoring:
  weights:
    issues: 3
    commits: 3
    additions: 1
    deletions: 1
schedule:
  interval: "30m"
  backfill_max_message_age: "2d"
  backfill_dedup_ttl: "6h"
  backfill_max_enqueues_per_minute: 20
  backfill_max_attempts: 5
  metric_refresh_interval: "15s"
  metric_retention: "7d"
  max_series_budget: 10000
  github_recover_success_threshold: 2
telemetry:
  otel_enabled: false
  otel_trace_mode: "off"
  otel_trace_sample_ratio: 0.05`,
	}
	for _, extra := range extraSections {
		trimmed := strings.TrimSpace(extra)
		if trimmed == "" {
			continue
		}
		sections = append(sections, trimmed)
	}
	return fmt.Sprintf("%s\n", strings.Join(sections, "\n"))
}
