package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

var (
	validLogLevels     = []string{"debug", "info", "warn", "error"}
	validCacheBackends = []string{"file", "memory", "redis", "sqlite", "postgres", "mysql"}
	validTraceModes    = []string{"off", "errors", "sampled", "detailed"}
)

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig
	GitHub    GitHubConfig
	Tracking  TrackingConfig
	Fetch     FetchConfig
	RateLimit RateLimitConfig
	Retry     RetryConfig
	Cache     CacheConfig
	Scoring   ScoringConfig
	Schedule  ScheduleConfig
	Telemetry TelemetryConfig
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
}

// GitHubConfig configures GitHub API interactions.
type GitHubConfig struct {
	APIBaseURL                string
	GraphQLURL                string
	Org                       string
	Token                     string
	AppID                     int64
	InstallationID            int64
	PrivateKeyPath            string
	RequestTimeout            time.Duration
	UnhealthyFailureThreshold int
	UnhealthyCooldown         time.Duration
}

// UsesAppAuth reports whether GitHub App installation credentials are configured.
func (g GitHubConfig) UsesAppAuth() bool {
	return g.AppID > 0 || g.InstallationID > 0 || g.PrivateKeyPath != ""
}

// RequireCredentials reports an error when neither a token nor GitHub App
// credentials are configured.
func (g GitHubConfig) RequireCredentials() error {
	if strings.TrimSpace(g.Token) == "" && !g.UsesAppAuth() {
		return errors.New("github.token (or GITHUB_TOKEN) is required unless github app auth is configured")
	}
	return nil
}

// TrackingConfig selects the contributors being reported on.
type TrackingConfig struct {
	Users     []string `yaml:"users"`
	KnownBots []string `yaml:"known_bots"`
}

// FetchConfig configures discovery and history traversal.
type FetchConfig struct {
	Workers           int
	RepoBatchSize     int
	LookbehindPadding time.Duration
	Timezone          string
	Location          *time.Location
	DaysBack          int
	RepoPageSize      int
	RefsPageSize      int
	HistoryPageSize   int
	IssuePageSize     int
}

// RateLimitConfig configures rate-limit controls.
type RateLimitConfig struct {
	MinRemainingThreshold int
	MinResetBuffer        time.Duration
	SecondaryLimitBackoff time.Duration
	FallbackBase          time.Duration
	FallbackAttempts      int
}

// RetryConfig configures retries.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// CacheConfig configures the daily snapshot store.
type CacheConfig struct {
	Backend            string
	Dir                string
	DSN                string
	Table              string
	RedisMode          string
	RedisAddr          string
	RedisMasterSet     string
	RedisSentinelAddrs []string
	RedisPassword      string
	RedisDB            int
	Namespace          string
}

// ScoringConfig configures contributor scoring.
type ScoringConfig struct {
	Weights WeightsConfig
}

// WeightsConfig holds the integer metric weights.
type WeightsConfig struct {
	Issues    int `yaml:"issues"`
	Commits   int `yaml:"commits"`
	Additions int `yaml:"additions"`
	Deletions int `yaml:"deletions"`
}

// ScheduleConfig configures serve mode.
type ScheduleConfig struct {
	Interval                      time.Duration
	BackfillMaxMessageAge         time.Duration
	BackfillDedupTTL              time.Duration
	BackfillMaxEnqueuesPerMinute  int
	BackfillMaxAttempts           int
	MetricRefreshInterval         time.Duration
	MetricRetention               time.Duration
	MaxSeriesBudget               int
	GitHubRecoverSuccessThreshold int
}

// TelemetryConfig configures OpenTelemetry behavior.
type TelemetryConfig struct {
	OTELEnabled          bool
	OTELTraceMode        string
	OTELTraceSampleRatio float64
}

// Default returns a configuration holding only defaults. The org is unset.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads configuration from YAML and validates the result.
func Load(reader io.Reader) (*Config, error) {
	cfg, err := Parse(reader)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse reads configuration from YAML and applies defaults without
// validating, so that callers can layer flags and environment first.
func Parse(reader io.Reader) (*Config, error) {
	if reader == nil {
		return nil, fmt.Errorf("config reader is nil")
	}

	decoder := yaml.NewDecoder(reader)
	decoder.KnownFields(true)

	var raw rawConfig
	if err := decoder.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	cfg := raw.toConfig()
	applyDefaults(cfg)
	return cfg, nil
}

// Validate validates configuration values and resolves the fetch timezone.
func (c *Config) Validate() error {
	var errs []string

	if !slices.Contains(validLogLevels, c.Server.LogLevel) {
		errs = append(errs, "server.log_level must be one of debug|info|warn|error")
	}

	if strings.TrimSpace(c.GitHub.Org) == "" {
		errs = append(errs, "github.org is required")
	}
	if c.GitHub.UsesAppAuth() {
		if c.GitHub.AppID <= 0 {
			errs = append(errs, "github.app_id must be > 0 when app auth is configured")
		}
		if c.GitHub.InstallationID <= 0 {
			errs = append(errs, "github.installation_id must be > 0 when app auth is configured")
		}
		if c.GitHub.PrivateKeyPath == "" {
			errs = append(errs, "github.private_key_path is required when app auth is configured")
		}
	}
	if c.GitHub.RequestTimeout <= 0 {
		errs = append(errs, "github.request_timeout must be > 0")
	}

	location, err := time.LoadLocation(c.Fetch.Timezone)
	if err != nil {
		errs = append(errs, fmt.Sprintf("fetch.timezone %q is not a known location", c.Fetch.Timezone))
	} else {
		c.Fetch.Location = location
	}
	if c.Fetch.Workers <= 0 {
		errs = append(errs, "fetch.workers must be > 0")
	}
	if c.Fetch.RepoBatchSize <= 0 {
		errs = append(errs, "fetch.repo_batch_size must be > 0")
	}
	if c.Fetch.LookbehindPadding < 0 {
		errs = append(errs, "fetch.lookbehind_padding must be >= 0")
	}
	if c.Fetch.DaysBack <= 0 {
		errs = append(errs, "fetch.days_back must be > 0")
	}
	pageSizes := []struct {
		name string
		size int
	}{
		{"fetch.repo_page_size", c.Fetch.RepoPageSize},
		{"fetch.refs_page_size", c.Fetch.RefsPageSize},
		{"fetch.history_page_size", c.Fetch.HistoryPageSize},
		{"fetch.issue_page_size", c.Fetch.IssuePageSize},
	}
	for _, page := range pageSizes {
		if page.size <= 0 || page.size > 100 {
			errs = append(errs, page.name+" must be between 1 and 100")
		}
	}

	if c.RateLimit.MinRemainingThreshold < 0 {
		errs = append(errs, "rate_limit.min_remaining_threshold must be >= 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		errs = append(errs, "retry.max_attempts must be > 0")
	}
	if c.Retry.MaxBackoff < c.Retry.InitialBackoff {
		errs = append(errs, "retry.max_backoff must be >= retry.initial_backoff")
	}

	if !slices.Contains(validCacheBackends, c.Cache.Backend) {
		errs = append(errs, "cache.backend must be one of file|memory|redis|sqlite|postgres|mysql")
	}
	if c.Cache.Backend == "file" && c.Cache.Dir == "" {
		errs = append(errs, "cache.dir is required when cache.backend=file")
	}
	if (c.Cache.Backend == "postgres" || c.Cache.Backend == "mysql") && c.Cache.DSN == "" {
		errs = append(errs, "cache.dsn is required when cache.backend="+c.Cache.Backend)
	}
	if c.Cache.Backend == "redis" {
		if c.Cache.RedisMode != "standalone" && c.Cache.RedisMode != "sentinel" {
			errs = append(errs, "cache.redis_mode must be standalone or sentinel")
		}
		if c.Cache.RedisMode == "standalone" && c.Cache.RedisAddr == "" {
			errs = append(errs, "cache.redis_addr is required when cache.redis_mode=standalone")
		}
		if c.Cache.RedisMode == "sentinel" && len(c.Cache.RedisSentinelAddrs) == 0 {
			errs = append(errs, "cache.redis_sentinel_addrs is required when cache.redis_mode=sentinel")
		}
		if c.Cache.RedisMode == "sentinel" && c.Cache.RedisMasterSet == "" {
			errs = append(errs, "cache.redis_master_set is required when cache.redis_mode=sentinel")
		}
	}

	weights := c.Scoring.Weights
	if weights.Issues < 0 || weights.Commits < 0 || weights.Additions < 0 || weights.Deletions < 0 {
		errs = append(errs, "scoring.weights must be >= 0")
	}
	if weights.Issues+weights.Commits+weights.Additions+weights.Deletions == 0 {
		errs = append(errs, "scoring.weights must not all be zero")
	}

	if c.Schedule.Interval <= 0 {
		errs = append(errs, "schedule.interval must be > 0")
	}
	if c.Schedule.BackfillMaxAttempts <= 0 {
		errs = append(errs, "schedule.backfill_max_attempts must be > 0")
	}

	if !slices.Contains(validTraceModes, c.Telemetry.OTELTraceMode) {
		errs = append(errs, "telemetry.otel_trace_mode must be one of off|errors|sampled|detailed")
	}
	if c.Telemetry.OTELTraceSampleRatio < 0 || c.Telemetry.OTELTraceSampleRatio > 1 {
		errs = append(errs, "telemetry.otel_trace_sample_ratio must be between 0 and 1")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "info"
	}

	if cfg.GitHub.APIBaseURL == "" {
		cfg.GitHub.APIBaseURL = "https://api.github.com/"
	}
	if !strings.HasSuffix(cfg.GitHub.APIBaseURL, "/") {
		cfg.GitHub.APIBaseURL += "/"
	}
	if cfg.GitHub.GraphQLURL == "" {
		cfg.GitHub.GraphQLURL = cfg.GitHub.APIBaseURL + "graphql"
	}
	if cfg.GitHub.RequestTimeout == 0 {
		cfg.GitHub.RequestTimeout = 30 * time.Second
	}
	if cfg.GitHub.UnhealthyFailureThreshold <= 0 {
		cfg.GitHub.UnhealthyFailureThreshold = 3
	}
	if cfg.GitHub.UnhealthyCooldown <= 0 {
		cfg.GitHub.UnhealthyCooldown = 15 * time.Minute
	}

	if cfg.Fetch.Workers == 0 {
		cfg.Fetch.Workers = 4
	}
	if cfg.Fetch.RepoBatchSize == 0 {
		cfg.Fetch.RepoBatchSize = 5
	}
	if cfg.Fetch.LookbehindPadding == 0 {
		cfg.Fetch.LookbehindPadding = 24 * time.Hour
	}
	if cfg.Fetch.Timezone == "" {
		cfg.Fetch.Timezone = "Asia/Kolkata"
	}
	if cfg.Fetch.DaysBack == 0 {
		cfg.Fetch.DaysBack = 7
	}
	if cfg.Fetch.RepoPageSize == 0 {
		cfg.Fetch.RepoPageSize = 100
	}
	if cfg.Fetch.RefsPageSize == 0 {
		cfg.Fetch.RefsPageSize = 50
	}
	if cfg.Fetch.HistoryPageSize == 0 {
		cfg.Fetch.HistoryPageSize = 100
	}
	if cfg.Fetch.IssuePageSize == 0 {
		cfg.Fetch.IssuePageSize = 100
	}

	if cfg.RateLimit.MinRemainingThreshold == 0 {
		cfg.RateLimit.MinRemainingThreshold = 100
	}
	if cfg.RateLimit.MinResetBuffer == 0 {
		cfg.RateLimit.MinResetBuffer = 2 * time.Second
	}
	if cfg.RateLimit.SecondaryLimitBackoff == 0 {
		cfg.RateLimit.SecondaryLimitBackoff = 60 * time.Second
	}
	if cfg.RateLimit.FallbackBase == 0 {
		cfg.RateLimit.FallbackBase = 5 * time.Second
	}
	if cfg.RateLimit.FallbackAttempts == 0 {
		cfg.RateLimit.FallbackAttempts = 10
	}

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 10
	}
	if cfg.Retry.InitialBackoff == 0 {
		cfg.Retry.InitialBackoff = 5 * time.Second
	}
	if cfg.Retry.MaxBackoff == 0 {
		cfg.Retry.MaxBackoff = 5 * time.Minute
	}

	cfg.Cache.Backend = strings.ToLower(strings.TrimSpace(cfg.Cache.Backend))
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "file"
	}
	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = "cache"
	}
	if cfg.Cache.Table == "" {
		cfg.Cache.Table = "daily_snapshots"
	}
	if cfg.Cache.RedisMode == "" {
		cfg.Cache.RedisMode = "standalone"
	}
	if cfg.Cache.Namespace == "" {
		cfg.Cache.Namespace = "github-report"
	}

	if cfg.Scoring.Weights == (WeightsConfig{}) {
		cfg.Scoring.Weights = WeightsConfig{Issues: 3, Commits: 3, Additions: 2, Deletions: 2}
	}

	if cfg.Schedule.Interval == 0 {
		cfg.Schedule.Interval = time.Hour
	}
	if cfg.Schedule.BackfillMaxMessageAge == 0 {
		cfg.Schedule.BackfillMaxMessageAge = 48 * time.Hour
	}
	if cfg.Schedule.BackfillDedupTTL == 0 {
		cfg.Schedule.BackfillDedupTTL = 6 * time.Hour
	}
	if cfg.Schedule.BackfillMaxEnqueuesPerMinute == 0 {
		cfg.Schedule.BackfillMaxEnqueuesPerMinute = 60
	}
	if cfg.Schedule.BackfillMaxAttempts == 0 {
		cfg.Schedule.BackfillMaxAttempts = 7
	}
	if cfg.Schedule.MetricRefreshInterval == 0 {
		cfg.Schedule.MetricRefreshInterval = 30 * time.Second
	}
	if cfg.Schedule.MetricRetention == 0 {
		cfg.Schedule.MetricRetention = 7 * 24 * time.Hour
	}
	if cfg.Schedule.MaxSeriesBudget == 0 {
		cfg.Schedule.MaxSeriesBudget = 100_000
	}
	if cfg.Schedule.GitHubRecoverSuccessThreshold == 0 {
		cfg.Schedule.GitHubRecoverSuccessThreshold = 1
	}

	if cfg.Telemetry.OTELTraceMode == "" {
		cfg.Telemetry.OTELTraceMode = "off"
		if cfg.Telemetry.OTELEnabled {
			cfg.Telemetry.OTELTraceMode = "errors"
		}
	}
}

// ParseDuration parses Go duration syntax plus whole or fractional d and w units.
func ParseDuration(raw string) (time.Duration, error) {
	return parseFlexibleDuration(raw)
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil || value.Kind == 0 || strings.TrimSpace(value.Value) == "" {
		d.Duration = 0
		return nil
	}

	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}

	parsed, err := parseFlexibleDuration(raw)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func parseFlexibleDuration(raw string) (time.Duration, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, nil
	}

	if standard, err := time.ParseDuration(trimmed); err == nil {
		return standard, nil
	}

	if strings.HasSuffix(trimmed, "d") {
		return parseDurationWithMultiplier(strings.TrimSuffix(trimmed, "d"), 24)
	}
	if strings.HasSuffix(trimmed, "w") {
		return parseDurationWithMultiplier(strings.TrimSuffix(trimmed, "w"), 24*7)
	}

	return 0, fmt.Errorf("parse duration %q: invalid unit", raw)
}

func parseDurationWithMultiplier(numeric string, multiplierHours float64) (time.Duration, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(numeric), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration value %q: %w", numeric, err)
	}

	nanos := value * multiplierHours * float64(time.Hour)
	if nanos > math.MaxInt64 || nanos < math.MinInt64 {
		return 0, fmt.Errorf("parse duration value %q: out of range", numeric)
	}
	return time.Duration(nanos), nil
}

type rawConfig struct {
	Server    ServerConfig   `yaml:"server"`
	GitHub    rawGitHub      `yaml:"github"`
	Tracking  TrackingConfig `yaml:"tracking"`
	Fetch     rawFetch       `yaml:"fetch"`
	RateLimit rawRateLimit   `yaml:"rate_limit"`
	Retry     rawRetry       `yaml:"retry"`
	Cache     rawCache       `yaml:"cache"`
	Scoring   rawScoring     `yaml:"scoring"`
	Schedule  rawSchedule    `yaml:"schedule"`
	Telemetry rawTelemetry   `yaml:"telemetry"`
}

type rawGitHub struct {
	APIBaseURL                string   `yaml:"api_base_url"`
	GraphQLURL                string   `yaml:"graphql_url"`
	Org                       string   `yaml:"org"`
	Token                     string   `yaml:"token"`
	AppID                     int64    `yaml:"app_id"`
	InstallationID            int64    `yaml:"installation_id"`
	PrivateKeyPath            string   `yaml:"private_key_path"`
	RequestTimeout            duration `yaml:"request_timeout"`
	UnhealthyFailureThreshold int      `yaml:"unhealthy_failure_threshold"`
	UnhealthyCooldown         duration `yaml:"unhealthy_cooldown"`
}

type rawFetch struct {
	Workers           int      `yaml:"workers"`
	RepoBatchSize     int      `yaml:"repo_batch_size"`
	LookbehindPadding duration `yaml:"lookbehind_padding"`
	Timezone          string   `yaml:"timezone"`
	DaysBack          int      `yaml:"days_back"`
	RepoPageSize      int      `yaml:"repo_page_size"`
	RefsPageSize      int      `yaml:"refs_page_size"`
	HistoryPageSize   int      `yaml:"history_page_size"`
	IssuePageSize     int      `yaml:"issue_page_size"`
}

type rawRateLimit struct {
	MinRemainingThreshold int      `yaml:"min_remaining_threshold"`
	MinResetBuffer        duration `yaml:"min_reset_buffer"`
	SecondaryLimitBackoff duration `yaml:"secondary_limit_backoff"`
	FallbackBase          duration `yaml:"fallback_base"`
	FallbackAttempts      int      `yaml:"fallback_attempts"`
}

type rawRetry struct {
	MaxAttempts    int      `yaml:"max_attempts"`
	InitialBackoff duration `yaml:"initial_backoff"`
	MaxBackoff     duration `yaml:"max_backoff"`
}

type rawCache struct {
	Backend            string   `yaml:"backend"`
	Dir                string   `yaml:"dir"`
	DSN                string   `yaml:"dsn"`
	Table              string   `yaml:"table"`
	RedisMode          string   `yaml:"redis_mode"`
	RedisAddr          string   `yaml:"redis_addr"`
	RedisMasterSet     string   `yaml:"redis_master_set"`
	RedisSentinelAddrs []string `yaml:"redis_sentinel_addrs"`
	RedisPassword      string   `yaml:"redis_password"`
	RedisDB            int      `yaml:"redis_db"`
	Namespace          string   `yaml:"namespace"`
}

type rawScoring struct {
	Weights WeightsConfig `yaml:"weights"`
}

type rawSchedule struct {
	Interval                      duration `yaml:"interval"`
	BackfillMaxMessageAge         duration `yaml:"backfill_max_message_age"`
	BackfillDedupTTL              duration `yaml:"backfill_dedup_ttl"`
	BackfillMaxEnqueuesPerMinute  int      `yaml:"backfill_max_enqueues_per_minute"`
	BackfillMaxAttempts           int      `yaml:"backfill_max_attempts"`
	MetricRefreshInterval         duration `yaml:"metric_refresh_interval"`
	MetricRetention               duration `yaml:"metric_retention"`
	MaxSeriesBudget               int      `yaml:"max_series_budget"`
	GitHubRecoverSuccessThreshold int      `yaml:"github_recover_success_threshold"`
}

type rawTelemetry struct {
	OTELEnabled          bool    `yaml:"otel_enabled"`
	OTELTraceMode        string  `yaml:"otel_trace_mode"`
	OTELTraceSampleRatio float64 `yaml:"otel_trace_sample_ratio"`
}

func (r rawConfig) toConfig() *Config {
	return &Config{
		Server: r.Server,
		GitHub: GitHubConfig{
			APIBaseURL:                r.GitHub.APIBaseURL,
			GraphQLURL:                r.GitHub.GraphQLURL,
			Org:                       r.GitHub.Org,
			Token:                     r.GitHub.Token,
			AppID:                     r.GitHub.AppID,
			InstallationID:            r.GitHub.InstallationID,
			PrivateKeyPath:            r.GitHub.PrivateKeyPath,
			RequestTimeout:            r.GitHub.RequestTimeout.Duration,
			UnhealthyFailureThreshold: r.GitHub.UnhealthyFailureThreshold,
			UnhealthyCooldown:         r.GitHub.UnhealthyCooldown.Duration,
		},
		Tracking: r.Tracking,
		Fetch: FetchConfig{
			Workers:           r.Fetch.Workers,
			RepoBatchSize:     r.Fetch.RepoBatchSize,
			LookbehindPadding: r.Fetch.LookbehindPadding.Duration,
			Timezone:          r.Fetch.Timezone,
			DaysBack:          r.Fetch.DaysBack,
			RepoPageSize:      r.Fetch.RepoPageSize,
			RefsPageSize:      r.Fetch.RefsPageSize,
			HistoryPageSize:   r.Fetch.HistoryPageSize,
			IssuePageSize:     r.Fetch.IssuePageSize,
		},
		RateLimit: RateLimitConfig{
			MinRemainingThreshold: r.RateLimit.MinRemainingThreshold,
			MinResetBuffer:        r.RateLimit.MinResetBuffer.Duration,
			SecondaryLimitBackoff: r.RateLimit.SecondaryLimitBackoff.Duration,
			FallbackBase:          r.RateLimit.FallbackBase.Duration,
			FallbackAttempts:      r.RateLimit.FallbackAttempts,
		},
		Retry: RetryConfig{
			MaxAttempts:    r.Retry.MaxAttempts,
			InitialBackoff: r.Retry.InitialBackoff.Duration,
			MaxBackoff:     r.Retry.MaxBackoff.Duration,
		},
		Cache: CacheConfig{
			Backend:            r.Cache.Backend,
			Dir:                r.Cache.Dir,
			DSN:                r.Cache.DSN,
			Table:              r.Cache.Table,
			RedisMode:          r.Cache.RedisMode,
			RedisAddr:          r.Cache.RedisAddr,
			RedisMasterSet:     r.Cache.RedisMasterSet,
			RedisSentinelAddrs: r.Cache.RedisSentinelAddrs,
			RedisPassword:      r.Cache.RedisPassword,
			RedisDB:            r.Cache.RedisDB,
			Namespace:          r.Cache.Namespace,
		},
		Scoring: ScoringConfig{Weights: r.Scoring.Weights},
		Schedule: ScheduleConfig{
			Interval:                      r.Schedule.Interval.Duration,
			BackfillMaxMessageAge:         r.Schedule.BackfillMaxMessageAge.Duration,
			BackfillDedupTTL:              r.Schedule.BackfillDedupTTL.Duration,
			BackfillMaxEnqueuesPerMinute:  r.Schedule.BackfillMaxEnqueuesPerMinute,
			BackfillMaxAttempts:           r.Schedule.BackfillMaxAttempts,
			MetricRefreshInterval:         r.Schedule.MetricRefreshInterval.Duration,
			MetricRetention:               r.Schedule.MetricRetention.Duration,
			MaxSeriesBudget:               r.Schedule.MaxSeriesBudget,
			GitHubRecoverSuccessThreshold: r.Schedule.GitHubRecoverSuccessThreshold,
		},
		Telemetry: TelemetryConfig{
			OTELEnabled:          r.Telemetry.OTELEnabled,
			OTELTraceMode:        r.Telemetry.OTELTraceMode,
			OTELTraceSampleRatio: r.Telemetry.OTELTraceSampleRatio,
		},
	}
}
