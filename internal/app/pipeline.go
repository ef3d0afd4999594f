package app

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/dolr-ai/github-report/internal/activity"
	"github.com/dolr-ai/github-report/internal/cache"
	"github.com/dolr-ai/github-report/internal/collect"
	"github.com/dolr-ai/github-report/internal/config"
	"github.com/dolr-ai/github-report/internal/githubapi"
	"github.com/dolr-ai/github-report/internal/scoring"
)

// Pipeline is the wired collection stack for one organization.
type Pipeline struct {
	Config    *config.Config
	Governor  *githubapi.Governor
	REST      *githubapi.RESTClient
	Store     cache.Store
	Collector *collect.Collector
	Builder   *scoring.Builder
}

// NewPipeline builds the authenticated GitHub clients, the governor, the
// collection stages and the snapshot store from cfg.
func NewPipeline(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.GitHub.RequireCredentials(); err != nil {
		return nil, err
	}

	httpClient, err := NewGitHubHTTPClient(cfg.GitHub)
	if err != nil {
		return nil, err
	}
	rest, err := githubapi.NewGitHubRESTClient(httpClient, cfg.GitHub.APIBaseURL)
	if err != nil {
		return nil, fmt.Errorf("create rest client: %w", err)
	}

	governor := githubapi.NewGovernor(rest, githubapi.GovernorConfig{
		MinRemaining:     cfg.RateLimit.MinRemainingThreshold,
		ResetBuffer:      cfg.RateLimit.MinResetBuffer,
		FallbackBase:     cfg.RateLimit.FallbackBase,
		FallbackAttempts: cfg.RateLimit.FallbackAttempts,
	}, logger.Named("governor"))

	requestClient := githubapi.NewClient(httpClient, githubapi.RetryConfig{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialBackoff: cfg.Retry.InitialBackoff,
		MaxBackoff:     cfg.Retry.MaxBackoff,
	}, githubapi.RateLimitPolicy{
		MinRemainingThreshold: cfg.RateLimit.MinRemainingThreshold,
		MinResetBuffer:        cfg.RateLimit.MinResetBuffer,
		SecondaryLimitBackoff: cfg.RateLimit.SecondaryLimitBackoff,
	}, governor)

	dataClient, err := githubapi.NewDataClient(cfg.GitHub.APIBaseURL, cfg.GitHub.GraphQLURL, requestClient)
	if err != nil {
		return nil, fmt.Errorf("create data client: %w", err)
	}

	store, err := OpenCache(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	authors := AuthorFilter(cfg)
	scanner := activity.NewScanner(dataClient, activity.ScannerConfig{
		LookbehindPadding: cfg.Fetch.LookbehindPadding,
		PageSize:          cfg.Fetch.RepoPageSize,
	}, logger.Named("scanner"))
	fetcher := activity.NewFetcher(dataClient, authors, activity.FetcherConfig{
		BatchSize:       cfg.Fetch.RepoBatchSize,
		Workers:         cfg.Fetch.Workers,
		RefsPageSize:    cfg.Fetch.RefsPageSize,
		HistoryPageSize: cfg.Fetch.HistoryPageSize,
	}, logger.Named("fetcher"))
	issues := activity.NewIssueFetcher(dataClient, cfg.GitHub.Org, cfg.Fetch.IssuePageSize, logger.Named("issues"))

	collector := collect.NewCollector(scanner, fetcher, issues, store, authors, collect.Config{
		Org:      cfg.GitHub.Org,
		Tracked:  cfg.Tracking.Users,
		Location: cfg.Fetch.Location,
		Workers:  cfg.Fetch.Workers,
	}, logger.Named("collector"))

	return &Pipeline{
		Config:    cfg,
		Governor:  governor,
		REST:      rest,
		Store:     store,
		Collector: collector,
		Builder:   NewLeaderboardBuilder(cfg, store, logger),
	}, nil
}

// Close releases the snapshot store.
func (p *Pipeline) Close() error {
	if p == nil || p.Store == nil {
		return nil
	}
	return p.Store.Close()
}

// NewGitHubHTTPClient authenticates as a GitHub App installation when app
// credentials are configured and with the token otherwise.
func NewGitHubHTTPClient(cfg config.GitHubConfig) (*http.Client, error) {
	if cfg.UsesAppAuth() {
		client, err := githubapi.NewInstallationHTTPClient(githubapi.InstallationAuthConfig{
			AppID:          cfg.AppID,
			InstallationID: cfg.InstallationID,
			PrivateKeyPath: cfg.PrivateKeyPath,
			Timeout:        cfg.RequestTimeout,
			BaseTransport:  http.DefaultTransport,
		})
		if err != nil {
			return nil, fmt.Errorf("create installation client for org %q: %w", cfg.Org, err)
		}
		return client, nil
	}
	client, err := githubapi.NewTokenHTTPClient(cfg.Token, cfg.RequestTimeout, http.DefaultTransport)
	if err != nil {
		return nil, fmt.Errorf("create token client for org %q: %w", cfg.Org, err)
	}
	return client, nil
}

// OpenCache opens the configured snapshot store. It needs no GitHub credentials.
func OpenCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (cache.Store, error) {
	store, err := cache.Open(ctx, cache.Config{
		Backend: cache.Backend(cfg.Cache.Backend),
		Dir:     cfg.Cache.Dir,
		DSN:     cfg.Cache.DSN,
		Table:   cfg.Cache.Table,
		Redis: cache.RedisConfig{
			Mode:          cfg.Cache.RedisMode,
			Addr:          cfg.Cache.RedisAddr,
			MasterSet:     cfg.Cache.RedisMasterSet,
			SentinelAddrs: cfg.Cache.RedisSentinelAddrs,
			Password:      cfg.Cache.RedisPassword,
			DB:            cfg.Cache.RedisDB,
			Namespace:     cfg.Cache.Namespace,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s cache: %w", cfg.Cache.Backend, err)
	}
	return store, nil
}

// AuthorFilter builds the attribution filter from the tracking section.
func AuthorFilter(cfg *config.Config) activity.AuthorFilter {
	knownBots := cfg.Tracking.KnownBots
	if knownBots == nil {
		knownBots = activity.DefaultKnownBots
	}
	return activity.NewAuthorFilter(cfg.Tracking.Users, activity.NewBotFilter(knownBots))
}

// NewLeaderboardBuilder scores cached snapshots with the configured weights.
func NewLeaderboardBuilder(cfg *config.Config, store scoring.SnapshotReader, logger *zap.Logger) *scoring.Builder {
	weights := scoring.Weights{
		Issues:    cfg.Scoring.Weights.Issues,
		Commits:   cfg.Scoring.Weights.Commits,
		Additions: cfg.Scoring.Weights.Additions,
		Deletions: cfg.Scoring.Weights.Deletions,
	}
	if weights == (scoring.Weights{}) {
		weights = scoring.DefaultWeights()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return scoring.NewBuilder(store, cfg.Tracking.Users, AuthorFilter(cfg), weights, logger.Named("scoring"))
}
