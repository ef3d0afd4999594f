package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dolr-ai/github-report/internal/cache"
	"github.com/dolr-ai/github-report/internal/config"
	"github.com/dolr-ai/github-report/internal/scoring"
)

func pipelineConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.GitHub.Org = "org-a"
	cfg.GitHub.Token = "test-token"
	cfg.Cache.Backend = "memory"
	cfg.Tracking.Users = []string{"alice", "bob"}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNewGitHubHTTPClient(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		cfg     config.GitHubConfig
		wantErr string
	}{
		{name: "token_auth", cfg: config.GitHubConfig{Org: "org-a", Token: "test-token"}},
		{name: "missing_token", cfg: config.GitHubConfig{Org: "org-a"}, wantErr: "create token client"},
		{
			name: "app_auth_missing_key_file",
			cfg: config.GitHubConfig{
				Org:            "org-a",
				AppID:          1,
				InstallationID: 2,
				PrivateKeyPath: filepath.Join(t.TempDir(), "missing.pem"),
			},
			wantErr: "create installation client",
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			client, err := NewGitHubHTTPClient(tc.cfg)
			if tc.wantErr != "" {
				require.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, client)
		})
	}
}

func TestNewPipeline(t *testing.T) {
	t.Parallel()

	pipeline, err := NewPipeline(context.Background(), pipelineConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, pipeline.Close()) })

	require.NotNil(t, pipeline.Governor)
	require.NotNil(t, pipeline.REST)
	require.NotNil(t, pipeline.Collector)
	require.NotNil(t, pipeline.Builder)
	require.IsType(t, &cache.MemoryStore{}, pipeline.Store)
	require.Nil(t, DeduperFor(pipeline.Store))
}

func TestNewPipelineRequiresCredentials(t *testing.T) {
	t.Parallel()

	cfg := pipelineConfig(t)
	cfg.GitHub.Token = ""
	_, err := NewPipeline(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "github.token")

	_, err = NewPipeline(context.Background(), nil, nil)
	require.Error(t, err)
}

func TestOpenCacheUnsupportedBackend(t *testing.T) {
	t.Parallel()

	cfg := pipelineConfig(t)
	cfg.Cache.Backend = "etcd"
	_, err := OpenCache(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "open etcd cache")
}

func TestAuthorFilter(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		users     []string
		knownBots []string
		login     string
		want      bool
	}{
		{name: "tracked_user", users: []string{"alice"}, login: "Alice", want: true},
		{name: "untracked_user", users: []string{"alice"}, login: "carol", want: false},
		{name: "empty_tracking_accepts_humans", login: "carol", want: true},
		{name: "default_bots_rejected", login: "dependabot[bot]", want: false},
		{name: "configured_bot_rejected", knownBots: []string{"release-robot"}, login: "release-robot", want: false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := config.Default()
			cfg.Tracking.Users = tc.users
			cfg.Tracking.KnownBots = tc.knownBots
			require.Equal(t, tc.want, AuthorFilter(cfg).Accept(tc.login))
		})
	}
}

func TestNewLeaderboardBuilderWeights(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		weights config.WeightsConfig
		want    scoring.Weights
	}{
		{name: "configured", weights: config.WeightsConfig{Issues: 1, Commits: 2, Additions: 3, Deletions: 4}, want: scoring.Weights{Issues: 1, Commits: 2, Additions: 3, Deletions: 4}},
		{name: "zero_uses_defaults", want: scoring.DefaultWeights()},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := config.Default()
			cfg.Scoring.Weights = tc.weights
			builder := NewLeaderboardBuilder(cfg, cache.NewMemoryStore(), nil)

			period, err := scoring.Custom("2025-02-16", "2025-02-17")
			require.NoError(t, err)
			board, err := builder.Build(context.Background(), period)
			require.NoError(t, err)
			require.Equal(t, tc.want, board.Weights)
			require.Equal(t, []string{"2025-02-16", "2025-02-17"}, board.MissingDates)
			require.Empty(t, board.Entries)
		})
	}
}
