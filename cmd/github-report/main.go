package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dolr-ai/github-report/internal/config"
	"github.com/dolr-ai/github-report/internal/telemetry"
)

// Set by the release build.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "github-report: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	root := &cobra.Command{
		Use:           "github-report",
		Short:         "Collect GitHub organization activity and rank contributors.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadEnvFile(v.GetString("env-file"))
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "Path to YAML config file")
	flags.String("env-file", ".env", "Optional dotenv file loaded before reading the environment")
	flags.String("org", "", "GitHub organization (env GITHUB_ORG)")
	flags.String("token", "", "GitHub token (env GITHUB_TOKEN)")
	flags.StringSlice("users", nil, "Tracked usernames; empty tracks every non-bot author")
	flags.String("timezone", "", "IANA timezone that defines calendar dates")
	flags.Int("workers", 0, "Concurrent dates and repository batches")
	flags.String("cache-backend", "", "Cache backend: file|redis|sqlite|postgres|mysql|memory")
	flags.String("cache-dir", "", "Directory of the file cache")
	flags.String("cache-dsn", "", "DSN of the SQL cache backends")
	flags.String("log-level", "", "Log level: debug|info|warn|error")
	flags.Bool("no-color", false, "Disable colored output")
	bindViper(v, flags)

	root.AddCommand(
		newFetchCmd(v, false),
		newFetchCmd(v, true),
		newLeaderboardCmd(v),
		newStatusCmd(v),
		newServeCmd(v),
	)
	return root
}

func bindViper(v *viper.Viper, flags *pflag.FlagSet) {
	v.SetEnvPrefix("GITHUB_REPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindPFlags(flags)
	_ = v.BindEnv("org", "GITHUB_REPORT_ORG", "GITHUB_ORG")
	_ = v.BindEnv("token", "GITHUB_REPORT_TOKEN", "GITHUB_TOKEN")
}

func loadEnvFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// loadConfig reads the YAML file when one is given, layers flags and
// environment on top and validates the result.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	cfg := config.Default()
	if path := strings.TrimSpace(v.GetString("config")); path != "" {
		configFile, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config file: %w", err)
		}
		defer func() {
			_ = configFile.Close()
		}()
		cfg, err = config.Parse(configFile)
		if err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	overlayConfig(cfg, v)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func overlayConfig(cfg *config.Config, v *viper.Viper) {
	setString := func(key string, target *string) {
		if value := strings.TrimSpace(v.GetString(key)); value != "" {
			*target = value
		}
	}
	setString("org", &cfg.GitHub.Org)
	setString("token", &cfg.GitHub.Token)
	setString("timezone", &cfg.Fetch.Timezone)
	setString("cache-dir", &cfg.Cache.Dir)
	setString("cache-dsn", &cfg.Cache.DSN)
	setString("log-level", &cfg.Server.LogLevel)
	if backend := strings.TrimSpace(v.GetString("cache-backend")); backend != "" {
		cfg.Cache.Backend = strings.ToLower(backend)
	}
	if workers := v.GetInt("workers"); workers > 0 {
		cfg.Fetch.Workers = workers
	}
	if users := v.GetStringSlice("users"); len(users) > 0 {
		cfg.Tracking.Users = users
	}
}

// session is the per-command setup shared by every subcommand.
type session struct {
	cfg       *config.Config
	logger    *zap.Logger
	telemetry telemetry.Runtime
}

func newSession(v *viper.Viper) (*session, error) {
	cfg, err := loadConfig(v)
	if err != nil {
		return nil, err
	}

	loggerConfig := zap.NewProductionConfig()
	loggerConfig.Level = zap.NewAtomicLevelAt(logLevel(cfg.Server.LogLevel))
	logger, err := loggerConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	telemetryRuntime, err := telemetry.Setup(telemetry.Config{
		Enabled:          cfg.Telemetry.OTELEnabled,
		ServiceName:      telemetry.ServiceName,
		TraceMode:        cfg.Telemetry.OTELTraceMode,
		TraceSampleRatio: cfg.Telemetry.OTELTraceSampleRatio,
	})
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("setup telemetry: %w", err)
	}
	return &session{cfg: cfg, logger: logger, telemetry: telemetryRuntime}, nil
}

func (s *session) Close() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.telemetry.Shutdown != nil {
		_ = s.telemetry.Shutdown(shutdownCtx)
	}
	if err := s.logger.Sync(); err != nil && !shouldIgnoreLoggerSyncError(err) {
		_, _ = fmt.Fprintf(os.Stderr, "github-report: sync logger: %v\n", err)
	}
}

func logLevel(raw string) zapcore.Level {
	switch strings.ToLower(raw) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// shouldIgnoreLoggerSyncError reports whether err comes from syncing a
// terminal, which does not support fsync.
func shouldIgnoreLoggerSyncError(err error) bool {
	return errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY)
}
