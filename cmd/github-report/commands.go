package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/dolr-ai/github-report/internal/activity"
	"github.com/dolr-ai/github-report/internal/app"
	"github.com/dolr-ai/github-report/internal/report"
	"github.com/dolr-ai/github-report/internal/scoring"
)

// dateFlags selects the dates of a fetch or refresh run.
type dateFlags struct {
	days  int
	start string
	end   string
	date  string
}

func (f *dateFlags) register(flags *pflag.FlagSet) {
	flags.IntVar(&f.days, "days", 0, "Collect the last N complete days (default fetch.days_back)")
	flags.StringVar(&f.start, "start", "", "First date of an inclusive range (YYYY-MM-DD)")
	flags.StringVar(&f.end, "end", "", "Last date of an inclusive range (YYYY-MM-DD)")
	flags.StringVar(&f.date, "date", "", "Collect a single date (YYYY-MM-DD)")
}

func (f dateFlags) resolve(now time.Time, loc *time.Location, defaultDays int) ([]string, error) {
	hasRange := f.start != "" || f.end != ""
	switch {
	case f.date != "" && (hasRange || f.days > 0):
		return nil, errors.New("--date cannot be combined with --days, --start or --end")
	case hasRange && f.days > 0:
		return nil, errors.New("--days cannot be combined with --start or --end")
	case f.days < 0:
		return nil, fmt.Errorf("--days must be > 0, got %d", f.days)
	case f.date != "":
		return activity.DateRange(f.date, f.date)
	case hasRange:
		if f.start == "" || f.end == "" {
			return nil, errors.New("--start and --end must be given together")
		}
		return activity.DateRange(f.start, f.end)
	case f.days > 0:
		return activity.LastDays(now, loc, f.days), nil
	default:
		return activity.LastDays(now, loc, defaultDays), nil
	}
}

func newRenderer(cmd *cobra.Command, v *viper.Viper) *report.Renderer {
	return report.NewRenderer(cmd.OutOrStdout(), !v.GetBool("no-color") && !color.NoColor)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func newFetchCmd(v *viper.Viper, force bool) *cobra.Command {
	use, short := "fetch", "Collect uncached dates into the snapshot cache"
	if force {
		use, short = "refresh", "Re-collect dates and replace their cache entries"
	}

	var window dateFlags
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := newSession(v)
			if err != nil {
				return err
			}
			defer s.Close()

			dates, err := window.resolve(time.Now(), s.cfg.Fetch.Location, s.cfg.Fetch.DaysBack)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			pipeline, err := app.NewPipeline(ctx, s.cfg, s.logger)
			if err != nil {
				return err
			}
			defer func() {
				_ = pipeline.Close()
			}()

			s.logger.Info(
				"collection started",
				zap.String("org", s.cfg.GitHub.Org),
				zap.Strings("dates", dates),
				zap.Bool("force", force),
			)
			run := pipeline.Collector.Run(ctx, dates, force)
			if err := newRenderer(cmd, v).Run(run); err != nil {
				return err
			}
			return run.Err()
		},
	}
	window.register(cmd.Flags())
	return cmd
}

func newLeaderboardCmd(v *viper.Viper) *cobra.Command {
	var (
		start     string
		end       string
		asJSON    bool
		breakdown bool
	)
	cmd := &cobra.Command{
		Use:       "leaderboard [daily|weekly|custom]",
		Short:     "Rank tracked contributors from the snapshot cache",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"daily", "weekly", "custom"},
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "weekly"
			if len(args) == 1 {
				name = strings.ToLower(args[0])
			}

			s, err := newSession(v)
			if err != nil {
				return err
			}
			defer s.Close()

			period, err := resolvePeriod(name, start, end, time.Now(), s.cfg.Fetch.Location)
			if err != nil {
				return err
			}

			store, err := app.OpenCache(cmd.Context(), s.cfg, s.logger)
			if err != nil {
				return err
			}
			defer func() {
				_ = store.Close()
			}()

			board, err := app.NewLeaderboardBuilder(s.cfg, store, s.logger).Build(cmd.Context(), period)
			if err != nil {
				return err
			}
			if asJSON {
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(board)
			}

			renderer := newRenderer(cmd, v)
			if err := renderer.Leaderboard(board); err != nil {
				return err
			}
			if breakdown {
				return renderer.Breakdown(board)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "First date of a custom period")
	cmd.Flags().StringVar(&end, "end", "", "Last date of a custom period")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the leaderboard as JSON")
	cmd.Flags().BoolVar(&breakdown, "breakdown", false, "Also print per-repository branch tallies")
	return cmd
}

func resolvePeriod(name, start, end string, now time.Time, loc *time.Location) (scoring.Period, error) {
	if name == "custom" {
		if start == "" || end == "" {
			return scoring.Period{}, errors.New("custom leaderboards need --start and --end")
		}
		return scoring.Custom(start, end)
	}
	if start != "" || end != "" {
		return scoring.Period{}, fmt.Errorf("--start and --end only apply to custom leaderboards, not %s", name)
	}
	return scoring.PeriodByName(name, now, loc)
}

func newStatusCmd(v *viper.Viper) *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show cached dates and live rate-limit budgets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := newSession(v)
			if err != nil {
				return err
			}
			defer s.Close()

			store, err := app.OpenCache(cmd.Context(), s.cfg, s.logger)
			if err != nil {
				return err
			}
			defer func() {
				_ = store.Close()
			}()

			statuses, err := report.InspectCache(cmd.Context(), store)
			if err != nil {
				return err
			}
			renderer := newRenderer(cmd, v)
			if err := renderer.CacheStatus(statuses); err != nil {
				return err
			}

			if offline {
				return nil
			}
			if err := s.cfg.GitHub.RequireCredentials(); err != nil {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "rate-limit budgets skipped: %v\n", err)
				return nil
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), s.cfg.GitHub.RequestTimeout)
			defer cancel()
			pipeline, err := app.NewPipeline(ctx, s.cfg, s.logger)
			if err != nil {
				return err
			}
			defer func() {
				_ = pipeline.Close()
			}()
			budgets, err := pipeline.Governor.Refresh(ctx)
			if err != nil {
				return fmt.Errorf("read rate-limit budgets: %w", err)
			}
			return renderer.Budgets(budgets, time.Now())
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "Skip the GitHub rate-limit query")
	return cmd
}

func newServeCmd(v *viper.Viper) *cobra.Command {
	var listenAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Collect on a schedule and serve metrics, leaderboards and health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := newSession(v)
			if err != nil {
				return err
			}
			defer s.Close()
			if listenAddr != "" {
				s.cfg.Server.ListenAddr = listenAddr
			}
			return serve(cmd.Context(), s)
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", "", "HTTP listen address (default server.listen_addr)")
	return cmd
}

func serve(parent context.Context, s *session) error {
	cfg, logger := s.cfg, s.logger

	rootCtx, cancel := signalContext(parent)
	defer cancel()

	pipeline, err := app.NewPipeline(rootCtx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	defer func() {
		_ = pipeline.Close()
	}()

	runtime := app.NewRuntime(cfg, app.Dependencies{
		Collector: pipeline.Collector,
		Builder:   pipeline.Builder,
		Budgets:   pipeline.Governor,
		Deduper:   app.DeduperFor(pipeline.Store),
	}, logger)
	server := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           runtime.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	runtime.Start(rootCtx)

	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.ListenAddr))
		if serveErr := server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			serverErrCh <- serveErr
		}
		close(serverErrCh)
	}()

	var serveErr error
	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case serveErr = <-serverErrCh:
	}

	runtime.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	if serveErr != nil {
		return fmt.Errorf("http server failed: %w", serveErr)
	}

	logger.Info("shutdown complete")
	return nil
}
