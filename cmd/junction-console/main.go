package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/joluc/junction-console/pkg/alerts"
	"github.com/joluc/junction-console/pkg/api"
	"github.com/joluc/junction-console/pkg/config"
	"github.com/joluc/junction-console/pkg/dashboard"
	"github.com/joluc/junction-console/pkg/geo"
	"github.com/joluc/junction-console/pkg/sos"
	"github.com/joluc/junction-console/pkg/telemetry"
	"github.com/joluc/junction-console/pkg/violations"
)

func main() {
	cfg, err := config.ParseFlags("junction-console", os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	slog.SetDefault(newLogger(cfg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("console stopped", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.LogFormat) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// notificationStatus exposes the dashboard feed together with the
// debouncer's delivery counters.
type notificationStatus struct {
	feed      *alerts.Feed
	debouncer *alerts.Debouncer
}

func (n notificationStatus) Recent() []alerts.Notification { return n.feed.Recent() }
func (n notificationStatus) Stats() alerts.DebouncerStats { return n.debouncer.Stats() }

func run(ctx context.Context, cfg config.Config) error {
	client, err := api.New(api.Options{
		BaseURL:   cfg.APIURL,
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.Timeout(),
	})
	if err != nil {
		return err
	}

	resolver := geo.DefaultResolver()
	synchronizer := telemetry.New(client, resolver, cfg.PollInterval)
	sosManager := sos.New(client, cfg.OfficerID, cfg.SOSPollInterval)
	workflow := violations.New(client, cfg.OfficerID)

	feed := alerts.NewFeed(cfg.FeedSize)
	debouncer := alerts.NewDebouncer(alerts.Notifiers{alerts.LogNotifier{}, feed}, cfg.NotifyInterval, cfg.NotifyBurst, cfg.DedupTTL)

	opts := dashboard.Options{
		Telemetry:     synchronizer,
		SOS:           sosManager,
		Violations:    workflow,
		Notifications: notificationStatus{feed: feed, debouncer: debouncer},
		Resolver:      resolver,
		MetricsPath:   cfg.MetricsPath,
	}

	var stream *alerts.Controller
	if cfg.PushURL != "" {
		stream = alerts.NewController(cfg.PushURL, sosManager, alerts.NewFlag(cfg.AlertWindow), debouncer)
		opts.Stream = stream
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           dashboard.New(opts).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		synchronizer.Run(ctx)
		return nil
	})
	g.Go(func() error {
		sosManager.Run(ctx)
		return nil
	})
	g.Go(func() error {
		if err := workflow.Refresh(ctx); err != nil {
			slog.Warn("initial violation refresh failed", "error", err)
		}
		return nil
	})
	if stream != nil {
		g.Go(func() error {
			// A lost push channel degrades the console to polling only.
			if err := stream.Run(ctx); err != nil {
				slog.Warn("live alerts unavailable", "error", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		slog.Info("starting junction console", "address", cfg.ListenAddress, "api", cfg.APIURL, "push", cfg.PushURL, "metrics_path", cfg.MetricsPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
