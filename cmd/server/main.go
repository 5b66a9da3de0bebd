// Command server starts the AI prompt broker HTTP node.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"

	httpserver "github.com/fairyhunter13/ai-prompt-broker/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-prompt-broker/internal/adapter/observability"
	"github.com/fairyhunter13/ai-prompt-broker/internal/adapter/snapshot"
	"github.com/fairyhunter13/ai-prompt-broker/internal/app"
	"github.com/fairyhunter13/ai-prompt-broker/internal/broker"
	"github.com/fairyhunter13/ai-prompt-broker/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register all Prometheus metrics once per process so that /metrics
	// exposes HTTP and queue instrumentation.
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	// Restore the user registry before accepting traffic. Workers are
	// deliberately not restored; they re-announce on their next pop.
	store := snapshot.New(cfg.SnapshotDir)
	users, err := store.Load(context.Background())
	if err != nil {
		slog.Error("snapshot load failed", slog.Any("error", err))
		os.Exit(1)
	}

	b := broker.New(broker.Options{
		WorkerStaleAfter:   cfg.WorkerStaleAfter,
		PromptStaleAfter:   cfg.PromptStaleAfter,
		CompletedRetention: cfg.CompletedRetention,
		MaxActivePrompts:   cfg.MaxActivePrompts,
	})
	b.LoadUsers(users)
	if len(users) > 0 {
		slog.Info("users restored from snapshot", slog.Int("count", len(users)))
	}

	srv := httpserver.NewServer(cfg, b, app.BuildReadinessChecks(cfg))
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: synchronous generate requests hold their
		// response open until the prompt resolves or expires.
	}

	var g run.Group
	g.Add(run.SignalHandler(context.Background(), syscall.SIGINT, syscall.SIGTERM))
	{
		g.Add(func() error {
			slog.Info("http server starting", slog.Int("port", cfg.Port))
			return srvHTTP.ListenAndServe()
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
			defer cancel()
			if err := srvHTTP.Shutdown(shutdownCtx); err != nil {
				slog.Error("http shutdown failed", slog.Any("error", err))
			}
		})
	}
	{
		ctx, cancel := context.WithCancel(context.Background())
		sweeper := app.NewSweeper(b, cfg.SweepInterval)
		g.Add(func() error {
			sweeper.Run(ctx)
			return nil
		}, func(error) { cancel() })
	}
	{
		// The snapshotter performs one last save when its context ends, so
		// registrations from the final interval survive the restart.
		ctx, cancel := context.WithCancel(context.Background())
		snapshotter := app.NewSnapshotter(b, store, cfg.SnapshotInterval)
		g.Add(func() error {
			snapshotter.Run(ctx)
			return nil
		}, func(error) { cancel() })
	}

	if err := g.Run(); err != nil {
		var sigErr run.SignalError
		switch {
		case errors.As(err, &sigErr):
			slog.Info("shutdown signal received", slog.String("signal", sigErr.Signal.String()))
		case errors.Is(err, http.ErrServerClosed):
		default:
			slog.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
