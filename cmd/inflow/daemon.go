package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mkoskin/inflow/internal/backlog"
	"github.com/mkoskin/inflow/internal/config"
	"github.com/mkoskin/inflow/internal/highlight"
	"github.com/mkoskin/inflow/internal/llm"
	"github.com/mkoskin/inflow/internal/resilience"
	"github.com/mkoskin/inflow/internal/rtm"
	"github.com/mkoskin/inflow/internal/scheduler"
	"github.com/mkoskin/inflow/internal/worker"
)

// newLogger builds the process logger. Level comes from LOG_LEVEL
// (debug|info|warn|error), defaulting to info.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// retryPolicy maps config knobs onto the outbound HTTP retry policy.
func retryPolicy(cfg *config.Config) resilience.Policy {
	return resilience.Policy{
		MaxRetries:    cfg.MaxHTTPRetries,
		InitialDelay:  time.Duration(cfg.RetryInitialMS) * time.Millisecond,
		MaxDelay:      time.Duration(cfg.RetryMaxMS) * time.Millisecond,
		BackoffFactor: cfg.RetryBackoffMult,
	}
}

// buildClients constructs the outbound service clients from environment
// credentials. Clients with missing credentials report unconfigured and
// their workers sit idle rather than erroring.
func buildClients(cfg *config.Config, log *slog.Logger) (*llm.Client, *rtm.Client) {
	reg := resilience.NewRegistry(cfg.BreakerFailureThreshold, time.Duration(cfg.BreakerRecoverySecs)*time.Second)
	policy := retryPolicy(cfg)

	llmClient := llm.New(llm.Options{
		APIKey:  os.Getenv("LLM_API_KEY"),
		BaseURL: os.Getenv("LLM_BASE_URL"),
		Model:   os.Getenv("LLM_MODEL"),
		Timeout: time.Duration(cfg.LLMTimeoutSecs) * time.Second,
		Policy:  policy,
	}, reg, log)

	rtmClient := rtm.New(rtm.Options{
		APIKey:       os.Getenv("RTM_API_KEY"),
		SharedSecret: os.Getenv("RTM_SHARED_SECRET"),
		Timeout:      time.Duration(cfg.RTMTimeoutSecs) * time.Second,
		Policy:       policy,
	}, reg, log)

	return llmClient, rtmClient
}

// newAuthManager wires the token manager, seeding it from RTM_AUTH_TOKEN
// when one is set. A token already in the database always wins over the
// environment.
func newAuthManager(db *sql.DB, client *rtm.Client, log *slog.Logger) *rtm.AuthManager {
	auth := rtm.NewAuthManager(db, client, log)
	if token := os.Getenv("RTM_AUTH_TOKEN"); token != "" {
		if err := auth.BootstrapFromEnv(token); err != nil {
			log.Warn("failed to seed provider token from environment", "error", err)
		}
	}
	return auth
}

// highlightSelector wires the daily highlight selector.
func highlightSelector(db *sql.DB, client *rtm.Client, auth *rtm.AuthManager, cfg *config.Config, log *slog.Logger) *highlight.Selector {
	return highlight.NewSelector(db, client, auth, cfg, log)
}

// pollLoop runs fn immediately and then on every interval tick until the
// context is cancelled. Errors are logged, never fatal; a transient
// failure must not kill the daemon.
func pollLoop(ctx context.Context, log *slog.Logger, name string, interval time.Duration, fn func(ctx context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			log.Error("worker cycle failed", "worker", name, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runDaemon starts the background workers and daily jobs and blocks
// until interrupted.
func runDaemon(ctx context.Context, db *sql.DB, cfg *config.Config) error {
	log := newLogger()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	llmClient, rtmClient := buildClients(cfg, log)
	auth := newAuthManager(db, rtmClient, log)

	clarifier := worker.NewClarifyWorker(db, llmClient, cfg, log)
	committer := worker.NewCommitWorker(db, rtmClient, auth, cfg, log)
	anchors := worker.NewAnchorManager(db, rtmClient, auth, cfg, log)
	selector := highlightSelector(db, rtmClient, auth, cfg, log)
	drainer := backlog.NewDrainer(db, llmClient, cfg, log)

	sched := scheduler.New(log)
	sched.Add(scheduler.Job{
		Name:   "daily_highlights",
		Hour:   cfg.HighlightsHour,
		Minute: cfg.HighlightsMinute,
		Run: func(ctx context.Context) error {
			_, err := selector.Run(ctx)
			return err
		},
	})
	sched.Add(scheduler.Job{
		Name:   "backlog_drain",
		Hour:   cfg.BacklogHour,
		Minute: cfg.BacklogMinute,
		Run: func(ctx context.Context) error {
			_, err := drainer.RunOnce(ctx)
			return err
		},
	})

	log.Info("starting workers",
		"clarify_poll_secs", cfg.ClarifyPollSecs,
		"commit_poll_secs", cfg.CommitPollSecs,
		"llm_configured", llmClient.Configured(),
		"rtm_configured", rtmClient.Configured())

	done := make(chan struct{}, 3)
	go func() {
		pollLoop(ctx, log, "clarify", time.Duration(cfg.ClarifyPollSecs)*time.Second, clarifier.RunOnce)
		done <- struct{}{}
	}()
	go func() {
		// Anchor maintenance shares the commit cadence and runs
		// after each commit cycle.
		pollLoop(ctx, log, "commit", time.Duration(cfg.CommitPollSecs)*time.Second,
			chainRunners(committer.RunOnce, anchors.RunOnce))
		done <- struct{}{}
	}()
	go func() {
		sched.Run(ctx, time.Minute)
		done <- struct{}{}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	for i := 0; i < 3; i++ {
		<-done
	}
	return nil
}

// chainRunners runs worker cycles in order. Every runner gets its turn
// even when an earlier one fails; the errors are joined for the loop's
// logging.
func chainRunners(runners ...func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		var errs []error
		for _, run := range runners {
			if err := run(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}
