package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/callaudit/audit-service/internal/api"
	"github.com/callaudit/audit-service/internal/audit"
	"github.com/callaudit/audit-service/internal/config"
	"github.com/callaudit/audit-service/internal/correlator"
	"github.com/callaudit/audit-service/internal/events"
	"github.com/callaudit/audit-service/internal/ingester"
	"github.com/callaudit/audit-service/internal/rules"
	"github.com/callaudit/audit-service/internal/scoring"
	slackalert "github.com/callaudit/audit-service/internal/slack"
	"github.com/callaudit/audit-service/internal/store"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("audit-service starting",
		"port", cfg.Port,
		"nats_url", cfg.NatsURL,
		"bundle_ttl", cfg.BundleTTL,
		"pass_threshold", cfg.PassThreshold,
		"review_threshold", cfg.ReviewThreshold,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Step 1: Connect to database.
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database connected")

	// Step 2: Initialize engines and the orchestrator. The publish function
	// closes over the ingester, which is connected before any bundle can
	// complete.
	ruleEngine := rules.NewEngine(cfg.ResponseWindow)
	scoreEngine := scoring.NewEngine(scoring.Weights{
		Script:     cfg.ScriptWeight,
		Service:    cfg.ServiceWeight,
		Resolution: cfg.ResolutionWeight,
	}, cfg.PassThreshold, cfg.ReviewThreshold)

	var ing *ingester.Ingester
	orch := audit.New(db, ruleEngine, scoreEngine, func(subject string, data []byte) error {
		return ing.Publish(subject, data)
	}, cfg.PersistMaxAttempts)

	// Step 3: Initialize the correlator and start the TTL sweeper.
	corr := correlator.New(cfg.BundleTTL, cfg.BundleSweepInterval, orch.ProcessBundle)
	corr.Start(ctx)

	// Step 4: Connect to NATS and start consuming analysis events.
	ing, err = ingester.New(cfg.NatsURL, corr)
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer ing.Close()

	// Conditionally create Slack alerter for flagged audits and DLQ entries.
	if cfg.SlackBotToken != "" && cfg.SlackAlertChannel != "" {
		alerter := slackalert.NewAlerter(cfg.SlackBotToken, cfg.SlackAlertChannel)
		slog.Info("Slack alerter enabled", "channel", cfg.SlackAlertChannel)

		orch.SetFlaggedHook(func(ctx context.Context, p events.AuditPayload) {
			if err := alerter.PostAuditAlert(ctx, p); err != nil {
				slog.Warn("failed to post audit alert to Slack", "error", err)
			}
		})
		ing.SetDLQHandler(func(ctx context.Context, subject string, data []byte) {
			if err := alerter.PostDLQAlert(ctx, subject, data); err != nil {
				slog.Warn("failed to post DLQ alert to Slack", "error", err)
			}
		})
	}

	if err := ing.Start(); err != nil {
		slog.Error("failed to start ingester", "error", err)
		os.Exit(1)
	}
	slog.Info("NATS ingester started")

	// Step 5: Start HTTP API.
	srv := api.NewServer(db, corr, cfg.Port)
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("audit-service ready", "port", cfg.Port)

	// Wait for shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	slog.Info("shutting down", "signal", sig)
	cancel()
	corr.Wait()
	slog.Info("audit-service stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
