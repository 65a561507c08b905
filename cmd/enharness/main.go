package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"

	"go.uber.org/zap"

	"enharness/internal/auth"
	"enharness/internal/config"
	"enharness/internal/ensek"
	"enharness/internal/notify"
	"enharness/internal/orders"
	"enharness/internal/report"
	"enharness/internal/report/postgres"
	"enharness/internal/run"
	"enharness/internal/state/memory"
)

func main() {
	phaseFlag := flag.String("phases", "",
		"comma-separated subset of phases to run, in their fixed order: "+strings.Join(run.PhaseNames(), ","))
	flag.Parse()

	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("failed to load .env: %v", err)
	}
	cfg := config.Load()

	zapCfg := zap.NewProductionConfig()
	zapCfg.Encoding = "console"
	logger, err := zapCfg.Build()
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	store := memory.NewStore()
	client := ensek.NewClient(cfg.BaseURL, cfg.RequestTimeout, logger, cfg.LogRequests, cfg.LogResponses)
	authManager := auth.NewManager(client, store, cfg.Username, cfg.Password, cfg.TokenRefreshSkew, logger)
	tracker := orders.NewTracker(client, store, logger)

	phases := run.BuildPhases(run.Deps{
		Client:          client,
		Auth:            authManager,
		Orders:          tracker,
		Store:           store,
		MaxResponseTime: cfg.MaxResponseTime,
		Logger:          logger,
	})
	orch := run.NewOrchestrator(phases, store, logger, cfg.BaseURL)
	if *phaseFlag != "" {
		if err := orch.Filter(splitPhases(*phaseFlag)); err != nil {
			logger.Fatal("invalid -phases value", zap.Error(err))
		}
	}

	ctx := context.Background()
	result := orch.Run(ctx)

	sinks := report.Multi{report.NewLogSink(logger)}
	if cfg.ReportDatabaseURL != "" {
		pgSink, err := postgres.Open(ctx, cfg.ReportDatabaseURL)
		if err != nil {
			logger.Warn("report database unavailable, skipping archive", zap.Error(err))
		} else {
			defer pgSink.Close()
			sinks = append(sinks, pgSink)
		}
	}
	sinks = append(sinks, notify.NewWebhook(
		cfg.NotifyWebhookURL,
		cfg.NotifyTimeout,
		cfg.NotifyMaxRetries,
		cfg.NotifyRetryBase,
		cfg.NotifyRetryMax,
	))
	if err := sinks.Write(ctx, result); err != nil {
		logger.Warn("report delivery failed", zap.Error(err))
	}

	if first := result.FirstFailure(); first != nil {
		logger.Error("run failed",
			zap.String("phase", first.Phase),
			zap.String("check", first.Check),
			zap.String("detail", first.Detail))
		os.Exit(1)
	}
}

func splitPhases(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
