// The analyzer binary serves the Procurement Document Analysis Engine's
// HTTP API: upload a tender bundle, stream its pipeline progress, and
// download the merged report.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/proculyze/analyzer/pkg/api"
	"github.com/proculyze/analyzer/pkg/config"
	"github.com/proculyze/analyzer/pkg/converter"
	"github.com/proculyze/analyzer/pkg/events"
	"github.com/proculyze/analyzer/pkg/exporter"
	"github.com/proculyze/analyzer/pkg/llm"
	"github.com/proculyze/analyzer/pkg/notify"
	"github.com/proculyze/analyzer/pkg/pipeline"
	"github.com/proculyze/analyzer/pkg/retention"
	"github.com/proculyze/analyzer/pkg/store"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration env var, using default", "key", key, "value", v, "default", defaultValue)
		return defaultValue
	}
	return d
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("could not load .env file, continuing with existing environment", "path", envPath, "error", err)
	}

	httpAddr := getEnv("HTTP_ADDR", ":8080")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx, *configDir)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("configuration loaded", "config_dir", *configDir, "providers", len(cfg.Providers.All()))

	s, err := openStore(ctx, cfg.StoreURL)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := s.Close(); err != nil {
			slog.Error("error closing store", "error", err)
		}
	}()

	bus := events.NewBus(s)
	gateway := llm.NewGateway(cfg.Providers)

	docConverter := converter.Converter(converter.NewHTTPConverter(getEnv("CONVERTER_URL", "http://localhost:8081")))
	reportExporter := exporter.Exporter(exporter.NewHTTPExporter(getEnv("EXPORTER_URL", "http://localhost:8082")))

	notifier := notify.NewService(notify.ServiceConfig{
		Token:        os.Getenv("SLACK_BOT_TOKEN"),
		Channel:      os.Getenv("SLACK_CHANNEL_ID"),
		DashboardURL: getEnv("DASHBOARD_URL", "http://localhost:3000"),
	})

	factory := &pipeline.Factory{
		Store:     s,
		Bus:       bus,
		Gateway:   gateway,
		Config:    cfg,
		Converter: docConverter,
		Notify:    notifier,
	}
	chat := &pipeline.Chat{
		Store:   s,
		Gateway: gateway,
		Model:   cfg.DefaultModel,
	}

	retentionSvc := retention.NewService(&retention.Config{
		MaxAge:   getEnvDuration("RETENTION_MAX_AGE", 90*24*time.Hour),
		Interval: getEnvDuration("RETENTION_INTERVAL", time.Hour),
	}, s)
	retentionSvc.Start(ctx)
	defer retentionSvc.Stop()

	srv := api.NewServer(cfg, s, bus, factory, chat, reportExporter)

	go func() {
		slog.Info("analyzer listening", "addr", httpAddr)
		if err := srv.Start(httpAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("error during shutdown", "error", err)
	}
}

// openStore selects the durable Postgres-backed store when storeURL is
// set, or falls back to the in-memory store for local development and
// single-process deployments (spec §6).
func openStore(ctx context.Context, storeURL string) (store.Store, error) {
	if storeURL == "" {
		slog.Info("no STORE_URL configured, using in-memory store")
		return store.NewMemoryStore(), nil
	}
	return store.NewPostgresStore(ctx, storeURL)
}
