package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/finlens-poc/server/internal/analysis/gemini"
	"github.com/finlens-poc/server/internal/analysis/model"
	"github.com/finlens-poc/server/internal/analysis/repo"
	"github.com/finlens-poc/server/internal/analysis/session"
	"github.com/finlens-poc/server/internal/analysis/stream"
	"github.com/finlens-poc/server/internal/core"
	"github.com/finlens-poc/server/internal/server"
	logx "github.com/finlens-poc/server/pkg/logger"
	pkgredis "github.com/finlens-poc/server/pkg/redis"
)

// AppConfig defines all configurable parameters for the backend, sourced from
// environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	// LLM provider
	Gemini gemini.Config

	// Infrastructure. Redis is optional; leaving REDIS_URL unset disables
	// durable session records (and with them, orphaned-cache release).
	Redis            pkgredis.Config
	SessionRecordTTL string `envconfig:"SESSION_RECORD_TTL" default:"24h"`

	// Service configs
	Server   model.ServerConfig
	Analysis model.AnalysisConfig
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	// Load structured config from env
	var envCfg AppConfig
	if err := envconfig.Process("", &envCfg); err != nil {
		log.Fatalf("Failed to process environment config: %v", err)
	}

	logx.Init(logx.LoggerOpts{Environment: core.ParseEnvironment(envCfg.Environment)})

	client, err := gemini.NewClient(ctx, envCfg.Gemini)
	if err != nil {
		log.Fatalf("Failed to initialise Gemini client: %v", err)
	}

	var records model.SessionRecordRepository
	if envCfg.Redis.URL != "" {
		rdb, err := envCfg.Redis.New()
		if err != nil {
			log.Fatalf("Failed to initialise Redis client: %v", err)
		}
		defer rdb.Close()

		recordTTL, err := time.ParseDuration(envCfg.SessionRecordTTL)
		if err != nil {
			log.Fatalf("Invalid SESSION_RECORD_TTL '%s': %v", envCfg.SessionRecordTTL, err)
		}
		records = repo.NewRedisSessionRecordRepository(rdb, recordTTL)
	}

	accumulator := stream.NewAccumulator(stream.NewNormalizer(client), envCfg.Analysis.StorageApproxMins)
	manager := session.NewManager(client, accumulator, records, envCfg.Analysis)

	// Release cache leases left behind by a previous run before taking traffic.
	manager.ReleaseOrphans(ctx)

	srv, err := server.New(envCfg.Server, manager)
	if err != nil {
		log.Fatalf("Failed to build server: %v", err)
	}

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("Server exited with error: %v", err)
	}
}
