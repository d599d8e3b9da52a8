// Command server runs the multi-tenant agent registry: tenants, sessions,
// quotas and the agent, plugin, data source, knowledge, workflow and
// provider catalogs behind one HTTP API.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mbd888/agentplatform/internal/config"
	"github.com/mbd888/agentplatform/internal/logging"
	"github.com/mbd888/agentplatform/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	logStartup(logger, cfg)

	server.Version = Version
	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to assemble platform", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Error("platform stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("platform stopped")
}

// logStartup reports the build, where each store lives and how tenants
// are resolved, and warns about settings unsafe outside development.
func logStartup(logger *slog.Logger, cfg *config.Config) {
	seeds := cfg.ConfigDir
	if seeds == "" {
		seeds = "none"
	}
	logger.Info("starting agentplatform",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
		"env", cfg.Env,
		"port", cfg.Port,
		"seed_dir", seeds,
	)
	logger.Info("storage backends",
		"users", backend(cfg.DatabaseURL, "postgres"),
		"tenant_data", backend(cfg.MongoURI, "mongodb"),
		"quota_counters", backend(cfg.RedisURL, "redis"),
		"events", backend(cfg.NATSURL, "nats"),
		"stripe_sync", cfg.StripeSecretKey != "",
	)

	if cfg.AllowQueryTenant && !cfg.IsDevelopment() {
		logger.Warn("tenant_id query parameter is trusted outside development", "env", cfg.Env)
	}
	if cfg.AdminSecret == "" {
		logger.Warn("no admin secret set; only admin-role sessions can use /v1/admin")
	}
}

func backend(setting, name string) string {
	if setting == "" {
		return "memory"
	}
	return name
}
