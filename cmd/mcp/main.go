// Command mcp serves the platform registries as MCP tools over stdio.
//
// It authenticates either with a ready access token (AGENTPLATFORM_TOKEN)
// or by logging in with AGENTPLATFORM_USERNAME and AGENTPLATFORM_PASSWORD.
// Logs go to stderr since stdout carries the protocol.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/agentplatform/internal/mcpserver"
)

func main() {
	_ = godotenv.Load()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg := mcpserver.Config{
		APIURL:   lookupEnv("AGENTPLATFORM_API_URL", "http://localhost:8080"),
		Token:    os.Getenv("AGENTPLATFORM_TOKEN"),
		TenantID: os.Getenv("AGENTPLATFORM_TENANT_ID"),
	}
	client := mcpserver.NewClient(cfg)

	if cfg.Token == "" {
		username, password := os.Getenv("AGENTPLATFORM_USERNAME"), os.Getenv("AGENTPLATFORM_PASSWORD")
		if username == "" || password == "" {
			logger.Error("set AGENTPLATFORM_TOKEN or AGENTPLATFORM_USERNAME and AGENTPLATFORM_PASSWORD")
			os.Exit(1)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := client.Login(ctx, username, password)
		cancel()
		if err != nil {
			logger.Error("login failed", "api_url", cfg.APIURL, "error", err)
			os.Exit(1)
		}
		logger.Info("logged in", "username", username, "tenant_id", cfg.TenantID)
	}

	if err := server.ServeStdio(mcpserver.NewMCPServerWithClient(client)); err != nil {
		logger.Error("mcp server stopped", "error", err)
		os.Exit(1)
	}
}

func lookupEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
