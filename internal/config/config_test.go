package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, devJWTSecret, cfg.JWTSecret)
	assert.Equal(t, DefaultTokenTTL, cfg.TokenTTL)
	assert.Equal(t, DefaultHeartbeatInterval, cfg.HeartbeatInterval)
	assert.Equal(t, DefaultHeartbeatTimeout, cfg.HeartbeatTimeout)
	assert.False(t, cfg.AllowQueryTenant)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ENV", "staging")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("JWT_TTL", "90")
	t.Setenv("HEARTBEAT_INTERVAL", "5s")
	t.Setenv("ALLOW_QUERY_TENANT", "true")
	t.Setenv("CORS_ORIGINS", "https://a.example.com, https://b.example.com,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.TokenTTL)
	assert.Equal(t, 5*time.Second, cfg.HeartbeatInterval)
	assert.True(t, cfg.AllowQueryTenant)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORSOrigins)
}

func TestLoad_ProductionRequiresSecret(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET is required")
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{
		Env:                  "production",
		JWTSecret:            "0123456789abcdef0123456789abcdef",
		TokenTTL:             time.Hour,
		RefreshTTL:           time.Hour,
		HeartbeatInterval:    time.Second,
		AvailabilityInterval: time.Second,
		TenantSweepInterval:  time.Second,
		BillingSweepInterval: time.Second,
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid production", mutate: func(*Config) {}},
		{name: "short secret", mutate: func(c *Config) { c.JWTSecret = "short" }, wantErr: "at least 32"},
		{name: "query tenant in production", mutate: func(c *Config) { c.AllowQueryTenant = true }, wantErr: "ALLOW_QUERY_TENANT"},
		{name: "zero ttl", mutate: func(c *Config) { c.TokenTTL = 0 }, wantErr: "must be positive"},
		{name: "zero interval", mutate: func(c *Config) { c.HeartbeatInterval = 0 }, wantErr: "sweep intervals"},
		{name: "zero billing interval", mutate: func(c *Config) { c.BillingSweepInterval = 0 }, wantErr: "sweep intervals"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
