package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-prompt-broker/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.AppEnv)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, ".", cfg.SnapshotDir)
	assert.Equal(t, 10*time.Second, cfg.SnapshotInterval)
	assert.Equal(t, 300*time.Second, cfg.WorkerStaleAfter)
	assert.Equal(t, 600*time.Second, cfg.PromptStaleAfter)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.Equal(t, 60*time.Second, cfg.CompletedRetention)
	assert.Equal(t, 3, cfg.MaxActivePrompts)
	assert.Equal(t, 5*time.Second, cfg.ListingCacheTTL)
	assert.Equal(t, "*", cfg.CORSAllowOrigins)
	assert.Equal(t, 90, cfg.RateLimitPerMin)
	assert.Equal(t, "ai-prompt-broker", cfg.OTELServiceName)
	assert.Empty(t, cfg.OTLPEndpoint)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("PORT", "9090")
	t.Setenv("SNAPSHOT_DIR", "/var/lib/broker")
	t.Setenv("WORKER_STALE_AFTER", "2m")
	t.Setenv("MAX_ACTIVE_PROMPTS", "5")
	t.Setenv("LISTING_CACHE_TTL", "0s")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.AppEnv)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "/var/lib/broker", cfg.SnapshotDir)
	assert.Equal(t, 2*time.Minute, cfg.WorkerStaleAfter)
	assert.Equal(t, 5, cfg.MaxActivePrompts)
	assert.Zero(t, cfg.ListingCacheTTL)
}

func TestLoad_BadDuration(t *testing.T) {
	t.Setenv("PROMPT_STALE_AFTER", "not-a-duration")
	_, err := config.Load()
	require.Error(t, err)
}

func TestEnvHelpers(t *testing.T) {
	assert.True(t, config.Config{AppEnv: "dev"}.IsDev())
	assert.True(t, config.Config{AppEnv: "DEV"}.IsDev())
	assert.True(t, config.Config{AppEnv: "prod"}.IsProd())
	assert.True(t, config.Config{AppEnv: "test"}.IsTest())
	assert.False(t, config.Config{AppEnv: "prod"}.IsDev())
}
