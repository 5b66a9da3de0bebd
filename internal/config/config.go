// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all broker configuration parsed from environment variables.
// The scheduling defaults mirror the cluster's published contract: workers
// go stale after 300s without a check-in, prompts after 600s without
// activity, and every user may hold three live prompts at once.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`
	Port   int    `env:"PORT" envDefault:"8080"`

	// SnapshotDir is where users.json, usage.json and contributions.json
	// live. Snapshots are whole-file atomic rewrites.
	SnapshotDir      string        `env:"SNAPSHOT_DIR" envDefault:"."`
	SnapshotInterval time.Duration `env:"SNAPSHOT_INTERVAL" envDefault:"10s"`

	WorkerStaleAfter   time.Duration `env:"WORKER_STALE_AFTER" envDefault:"300s"`
	PromptStaleAfter   time.Duration `env:"PROMPT_STALE_AFTER" envDefault:"600s"`
	SweepInterval      time.Duration `env:"SWEEP_INTERVAL" envDefault:"30s"`
	CompletedRetention time.Duration `env:"COMPLETED_RETENTION" envDefault:"60s"`
	MaxActivePrompts   int           `env:"MAX_ACTIVE_PROMPTS" envDefault:"3"`

	// ListingCacheTTL bounds how stale the aggregate read endpoints
	// (/servers, /models, /usage, /contributions, /stats) may serve.
	// Zero disables the cache entirely.
	ListingCacheTTL time.Duration `env:"LISTING_CACHE_TTL" envDefault:"5s"`

	CORSAllowOrigins      string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	RateLimitPerMin       int           `env:"RATE_LIMIT_PER_MIN" envDefault:"90"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPIdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`

	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"ai-prompt-broker"`
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }
