// Package bridge implements the contributor process that connects a local
// text-generation model server to the brokering cluster. It announces the
// server's capability snapshot, polls for eligible work, drives the
// generation, and submits the text back to earn kudos for the owner.
package bridge

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is looked up in the working directory when
// BRIDGE_CONFIG_FILE is not set. A missing default file is not an error.
const DefaultConfigFile = "bridge.yaml"

// Config holds everything one bridge process needs to reach both sides.
// Values resolve in three layers: built-in defaults, then the optional YAML
// file, then BRIDGE_* environment variables. Command-line flags overlay on
// top of the loaded config in cmd/bridge.
type Config struct {
	// APIKey authenticates the owner account that collects kudos.
	APIKey string `env:"BRIDGE_API_KEY"`
	// Name is the worker name shown on /servers. There can be only one
	// worker per name cluster-wide.
	Name       string        `env:"BRIDGE_NAME"`
	ModelURL   string        `env:"BRIDGE_MODEL_URL"`
	ClusterURL string        `env:"BRIDGE_CLUSTER_URL"`
	Interval   time.Duration `env:"BRIDGE_INTERVAL"`
	// PriorityUsernames lists accounts (alias form, name#id) whose prompts
	// this bridge serves before anyone else's.
	PriorityUsernames []string `env:"BRIDGE_PRIORITY_USERNAMES" envSeparator:","`
}

// fileConfig is the YAML shape. Durations travel as strings so the file can
// say "2s" rather than nanosecond integers.
type fileConfig struct {
	APIKey            string   `yaml:"api_key"`
	Name              string   `yaml:"name"`
	ModelURL          string   `yaml:"model_url"`
	ClusterURL        string   `yaml:"cluster_url"`
	Interval          string   `yaml:"interval"`
	PriorityUsernames []string `yaml:"priority_usernames"`
}

// Load resolves the bridge configuration. The file named by
// BRIDGE_CONFIG_FILE must exist when set; the default bridge.yaml may be
// absent. Environment variables win over file values.
func Load() (Config, error) {
	const op = "bridge.config"
	cfg := Config{
		ModelURL:   "http://localhost:5000",
		ClusterURL: "http://localhost:8080",
		Interval:   time.Second,
	}

	path := os.Getenv("BRIDGE_CONFIG_FILE")
	required := path != ""
	if path == "" {
		path = DefaultConfigFile
	}
	if err := overlayFile(&cfg, path, required); err != nil {
		return Config{}, fmt.Errorf("op=%s: %w", op, err)
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=%s: %w", op, err)
	}

	cfg.ModelURL = strings.TrimRight(cfg.ModelURL, "/")
	cfg.ClusterURL = strings.TrimRight(cfg.ClusterURL, "/")
	return cfg, nil
}

func overlayFile(cfg *Config, path string, required bool) error {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the operator's own env
	if err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		return err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if fc.APIKey != "" {
		cfg.APIKey = fc.APIKey
	}
	if fc.Name != "" {
		cfg.Name = fc.Name
	}
	if fc.ModelURL != "" {
		cfg.ModelURL = fc.ModelURL
	}
	if fc.ClusterURL != "" {
		cfg.ClusterURL = fc.ClusterURL
	}
	if fc.Interval != "" {
		d, err := time.ParseDuration(fc.Interval)
		if err != nil {
			return fmt.Errorf("parse %s: interval: %w", path, err)
		}
		cfg.Interval = d
	}
	if len(fc.PriorityUsernames) > 0 {
		cfg.PriorityUsernames = fc.PriorityUsernames
	}
	return nil
}

// Validate reports whether the config can drive a bridge.
func (c Config) Validate() error {
	const op = "bridge.config"
	switch {
	case c.APIKey == "":
		return fmt.Errorf("op=%s: api key is required", op)
	case c.Name == "":
		return fmt.Errorf("op=%s: worker name is required", op)
	case c.ModelURL == "":
		return fmt.Errorf("op=%s: model server url is required", op)
	case c.ClusterURL == "":
		return fmt.Errorf("op=%s: cluster url is required", op)
	case c.Interval <= 0:
		return fmt.Errorf("op=%s: interval must be positive", op)
	}
	return nil
}
