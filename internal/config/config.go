// Package config provides configuration loading for membank.
//
// Configuration is loaded from a YAML file with environment variable
// overrides. Precedence, highest first: environment, YAML file, defaults.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/membank/internal/agent"
	"github.com/fyrsmithlabs/membank/internal/logging"
	"github.com/fyrsmithlabs/membank/internal/telemetry"
)

// Config holds the complete membank configuration.
type Config struct {
	Build     BuildConfig       `koanf:"build"`
	Agent     AgentConfig       `koanf:"agent"`
	Logging   logging.Config    `koanf:"logging"`
	Retry     agent.RetryConfig `koanf:"retry"`
	Watch     WatchConfig       `koanf:"watch"`
	Telemetry telemetry.Config  `koanf:"telemetry"`
}

// BuildConfig tunes the build pipeline.
type BuildConfig struct {
	// ComponentConcurrency caps in-flight component agents (Phase 2).
	ComponentConcurrency int `koanf:"component_concurrency"`

	// ValidationConcurrency caps in-flight validators (Phase 3). Must be
	// strictly greater than ComponentConcurrency: validators are cheap
	// and must never become the pipeline bottleneck.
	ValidationConcurrency int `koanf:"validation_concurrency"`

	// MaxTurns is the architecture agent's turn budget. Component agents
	// get half of it, validators a quarter.
	MaxTurns int `koanf:"max_turns"`

	// AcceptanceThreshold is the minimum overall validation score in
	// [0, 1] for a component to merge without a review flag.
	AcceptanceThreshold float64 `koanf:"acceptance_threshold"`

	// AutoFix enables one corrective invocation per flagged component.
	AutoFix bool `koanf:"auto_fix"`

	// AcceptFixWithoutRecheck merges auto-fixed documents without a
	// second review pass. Disabling it buys one extra validator
	// invocation per fixed component to refresh the scores.
	AcceptFixWithoutRecheck bool `koanf:"accept_fix_without_recheck"`
}

// AgentConfig configures the model capability.
type AgentConfig = agent.ClientConfig

// WatchConfig tunes watch mode.
type WatchConfig struct {
	// Debounce is how long the watcher waits after the last filesystem
	// event before starting an incremental build.
	Debounce time.Duration `koanf:"debounce"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Build: BuildConfig{
			ComponentConcurrency:    6,
			ValidationConcurrency:   12,
			MaxTurns:                80,
			AcceptanceThreshold:     0.8,
			AutoFix:                 true,
			AcceptFixWithoutRecheck: true,
		},
		Logging: *logging.NewDefaultConfig(),
		Retry:   agent.DefaultRetryConfig(),
		Watch: WatchConfig{
			Debounce: 2 * time.Second,
		},
		Telemetry: telemetry.NewDefaultConfig(),
	}
}

// ComponentTurns is the per-component turn budget derived from MaxTurns.
func (b BuildConfig) ComponentTurns() int {
	return max(1, b.MaxTurns/2)
}

// ValidationTurns is the per-validator turn budget derived from MaxTurns.
func (b BuildConfig) ValidationTurns() int {
	return max(1, b.MaxTurns/4)
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	var errs []error

	if c.Build.ComponentConcurrency < 1 {
		errs = append(errs, fmt.Errorf("build.component_concurrency must be >= 1, got %d", c.Build.ComponentConcurrency))
	}
	if c.Build.ValidationConcurrency <= c.Build.ComponentConcurrency {
		errs = append(errs, fmt.Errorf(
			"build.validation_concurrency (%d) must be strictly greater than build.component_concurrency (%d)",
			c.Build.ValidationConcurrency, c.Build.ComponentConcurrency))
	}
	if c.Build.MaxTurns < 1 {
		errs = append(errs, fmt.Errorf("build.max_turns must be >= 1, got %d", c.Build.MaxTurns))
	}
	if c.Build.AcceptanceThreshold < 0 || c.Build.AcceptanceThreshold > 1 {
		errs = append(errs, fmt.Errorf("build.acceptance_threshold must be in [0, 1], got %g", c.Build.AcceptanceThreshold))
	}
	if c.Watch.Debounce < 0 {
		errs = append(errs, fmt.Errorf("watch.debounce must not be negative, got %s", c.Watch.Debounce))
	}
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	if err := c.Telemetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}

	return errors.Join(errs...)
}
