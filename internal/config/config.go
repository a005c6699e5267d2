// Package config provides configuration loading for shipyard.
//
// Configuration comes from an optional YAML file overridden by SHIPYARD_*
// environment variables. See LoadWithFile.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/shipyard/internal/logging"
	"github.com/fyrsmithlabs/shipyard/internal/telemetry"
)

// Config holds the complete shipyard configuration.
type Config struct {
	Guardrails GuardrailsConfig `koanf:"guardrails"`
	Failure    FailureConfig    `koanf:"failure"`
	Oracle     OracleConfig     `koanf:"oracle"`
	Agent      AgentConfig      `koanf:"agent"`
	Loop       LoopConfig       `koanf:"loop"`
	Specs      SpecsConfig      `koanf:"specs"`
	Server     ServerConfig     `koanf:"server"`
	Logging    logging.Config   `koanf:"logging"`
	Telemetry  telemetry.Config `koanf:"telemetry"`
}

// GuardrailsConfig holds the thresholds of the guardrail pipeline.
type GuardrailsConfig struct {
	// Budget is the premium-request budget per module run.
	Budget            int     `koanf:"budget"`
	WarnRatio         float64 `koanf:"warn_ratio"`
	BlockRatio        float64 `koanf:"block_ratio"`
	ChurnThreshold    int     `koanf:"churn_threshold"`
	ToolCallThreshold int     `koanf:"tool_call_threshold"`
}

// FailureConfig holds failure escalation settings.
type FailureConfig struct {
	// Threshold is the consecutive failure count that hands control to a user.
	Threshold int `koanf:"threshold"`
}

// OracleConfig holds verification oracle settings.
type OracleConfig struct {
	Model string `koanf:"model"`
}

// AgentConfig holds settings for the agent invoker.
type AgentConfig struct {
	Model string `koanf:"model"`

	// Command is the executable run once per invocation. Empty means no
	// agent is configured and the loop refuses to run.
	Command []string `koanf:"command"`
	APIKey  Secret   `koanf:"api_key"`

	// RateLimit is invocations per second; 0 is unlimited.
	RateLimit float64  `koanf:"rate_limit"`
	Burst     int      `koanf:"burst"`
	Timeout   Duration `koanf:"timeout"`
}

// LoopConfig bounds the control loop.
type LoopConfig struct {
	MaxIterations int `koanf:"max_iterations"`
}

// SpecsConfig locates module specification documents.
type SpecsConfig struct {
	Root     string   `koanf:"root"`
	Watch    bool     `koanf:"watch"`
	Debounce Duration `koanf:"debounce"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// Default returns the configuration shipyard runs with when nothing is set.
func Default() *Config {
	return &Config{
		Guardrails: GuardrailsConfig{
			Budget:            300,
			WarnRatio:         0.8,
			BlockRatio:        0.95,
			ChurnThreshold:    4,
			ToolCallThreshold: 50,
		},
		Failure: FailureConfig{Threshold: 3},
		Oracle:  OracleConfig{Model: "gpt-4.1"},
		Agent: AgentConfig{
			Burst:   1,
			Timeout: Duration(10 * time.Minute),
		},
		Loop: LoopConfig{MaxIterations: 100},
		Specs: SpecsConfig{
			Root:     ".shipyard/specs",
			Watch:    true,
			Debounce: Duration(250 * time.Millisecond),
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            9191,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Logging:   *logging.NewDefaultConfig(),
		Telemetry: *telemetry.NewDefaultConfig(),
	}
}

// Validate validates the configuration.
//
// Returns an error if:
//   - the usage ratios are not 0 < warn_ratio < block_ratio <= 1
//   - the budget is not positive
//   - any threshold is below 1
//   - the churn threshold does not exceed the failure threshold
//   - the server port is not between 1 and 65535
//   - the logging or telemetry section is invalid
func (c *Config) Validate() error {
	g := c.Guardrails
	if g.Budget <= 0 {
		return fmt.Errorf("guardrails.budget must be positive, got %d", g.Budget)
	}
	if g.WarnRatio <= 0 || g.WarnRatio >= g.BlockRatio || g.BlockRatio > 1 {
		return fmt.Errorf("guardrails ratios must satisfy 0 < warn_ratio < block_ratio <= 1, got %g and %g",
			g.WarnRatio, g.BlockRatio)
	}
	if g.ChurnThreshold < 1 {
		return fmt.Errorf("guardrails.churn_threshold must be >= 1, got %d", g.ChurnThreshold)
	}
	if g.ToolCallThreshold < 1 {
		return fmt.Errorf("guardrails.tool_call_threshold must be >= 1, got %d", g.ToolCallThreshold)
	}
	if c.Failure.Threshold < 1 {
		return fmt.Errorf("failure.threshold must be >= 1, got %d", c.Failure.Threshold)
	}
	if g.ChurnThreshold <= c.Failure.Threshold {
		return fmt.Errorf("guardrails.churn_threshold (%d) must be greater than failure.threshold (%d)",
			g.ChurnThreshold, c.Failure.Threshold)
	}
	if c.Loop.MaxIterations < 1 {
		return fmt.Errorf("loop.max_iterations must be >= 1, got %d", c.Loop.MaxIterations)
	}
	if c.Agent.RateLimit < 0 {
		return fmt.Errorf("agent.rate_limit cannot be negative, got %g", c.Agent.RateLimit)
	}
	if c.Specs.Root == "" {
		return errors.New("specs.root is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	return nil
}
