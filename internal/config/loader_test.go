package config

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
)

// setupTestHome points HOME at a temporary directory and returns the
// allowed config directory inside it, already created.
func setupTestHome(t *testing.T) string {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)

	configDir := filepath.Join(home, ".config", "shipyard")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}
	return configDir
}

func writeConfig(t *testing.T, dir, content string, perm os.FileMode) string {
	t.Helper()

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

// TestLoadWithFile_ValidYAML tests loading configuration from a valid YAML file.
func TestLoadWithFile_ValidYAML(t *testing.T) {
	dir := setupTestHome(t)

	path := writeConfig(t, dir, `guardrails:
  budget: 50
  warn_ratio: 0.5
  block_ratio: 1.0
  churn_threshold: 5
failure:
  threshold: 2
oracle:
  model: judge
agent:
  model: worker
  command: ["agent-cli", "--json"]
  api_key: sk-test
  rate_limit: 2.5
specs:
  root: /srv/specs
  watch: false
  debounce: 1s
server:
  http_port: 8080
logging:
  level: debug
  format: console
`, 0600)

	cfg, err := LoadWithFile(path)
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v, want nil", err)
	}

	if cfg.Guardrails.Budget != 50 {
		t.Errorf("Guardrails.Budget = %d, want 50", cfg.Guardrails.Budget)
	}
	if cfg.Guardrails.BlockRatio != 1.0 {
		t.Errorf("Guardrails.BlockRatio = %g, want 1", cfg.Guardrails.BlockRatio)
	}
	if cfg.Guardrails.ToolCallThreshold != 50 {
		t.Errorf("Guardrails.ToolCallThreshold = %d, want default 50", cfg.Guardrails.ToolCallThreshold)
	}
	if cfg.Failure.Threshold != 2 {
		t.Errorf("Failure.Threshold = %d, want 2", cfg.Failure.Threshold)
	}
	if cfg.Oracle.Model != "judge" || cfg.Agent.Model != "worker" {
		t.Errorf("models = %q/%q, want judge/worker", cfg.Oracle.Model, cfg.Agent.Model)
	}
	if len(cfg.Agent.Command) != 2 || cfg.Agent.Command[0] != "agent-cli" {
		t.Errorf("Agent.Command = %v, want [agent-cli --json]", cfg.Agent.Command)
	}
	if cfg.Agent.APIKey.Value() != "sk-test" {
		t.Errorf("Agent.APIKey not loaded")
	}
	if cfg.Specs.Watch {
		t.Error("Specs.Watch = true, want false")
	}
	if cfg.Specs.Debounce.Duration() != time.Second {
		t.Errorf("Specs.Debounce = %v, want 1s", cfg.Specs.Debounce.Duration())
	}
	if cfg.Server.Port != 8080 || cfg.Server.Host != "localhost" {
		t.Errorf("Server = %s:%d, want localhost:8080", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Logging.Level != zapcore.DebugLevel {
		t.Errorf("Logging.Level = %v, want debug", cfg.Logging.Level)
	}
}

// TestLoadWithFile_EnvironmentOverride tests that environment variables override YAML.
func TestLoadWithFile_EnvironmentOverride(t *testing.T) {
	dir := setupTestHome(t)

	path := writeConfig(t, dir, `guardrails:
  warn_ratio: 0.5
server:
  http_port: 8080
`, 0600)

	t.Setenv("SHIPYARD_GUARDRAILS_WARN_RATIO", "0.7")
	t.Setenv("SHIPYARD_SERVER_HTTP_PORT", "7777")
	t.Setenv("SHIPYARD_AGENT_API_KEY", "from-env")
	t.Setenv("SHIPYARD_LOOP_MAX_ITERATIONS", "12")

	cfg, err := LoadWithFile(path)
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v, want nil", err)
	}

	if cfg.Guardrails.WarnRatio != 0.7 {
		t.Errorf("Guardrails.WarnRatio = %g, want 0.7 (from env override)", cfg.Guardrails.WarnRatio)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("Server.Port = %d, want 7777 (from env override)", cfg.Server.Port)
	}
	if cfg.Agent.APIKey.Value() != "from-env" {
		t.Error("Agent.APIKey not overridden from env")
	}
	if cfg.Loop.MaxIterations != 12 {
		t.Errorf("Loop.MaxIterations = %d, want 12", cfg.Loop.MaxIterations)
	}
}

// TestLoadWithFile_MissingFile tests that a missing file yields the defaults.
func TestLoadWithFile_MissingFile(t *testing.T) {
	dir := setupTestHome(t)

	cfg, err := LoadWithFile(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("LoadWithFile() should not error on missing file, got: %v", err)
	}

	def := Default()
	if cfg.Guardrails != def.Guardrails {
		t.Errorf("Guardrails = %+v, want defaults %+v", cfg.Guardrails, def.Guardrails)
	}
	if cfg.Server.Port != 9191 {
		t.Errorf("Server.Port = %d, want 9191", cfg.Server.Port)
	}
	if !cfg.Specs.Watch {
		t.Error("Specs.Watch = false, want true")
	}
}

// TestLoadWithFile_DefaultPath tests that an empty path resolves under HOME.
func TestLoadWithFile_DefaultPath(t *testing.T) {
	dir := setupTestHome(t)
	writeConfig(t, dir, "oracle:\n  model: default-path\n", 0600)

	cfg, err := LoadWithFile("")
	if err != nil {
		t.Fatalf("LoadWithFile(\"\") error = %v, want nil", err)
	}
	if cfg.Oracle.Model != "default-path" {
		t.Errorf("Oracle.Model = %q, want default-path", cfg.Oracle.Model)
	}
}

// TestLoadWithFile_InvalidYAML tests handling of malformed YAML.
func TestLoadWithFile_InvalidYAML(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `server:
  http_port: not-a-number
  invalid syntax here
`, 0600)

	if _, err := LoadWithFile(path); err == nil {
		t.Error("LoadWithFile() should error on invalid YAML, got nil")
	}
}

// TestLoadWithFile_Validation tests that loaded values are validated.
func TestLoadWithFile_Validation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"port out of range", "server:\n  http_port: 99999\n", "invalid server port"},
		{"warn above block", "guardrails:\n  warn_ratio: 0.96\n", "warn_ratio < block_ratio"},
		{"block above one", "guardrails:\n  block_ratio: 1.5\n", "block_ratio <= 1"},
		{"zero budget", "guardrails:\n  budget: -1\n", "budget must be positive"},
		{"zero failure threshold", "failure:\n  threshold: -2\n", "failure.threshold"},
		{"bad log format", "logging:\n  format: xml\n", "logging:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := setupTestHome(t)
			path := writeConfig(t, dir, tt.content, 0600)

			_, err := LoadWithFile(path)
			if err == nil {
				t.Fatal("LoadWithFile() should fail validation, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

// TestLoadWithFile_PathTraversal tests path traversal attack prevention.
func TestLoadWithFile_PathTraversal(t *testing.T) {
	setupTestHome(t)

	_, err := LoadWithFile("../../../../etc/passwd")
	if err == nil {
		t.Fatal("Expected error for path traversal, got nil")
	}
	if !strings.Contains(err.Error(), "must be in ~/.config/shipyard/ or /etc/shipyard/") {
		t.Errorf("Expected path validation error, got: %v", err)
	}
}

// TestLoadWithFile_InsecurePermissions tests file permission enforcement.
func TestLoadWithFile_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Skipping permission test on Windows")
	}

	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  http_port: 9090\n", 0644)

	_, err := LoadWithFile(path)
	if err == nil {
		t.Fatal("Expected error for insecure permissions, got nil")
	}
	if !strings.Contains(err.Error(), "insecure") {
		t.Errorf("Expected 'insecure permissions' error, got: %v", err)
	}
}

// TestLoadWithFile_ReadOnlyPermissions tests that 0400 is accepted.
func TestLoadWithFile_ReadOnlyPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Skipping permission test on Windows")
	}

	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  http_port: 9090\n", 0400)

	cfg, err := LoadWithFile(path)
	if err != nil {
		t.Fatalf("LoadWithFile() should succeed with 0400 permissions, got error: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
}

// TestLoadWithFile_FileTooLarge tests file size limit enforcement.
func TestLoadWithFile_FileTooLarge(t *testing.T) {
	dir := setupTestHome(t)

	path := filepath.Join(dir, "config.yaml")
	largeContent := bytes.Repeat([]byte("# comment line\n"), 150000)
	if err := os.WriteFile(path, largeContent, 0600); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	_, err := LoadWithFile(path)
	if err == nil {
		t.Fatal("Expected error for large file, got nil")
	}
	if !strings.Contains(err.Error(), "too large") {
		t.Errorf("Expected 'too large' error, got: %v", err)
	}
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"SHIPYARD_GUARDRAILS_WARN_RATIO": "guardrails.warn_ratio",
		"SHIPYARD_SERVER_HTTP_PORT":      "server.http_port",
		"SHIPYARD_ORACLE_MODEL":          "oracle.model",
		"SHIPYARD_DEBUG":                 "debug",
	}
	for in, want := range tests {
		if got := envKey(in); got != want {
			t.Errorf("envKey(%q) = %q, want %q", in, got, want)
		}
	}
}
