package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// clearEnv blanks every WELLNESS_* variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

// TestDefaults verifies all default values are applied when loading an empty config file.
func TestDefaults(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `# empty`)

	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 8000 {
		t.Errorf("Server.Port = %d, want 8000", cfg.Server.Port)
	}
	if cfg.Engine.Backend != BackendOllama {
		t.Errorf("Engine.Backend = %q, want %q", cfg.Engine.Backend, BackendOllama)
	}
	if cfg.Ollama.BaseURL != "http://localhost:11434" {
		t.Errorf("Ollama.BaseURL = %q", cfg.Ollama.BaseURL)
	}
	if cfg.OpenAI.BaseURL != "https://api.groq.com/openai/v1" {
		t.Errorf("OpenAI.BaseURL = %q", cfg.OpenAI.BaseURL)
	}
	if cfg.Orchestrator.MaxSteps != 8 {
		t.Errorf("Orchestrator.MaxSteps = %d, want 8", cfg.Orchestrator.MaxSteps)
	}
	if cfg.Session.TTL != "30m" {
		t.Errorf("Session.TTL = %q, want 30m", cfg.Session.TTL)
	}
	if cfg.Session.MaxTurns != 20 {
		t.Errorf("Session.MaxTurns = %d, want 20", cfg.Session.MaxTurns)
	}
	if cfg.Retrieval.TopK != 3 {
		t.Errorf("Retrieval.TopK = %d, want 3", cfg.Retrieval.TopK)
	}
}

func TestMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := loadFromPath(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("Server.Port = %d, want 8000", cfg.Server.Port)
	}
}

// TestTOMLParsing verifies that fields are correctly read from a TOML file.
func TestTOMLParsing(t *testing.T) {
	clearEnv(t)
	content := `
[server]
port = 9000
rate_limit = 2.5
rate_burst = 4

[engine]
fast_model = "custom-fast"
deep_model = "custom-deep"

[ollama]
base_url = "http://custom:11434"

[storage]
data_dir = "/tmp/wellnessd-test"

[orchestrator]
max_steps = 4
step_timeout = "5s"

[session]
max_turns = 6
`
	cfg, err := loadFromPath(writeTempConfig(t, content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Server.RateLimit != 2.5 {
		t.Errorf("Server.RateLimit = %v, want 2.5", cfg.Server.RateLimit)
	}
	if cfg.Server.RateBurst != 4 {
		t.Errorf("Server.RateBurst = %d, want 4", cfg.Server.RateBurst)
	}
	if cfg.Engine.FastModel != "custom-fast" || cfg.Engine.DeepModel != "custom-deep" {
		t.Errorf("Engine = %+v", cfg.Engine)
	}
	if cfg.Ollama.BaseURL != "http://custom:11434" {
		t.Errorf("Ollama.BaseURL = %q", cfg.Ollama.BaseURL)
	}
	if cfg.Storage.DataDir != "/tmp/wellnessd-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Orchestrator.MaxSteps != 4 || cfg.Orchestrator.StepTimeout != "5s" {
		t.Errorf("Orchestrator = %+v", cfg.Orchestrator)
	}
	if cfg.Session.MaxTurns != 6 {
		t.Errorf("Session.MaxTurns = %d, want 6", cfg.Session.MaxTurns)
	}
}

// TestEnvOverride verifies that environment variables override config file values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "[server]\nport = 9000\n")

	t.Setenv("WELLNESS_SERVER_PORT", "9100")
	t.Setenv("WELLNESS_API_TOKEN", "tok")

	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Server.APIToken != "tok" {
		t.Errorf("Server.APIToken = %q, want tok", cfg.Server.APIToken)
	}
}

func TestEnvOverride_BadIntKeepsValue(t *testing.T) {
	clearEnv(t)
	t.Setenv("WELLNESS_SERVER_PORT", "not-a-number")

	cfg, err := loadFromPath(writeTempConfig(t, ""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("Server.Port = %d, want default 8000", cfg.Server.Port)
	}
}

// TestSecretsIgnoredInFile verifies secrets are only read from the environment.
func TestSecretsIgnoredInFile(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "[server]\napi_token = \"from-file\"\n")

	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.APIToken != "" {
		t.Errorf("APIToken = %q, want empty", cfg.Server.APIToken)
	}
}

// TestMissingRequiredField verifies a clear error when the openai backend has no key.
func TestMissingRequiredField(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "[engine]\nbackend = \"openai\"\n")

	_, err := loadFromPath(path)
	if err == nil {
		t.Fatal("expected error for missing API key, got nil")
	}
	if !strings.Contains(err.Error(), "missing required config") {
		t.Errorf("error = %q, want it to mention missing required config", err)
	}

	t.Setenv("WELLNESS_OPENAI_API_KEY", "gsk-test")
	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("unexpected error with key set: %v", err)
	}
	if cfg.OpenAI.APIKey != "gsk-test" {
		t.Errorf("OpenAI.APIKey = %q", cfg.OpenAI.APIKey)
	}
}

func TestInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown backend", "[engine]\nbackend = \"mlx\"\n"},
		{"zero max steps", "[orchestrator]\nmax_steps = 0\n"},
		{"zero max turns", "[session]\nmax_turns = 0\n"},
		{"malformed toml", "[server\nport = 1\n"},
		{"table where value expected", "[engine.backend]\nx = 1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			if _, err := loadFromPath(writeTempConfig(t, tt.content)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestSetKeyWritesTOML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "wellnessd", "config.toml")

	if err := setKeyAt(path, "server.port", "7000"); err != nil {
		t.Fatalf("setKeyAt: %v", err)
	}
	if err := setKeyAt(path, "engine.deep_model", "qwen2.5"); err != nil {
		t.Fatalf("setKeyAt: %v", err)
	}

	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("loadFromPath: %v", err)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("Server.Port = %d, want 7000", cfg.Server.Port)
	}
	if cfg.Engine.DeepModel != "qwen2.5" {
		t.Errorf("Engine.DeepModel = %q, want qwen2.5", cfg.Engine.DeepModel)
	}
}

func TestSetKeyRejects(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	if err := setKeyAt(path, "openai.api_key", "x"); err == nil || !strings.Contains(err.Error(), "WELLNESS_OPENAI_API_KEY") {
		t.Errorf("secret key: err = %v", err)
	}
	if err := setKeyAt(path, "no.such_key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
	if err := setKeyAt(path, "server.port", "abc"); err == nil {
		t.Error("expected error for non-integer port")
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.OpenAI.APIKey = "secret"
	for _, k := range ShowAll(cfg) {
		if k.Key == "openai.api_key" || k.Key == "server.api_token" {
			t.Errorf("secret %s exposed by ShowAll", k.Key)
		}
	}
	if len(ValidKeys()) != len(ShowAll(cfg)) {
		t.Errorf("ValidKeys and ShowAll disagree")
	}
}

func TestDuration(t *testing.T) {
	if got := Duration("k", "", time.Second); got != time.Second {
		t.Errorf("empty: got %v", got)
	}
	if got := Duration("k", "250ms", time.Second); got != 250*time.Millisecond {
		t.Errorf("valid: got %v", got)
	}
	if got := Duration("k", "soon", time.Second); got != time.Second {
		t.Errorf("invalid: got %v", got)
	}
	if got := Duration("k", "-5s", time.Second); got != time.Second {
		t.Errorf("negative: got %v", got)
	}
}
