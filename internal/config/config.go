package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	Server       ServerConfig
	Engine       EngineConfig
	Ollama       OllamaConfig
	OpenAI       OpenAIConfig
	Storage      StorageConfig
	Log          LogConfig
	Orchestrator OrchestratorConfig
	Session      SessionConfig
	Retrieval    RetrievalConfig
}

type ServerConfig struct {
	Port           int
	MaxConnections int
	APIToken       string
	RateLimit      float64
	RateBurst      int
}

// EngineConfig selects the text-generation backend and the models used for
// each role. FastModel serves intent classification and supervisor decisions,
// DeepModel serves specialists and the synthesizer.
type EngineConfig struct {
	Backend    string
	FastModel  string
	DeepModel  string
	EmbedModel string
}

type OllamaConfig struct {
	BaseURL string
}

type OpenAIConfig struct {
	BaseURL string
	APIKey  string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type OrchestratorConfig struct {
	MaxSteps         int
	ClassifyTimeout  string
	StepTimeout      string
	SynthesisTimeout string
}

type SessionConfig struct {
	TTL      string
	MaxTurns int
}

type RetrievalConfig struct {
	TopK int
}

const (
	BackendOllama = "ollama"
	BackendOpenAI = "openai"
)

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:           8000,
			MaxConnections: 256,
			RateLimit:      5,
			RateBurst:      10,
		},
		Engine: EngineConfig{
			Backend:    BackendOllama,
			FastModel:  "llama3.2",
			DeepModel:  "llama3.1:8b",
			EmbedModel: "nomic-embed-text",
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.groq.com/openai/v1",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Orchestrator: OrchestratorConfig{
			MaxSteps:         8,
			ClassifyTimeout:  "10s",
			StepTimeout:      "30s",
			SynthesisTimeout: "60s",
		},
		Session: SessionConfig{
			TTL:      "30m",
			MaxTurns: 20,
		},
		Retrieval: RetrievalConfig{
			TopK: 3,
		},
	}
}

// Load reads configuration from the TOML file at
// $XDG_CONFIG_HOME/wellnessd/config.toml, then applies WELLNESS_*
// environment variable overrides. A missing file is not an error.
func Load() (Config, error) {
	return loadFromPath(configFilePath())
}

func loadFromPath(path string) (Config, error) {
	cfg := defaults()

	b, err := openTOMLBackend(path)
	if err != nil {
		return Config{}, err
	}
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	switch cfg.Engine.Backend {
	case BackendOllama:
	case BackendOpenAI:
		if cfg.OpenAI.APIKey == "" {
			return fmt.Errorf("missing required config: OpenAI-compatible API key. " +
				"Set it via environment variable WELLNESS_OPENAI_API_KEY")
		}
	default:
		return fmt.Errorf("invalid engine.backend %q: want %q or %q", cfg.Engine.Backend, BackendOllama, BackendOpenAI)
	}
	if cfg.Orchestrator.MaxSteps < 1 {
		return fmt.Errorf("invalid orchestrator.max_steps %d: must be at least 1", cfg.Orchestrator.MaxSteps)
	}
	if cfg.Session.MaxTurns < 1 {
		return fmt.Errorf("invalid session.max_turns %d: must be at least 1", cfg.Session.MaxTurns)
	}
	return nil
}

// Duration parses a duration-valued config string, falling back to def with a
// warning when the value is empty or malformed.
func Duration(key, raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration in config, using default", "key", key, "value", raw, "default", def)
		return def
	}
	return d
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "wellnessd-data"
		}
	}
	return filepath.Join(dir, "wellnessd")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "wellnessd", "config.toml")
}
