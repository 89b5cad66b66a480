package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "WELLNESS_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_connections", typ: kInt, env: "WELLNESS_SERVER_MAX_CONNECTIONS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConnections = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConnections },
	},
	{
		key: "server.api_token", typ: kString, env: "WELLNESS_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "server.rate_limit", typ: kFloat, env: "WELLNESS_SERVER_RATE_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Server.RateLimit = v.(float64) },
		extract: func(cfg Config) any { return cfg.Server.RateLimit },
	},
	{
		key: "server.rate_burst", typ: kInt, env: "WELLNESS_SERVER_RATE_BURST",
		apply:   func(cfg *Config, v any) { cfg.Server.RateBurst = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.RateBurst },
	},
	{
		key: "engine.backend", typ: kString, env: "WELLNESS_ENGINE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Engine.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.Backend },
	},
	{
		key: "engine.fast_model", typ: kString, env: "WELLNESS_ENGINE_FAST_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Engine.FastModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.FastModel },
	},
	{
		key: "engine.deep_model", typ: kString, env: "WELLNESS_ENGINE_DEEP_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Engine.DeepModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.DeepModel },
	},
	{
		key: "engine.embed_model", typ: kString, env: "WELLNESS_ENGINE_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Engine.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.EmbedModel },
	},
	{
		key: "ollama.base_url", typ: kString, env: "WELLNESS_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "openai.base_url", typ: kString, env: "WELLNESS_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.BaseURL },
	},
	{
		key: "openai.api_key", typ: kString, env: "WELLNESS_OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.OpenAI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.APIKey },
	},
	{
		key: "storage.data_dir", typ: kString, env: "WELLNESS_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "WELLNESS_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "orchestrator.max_steps", typ: kInt, env: "WELLNESS_ORCHESTRATOR_MAX_STEPS",
		apply:   func(cfg *Config, v any) { cfg.Orchestrator.MaxSteps = v.(int) },
		extract: func(cfg Config) any { return cfg.Orchestrator.MaxSteps },
	},
	{
		key: "orchestrator.classify_timeout", typ: kString, env: "WELLNESS_ORCHESTRATOR_CLASSIFY_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Orchestrator.ClassifyTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Orchestrator.ClassifyTimeout },
	},
	{
		key: "orchestrator.step_timeout", typ: kString, env: "WELLNESS_ORCHESTRATOR_STEP_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Orchestrator.StepTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Orchestrator.StepTimeout },
	},
	{
		key: "orchestrator.synthesis_timeout", typ: kString, env: "WELLNESS_ORCHESTRATOR_SYNTHESIS_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Orchestrator.SynthesisTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Orchestrator.SynthesisTimeout },
	},
	{
		key: "session.ttl", typ: kString, env: "WELLNESS_SESSION_TTL",
		apply:   func(cfg *Config, v any) { cfg.Session.TTL = v.(string) },
		extract: func(cfg Config) any { return cfg.Session.TTL },
	},
	{
		key: "session.max_turns", typ: kInt, env: "WELLNESS_SESSION_MAX_TURNS",
		apply:   func(cfg *Config, v any) { cfg.Session.MaxTurns = v.(int) },
		extract: func(cfg Config) any { return cfg.Session.MaxTurns },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "WELLNESS_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
}

// applyBackend copies non-secret values from b into cfg. Secrets are only
// ever read from the environment.
func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					slog.Warn("could not parse float from config key, using default", "key", s.key, "value", v, "error", err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				slog.Warn("could not parse integer from env var, using default", "env", s.env, "value", raw, "error", err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				slog.Warn("could not parse float from env var, using default", "env", s.env, "value", raw, "error", err)
			}
		}
	}
}
