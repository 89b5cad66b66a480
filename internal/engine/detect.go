package engine

import "fmt"

// DetectConfig holds parameters for backend selection.
type DetectConfig struct {
	Backend       string
	OllamaBaseURL string
	OpenAIBaseURL string
	OpenAIAPIKey  string
}

// Detect returns the engine named by cfg.Backend. An empty backend selects Ollama.
func Detect(cfg DetectConfig) (Engine, error) {
	switch cfg.Backend {
	case "", "ollama":
		return NewOllamaEngine(cfg.OllamaBaseURL), nil
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai backend requires an API key")
		}
		return NewOpenAIEngine(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey), nil
	default:
		return nil, fmt.Errorf("unknown engine backend %q", cfg.Backend)
	}
}
