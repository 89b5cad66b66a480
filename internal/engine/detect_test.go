package engine

import "testing"

func TestDetect(t *testing.T) {
	tests := []struct {
		name    string
		cfg     DetectConfig
		want    string
		wantErr bool
	}{
		{"default is ollama", DetectConfig{OllamaBaseURL: "http://localhost:11434"}, "ollama", false},
		{"explicit ollama", DetectConfig{Backend: "ollama"}, "ollama", false},
		{"openai with key", DetectConfig{Backend: "openai", OpenAIAPIKey: "k"}, "openai", false},
		{"openai without key", DetectConfig{Backend: "openai"}, "", true},
		{"unknown", DetectConfig{Backend: "mlx"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := Detect(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Detect: %v", err)
			}
			if got := Name(e); got != tt.want {
				t.Errorf("Name = %q, want %q", got, tt.want)
			}
		})
	}
}
