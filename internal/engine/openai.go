package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIEngine drives any OpenAI-compatible chat API (Groq, OpenAI, vLLM).
type OpenAIEngine struct {
	client *openai.Client
}

// NewOpenAIEngine creates an engine for the API at baseURL authenticated with apiKey.
func NewOpenAIEngine(baseURL, apiKey string) *OpenAIEngine {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIEngine{client: openai.NewClientWithConfig(cfg)}
}

// Chat sends a non-streaming chat completion. When jsonSchema is non-nil the
// request asks for a JSON object and the schema is appended to the system
// instructions, since not every compatible server honours json_schema.
func (e *OpenAIEngine) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	for _, m := range messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: defaultTemperature,
	}
	if jsonSchema != nil {
		schemaJSON, err := json.Marshal(jsonSchema)
		if err != nil {
			return "", fmt.Errorf("encoding schema: %w", err)
		}
		req.Messages = append([]openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleSystem,
			Content: "Respond only with a JSON object matching this schema: " + string(schemaJSON),
		}}, req.Messages...)
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := e.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

func (e *OpenAIEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embed: empty embeddings array")
	}
	return resp.Data[0].Embedding, nil
}

func (e *OpenAIEngine) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := e.client.ListModels(ctx)
	return err == nil
}

func (e *OpenAIEngine) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	list, err := e.client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}
	names := make([]string, len(list.Models))
	for i, m := range list.Models {
		names[i] = m.ID
	}
	return names, nil
}

func (e *OpenAIEngine) HasModel(ctx context.Context, name string) bool {
	models, err := e.ListModels(ctx)
	if err != nil {
		return false
	}
	return containsModel(models, name)
}

// PullModel always fails: hosted APIs manage their own model catalogue.
func (e *OpenAIEngine) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	return ErrPullUnsupported
}
