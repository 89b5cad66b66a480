package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/wellnessd/internal/orchestrator"
)

const profileURIPrefix = "user://"
const profileURISuffix = "/profile"

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Orchestrator Runner
	Turns        TurnStore
	Profiles     Profiles
	Version      string
}

// NewMCPServer creates an MCP server exposing the assistant as tools and
// profiles as a resource template.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"wellnessd",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("wellnessd: multi-agent wellness assistant for diet, fitness, lifestyle and symptom questions."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_wellness",
			mcp.WithDescription("Ask the wellness assistant a question. Specialist agents are consulted and their advice merged into one report."),
			mcp.WithString("user_id", mcp.Description("User the question belongs to"), mcp.Required()),
			mcp.WithString("message", mcp.Description("The question"), mcp.Required()),
		),
		mcpAskWellness(deps),
	)

	s.AddTool(
		mcp.NewTool("get_history",
			mcp.WithDescription("Return the stored conversation turns of a user, oldest first."),
			mcp.WithString("user_id", mcp.Description("User id"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Return only the most recent N turns (default all)")),
		),
		mcpGetHistory(deps),
	)

	s.AddTool(
		mcp.NewTool("set_profile_field",
			mcp.WithDescription("Update one wellness profile field such as age, weight, height, diet_type, goal or health_conditions."),
			mcp.WithString("user_id", mcp.Description("User id"), mcp.Required()),
			mcp.WithString("key", mcp.Description("Profile field name"), mcp.Required()),
			mcp.WithString("value", mcp.Description("Value to set; health_conditions accepts a comma-separated list"), mcp.Required()),
		),
		mcpSetProfileField(deps),
	)

	s.AddResourceTemplate(
		mcp.NewResourceTemplate(
			profileURIPrefix+"{user_id}"+profileURISuffix,
			"User Profile",
			mcp.WithTemplateDescription("Wellness profile of a user as JSON"),
			mcp.WithTemplateMIMEType("application/json"),
		),
		mcpResourceProfile(deps),
	)

	return s
}

func mcpAskWellness(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}
		q := QueryRequest{UserID: userID, Message: message}
		q.normalize()
		if err := validateRequest(q); err != nil {
			return mcpError(err.Error()), nil
		}

		res, err := deps.Orchestrator.Run(ctx, q.UserID, q.Message, orchestrator.NopSink)
		if err != nil && !errors.Is(err, orchestrator.ErrPersist) {
			_, _, msg := turnError(err)
			return mcpError(msg), nil
		}

		text := res.Response
		if len(res.AgentsUsed) > 0 {
			text += "\n\n_Agents consulted: " + strings.Join(res.AgentNames(), ", ") + "_"
		}
		return mcpText(text), nil
	}
}

func mcpGetHistory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}

		turns, err := deps.Turns.ListTurns(userID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load history: %v", err)), nil
		}
		if limit := req.GetInt("limit", 0); limit > 0 && len(turns) > limit {
			turns = turns[len(turns)-limit:]
		}

		type turnSummary struct {
			ID         string   `json:"id"`
			Timestamp  string   `json:"timestamp"`
			Message    string   `json:"user_message"`
			Response   string   `json:"assistant_response"`
			AgentsUsed []string `json:"agents_used"`
		}
		out := make([]turnSummary, len(turns))
		for i, t := range turns {
			out[i] = turnSummary{
				ID:         t.ID,
				Timestamp:  t.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
				Message:    t.UserMessage,
				Response:   t.AssistantResponse,
				AgentsUsed: t.AgentsUsed,
			}
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal history: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSetProfileField(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		key, err := req.RequireString("key")
		if err != nil {
			return mcpError("key is required"), nil
		}
		value, err := req.RequireString("value")
		if err != nil {
			return mcpError("value is required"), nil
		}

		if err := deps.Profiles.SetField(userID, key, value); err != nil {
			return mcpError(fmt.Sprintf("failed to set profile field: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Set %s = %s for %s", key, value, userID)), nil
	}
}

func mcpResourceProfile(deps MCPDeps) server.ResourceTemplateHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		userID, ok := profileUserID(req.Params.URI)
		if !ok {
			return nil, fmt.Errorf("invalid profile uri %q", req.Params.URI)
		}
		p, err := deps.Profiles.Get(userID)
		if err != nil {
			return nil, fmt.Errorf("failed to get profile: %w", err)
		}

		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal profile: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

// profileUserID extracts the user id from user://{id}/profile.
func profileUserID(uri string) (string, bool) {
	if !strings.HasPrefix(uri, profileURIPrefix) || !strings.HasSuffix(uri, profileURISuffix) {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(uri, profileURIPrefix), profileURISuffix)
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
