package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/kalambet/wellnessd/internal/config"
	"github.com/kalambet/wellnessd/internal/ingest"
)

const defaultUser = "default"

func addUserFlag(cmd *cobra.Command) {
	def := os.Getenv("WELLNESS_USER")
	if def == "" {
		def = defaultUser
	}
	cmd.Flags().String("user", def, "user id (env WELLNESS_USER)")
}

func userFlag(cmd *cobra.Command) (string, error) {
	u, _ := cmd.Flags().GetString("user")
	u = strings.TrimSpace(u)
	if u == "" {
		return "", errors.New("--user must not be empty")
	}
	return u, nil
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the wellness assistant a question",
	Long: `Ask the wellness assistant a question.

Examples:
  wellnessd ask "I have a headache and slept badly"
  wellnessd ask --stream --user alice "Give me a vegetarian meal plan"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := userFlag(cmd)
		if err != nil {
			return err
		}
		stream, _ := cmd.Flags().GetBool("stream")
		message := strings.Join(args, " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if stream {
			return askStream(cmd.Context(), client, userID, message)
		}
		return ask(cmd.Context(), client, userID, message)
	},
}

func init() {
	addUserFlag(askCmd)
	askCmd.Flags().Bool("stream", false, "show agent progress while the answer is prepared")
}

type queryResponse struct {
	TurnID     string   `json:"turn_id"`
	Response   string   `json:"response"`
	AgentsUsed []string `json:"agents_used"`
	Warning    string   `json:"warning"`
}

func ask(ctx context.Context, client *apiClient, userID, message string) error {
	resp, err := client.post(ctx, "/agent/query", map[string]string{
		"user_id": userID,
		"message": message,
	})
	if err != nil {
		return err
	}
	var result queryResponse
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}
	if result.Warning != "" {
		printWarning("%s", result.Warning)
	}
	printAnswer(result.Response, result.AgentsUsed)
	return nil
}

type streamFrame struct {
	Type       string   `json:"type"`
	Agent      string   `json:"agent"`
	Text       string   `json:"text"`
	Answer     string   `json:"answer"`
	AgentsUsed []string `json:"agents_used"`
}

func askStream(ctx context.Context, client *apiClient, userID, message string) error {
	conn, err := client.dial(ctx, "/ws/process-query")
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"user_id": userID, "message": message}); err != nil {
		return fmt.Errorf("sending question: %w", err)
	}

	for {
		var f streamFrame
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return errors.New("connection closed before the answer arrived")
			}
			return fmt.Errorf("reading stream: %w", err)
		}
		switch f.Type {
		case "agent":
			printAgentEvent(f.Agent, f.Text)
		case "final":
			printAnswer(f.Answer, f.AgentsUsed)
			return nil
		case "error":
			return fmt.Errorf("server error: %s", f.Text)
		}
	}
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show or delete past conversation turns",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored turns, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := userFlag(cmd)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return listHistory(cmd.Context(), client, userID, limit)
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <turn-id>",
	Short: "Delete one stored turn",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := userFlag(cmd)
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return deleteTurn(cmd.Context(), client, userID, args[0])
	},
}

func init() {
	addUserFlag(historyListCmd)
	historyListCmd.Flags().Int("limit", 20, "show only the most recent N turns (0 for all)")
	addUserFlag(historyDeleteCmd)
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyDeleteCmd)
}

type historyTurn struct {
	ID          string   `json:"id"`
	Timestamp   string   `json:"timestamp"`
	UserMessage string   `json:"user_message"`
	AgentsUsed  []string `json:"agents_used"`
}

func listHistory(ctx context.Context, client *apiClient, userID string, limit int) error {
	resp, err := client.get(ctx, "/history/"+url.PathEscape(userID))
	if err != nil {
		return err
	}
	var result struct {
		Turns      []historyTurn `json:"turns"`
		TotalTurns int           `json:"total_turns"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}

	if len(result.Turns) == 0 {
		fmt.Fprintln(stdout, "No turns found.")
		return nil
	}
	turns := result.Turns
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	for _, t := range turns {
		agents := "-"
		if len(t.AgentsUsed) > 0 {
			agents = strings.Join(t.AgentsUsed, ",")
		}
		fmt.Fprintf(stdout, "%s  %s  %s  %s\n",
			colorize(colorCyan, t.ID),
			t.Timestamp,
			truncate(t.UserMessage, 60),
			colorize(colorDim, agents),
		)
	}
	if len(turns) < result.TotalTurns {
		fmt.Fprintf(stdout, "(%d of %d turns)\n", len(turns), result.TotalTurns)
	}
	return nil
}

func deleteTurn(ctx context.Context, client *apiClient, userID, turnID string) error {
	resp, err := client.delete(ctx, "/history/"+url.PathEscape(userID)+"/"+url.PathEscape(turnID))
	if err != nil {
		return err
	}
	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}
	printSuccess("Deleted turn %s", turnID)
	return nil
}

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage the wellness profile",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the profile as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := userFlag(cmd)
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return showProfile(cmd.Context(), client, userID)
	},
}

var profileSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a profile field",
	Long: `Set a profile field.

Known fields: age, weight, height, diet_type, goal, health_conditions.
health_conditions takes a comma-separated list.

Examples:
  wellnessd profile set age 34
  wellnessd profile set health_conditions "asthma, migraine"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := userFlag(cmd)
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return setProfileField(cmd.Context(), client, userID, args[0], args[1])
	},
}

func init() {
	addUserFlag(profileShowCmd)
	addUserFlag(profileSetCmd)
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileSetCmd)
}

func showProfile(ctx context.Context, client *apiClient, userID string) error {
	resp, err := client.get(ctx, "/profile/"+url.PathEscape(userID))
	if err != nil {
		return err
	}
	var p map[string]any
	if err := decodeJSON(resp, &p); err != nil {
		return err
	}
	// The report text can be long; show its size instead.
	if text, ok := p["medical_report_text"].(string); ok {
		p["medical_report_text"] = fmt.Sprintf("<%d characters>", len(text))
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}

func setProfileField(ctx context.Context, client *apiClient, userID, key, value string) error {
	resp, err := client.patch(ctx, "/profile/"+url.PathEscape(userID), map[string]any{key: value})
	if err != nil {
		return err
	}
	var p map[string]any
	if err := decodeJSON(resp, &p); err != nil {
		return err
	}
	printSuccess("Set %s = %s", key, value)
	return nil
}

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload <report.pdf>",
	Short: "Upload a medical report (PDF)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := userFlag(cmd)
		if err != nil {
			return err
		}
		path := args[0]
		if !ingest.IsPDFName(path) {
			return fmt.Errorf("only PDF files are allowed: %s", path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return uploadReport(cmd.Context(), client, userID, path, data)
	},
}

func init() {
	addUserFlag(uploadCmd)
}

func uploadReport(ctx context.Context, client *apiClient, userID, path string, data []byte) error {
	resp, err := client.upload(ctx, "/upload/report", path, data, map[string]string{"user_id": userID})
	if err != nil {
		return err
	}
	var result struct {
		Filename        string `json:"filename"`
		ExtractedLength int    `json:"extracted_length"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}
	printSuccess("Uploaded %s (%d characters extracted)", result.Filename, result.ExtractedLength)
	return nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(stdout, "  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorDim, k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
