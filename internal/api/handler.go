// Package api exposes the wellness assistant over HTTP, websocket and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/wellnessd/internal/ingest"
	"github.com/kalambet/wellnessd/internal/orchestrator"
	"github.com/kalambet/wellnessd/internal/profile"
	"github.com/kalambet/wellnessd/internal/storage"
)

const maxUploadSize = 10 << 20 // 10MB

// Runner runs one conversation turn.
type Runner interface {
	Run(ctx context.Context, userID, message string, sink orchestrator.Sink) (orchestrator.Result, error)
}

// TurnStore reads and deletes stored turns.
type TurnStore interface {
	ListTurns(userID string) ([]storage.Turn, error)
	GetTurn(userID, id string) (storage.Turn, error)
	DeleteTurn(userID, id string) error
}

// Profiles reads and updates wellness profiles.
type Profiles interface {
	Get(userID string) (profile.Profile, error)
	Save(userID string, fields map[string]any) error
	SetField(userID, key string, value any) error
}

// ReportUploader stores uploaded medical reports.
type ReportUploader interface {
	Upload(userID, filename string, data []byte) (ingest.Report, error)
}

// Forgetter drops cached conversation memory for a user.
type Forgetter interface {
	Forget(userID string)
}

// Deps holds the collaborators of the HTTP API. Memory, Limiter and Metrics
// are optional.
type Deps struct {
	Orchestrator Runner
	Turns        TurnStore
	Profiles     Profiles
	Reports      ReportUploader
	Memory       Forgetter
	Limiter      *Limiter
	Metrics      http.Handler
	Token        string
}

// NewHandler builds the router. /health and /metrics are public; every other
// route requires the bearer token when one is configured.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/agent/query", handleQuery(deps))
		r.Get("/ws/process-query", handleStream(deps))
		r.Get("/history/{userID}", handleHistory(deps))
		r.Get("/history/{userID}/{turnID}", handleGetTurn(deps))
		r.Delete("/history/{userID}/{turnID}", handleDeleteTurn(deps))
		r.Get("/profile/{userID}", handleGetProfile(deps))
		r.Patch("/profile/{userID}", handlePatchProfile(deps))
		r.Post("/upload/report", handleUploadReport(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// QueryResponse is the body returned by POST /agent/query.
type QueryResponse struct {
	TurnID     string   `json:"turn_id"`
	Response   string   `json:"response"`
	AgentsUsed []string `json:"agents_used"`
	Warning    string   `json:"warning,omitempty"`
}

func handleQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeQuery(w, r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if !deps.Limiter.Allow(req.UserID) {
			httpError(w, http.StatusTooManyRequests, "rate_limit_error", "too many requests, slow down")
			return
		}

		res, err := deps.Orchestrator.Run(r.Context(), req.UserID, req.Message, orchestrator.NopSink)
		switch {
		case err == nil:
		case errors.Is(err, orchestrator.ErrPersist):
			writeJSON(w, http.StatusOK, QueryResponse{
				Response:   res.Response,
				AgentsUsed: res.AgentNames(),
				Warning:    "the answer could not be saved to history",
			})
			return
		default:
			code, errType, msg := turnError(err)
			slog.Warn("turn failed", "user_id", req.UserID, "error", err)
			httpError(w, code, errType, "%s", msg)
			return
		}

		writeJSON(w, http.StatusOK, QueryResponse{
			TurnID:     res.TurnID,
			Response:   res.Response,
			AgentsUsed: res.AgentNames(),
		})
	}
}

// turnError maps a failed turn to a status and a message safe to show
// callers. Collaborator errors are never echoed.
func turnError(err error) (int, string, string) {
	switch {
	case errors.Is(err, orchestrator.ErrSynthesis):
		return http.StatusBadGateway, "api_error", "could not generate a response, please try again"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "request_cancelled", "request was cancelled"
	default:
		return http.StatusInternalServerError, "api_error", "internal error while processing the query"
	}
}

// HistoryResponse is the body returned by GET /history/{userID}.
type HistoryResponse struct {
	UserID     string         `json:"user_id"`
	Turns      []storage.Turn `json:"turns"`
	TotalTurns int            `json:"total_turns"`
}

func handleHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")

		turns, err := deps.Turns.ListTurns(userID)
		if err != nil {
			slog.Error("listing turns", "user_id", userID, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load history")
			return
		}
		if turns == nil {
			turns = []storage.Turn{}
		}
		writeJSON(w, http.StatusOK, HistoryResponse{UserID: userID, Turns: turns, TotalTurns: len(turns)})
	}
}

func handleGetTurn(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		turnID := chi.URLParam(r, "turnID")

		turn, err := deps.Turns.GetTurn(userID, turnID)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "turn not found")
			return
		}
		if err != nil {
			slog.Error("loading turn", "user_id", userID, "turn_id", turnID, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load turn")
			return
		}
		writeJSON(w, http.StatusOK, turn)
	}
}

func handleDeleteTurn(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		turnID := chi.URLParam(r, "turnID")

		err := deps.Turns.DeleteTurn(userID, turnID)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "turn not found")
			return
		}
		if err != nil {
			slog.Error("deleting turn", "user_id", userID, "turn_id", turnID, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete turn")
			return
		}
		if deps.Memory != nil {
			deps.Memory.Forget(userID)
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "turn_id": turnID})
	}
}

func handleGetProfile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")

		p, err := deps.Profiles.Get(userID)
		if err != nil {
			slog.Error("loading profile", "user_id", userID, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load profile")
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handlePatchProfile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var patch ProfilePatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(patch) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one profile field is required")
			return
		}
		for key := range patch {
			if strings.TrimSpace(key) == "" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "profile field names must not be empty")
				return
			}
		}

		if err := deps.Profiles.Save(userID, patch); err != nil {
			slog.Error("saving profile", "user_id", userID, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save profile")
			return
		}
		p, err := deps.Profiles.Get(userID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load profile")
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handleUploadReport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart form: %v", err)
			return
		}

		userID := strings.TrimSpace(r.FormValue("user_id"))
		if userID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "file is required")
			return
		}
		defer file.Close()

		if !ingest.IsPDFName(header.Filename) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "Only PDF files are allowed")
			return
		}
		data, err := io.ReadAll(file)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "failed to read file: %v", err)
			return
		}

		rep, err := deps.Reports.Upload(userID, header.Filename, data)
		switch {
		case errors.Is(err, ingest.ErrNotPDF):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "Only PDF files are allowed")
			return
		case errors.Is(err, ingest.ErrEmptyReport):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "Could not extract text from PDF")
			return
		case err != nil && rep.Name == "":
			slog.Error("uploading report", "user_id", userID, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to process file")
			return
		case err != nil:
			// Saved to the profile but not queued for indexing; specialists
			// fall back to the stored text.
			slog.Warn("report stored without indexing", "user_id", userID, "error", err)
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"status":           "success",
			"message":          "Report uploaded and analyzed",
			"filename":         rep.Name,
			"extracted_length": rep.Chars,
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
