package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kalambet/wellnessd/internal/orchestrator"
	"github.com/kalambet/wellnessd/internal/storage"
)

const (
	initReadTimeout = 30 * time.Second
	frameWriteWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type agentFrame struct {
	Type  string `json:"type"`
	Agent string `json:"agent"`
	Text  string `json:"text"`
}

type finalFrame struct {
	Type          string             `json:"type"`
	Answer        string             `json:"answer"`
	AgentsUsed    []string           `json:"agents_used"`
	ReasoningLogs []storage.LogEntry `json:"reasoning_logs"`
	TurnID        string             `json:"turn_id,omitempty"`
}

type errorFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// handleStream runs one turn per connection. The client sends a single init
// frame, receives an "agent" frame per progress event and a "final" frame,
// and the server closes the connection. A client disconnect cancels the turn.
func handleStream(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()
		conn.SetReadLimit(maxRequestBodySize)

		var req QueryRequest
		conn.SetReadDeadline(time.Now().Add(initReadTimeout))
		if err := conn.ReadJSON(&req); err != nil {
			writeFrame(conn, errorFrame{Type: "error", Text: "invalid init message"})
			closeNormal(conn)
			return
		}
		conn.SetReadDeadline(time.Time{})

		req.normalize()
		if err := validateRequest(req); err != nil {
			writeFrame(conn, errorFrame{Type: "error", Text: err.Error()})
			closeNormal(conn)
			return
		}
		if !deps.Limiter.Allow(req.UserID) {
			writeFrame(conn, errorFrame{Type: "error", Text: "too many requests, slow down"})
			closeNormal(conn)
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// The only reads after init detect the peer going away.
		readerDone := make(chan struct{})
		go func() {
			defer close(readerDone)
			for {
				if _, _, err := conn.NextReader(); err != nil {
					cancel()
					return
				}
			}
		}()
		defer func() {
			conn.Close()
			<-readerDone
		}()

		sink := orchestrator.SinkFunc(func(e orchestrator.Event) {
			if ctx.Err() != nil {
				return
			}
			if err := writeFrame(conn, agentFrame{Type: "agent", Agent: e.Source, Text: e.Message}); err != nil {
				cancel()
			}
		})

		res, err := deps.Orchestrator.Run(ctx, req.UserID, req.Message, sink)
		if err != nil && !errors.Is(err, orchestrator.ErrPersist) {
			if ctx.Err() != nil {
				return
			}
			_, _, msg := turnError(err)
			slog.Warn("streamed turn failed", "user_id", req.UserID, "error", err)
			writeFrame(conn, errorFrame{Type: "error", Text: msg})
			closeNormal(conn)
			return
		}

		logs := res.Log
		if logs == nil {
			logs = []storage.LogEntry{}
		}
		turnID := res.TurnID
		if err != nil {
			// Unsaved turns have no id to reference.
			turnID = ""
		}
		writeFrame(conn, finalFrame{
			Type:          "final",
			Answer:        res.Response,
			AgentsUsed:    res.AgentNames(),
			ReasoningLogs: logs,
			TurnID:        turnID,
		})
		closeNormal(conn)
	}
}

func writeFrame(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(frameWriteWait))
	return conn.WriteJSON(v)
}

func closeNormal(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
