package main

import (
	"bytes"
	"context"
	"encoding/json"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
	Header http.Header
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
			Header: r.Header.Clone(),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"turn not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

// captureStdout redirects command output into a buffer for the test.
func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev, prevColor := stdout, noColor
	stdout, noColor = &buf, true
	t.Cleanup(func() { stdout, noColor = prev, prevColor })
	return &buf
}

func TestAsk(t *testing.T) {
	out := captureStdout(t)
	ts := newTestServer(t, map[string]string{
		"POST /agent/query": `{"turn_id":"t1","response":"### Wellness Summary\nRest well.","agents_used":["SymptomAgent","LifestyleAgent"]}`,
	})

	if err := ask(ctx, ts.client(), "alice", "I feel tired"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q", r.Auth)
	}
	var body map[string]string
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["user_id"] != "alice" || body["message"] != "I feel tired" {
		t.Errorf("body = %v", body)
	}
	if !strings.Contains(out.String(), "Rest well.") || !strings.Contains(out.String(), "Agents consulted: SymptomAgent, LifestyleAgent") {
		t.Errorf("output = %q", out.String())
	}
}

func TestAsk_ServerError(t *testing.T) {
	captureStdout(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":{"message":"could not generate a response, please try again","type":"api_error"}}`))
	}))
	defer srv.Close()

	client := &apiClient{baseURL: srv.URL, httpClient: srv.Client()}
	err := ask(ctx, client, "alice", "hi")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "502") || !strings.Contains(err.Error(), "could not generate a response") {
		t.Errorf("error = %q", err)
	}
}

func TestAskStream(t *testing.T) {
	out := captureStdout(t)
	upgrader := websocket.Upgrader{}
	got := make(chan map[string]string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		first := map[string]string{}
		conn.ReadJSON(&first)
		first["token"] = token
		got <- first
		conn.WriteJSON(map[string]string{"type": "agent", "agent": "System", "text": "Loading user profile..."})
		conn.WriteJSON(map[string]any{"type": "final", "answer": "Eat more greens.", "agents_used": []string{"DietAgent"}})
	}))
	defer srv.Close()

	client := &apiClient{baseURL: srv.URL, token: "tok", httpClient: srv.Client()}
	if err := askStream(ctx, client, "bob", "diet?"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first := <-got
	if first["token"] != "tok" {
		t.Errorf("token = %q", first["token"])
	}
	if first["user_id"] != "bob" || first["message"] != "diet?" {
		t.Errorf("init frame = %v", first)
	}
	if !strings.Contains(out.String(), "Eat more greens.") {
		t.Errorf("output = %q", out.String())
	}
}

func TestAskStream_ErrorFrame(t *testing.T) {
	captureStdout(t)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var first map[string]string
		conn.ReadJSON(&first)
		conn.WriteJSON(map[string]string{"type": "error", "text": "message is required"})
	}))
	defer srv.Close()

	client := &apiClient{baseURL: srv.URL, httpClient: srv.Client()}
	err := askStream(ctx, client, "bob", "x")
	if err == nil || !strings.Contains(err.Error(), "message is required") {
		t.Errorf("error = %v", err)
	}
}

func TestListHistory(t *testing.T) {
	out := captureStdout(t)
	ts := newTestServer(t, map[string]string{
		"GET /history/alice": `{"user_id":"alice","total_turns":3,"turns":[
			{"id":"t1","timestamp":"2026-01-01T10:00:00Z","user_message":"first","agents_used":[]},
			{"id":"t2","timestamp":"2026-01-01T11:00:00Z","user_message":"second","agents_used":["DietAgent"]},
			{"id":"t3","timestamp":"2026-01-01T12:00:00Z","user_message":"third","agents_used":["FitnessAgent"]}]}`,
	})

	if err := listHistory(ctx, ts.client(), "alice", 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := out.String()
	if strings.Contains(got, "first") {
		t.Errorf("limit not applied: %q", got)
	}
	if !strings.Contains(got, "t2") || !strings.Contains(got, "FitnessAgent") || !strings.Contains(got, "(2 of 3 turns)") {
		t.Errorf("output = %q", got)
	}
}

func TestListHistory_Empty(t *testing.T) {
	out := captureStdout(t)
	ts := newTestServer(t, map[string]string{
		"GET /history/alice": `{"user_id":"alice","total_turns":0,"turns":[]}`,
	})
	if err := listHistory(ctx, ts.client(), "alice", 0); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "No turns found.") {
		t.Errorf("output = %q", out.String())
	}
}

func TestDeleteTurn(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"DELETE /history/alice/t1": `{"status":"deleted","turn_id":"t1"}`,
	})

	if err := deleteTurn(ctx, ts.client(), "alice", "t1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := deleteTurn(ctx, ts.client(), "alice", "missing")
	if err == nil || !strings.Contains(err.Error(), "turn not found") {
		t.Errorf("error = %v", err)
	}
}

func TestShowProfile_HidesReportText(t *testing.T) {
	out := captureStdout(t)
	ts := newTestServer(t, map[string]string{
		"GET /profile/alice": `{"user_id":"alice","age":"34","medical_report_text":"Hemoglobin 11.2 g/dL"}`,
	})

	if err := showProfile(ctx, ts.client(), "alice"); err != nil {
		t.Fatal(err)
	}
	var p map[string]any
	if err := json.Unmarshal(out.Bytes(), &p); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if p["age"] != "34" || p["medical_report_text"] != "<20 characters>" {
		t.Errorf("profile = %v", p)
	}
}

func TestSetProfileField(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"PATCH /profile/alice": `{"user_id":"alice","goal":"run a 10k"}`,
	})

	if err := setProfileField(ctx, ts.client(), "alice", "goal", "run a 10k"); err != nil {
		t.Fatal(err)
	}
	var sent map[string]any
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &sent); err != nil {
		t.Fatal(err)
	}
	if sent["goal"] != "run a 10k" {
		t.Errorf("body = %v", sent)
	}
}

func TestUploadReport(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /upload/report": `{"status":"success","filename":"labs.pdf","extracted_length":120}`,
	})

	if err := uploadReport(ctx, ts.client(), "alice", "/tmp/labs.pdf", []byte("%PDF-1.4")); err != nil {
		t.Fatal(err)
	}

	r := ts.requests[0]
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		t.Fatalf("content type = %q", r.Header.Get("Content-Type"))
	}
	form, err := multipart.NewReader(strings.NewReader(r.Body), params["boundary"]).ReadForm(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	if form.Value["user_id"][0] != "alice" {
		t.Errorf("user_id = %v", form.Value["user_id"])
	}
	if len(form.File["file"]) != 1 || form.File["file"][0].Filename != "labs.pdf" {
		t.Errorf("file = %v", form.File["file"])
	}
}

func TestUploadCommand_RejectsNonPDF(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"upload", "notes.txt"})
	err := rootCmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "only PDF") {
		t.Errorf("error = %v", err)
	}
}

func TestAskCommand_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"ask"})
	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected error for missing question")
	}
}

func TestErrorMessage(t *testing.T) {
	if got := errorMessage([]byte(`{"error":{"message":"boom","type":"x"}}`)); got != "boom" {
		t.Errorf("envelope: got %q", got)
	}
	if got := errorMessage([]byte("plain text\n")); got != "plain text" {
		t.Errorf("raw: got %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("a  b\nc", 10); got != "a b c" {
		t.Errorf("got %q", got)
	}
	if got := truncate("héllo wörld", 5); got != "héllo..." {
		t.Errorf("got %q", got)
	}
}
