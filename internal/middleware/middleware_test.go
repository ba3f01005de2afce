package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
)

type recordingSink struct {
	mu     sync.Mutex
	events []map[string]any
}

func (s *recordingSink) Emit(message string, fields map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fields["message"] = message
	s.events = append(s.events, fields)
}

func (s *recordingSink) Close() error { return nil }

func TestLogger(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	sink := &recordingSink{}

	h := chimw.RequestID(Logger(logger, sink)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.WriteHeader(http.StatusInternalServerError) // ignored by net/http, and by us
		_, _ = w.Write([]byte("short and stout"))
	})))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	var entry map[string]any
	if err := json.Unmarshal(logs.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not one JSON object: %v\n%s", err, logs.String())
	}
	if entry["level"] != "WARN" {
		t.Errorf("level = %v, want WARN for a 4xx", entry["level"])
	}
	if entry["status"] != float64(http.StatusTeapot) {
		t.Errorf("status = %v, want %d", entry["status"], http.StatusTeapot)
	}
	if entry["bytes"] != float64(len("short and stout")) {
		t.Errorf("bytes = %v", entry["bytes"])
	}
	if id, _ := entry["requestID"].(string); id == "" {
		t.Error("requestID missing from log line")
	}

	if len(sink.events) != 1 {
		t.Fatalf("telemetry events = %d, want 1", len(sink.events))
	}
	ev := sink.events[0]
	if ev["message"] != "HTTP request" || ev["path"] != "/api/health" || ev["status"] != http.StatusTeapot {
		t.Errorf("unexpected telemetry event: %v", ev)
	}
}

func TestLogger_DefaultStatus(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))

	h := Logger(logger, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if !strings.Contains(logs.String(), `"status":200`) || !strings.Contains(logs.String(), `"level":"INFO"`) {
		t.Errorf("log line = %s, want status 200 at INFO", logs.String())
	}
}

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		allowed    []string
		method     string
		origin     string
		preflight  bool
		wantStatus int
		wantOrigin string
	}{
		{"allowed origin", []string{"http://localhost:5173"}, http.MethodGet, "http://localhost:5173", false, http.StatusOK, "http://localhost:5173"},
		{"case and trailing slash", []string{"HTTP://Localhost:5173/"}, http.MethodGet, "http://localhost:5173", false, http.StatusOK, "http://localhost:5173"},
		{"other origin", []string{"http://localhost:5173"}, http.MethodGet, "http://evil.example", false, http.StatusOK, ""},
		{"wildcard echoes origin", []string{"*"}, http.MethodGet, "http://any.example", false, http.StatusOK, "http://any.example"},
		{"no origin header", []string{"*"}, http.MethodGet, "", false, http.StatusOK, ""},
		{"preflight", []string{"http://localhost:5173"}, http.MethodOptions, "http://localhost:5173", true, http.StatusNoContent, "http://localhost:5173"},
		{"plain OPTIONS reaches router", []string{"http://localhost:5173"}, http.MethodOptions, "http://localhost:5173", false, http.StatusOK, "http://localhost:5173"},
		{"nothing configured", nil, http.MethodGet, "http://localhost:5173", false, http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/users", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			rr := httptest.NewRecorder()

			CORS(tt.allowed)(next).ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if tt.wantOrigin != "" && rr.Header().Get("Access-Control-Allow-Credentials") != "true" {
				t.Error("Allow-Credentials not set for an allowed origin")
			}
		})
	}
}
