package controlplane

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func captureLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestRequestLogCarriesRequestID(t *testing.T) {
	var buf bytes.Buffer
	h := wrap(captureLogger(&buf), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, _ := RequestIDFromContext(r.Context()); id != "abc123" {
			t.Errorf("handler saw request id %q", id)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "abc123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-Id"); got != "abc123" {
		t.Errorf("X-Request-Id = %q", got)
	}
	out := buf.String()
	if !strings.Contains(out, "request_id=abc123") || !strings.Contains(out, "status=204") {
		t.Errorf("request log missing id: %s", out)
	}
}

func TestRequestLogGeneratesRequestID(t *testing.T) {
	var buf bytes.Buffer
	h := wrap(captureLogger(&buf), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/tasks", nil))

	id := rec.Header().Get("X-Request-Id")
	if id == "" {
		t.Fatal("no request id assigned")
	}
	if !strings.Contains(buf.String(), "request_id="+id) {
		t.Errorf("request log does not carry %s: %s", id, buf.String())
	}
}

func TestRecoverLogsRequestID(t *testing.T) {
	var buf bytes.Buffer
	h := wrap(captureLogger(&buf), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/tasks", nil)
	req.Header.Set("X-Request-Id", "req-9")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-Request-Id") != "req-9" {
		t.Errorf("X-Request-Id = %q", rec.Header().Get("X-Request-Id"))
	}
	out := buf.String()
	if !strings.Contains(out, "panic recovered") || !strings.Contains(out, "request_id=req-9") {
		t.Errorf("panic log missing id: %s", out)
	}
}
