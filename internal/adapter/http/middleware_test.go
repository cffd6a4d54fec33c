package http

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

type hijackableRecorder struct {
	*httptest.ResponseRecorder
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return nil, nil, nil
}

func TestResponseWriterHijack(t *testing.T) {
	tests := []struct {
		name    string
		inner   http.ResponseWriter
		wantErr bool
	}{
		{"delegates", &hijackableRecorder{httptest.NewRecorder()}, false},
		{"upstream cannot hijack", httptest.NewRecorder(), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rw := &responseWriter{ResponseWriter: tt.inner, status: http.StatusOK}
			hj, ok := http.ResponseWriter(rw).(http.Hijacker)
			if !ok {
				t.Fatal("responseWriter does not implement http.Hijacker")
			}
			if _, _, err := hj.Hijack(); (err != nil) != tt.wantErr {
				t.Fatalf("Hijack error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name        string
		allowed     string
		origin      string
		method      string
		wantOrigin  string
		wantHandler bool
		wantStatus  int
	}{
		{"preflight from allowed origin", "https://app.example.com", "https://app.example.com", http.MethodOptions, "https://app.example.com", false, http.StatusNoContent},
		{"foreign origin not echoed", "https://app.example.com", "https://evil.example", http.MethodGet, "", true, http.StatusOK},
		{"wildcard", "*", "https://any.example", http.MethodGet, "*", true, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			h := CORS(tt.allowed)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

			req := httptest.NewRequest(tt.method, "/api/v1/connections", http.NoBody)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if called != tt.wantHandler {
				t.Fatalf("handler called = %v, want %v", called, tt.wantHandler)
			}
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Fatalf("allow origin = %q, want %q", got, tt.wantOrigin)
			}
		})
	}
}

func TestLoggerKeepsStatusAndBody(t *testing.T) {
	h := Logger(SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"connection is paused"}`))
	})))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/connections/c1/sync/pending", http.NoBody))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if rec.Body.String() != `{"error":"connection is paused"}` {
		t.Fatalf("body = %q", rec.Body.String())
	}
	if rec.Header().Get("Cache-Control") != "no-store" || rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("security headers missing")
	}
}
