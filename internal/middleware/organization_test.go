package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/logger"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/middleware"
)

func TestOrganizationIDFromHeader(t *testing.T) {
	var got, logged string
	handler := middleware.OrganizationID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = middleware.OrganizationIDFromContext(r.Context())
		logged = logger.OrganizationID(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", http.NoBody)
	req.Header.Set("X-Organization-ID", "org-abc")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got != "org-abc" {
		t.Fatalf("expected org-abc, got %s", got)
	}
	if logged != "org-abc" {
		t.Fatalf("expected org-abc in logger context, got %s", logged)
	}
}

func TestOrganizationIDMissingRejected(t *testing.T) {
	called := false
	handler := middleware.OrganizationID(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	req := httptest.NewRequest("GET", "/", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if called {
		t.Fatal("handler must not run without organization")
	}
}

func TestOrganizationIDFromContextMissing(t *testing.T) {
	req := httptest.NewRequest("GET", "/", http.NoBody)
	if got := middleware.OrganizationIDFromContext(req.Context()); got != "" {
		t.Fatalf("expected empty organization, got %s", got)
	}
}
