package middleware_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/middleware"
)

// mapCache is an in-memory cache.Cache for tests.
type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMapCache() *mapCache {
	return &mapCache{data: make(map[string][]byte)}
}

func (m *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mapCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *mapCache) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

func makeTestHandler(counter *int, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		*counter++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = fmt.Fprintf(w, `{"call":%d}`, *counter)
	})
}

func post(h http.Handler, org, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tenants/t1/ledger", http.NoBody)
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	req = req.WithContext(middleware.WithOrganizationID(req.Context(), org))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIdempotency_NoHeader(t *testing.T) {
	counter := 0
	c := newMapCache()
	handler := middleware.Idempotency(c, time.Hour)(makeTestHandler(&counter, http.StatusCreated))

	rec := post(handler, "org-1", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if counter != 1 || c.len() != 0 {
		t.Fatalf("expected 1 call and nothing stored, got %d calls, %d entries", counter, c.len())
	}
}

func TestIdempotency_SecondRequestReplays(t *testing.T) {
	counter := 0
	c := newMapCache()
	handler := middleware.Idempotency(c, time.Hour)(makeTestHandler(&counter, http.StatusCreated))

	rec1 := post(handler, "org-1", "key-2")
	rec2 := post(handler, "org-1", "key-2")

	if counter != 1 {
		t.Fatalf("expected handler called once, got %d", counter)
	}
	if rec2.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec2.Code)
	}
	if rec2.Body.String() != rec1.Body.String() {
		t.Fatalf("replayed body %q != %q", rec2.Body.String(), rec1.Body.String())
	}
	if rec2.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatal("expected replay marker header")
	}
}

func TestIdempotency_ScopedPerOrganization(t *testing.T) {
	counter := 0
	c := newMapCache()
	handler := middleware.Idempotency(c, time.Hour)(makeTestHandler(&counter, http.StatusCreated))

	post(handler, "org-1", "same")
	post(handler, "org-2", "same")

	if counter != 2 {
		t.Fatalf("expected 2 calls across organizations, got %d", counter)
	}
}

func TestIdempotency_ServerErrorNotStored(t *testing.T) {
	counter := 0
	c := newMapCache()
	handler := middleware.Idempotency(c, time.Hour)(makeTestHandler(&counter, http.StatusBadGateway))

	post(handler, "org-1", "retry-me")
	post(handler, "org-1", "retry-me")

	if counter != 2 {
		t.Fatalf("expected retry after 5xx to reach handler, got %d calls", counter)
	}
}

func TestIdempotency_GETIgnored(t *testing.T) {
	counter := 0
	c := newMapCache()
	handler := middleware.Idempotency(c, time.Hour)(makeTestHandler(&counter, http.StatusOK))

	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	req.Header.Set("Idempotency-Key", "key-get")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if counter != 2 {
		t.Fatalf("expected handler called twice, got %d", counter)
	}
}

func TestIdempotency_DifferentKeys(t *testing.T) {
	counter := 0
	c := newMapCache()
	handler := middleware.Idempotency(c, time.Hour)(makeTestHandler(&counter, http.StatusCreated))

	post(handler, "org-1", "key-a")
	post(handler, "org-1", "key-b")

	if counter != 2 {
		t.Fatalf("expected 2 calls, got %d", counter)
	}
}
