package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"medialift/internal/api"
	"medialift/internal/models"
	"medialift/internal/observability/metrics"
	"medialift/internal/storage"
	"medialift/internal/tickets"
	"medialift/internal/upload"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	store := storage.NewMemoryStore()
	orch := upload.New(upload.Config{Tickets: tickets.NewMemoryStore(), Logger: testLogger()})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})
	handler := api.NewHandler(store, orch, testLogger())
	if cfg.Logger == nil {
		cfg.Logger = testLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	srv, err := New(handler, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv
}

func TestServerRoutesAndHeaders(t *testing.T) {
	srv := newTestServer(t, Config{})

	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz returned %d", rec.Code)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("security headers missing")
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("request id header missing")
	}

	rec = httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/objects", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("objects list returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "medialift_http_requests_total") {
		t.Fatalf("metrics endpoint unusable: %d %q", rec.Code, rec.Body.String())
	}
}

func TestServerPropagatesClientRequestID(t *testing.T) {
	srv := newTestServer(t, Config{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "client-id-1")
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-Id"); got != "client-id-1" {
		t.Fatalf("request id not propagated, got %q", got)
	}
}

func TestGlobalRateLimit(t *testing.T) {
	srv := newTestServer(t, Config{RateLimit: RateLimitConfig{GlobalRPS: 0.0001, GlobalBurst: 1}})

	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("first request returned %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request returned %d, want 429", rec.Code)
	}
}

func TestWebhookRateLimitPerSource(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{WebhookLimit: 2, WebhookWindow: time.Minute})
	for i := 0; i < 2; i++ {
		if ok, _, err := rl.AllowWebhook("10.0.0.1"); err != nil || !ok {
			t.Fatalf("delivery %d rejected: ok=%v err=%v", i, ok, err)
		}
	}
	if ok, _, _ := rl.AllowWebhook("10.0.0.1"); ok {
		t.Fatal("third delivery within the window must be rejected")
	}
	// Another source has its own window.
	if ok, _, _ := rl.AllowWebhook("10.0.0.2"); !ok {
		t.Fatal("independent source must not share the window")
	}
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	srv := newTestServer(t, Config{CORS: CORSConfig{DashboardOrigins: []string{"https://dashboard.example.com"}}})

	req := httptest.NewRequest(http.MethodGet, "/api/objects", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("allowed origin returned %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://dashboard.example.com" {
		t.Fatalf("allow-origin header %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/objects", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("unknown origin returned %d, want 403", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, Config{CORS: CORSConfig{DashboardOrigins: []string{"https://dashboard.example.com"}}})

	req := httptest.NewRequest(http.MethodOptions, "/api/objects", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight returned %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Methods"), "POST") {
		t.Fatalf("allow-methods header %q", rec.Header().Get("Access-Control-Allow-Methods"))
	}
}

func TestObjectStatusThroughFullChain(t *testing.T) {
	store := storage.NewMemoryStore()
	orch := upload.New(upload.Config{Tickets: tickets.NewMemoryStore(), Logger: testLogger()})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})
	handler := api.NewHandler(store, orch, testLogger())
	srv, err := New(handler, Config{Logger: testLogger(), Metrics: metrics.New()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := store.CreateObject(context.Background(), storage.CreateObjectParams{
		ID:         "object-1",
		ObjectType: models.ObjectTypeVideo,
	}); err != nil {
		t.Fatalf("create object: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/objects/object-1/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status returned %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"displayStatus":"Pending"`) {
		t.Fatalf("unexpected status body %s", rec.Body.String())
	}
}
