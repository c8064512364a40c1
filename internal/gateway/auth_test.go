package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/basket/graphrun/internal/config"
)

func TestExtractAPIKey_PrecedenceOrder(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?api_key=from-query", nil)
	req.Header.Set("X-API-Key", "from-header")
	req.Header.Set("Authorization", "Bearer from-bearer")
	if got := ExtractAPIKey(req); got != "from-bearer" {
		t.Fatalf("ExtractAPIKey = %q, want from-bearer", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/?api_key=from-query", nil)
	req.Header.Set("X-API-Key", "from-header")
	if got := ExtractAPIKey(req); got != "from-header" {
		t.Fatalf("ExtractAPIKey = %q, want from-header", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/?api_key=from-query", nil)
	if got := ExtractAPIKey(req); got != "from-query" {
		t.Fatalf("ExtractAPIKey = %q, want from-query", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	if got := ExtractAPIKey(req); got != "" {
		t.Fatalf("ExtractAPIKey = %q, want empty", got)
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware_DisabledPassesThrough(t *testing.T) {
	am := NewAuthMiddleware(config.AuthConfig{Enabled: false})
	rec := httptest.NewRecorder()
	am.Wrap(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/threads", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAuthMiddleware_MissingKeyIsUnauthorized(t *testing.T) {
	am := NewAuthMiddleware(config.AuthConfig{Enabled: true, Keys: []config.APIKeyEntry{{Key: "secret"}}})
	rec := httptest.NewRecorder()
	am.Wrap(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/threads", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAuthMiddleware_InvalidKeyIsForbidden(t *testing.T) {
	am := NewAuthMiddleware(config.AuthConfig{Enabled: true, Keys: []config.APIKeyEntry{{Key: "secret"}}})
	req := httptest.NewRequest(http.MethodGet, "/threads", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec := httptest.NewRecorder()
	am.Wrap(okHandler()).ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestAuthMiddleware_ValidKeyPassesThrough(t *testing.T) {
	am := NewAuthMiddleware(config.AuthConfig{Enabled: true, Keys: []config.APIKeyEntry{{Key: "secret"}}})
	req := httptest.NewRequest(http.MethodGet, "/threads", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	am.Wrap(okHandler()).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAuthMiddleware_HealthzAndMetricsAreExempt(t *testing.T) {
	am := NewAuthMiddleware(config.AuthConfig{Enabled: true, Keys: []config.APIKeyEntry{{Key: "secret"}}})
	for _, path := range []string{"/healthz", "/metrics"} {
		rec := httptest.NewRecorder()
		am.Wrap(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("path %s status = %d, want 200 (exempt)", path, rec.Code)
		}
	}
}
