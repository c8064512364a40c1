package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/basket/graphrun/internal/config"
)

func TestCORSMiddleware_DisabledPassesThrough(t *testing.T) {
	mw := NewCORSMiddleware(config.CORSConfig{Enabled: false})
	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	mw(okHandler()).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (passthrough even for OPTIONS)", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("disabled CORS should not set Access-Control-Allow-Origin")
	}
}

func TestCORSMiddleware_PreflightForAllowedOrigin(t *testing.T) {
	mw := NewCORSMiddleware(config.CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"https://example.com"},
		AllowedMethods: []string{"GET", "POST"},
	})
	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	mw(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://example.com" {
		t.Fatalf("Allow-Origin = %q, want https://example.com", got)
	}
}

func TestCORSMiddleware_DisallowedOriginGetsNoHeadersButStillProceeds(t *testing.T) {
	mw := NewCORSMiddleware(config.CORSConfig{Enabled: true, AllowedOrigins: []string{"https://example.com"}})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	mw(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (non-preflight still reaches handler)", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("disallowed origin should not get Access-Control-Allow-Origin")
	}
}

func TestCORSMiddleware_WildcardAllowsAnyOrigin(t *testing.T) {
	mw := NewCORSMiddleware(config.CORSConfig{Enabled: true, AllowedOrigins: []string{"*"}})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://anything.example")
	rec := httptest.NewRecorder()
	mw(okHandler()).ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://anything.example" {
		t.Fatalf("Allow-Origin = %q, want the request's own origin echoed back", got)
	}
}

func TestRequestSizeLimitMiddleware_AllowsBodyWithinLimit(t *testing.T) {
	handler := RequestSizeLimitMiddleware(1024)(okHandler())
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
