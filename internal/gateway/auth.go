package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/basket/graphrun/internal/config"
)

// AuthMiddleware validates API keys from the Authorization header, the
// X-API-Key header, or the api_key query parameter, in that order.
type AuthMiddleware struct {
	keys    map[string]config.APIKeyEntry
	enabled bool
}

// NewAuthMiddleware builds an AuthMiddleware from cfg.
func NewAuthMiddleware(cfg config.AuthConfig) *AuthMiddleware {
	am := &AuthMiddleware{
		keys:    make(map[string]config.APIKeyEntry, len(cfg.Keys)),
		enabled: cfg.Enabled,
	}
	for _, k := range cfg.Keys {
		am.keys[k.Key] = k
	}
	return am
}

// Wrap enforces API key auth on next, except for /healthz and /metrics,
// which must stay reachable for operators without a key.
func (am *AuthMiddleware) Wrap(next http.Handler) http.Handler {
	if !am.enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		key := ExtractAPIKey(r)
		if key == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "missing API key"})
			return
		}
		if !am.lookupKey(key) {
			writeJSON(w, http.StatusForbidden, map[string]any{"message": "invalid API key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ExtractAPIKey checks, in order: Authorization: Bearer <key>, X-API-Key
// header, api_key query param (the last for SSE endpoints where headers
// are awkward for a client to set).
func ExtractAPIKey(r *http.Request) string {
	const prefix = "Bearer "
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, prefix) {
		return strings.TrimPrefix(auth, prefix)
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("api_key")
}

// lookupKey uses constant-time comparison to avoid leaking key material
// through response-time side channels.
func (am *AuthMiddleware) lookupKey(candidate string) bool {
	for k := range am.keys {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(k)) == 1 {
			return true
		}
	}
	return false
}
