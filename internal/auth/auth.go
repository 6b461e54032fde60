// Package auth guards the endpoints that change server state.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// Config holds the bearer token for mutating endpoints. An empty token
// leaves them open.
type Config struct {
	Token string
}

// Enabled reports whether a token is configured.
func (c Config) Enabled() bool { return c.Token != "" }

// protectedRoutes lists "METHOD path" pairs that require the token. Read-only
// routes and pure computations such as element parsing stay public.
var protectedRoutes = map[string]bool{
	http.MethodPost + " /api/v1/catalog/fetch": true,
}

// Protected reports whether a request needs the token.
func Protected(r *http.Request) bool {
	return protectedRoutes[r.Method+" "+r.URL.Path]
}

// Middleware returns an HTTP middleware that enforces Bearer token auth on
// protected routes when a token is configured.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled() || !Protected(r) {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := bearerToken(r)
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(cfg.Token)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("WWW-Authenticate", `Bearer realm="keplertrack"`)
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
