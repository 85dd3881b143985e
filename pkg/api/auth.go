package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/colonyforge/hiveforge/pkg/config"
)

// authExcludedPaths pass without a key even when auth is enabled.
var authExcludedPaths = map[string]bool{
	"/health":       true,
	"/docs":         true,
	"/openapi.json": true,
}

// apiKeyAuth enforces the shared API key. The key arrives as X-API-Key
// or as an Authorization bearer token. Auth disabled ⇒ every request
// passes. Auth enabled with no key configured ⇒ every non-excluded
// request is rejected.
func apiKeyAuth(cfg config.ServerConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if !cfg.AuthEnabled || authExcludedPaths[c.Request().URL.Path] {
				return next(c)
			}
			if cfg.APIKey == "" {
				return respondDetail(c, http.StatusUnauthorized, "API key not configured")
			}
			if subtle.ConstantTimeCompare([]byte(extractAPIKey(c.Request())), []byte(cfg.APIKey)) != 1 {
				return respondDetail(c, http.StatusUnauthorized, "invalid or missing API key")
			}
			return next(c)
		}
	}
}

// extractAPIKey reads the client key. Priority: X-API-Key >
// Authorization: Bearer.
func extractAPIKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
