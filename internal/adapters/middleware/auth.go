package middleware

import (
	"crypto/subtle"
	"net/http"

	"gitlab.com/timkado/api/loanguard-gateway/internal/adapters/config"
	"gitlab.com/timkado/api/loanguard-gateway/internal/domain"
)

// APIKeyHeader carries the admin key on /_gateway/cache requests.
const APIKeyHeader = "X-API-Key"

// APIKeyAuthMiddleware admits requests whose X-API-Key equals auth.admin_api_key.
// The key is re-read on every request so a config reload rotates it. With no key
// configured every request is refused with 500.
func APIKeyAuthMiddleware(cfgProvider config.Provider, logger domain.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			var expected string
			if cfg := cfgProvider.Get(); cfg != nil {
				expected = cfg.Auth.AdminAPIKey
			}
			if expected == "" {
				logger.Error(ctx, "Admin request refused: auth.admin_api_key not configured", "path", r.URL.Path)
				domain.NewErrorResponse(domain.ErrInternal, "Server configuration error", "Admin authentication is not configured.").
					WriteJSON(w, http.StatusInternalServerError)
				return
			}

			presented := r.Header.Get(APIKeyHeader)
			switch {
			case presented == "":
				logger.Warn(ctx, "Admin request without API key", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
				unauthorized(w, "API key is required")
				return
			case subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) != 1:
				logger.Warn(ctx, "Admin request with invalid API key", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
				unauthorized(w, "Invalid API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, message string) {
	domain.NewErrorResponse(domain.ErrInvalidAPIKey, message, "Provide the admin key in the "+APIKeyHeader+" header.").
		WriteJSON(w, http.StatusUnauthorized)
}
