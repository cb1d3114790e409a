package websocket

import (
	"context"
	"net/http"

	"gitlab.com/timkado/api/loanguard-gateway/internal/domain"
)

// ClientsPath is where shell pages connect to follow generation changes.
const ClientsPath = "/_gateway/clients"

// Router registers the clients WebSocket endpoint.
type Router struct {
	logger    domain.Logger
	wsHandler http.Handler
}

// NewRouter creates a new WebSocket router.
func NewRouter(logger domain.Logger, wsHandler http.Handler) *Router {
	return &Router{
		logger:    logger,
		wsHandler: wsHandler,
	}
}

// RegisterRoutes mounts the handler on GET /_gateway/clients. Pages are
// public, so no auth middleware is applied.
func (r *Router) RegisterRoutes(ctx context.Context, mux *http.ServeMux) {
	mux.Handle("GET "+ClientsPath, r.wsHandler)
	r.logger.Info(ctx, "WebSocket endpoint registered", "pattern", "GET "+ClientsPath)
}
