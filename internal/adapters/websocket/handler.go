package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"gitlab.com/timkado/api/loanguard-gateway/internal/adapters/config"
	"gitlab.com/timkado/api/loanguard-gateway/internal/application"
	"gitlab.com/timkado/api/loanguard-gateway/internal/domain"
	"gitlab.com/timkado/api/loanguard-gateway/pkg/contextkeys"
)

// GenerationSource reports the generation currently controlling fetches.
type GenerationSource interface {
	Generation() string
}

// Handler upgrades shell pages to a WebSocket, registers them with the client
// registry and keeps them alive with pings. Pages only listen; anything they
// send closes the connection.
type Handler struct {
	logger         domain.Logger
	configProvider config.Provider
	registry       *application.ClientRegistry
	generations    GenerationSource
}

// NewHandler creates a new clients WebSocket handler.
func NewHandler(logger domain.Logger, cfgProvider config.Provider, registry *application.ClientRegistry, generations GenerationSource) *Handler {
	if registry == nil {
		panic("client registry cannot be nil")
	}
	return &Handler{
		logger:         logger,
		configProvider: cfgProvider,
		registry:       registry,
		generations:    generations,
	}
}

// ServeHTTP is the entry point for WebSocket upgrade requests.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(h.configProvider.Get().Shell.Origin),
	})
	if err != nil {
		h.logger.Warn(r.Context(), "WebSocket upgrade failed", "error", err.Error(), "remote_addr", r.RemoteAddr)
		return
	}

	connCtx, cancel := context.WithCancel(context.WithValue(r.Context(), contextkeys.ClientIDKey, clientID))
	appCfg := h.configProvider.Get().App
	conn := NewConnection(connCtx, cancel, c, r.RemoteAddr, h.logger, time.Duration(appCfg.WriteTimeoutSeconds)*time.Second)

	h.registry.Register(clientID, conn)
	defer h.registry.Deregister(clientID)
	defer conn.Close(websocket.StatusNormalClosure, "connection ended")

	if err := conn.WriteJSON(domain.NewHelloMessage(h.generations.Generation())); err != nil {
		h.logger.Warn(connCtx, "Failed to queue hello message", "error", err.Error())
		return
	}

	h.manageConnection(connCtx, conn, c, time.Duration(appCfg.PingIntervalSeconds)*time.Second)
}

// manageConnection blocks until the page goes away or the connection context ends.
func (h *Handler) manageConnection(connCtx context.Context, conn *Connection, c *websocket.Conn, pingInterval time.Duration) {
	// CloseRead reads and discards control frames; a data frame closes the socket.
	readCtx := c.CloseRead(connCtx)

	var tick <-chan time.Time
	if pingInterval > 0 {
		pinger := time.NewTicker(pingInterval)
		defer pinger.Stop()
		tick = pinger.C
	}

	for {
		select {
		case <-readCtx.Done():
			h.logger.Info(connCtx, "Client connection closed", "remote_addr", conn.RemoteAddr())
			return
		case <-tick:
			if err := conn.Ping(connCtx); err != nil {
				if !errors.Is(err, context.Canceled) {
					h.logger.Warn(connCtx, "Ping failed, closing client connection", "error", err.Error())
				}
				return
			}
		}
	}
}

// originPatterns allows the shell origin's host in addition to same-host requests.
func originPatterns(shellOrigin string) []string {
	u, err := url.Parse(shellOrigin)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}
