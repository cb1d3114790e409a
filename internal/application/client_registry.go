package application

import (
	"context"
	"fmt"
	"sync"

	"github.com/coder/websocket"

	"gitlab.com/timkado/api/loanguard-gateway/internal/adapters/metrics"
	"gitlab.com/timkado/api/loanguard-gateway/internal/domain"
)

// ClientRegistry tracks the shell pages connected to this pod so a newly
// activated generation can take control of all of them at once.
type ClientRegistry struct {
	logger  domain.Logger
	clients sync.Map // Stores [clientID string] -> domain.ManagedConnection
}

// NewClientRegistry creates an empty registry.
func NewClientRegistry(logger domain.Logger) *ClientRegistry {
	if logger == nil {
		panic("logger cannot be nil")
	}
	return &ClientRegistry{logger: logger}
}

// Register stores conn under clientID. A previous connection with the same
// id is closed and replaced.
func (r *ClientRegistry) Register(clientID string, conn domain.ManagedConnection) {
	previous, loaded := r.clients.Swap(clientID, conn)
	if loaded {
		if old, ok := previous.(domain.ManagedConnection); ok && old != conn {
			r.logger.Warn(conn.Context(), "Replacing client connection registered under the same id", "clientID", clientID)
			_ = old.Close(websocket.StatusPolicyViolation, "replaced by a newer connection")
		}
	} else {
		metrics.IncrementActiveClients()
	}
	r.logger.Info(conn.Context(), "Client registered", "clientID", clientID, "remoteAddr", conn.RemoteAddr())
}

// Deregister removes clientID. Unknown ids are ignored.
func (r *ClientRegistry) Deregister(clientID string) {
	val, loaded := r.clients.LoadAndDelete(clientID)
	if !loaded {
		r.logger.Debug(context.Background(), "Attempted to deregister a client not found in map", "clientID", clientID)
		return
	}
	metrics.DecrementActiveClients()

	if conn, ok := val.(domain.ManagedConnection); ok {
		r.logger.Info(conn.Context(), "Client deregistered", "clientID", clientID, "remoteAddr", conn.RemoteAddr())
	}
}

// Count returns the number of registered clients.
func (r *ClientRegistry) Count() int {
	n := 0
	r.clients.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Claim sends a controllerchange message for generation to every registered
// page and returns how many received it. Pages that cannot be written to are
// closed and dropped.
func (r *ClientRegistry) Claim(ctx context.Context, generation string) int {
	msg := domain.NewControllerChangeMessage(generation)
	claimed := 0

	r.clients.Range(func(key, value any) bool {
		clientID := fmt.Sprint(key)
		conn, ok := value.(domain.ManagedConnection)
		if !ok {
			r.logger.Error(ctx, "Found non-ManagedConnection type in clients map", "clientID", clientID, "value_type", fmt.Sprintf("%T", value))
			r.Deregister(clientID)
			return true
		}
		if err := conn.WriteJSON(msg); err != nil {
			r.logger.Warn(ctx, "Failed to notify client of controller change, dropping it",
				"clientID", clientID, "remoteAddr", conn.RemoteAddr(), "error", err.Error())
			_ = conn.Close(websocket.StatusInternalError, "controller change delivery failed")
			r.Deregister(clientID)
			return true
		}
		claimed++
		return true
	})

	metrics.RecordClientsClaimed(claimed)
	return claimed
}

// GracefullyCloseAll closes every client with StatusGoingAway. Used on shutdown.
func (r *ClientRegistry) GracefullyCloseAll(ctx context.Context) {
	closed := 0
	r.clients.Range(func(key, value any) bool {
		if conn, ok := value.(domain.ManagedConnection); ok {
			if err := conn.Close(websocket.StatusGoingAway, "gateway shutting down"); err != nil {
				r.logger.Debug(ctx, "Error closing client during shutdown", "clientID", fmt.Sprint(key), "error", err.Error())
			}
		}
		r.Deregister(fmt.Sprint(key))
		closed++
		return true
	})
	r.logger.Info(ctx, "Closed all client connections", "count", closed)
}
