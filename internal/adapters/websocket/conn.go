package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"gitlab.com/timkado/api/loanguard-gateway/internal/domain"
	"gitlab.com/timkado/api/loanguard-gateway/pkg/safego"
)

const defaultBufferSize = 16

// ErrConnectionClosed is returned by WriteJSON after Close.
var ErrConnectionClosed = errors.New("websocket connection closed")

// Connection wraps a websocket.Conn with a buffered writer so broadcasting to
// many pages never blocks on a slow one. When the buffer is full the oldest
// queued message is dropped; pages only care about the latest generation.
type Connection struct {
	wsConn       *websocket.Conn
	logger       domain.Logger
	connCtx      context.Context
	cancel       context.CancelFunc
	remoteAddr   string
	writeTimeout time.Duration

	buffer    chan []byte
	writerWg  sync.WaitGroup
	closeOnce sync.Once

	mu     sync.Mutex // Guards closed and buffer sends
	closed bool
}

// NewConnection starts the writer goroutine for wsConn.
func NewConnection(connCtx context.Context, cancel context.CancelFunc, wsConn *websocket.Conn, remoteAddr string, logger domain.Logger, writeTimeout time.Duration) *Connection {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	c := &Connection{
		wsConn:       wsConn,
		logger:       logger,
		connCtx:      connCtx,
		cancel:       cancel,
		remoteAddr:   remoteAddr,
		writeTimeout: writeTimeout,
		buffer:       make(chan []byte, defaultBufferSize),
	}
	c.startWriter()
	return c
}

func (c *Connection) startWriter() {
	c.writerWg.Add(1)
	safego.Execute(c.connCtx, c.logger, "ClientWebSocketWriter", func() {
		defer c.writerWg.Done()
		for {
			select {
			case <-c.connCtx.Done():
				return
			case msg, ok := <-c.buffer:
				if !ok {
					return
				}
				writeCtx, cancel := context.WithTimeout(c.connCtx, c.writeTimeout)
				err := c.wsConn.Write(writeCtx, websocket.MessageText, msg)
				cancel()
				if err != nil {
					if !errors.Is(err, context.Canceled) {
						c.logger.Warn(c.connCtx, "Failed to write message to client", "error", err.Error())
					}
					c.cancel()
					return
				}
			}
		}
	})
}

// WriteJSON queues v for delivery.
func (c *Connection) WriteJSON(v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	if err := c.connCtx.Err(); err != nil {
		return err
	}

	for {
		select {
		case c.buffer <- payload:
			return nil
		default:
		}
		select {
		case dropped := <-c.buffer:
			c.logger.Warn(c.connCtx, "Client send buffer full, dropped oldest message", "dropped_len", len(dropped))
		default:
		}
	}
}

// Close stops the writer and closes the socket. Safe to call more than once.
func (c *Connection) Close(statusCode websocket.StatusCode, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.buffer)
		c.mu.Unlock()

		c.writerWg.Wait()
		c.cancel()
		err = c.wsConn.Close(statusCode, reason)
	})
	return err
}

// Ping sends a ping and waits for the pong.
func (c *Connection) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	return c.wsConn.Ping(pingCtx)
}

// RemoteAddr returns the remote network address string of the client.
func (c *Connection) RemoteAddr() string {
	return c.remoteAddr
}

// Context returns the context associated with this connection.
func (c *Connection) Context() context.Context {
	return c.connCtx
}
