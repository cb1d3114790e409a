package domain

import (
	"context"

	"github.com/coder/websocket"
)

// ManagedConnection represents an open shell page connected to the gateway.
// The client registry only needs to address it, message it and close it.
type ManagedConnection interface {
	// Close attempts to close the WebSocket connection with a specified status code and reason.
	Close(statusCode websocket.StatusCode, reason string) error

	// WriteJSON sends a JSON-encoded message to the client.
	WriteJSON(v interface{}) error

	// RemoteAddr returns the remote network address string of the client.
	RemoteAddr() string

	// Context returns the context associated with this specific connection.
	Context() context.Context
}

// Client message types sent over the pages WebSocket.
const (
	MessageTypeHello            = "hello"
	MessageTypeControllerChange = "controllerchange"
)

// ClientMessage is the envelope sent to a connected page.
type ClientMessage struct {
	Type       string `json:"type"`
	Generation string `json:"generation"`
}

// NewHelloMessage is sent right after a page connects.
func NewHelloMessage(generation string) ClientMessage {
	return ClientMessage{Type: MessageTypeHello, Generation: generation}
}

// NewControllerChangeMessage tells a page that a new generation now controls it.
func NewControllerChangeMessage(generation string) ClientMessage {
	return ClientMessage{Type: MessageTypeControllerChange, Generation: generation}
}
