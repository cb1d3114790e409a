package contextkeys

// Key is the type of every context key set by this module. Keeping it distinct from
// string avoids collisions with keys set by other packages.
type Key string

const (
	// RequestIDKey is the context key for storing and retrieving a request ID.
	RequestIDKey Key = "request_id"

	// GenerationKey carries the cache generation that is handling a request.
	GenerationKey Key = "generation"

	// ClientIDKey identifies a connected shell page on the clients WebSocket.
	ClientIDKey Key = "client_id"

	// SubjectKey carries the token subject (username) on client-side calls.
	SubjectKey Key = "subject"

	// RetriedKey marks an outgoing request that has already been replayed once
	// after a 401. Its value is a bool.
	RetriedKey Key = "auth_retried"
)

// String makes Key satisfy fmt.Stringer to help with debugging/logging of keys themselves.
func (c Key) String() string {
	return string(c)
}
