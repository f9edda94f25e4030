package interfaces

// Connection is a push channel to one notification subscriber.
type Connection interface {
	// WriteJSON queues v for delivery. It never blocks on a slow peer.
	WriteJSON(v any) error

	// Close shuts the connection down.
	Close() error

	// GetSessionID returns the session the subscriber listens to.
	GetSessionID() string
}
