package interfaces

import "queryflow/pkg/types"

// Notifier receives fire-and-forget session events. Implementations must
// not block the caller.
type Notifier interface {
	Notify(ev types.Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ev types.Event)

// Notify calls f(ev).
func (f NotifierFunc) Notify(ev types.Event) { f(ev) }

// SessionDirectory answers whether a session is live.
type SessionDirectory interface {
	Exists(sessionID string) bool
}
