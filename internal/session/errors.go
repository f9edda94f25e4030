package session

import "errors"

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionEnded     = errors.New("session has ended")
	ErrInvalidSessionID = errors.New("session ID must be a canonical UUID")
	ErrTooManySessions  = errors.New("too many active sessions")
	ErrRateLimited      = errors.New("rate limit reached")
	ErrQueryInFlight    = errors.New("a query is already running")
)
