package types

import "errors"

var (
	ErrInvalidSessionID = errors.New("session ID must be a canonical UUID")
	ErrInvalidEventKind = errors.New("event kind must be success, error, info or warning")
	ErrEmptyEventText   = errors.New("event message cannot be empty")
	ErrRaggedRow        = errors.New("row columns do not match record columns")
)
