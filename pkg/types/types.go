package types

import (
	"time"
)

// Notification event kinds, mirrored by the toast levels the page renders.
const (
	EventSuccess = "success"
	EventError   = "error"
	EventInfo    = "info"
	EventWarning = "warning"
)

// SyntheticID is the record ID reserved for placeholder and generic results.
// No catalog entry uses it.
const SyntheticID = 0

// Row is one result row keyed by column name.
type Row map[string]any

// QueryRecord is a query text together with the rows it produces.
// Catalog records are shared between sessions and must be treated as read-only.
type QueryRecord struct {
	ID      int      `json:"id"`
	Text    string   `json:"query"`
	Columns []string `json:"columns"`
	Rows    []Row    `json:"data"`
}

// IsSynthetic reports whether the record is a placeholder or generic result
// rather than a catalog entry.
func (q QueryRecord) IsSynthetic() bool {
	return q.ID == SyntheticID
}

// RowCount returns the number of rows in the record.
func (q QueryRecord) RowCount() int {
	return len(q.Rows)
}

// Event is a fire-and-forget notification raised by a session.
type Event struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
