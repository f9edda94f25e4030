package router

import (
	"strings"

	"queryflow/pkg/types"
)

// HistoryLimit bounds the number of entries a History keeps.
const HistoryLimit = 5

// History is a most-recent-first list of submitted queries, successful or not.
// Values are never modified in place: Push returns a new History.
type History []types.QueryRecord

// Push returns a history with rec at the head, truncated to HistoryLimit.
func (h History) Push(rec types.QueryRecord) History {
	n := min(len(h), HistoryLimit-1)
	out := make(History, 0, n+1)
	out = append(out, rec)
	return append(out, h[:n]...)
}

// Head returns the most recent entry.
func (h History) Head() (types.QueryRecord, bool) {
	if len(h) == 0 {
		return types.QueryRecord{}, false
	}
	return h[0], true
}

// Filter returns the entries whose text contains term, ignoring case.
// A blank term returns the whole history.
func (h History) Filter(term string) History {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return h
	}
	var out History
	for _, rec := range h {
		if strings.Contains(strings.ToLower(rec.Text), term) {
			out = append(out, rec)
		}
	}
	return out
}
