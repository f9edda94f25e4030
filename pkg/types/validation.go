package types

import (
	"regexp"
	"slices"
	"sort"
)

var sessionIDRegex = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// Validate checks that every row carries exactly the record's columns.
func (q QueryRecord) Validate() error {
	for _, row := range q.Rows {
		if len(row) != len(q.Columns) {
			return ErrRaggedRow
		}
		for _, col := range q.Columns {
			if _, ok := row[col]; !ok {
				return ErrRaggedRow
			}
		}
	}
	return nil
}

// Validate ensures the event can be delivered.
func (e *Event) Validate() error {
	if !IsValidEventKind(e.Kind) {
		return ErrInvalidEventKind
	}
	if e.Message == "" {
		return ErrEmptyEventText
	}
	return nil
}

// IsValidSessionID checks that id is a lowercase canonical UUID, the form
// produced by uuid.NewString.
func IsValidSessionID(id string) bool {
	return sessionIDRegex.MatchString(id)
}

// IsValidEventKind checks if the kind is one of the notification levels.
func IsValidEventKind(kind string) bool {
	switch kind {
	case EventSuccess, EventError, EventInfo, EventWarning:
		return true
	default:
		return false
	}
}

// ColumnsOf returns the columns of a row in a stable order. Rows loaded from
// the catalog carry their declared order on the record; this is only used for
// rows built by hand.
func ColumnsOf(row Row) []string {
	cols := make([]string, 0, len(row))
	for k := range row {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	// id first, like every mock table
	if i := slices.Index(cols, "id"); i > 0 {
		cols = append([]string{"id"}, slices.Delete(cols, i, i+1)...)
	}
	return cols
}
