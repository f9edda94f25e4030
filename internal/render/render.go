// Package render turns query records into pages, text tables and JSON.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"queryflow/pkg/types"
)

// VirtualizationThreshold is the row count above which results are served
// in windows instead of all at once.
const VirtualizationThreshold = 100

// DefaultPageSize is the window size used for large results when the caller
// does not ask for one.
const DefaultPageSize = 50

// MaxPageSize caps the window size a caller may request.
const MaxPageSize = 500

// Page is a window over a record's rows.
type Page struct {
	ID          int         `json:"id"`
	Query       string      `json:"query"`
	Columns     []string    `json:"columns"`
	Headers     []string    `json:"headers"`
	Rows        []types.Row `json:"data"`
	Offset      int         `json:"offset"`
	Limit       int         `json:"limit"`
	Total       int         `json:"total"`
	Virtualized bool        `json:"virtualized"`
	HasMore     bool        `json:"has_more"`
}

// Window returns rows [offset, offset+limit) of rec. Small results come back
// whole when limit is not positive; large ones use DefaultPageSize. Offsets
// past the end yield an empty page.
func Window(rec types.QueryRecord, offset, limit int) Page {
	total := len(rec.Rows)
	virtualized := total > VirtualizationThreshold

	if offset < 0 {
		offset = 0
	}
	switch {
	case limit <= 0 && virtualized:
		limit = DefaultPageSize
	case limit <= 0:
		limit = total
	case limit > MaxPageSize:
		limit = MaxPageSize
	}

	start := min(offset, total)
	end := min(start+limit, total)
	return Page{
		ID:          rec.ID,
		Query:       rec.Text,
		Columns:     rec.Columns,
		Headers:     Headers(rec.Columns),
		Rows:        rec.Rows[start:end],
		Offset:      start,
		Limit:       limit,
		Total:       total,
		Virtualized: virtualized,
		HasMore:     end < total,
	}
}

// Header capitalises the first letter of a column name.
func Header(col string) string {
	r, size := utf8.DecodeRuneInString(col)
	if r == utf8.RuneError {
		return col
	}
	return string(unicode.ToUpper(r)) + col[size:]
}

// Headers applies Header to every column.
func Headers(cols []string) []string {
	out := make([]string, len(cols))
	for i, col := range cols {
		out[i] = Header(col)
	}
	return out
}

// FormatValue renders a cell value as text. nil becomes the empty string.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// Table writes the query text, rec as a text table and a row count line.
func Table(w io.Writer, rec types.QueryRecord) error {
	if _, err := fmt.Fprintln(w, rec.Text); err != nil {
		return err
	}
	if len(rec.Rows) == 0 {
		_, err := fmt.Fprintln(w, "(0 rows)")
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Format.Header = text.FormatDefault

	header := make(table.Row, len(rec.Columns))
	for i, h := range Headers(rec.Columns) {
		header[i] = h
	}
	t.AppendHeader(header)

	for _, row := range rec.Rows {
		out := make(table.Row, len(rec.Columns))
		for i, col := range rec.Columns {
			out[i] = FormatValue(row[col])
		}
		t.AppendRow(out)
	}

	t.Render()
	_, err := fmt.Fprintf(w, "(%d rows)\n", len(rec.Rows))
	return err
}

// Catalog writes the predefined queries as a text table.
func Catalog(w io.Writer, queries []types.QueryRecord) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Query", "Rows", "Columns"})
	for _, q := range queries {
		t.AppendRow(table.Row{q.ID, q.Text, q.RowCount(), strings.Join(q.Columns, ", ")})
	}
	t.Render()
}

// JSON writes rec as indented JSON.
func JSON(w io.Writer, rec types.QueryRecord) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}
