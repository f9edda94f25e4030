// Package export writes query results as downloadable CSV.
package export

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"queryflow/internal/render"
	"queryflow/internal/router"
	"queryflow/pkg/types"
)

// DefaultFilename is used when the query text names no table.
const DefaultFilename = "query_results.csv"

// ErrNoRows is returned when there is nothing to export.
var ErrNoRows = errors.New("no rows to export")

// Filename derives the download name from the record's query text.
func Filename(rec types.QueryRecord) string {
	if table, ok := router.ExtractTable(rec.Text); ok {
		return table + ".csv"
	}
	return DefaultFilename
}

// WriteCSV writes a header line of column names followed by one line per row.
func WriteCSV(w io.Writer, rec types.QueryRecord) error {
	if len(rec.Rows) == 0 {
		return ErrNoRows
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(rec.Columns); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	line := make([]string, len(rec.Columns))
	for i, row := range rec.Rows {
		for j, col := range rec.Columns {
			line[j] = render.FormatValue(row[col])
		}
		if err := cw.Write(line); err != nil {
			return fmt.Errorf("failed to write CSV row %d: %w", i, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// CSV returns the filename and encoded content for rec.
func CSV(rec types.QueryRecord) (string, []byte, error) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, rec); err != nil {
		return "", nil, err
	}
	return Filename(rec), buf.Bytes(), nil
}
