package router

import (
	"fmt"
	"sort"
	"strings"

	"queryflow/pkg/types"
)

// CatalogSize is the number of predefined queries, one per mock table.
const CatalogSize = 5

// Catalog maps lowercase table names to their predefined query records.
// It is built once and never modified.
type Catalog struct {
	byTable map[string]types.QueryRecord
	byID    map[int]types.QueryRecord
	ordered []types.QueryRecord
}

// NewCatalog validates records and indexes them by table name and ID.
// Every record must be a "SELECT * FROM <table>;" query with a non-zero ID.
func NewCatalog(records []types.QueryRecord) (*Catalog, error) {
	if len(records) != CatalogSize {
		return nil, fmt.Errorf("%w: got %d", ErrCatalogSize, len(records))
	}

	c := &Catalog{
		byTable: make(map[string]types.QueryRecord, len(records)),
		byID:    make(map[int]types.QueryRecord, len(records)),
		ordered: make([]types.QueryRecord, 0, len(records)),
	}
	for _, rec := range records {
		if rec.ID == types.SyntheticID {
			return nil, fmt.Errorf("%w: %q", ErrReservedID, rec.Text)
		}
		table, ok := ExtractTable(rec.Text)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnparsableQuery, rec.Text)
		}
		if _, dup := c.byTable[table]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTable, table)
		}
		if _, dup := c.byID[rec.ID]; dup {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateID, rec.ID)
		}
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("catalog query %d: %w", rec.ID, err)
		}
		c.byTable[table] = rec
		c.byID[rec.ID] = rec
		c.ordered = append(c.ordered, rec)
	}

	sort.Slice(c.ordered, func(i, j int) bool { return c.ordered[i].ID < c.ordered[j].ID })
	return c, nil
}

// Lookup returns the record whose normalised text equals
// "select * from <table>;".
func (c *Catalog) Lookup(table string) (types.QueryRecord, bool) {
	rec, ok := c.byTable[strings.ToLower(table)]
	if !ok {
		return types.QueryRecord{}, false
	}
	if normalize(rec.Text) != canonicalText(strings.ToLower(table)) {
		return types.QueryRecord{}, false
	}
	return rec, true
}

// ByID returns the record with the given ID.
func (c *Catalog) ByID(id int) (types.QueryRecord, bool) {
	rec, ok := c.byID[id]
	return rec, ok
}

// Queries returns the records ordered by ID.
func (c *Catalog) Queries() []types.QueryRecord {
	out := make([]types.QueryRecord, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// Tables returns the table names ordered by query ID.
func (c *Catalog) Tables() []string {
	tables := make([]string, 0, len(c.ordered))
	for _, rec := range c.ordered {
		table, _ := ExtractTable(rec.Text)
		tables = append(tables, table)
	}
	return tables
}

// Len returns the number of catalog entries.
func (c *Catalog) Len() int {
	return len(c.ordered)
}

func canonicalText(table string) string {
	return "select * from " + table + ";"
}
