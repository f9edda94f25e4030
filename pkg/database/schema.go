package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
)

// ErrUnknownTable is returned for table names that are not part of the catalog schema.
var ErrUnknownTable = errors.New("table is not part of the catalog schema")

// CatalogSchema lists the mock tables and their declared column types, in
// declaration order.
var CatalogSchema = []TableSchema{
	{Name: "employees", Columns: []Column{
		{"id", "INTEGER"}, {"name", "TEXT"}, {"email", "TEXT"}, {"department", "TEXT"},
		{"position", "TEXT"}, {"salary", "INTEGER"}, {"hire_date", "TEXT"},
	}},
	{Name: "customers", Columns: []Column{
		{"id", "INTEGER"}, {"name", "TEXT"}, {"email", "TEXT"}, {"phone", "TEXT"},
		{"city", "TEXT"}, {"country", "TEXT"}, {"joined_at", "TEXT"},
	}},
	{Name: "suppliers", Columns: []Column{
		{"id", "INTEGER"}, {"name", "TEXT"}, {"contact_name", "TEXT"}, {"email", "TEXT"},
		{"country", "TEXT"}, {"rating", "REAL"},
	}},
	{Name: "products", Columns: []Column{
		{"id", "INTEGER"}, {"name", "TEXT"}, {"category", "TEXT"}, {"price", "REAL"},
		{"stock", "INTEGER"}, {"supplier_id", "INTEGER"},
	}},
	{Name: "orders", Columns: []Column{
		{"id", "INTEGER"}, {"customer_id", "INTEGER"}, {"product_id", "INTEGER"}, {"quantity", "INTEGER"},
		{"total", "REAL"}, {"status", "TEXT"}, {"order_date", "TEXT"},
	}},
	{Name: "predefined_queries", Columns: []Column{
		{"id", "INTEGER"}, {"query_text", "TEXT"}, {"table_name", "TEXT"},
	}},
}

// TableSchema describes one table.
type TableSchema struct {
	Name    string
	Columns []Column
}

// Column is a column name and its declared SQLite type.
type Column struct {
	Name string
	Type string
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SchemaValidator checks the live database against CatalogSchema.
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator.
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// ValidateTablesExist verifies that every catalog table and the migration
// tracking table exist.
func (v *SchemaValidator) ValidateTablesExist(ctx context.Context) error {
	names := []string{"schema_migrations"}
	for _, t := range CatalogSchema {
		names = append(names, t.Name)
	}

	for _, table := range names {
		exists, err := v.TableExists(ctx, table)
		if err != nil {
			return fmt.Errorf("error checking table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}
	return nil
}

// ValidateTableStructure verifies that each catalog table declares the
// expected columns with the expected types.
func (v *SchemaValidator) ValidateTableStructure(ctx context.Context) error {
	for _, table := range CatalogSchema {
		found, err := v.columnTypes(ctx, table.Name)
		if err != nil {
			return fmt.Errorf("%s table structure: %w", table.Name, err)
		}
		for _, col := range table.Columns {
			typ, ok := found[col.Name]
			if !ok {
				return fmt.Errorf("%s table structure invalid: column %s not found", table.Name, col.Name)
			}
			if typ != col.Type {
				return fmt.Errorf("%s table structure invalid: column %s has type %s, expected %s", table.Name, col.Name, typ, col.Type)
			}
		}
	}
	return nil
}

// ValidateConstraints checks that the foreign keys between orders, customers
// and products are enforced on this connection.
func (v *SchemaValidator) ValidateConstraints(ctx context.Context) error {
	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, customer_id, product_id, quantity, total, status, order_date)
		VALUES (-1, -1, -1, 1, 0, 'Pending', '2024-01-01')
	`)
	if err == nil {
		return fmt.Errorf("foreign key constraint not enforced: orders.customer_id")
	}
	return nil
}

// TableExists reports whether a table with the given name exists.
func (v *SchemaValidator) TableExists(ctx context.Context, table string) (bool, error) {
	var count int
	err := v.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?",
		table,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// IsCatalogTable reports whether table is one of the mock tables. The
// predefined_queries table itself is not queryable.
func IsCatalogTable(table string) bool {
	if !identPattern.MatchString(table) {
		return false
	}
	for _, t := range CatalogSchema {
		if t.Name == table && t.Name != "predefined_queries" {
			return true
		}
	}
	return false
}

// QuoteIdent returns table as a quoted SQLite identifier. It rejects names
// that are not catalog tables.
func QuoteIdent(table string) (string, error) {
	if !IsCatalogTable(table) {
		return "", fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	return `"` + table + `"`, nil
}

func (v *SchemaValidator) columnTypes(ctx context.Context, table string) (map[string]string, error) {
	if !identPattern.MatchString(table) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	rows, err := v.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]string)
	for rows.Next() {
		var (
			cid          int
			name, typ    string
			notNull, pk  int
			defaultValue any
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultValue, &pk); err != nil {
			return nil, err
		}
		found[name] = typ
	}
	return found, rows.Err()
}
