package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	dbconfig "queryflow/pkg/database"
	"queryflow/pkg/types"
)

// ErrClosed is returned by operations on a closed Manager.
var ErrClosed = errors.New("database manager is closed")

// Manager owns the SQLite catalog database. It applies the embedded
// migrations on open and serves the predefined queries with their rows.
type Manager struct {
	db     *sql.DB
	config *dbconfig.Config
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewManager opens the database at config.DatabasePath, creating its
// directory when needed, and brings the schema up to date.
func NewManager(ctx context.Context, config *dbconfig.Config, logger *slog.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	if dir := filepath.Dir(config.DatabasePath); !isMemoryPath(config.DatabasePath) && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if isMemoryPath(config.DatabasePath) {
		// Each connection to :memory: is its own database, so the one that
		// ran the migrations must be the only one and must never expire.
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	} else {
		db.SetMaxOpenConns(config.MaxConnections)
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
		db.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	}

	if err := dbconfig.ApplySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	migrations := dbconfig.NewMigrationManager(db, dbconfig.Migrations, dbconfig.MigrationsDir)
	ran, err := migrations.ApplyMigrations(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrations.ValidateSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalog schema invalid: %w", err)
	}

	logger.Info("catalog database ready",
		"path", config.DatabasePath,
		"migrations_applied", len(ran))

	return &Manager{
		db:     db,
		config: config,
		logger: logger,
	}, nil
}

// LoadQueries returns the predefined queries ordered by ID, each with the
// full contents of its table.
func (m *Manager) LoadQueries(ctx context.Context) ([]types.QueryRecord, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT id, query_text, table_name
		FROM predefined_queries
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query predefined queries: %w", err)
	}

	type entry struct {
		id    int
		text  string
		table string
	}
	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.id, &e.text, &e.table); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan predefined query: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("error iterating predefined queries: %w", err)
	}
	_ = rows.Close()

	records := make([]types.QueryRecord, 0, len(entries))
	for _, e := range entries {
		columns, data, err := m.TableRows(ctx, e.table)
		if err != nil {
			return nil, fmt.Errorf("query %d: %w", e.id, err)
		}
		records = append(records, types.QueryRecord{
			ID:      e.id,
			Text:    e.text,
			Columns: columns,
			Rows:    data,
		})
		m.logger.Debug("loaded catalog query", "id", e.id, "table", e.table, "rows", len(data))
	}

	return records, nil
}

// TableRows reads every row of a catalog table in primary key order.
// Column order follows the table declaration.
func (m *Manager) TableRows(ctx context.Context, table string) ([]string, []types.Row, error) {
	if err := m.checkOpen(); err != nil {
		return nil, nil, err
	}

	ident, err := dbconfig.QuoteIdent(table)
	if err != nil {
		return nil, nil, err
	}

	rows, err := m.db.QueryContext(ctx, "SELECT * FROM "+ident+" ORDER BY id ASC")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read table %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}

	data := make([]types.Row, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, fmt.Errorf("failed to scan %s row: %w", table, err)
		}

		row := make(types.Row, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		data = append(data, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating %s rows: %w", table, err)
	}

	return columns, data, nil
}

// HealthCheck verifies the database answers reads.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM predefined_queries").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Stats returns connection pool statistics.
func (m *Manager) Stats() sql.DBStats {
	return m.db.Stats()
}

// GetDB returns the underlying handle.
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close closes the database. Subsequent calls are no-ops.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	m.logger.Info("catalog database closed")
	return nil
}

func (m *Manager) checkOpen() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

func isMemoryPath(path string) bool {
	return path == ":memory:" || strings.HasPrefix(path, "file::memory:")
}
