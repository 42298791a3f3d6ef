// Package store is the SQLite persistence layer for the staging and
// ledger tables.
//
// Tables here are schemaless by design: every run drops and recreates the
// staging layer with the column superset computed from that run's pre-scan,
// so all columns are TEXT and alignment happens above this package. WAL
// mode keeps the single writer from blocking audit queries against a
// previous run's output.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps the SQLite database holding staging and ledger tables.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at dbPath.
// Use ":memory:" for an in-memory database in tests.
func Open(dbPath string) (*Store, error) {
	dsn := dbPath + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", dbPath, err)
	}
	// The merge engine is the single writer; one connection avoids
	// writer lock contention between pooled connections.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open database %s: %w", dbPath, err)
	}
	return &Store{db: db, path: dbPath}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// QuoteIdent quotes an identifier for use in dynamic SQL. Column names
// come from spreadsheet headers and are untrusted.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = QuoteIdent(n)
	}
	return out
}

// RecreateTable drops the table if it exists and recreates it with the
// given columns, all typed TEXT.
func (s *Store) RecreateTable(ctx context.Context, table string, columns []string) error {
	if len(columns) == 0 {
		return fmt.Errorf("recreate table %s: no columns", table)
	}
	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+QuoteIdent(table)); err != nil {
		return fmt.Errorf("drop table %s: %w", table, err)
	}
	ddl := fmt.Sprintf("CREATE TABLE %s (%s TEXT)",
		QuoteIdent(table), strings.Join(quoteAll(columns), " TEXT, "))
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}

// DropTable drops a table if it exists.
func (s *Store) DropTable(ctx context.Context, table string) error {
	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+QuoteIdent(table)); err != nil {
		return fmt.Errorf("drop table %s: %w", table, err)
	}
	return nil
}

// InsertBatch writes rows into a table inside a single transaction.
// Row values must already be aligned to the given column order; nil values
// store as NULL. The whole batch commits or rolls back together.
func (s *Store) InsertBatch(ctx context.Context, table string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}

	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?,", len(columns)), ",") + ")"
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		QuoteIdent(table), strings.Join(quoteAll(columns), ", "), placeholders)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert into %s: %w", table, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare insert into %s: %w", table, err)
	}
	defer stmt.Close()

	for i, row := range rows {
		if len(row) != len(columns) {
			return fmt.Errorf("insert into %s: row %d has %d values, want %d", table, i, len(row), len(columns))
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return fmt.Errorf("insert into %s: row %d: %w", table, i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert into %s: %w", table, err)
	}
	return nil
}

// TableExists reports whether a table is present.
func (s *Store) TableExists(ctx context.Context, table string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", table, err)
	}
	return n > 0, nil
}

// TableColumns returns a table's column names in declaration order.
func (s *Store) TableColumns(ctx context.Context, table string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, fmt.Errorf("columns of %s: %w", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("columns of %s: %w", table, err)
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

// CountRows returns the row count of a table.
func (s *Store) CountRows(ctx context.Context, table string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+QuoteIdent(table)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// DistinctValues returns the distinct non-null values of a column,
// ordered ascending.
func (s *Store) DistinctValues(ctx context.Context, table, column string) ([]string, error) {
	query := fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL ORDER BY %s",
		QuoteIdent(column), QuoteIdent(table), QuoteIdent(column), QuoteIdent(column))
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("distinct %s.%s: %w", table, column, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("distinct %s.%s: %w", table, column, err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// CreateIndex creates an index if it does not already exist.
func (s *Store) CreateIndex(ctx context.Context, name, table string, columns []string) error {
	query := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		QuoteIdent(name), QuoteIdent(table), strings.Join(quoteAll(columns), ", "))
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create index %s: %w", name, err)
	}
	return nil
}

// Exec runs a statement against the database.
func (s *Store) Exec(ctx context.Context, query string, args ...any) error {
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("exec: %w", err)
	}
	return nil
}

// Query runs a query against the database.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

// QueryRow runs a single-row query against the database.
func (s *Store) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, query, args...)
}
