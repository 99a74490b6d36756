package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"expenses/internal/core"
)

// Dialect names the SQL flavour a Store speaks.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

var (
	// ErrDuplicate wraps unique constraint violations.
	ErrDuplicate = errors.New("duplicate value")
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the relational store for users and their expenses.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// OpenSQLite opens (creating if needed) the SQLite database at path and
// applies migrations. Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// PRAGMAs below are per connection, so the pool holds exactly one.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", strings.ToLower(pragma), err)
		}
	}

	if err := RunMigrations(db, DialectSQLite); err != nil {
		db.Close()
		return nil, err
	}

	slog.InfoContext(ctx, "SQLite store ready", "path", path)
	return &Store{db: db, dialect: DialectSQLite}, nil
}

// OpenPostgres connects to the PostgreSQL database at url through the pgx
// database/sql driver and applies migrations.
func OpenPostgres(ctx context.Context, url string) (*Store, error) {
	migrateDB, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open migration database: %w", err)
	}
	defer migrateDB.Close()
	if err := RunMigrations(migrateDB, DialectPostgres); err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	slog.InfoContext(ctx, "PostgreSQL store ready")
	return &Store{db: db, dialect: DialectPostgres}, nil
}

func (s *Store) Dialect() Dialect { return s.dialect }

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Users returns the user repository outside any transaction.
func (s *Store) Users() *Users {
	return &Users{q: s.db, dialect: s.dialect}
}

// Expenses returns the expense repository scoped to ownerID.
func (s *Store) Expenses(ownerID int64) *ExpenseRepository {
	return &ExpenseRepository{q: s.db, dialect: s.dialect, ownerID: ownerID}
}

// UserByID makes Store usable as an identity lookup.
func (s *Store) UserByID(ctx context.Context, id int64) (core.User, error) {
	return s.Users().ByID(ctx, id)
}

// Tx is a unit of work. Repositories obtained from it share the transaction.
type Tx struct {
	tx      *sql.Tx
	dialect Dialect
}

func (t *Tx) Users() *Users {
	return &Users{q: t.tx, dialect: t.dialect}
}

func (t *Tx) Expenses(ownerID int64) *ExpenseRepository {
	return &ExpenseRepository{q: t.tx, dialect: t.dialect, ownerID: ownerID}
}

// InTx runs fn in a transaction, committing when fn returns nil and
// rolling back otherwise. fn's error is returned unwrapped.
func (s *Store) InTx(ctx context.Context, fn func(*Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&Tx{tx: sqlTx, dialect: s.dialect}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			slog.ErrorContext(ctx, "Rollback failed", "error", rbErr)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders as $1, $2, ... for PostgreSQL.
func rebind(d Dialect, query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// uniqueViolation reports whether err is a unique constraint failure and,
// when it can tell, which column caused it.
func uniqueViolation(err error) (column string, ok bool) {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		switch {
		case code == sqlite3.SQLITE_CONSTRAINT_UNIQUE, code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		case code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(sqliteErr.Error(), "UNIQUE"):
		default:
			return "", false
		}
		return columnFromMessage(sqliteErr.Error()), true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != "23505" {
			return "", false
		}
		return columnFromMessage(pgErr.ConstraintName), true
	}
	return "", false
}

func columnFromMessage(msg string) string {
	switch {
	case strings.Contains(msg, "username"):
		return "username"
	case strings.Contains(msg, "email"):
		return "email"
	default:
		return ""
	}
}

// DuplicateError names the column a unique constraint rejected.
type DuplicateError struct {
	Column string
	Err    error
}

func (e *DuplicateError) Error() string {
	if e.Column == "" {
		return "duplicate value: " + e.Err.Error()
	}
	return "duplicate " + e.Column + ": " + e.Err.Error()
}

func (e *DuplicateError) Is(target error) bool { return target == ErrDuplicate }

func (e *DuplicateError) Unwrap() error { return e.Err }

// classify maps driver errors onto the package's sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound
	}
	if column, ok := uniqueViolation(err); ok {
		return &DuplicateError{Column: column, Err: err}
	}
	return err
}
