package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Querier is satisfied by both *sql.DB and *sql.Tx, so repositories can be
// bound to either.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type DB struct {
	*sql.DB
}

func init() {
	// casefold(x) gives SQL queries the same Unicode case folding the Go side uses.
	err := sqlite.RegisterDeterministicScalarFunction("casefold", 1,
		func(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			switch v := args[0].(type) {
			case nil:
				return nil, nil
			case string:
				return Fold(v), nil
			case []byte:
				return Fold(string(v)), nil
			default:
				return v, nil
			}
		})
	if err != nil {
		panic(fmt.Sprintf("failed to register casefold: %v", err))
	}
}

// Fold returns the case-folded form of s used for case-insensitive matching.
func Fold(s string) string {
	return cases.Fold().String(s)
}

// NewConnection opens the SQLite database described by databaseURL.
// Accepted forms: "sqlite:///path/to/db.sqlite3", "sqlite://:memory:", or a plain path.
func NewConnection(databaseURL string) (*DB, error) {
	dsn, memory, err := sqliteDSN(databaseURL)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if memory {
		// Every connection to ":memory:" would be a separate database.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(8)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db}, nil
}

func sqliteDSN(databaseURL string) (string, bool, error) {
	path := databaseURL
	if strings.HasSuffix(databaseURL, ":memory:") {
		path = ":memory:"
	} else if strings.Contains(databaseURL, "://") {
		u, err := url.Parse(databaseURL)
		if err != nil {
			return "", false, fmt.Errorf("invalid database URL: %w", err)
		}
		if u.Scheme != "sqlite" && u.Scheme != "sqlite3" {
			return "", false, fmt.Errorf("unsupported database scheme: %s", u.Scheme)
		}
		path = u.Host + u.Path
		if u.Host == "" {
			path = strings.TrimPrefix(u.Path, "/")
			if strings.HasPrefix(u.Path, "//") {
				path = u.Path[1:]
			}
		}
	}
	if path == "" {
		return "", false, fmt.Errorf("database path is empty")
	}

	params := url.Values{}
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", "busy_timeout(5000)")
	params.Set("_txlock", "immediate")

	if path == ":memory:" {
		return "file::memory:?" + params.Encode(), true, nil
	}

	params.Add("_pragma", "journal_mode(WAL)")
	return "file:" + path + "?" + params.Encode(), false, nil
}

// InTx runs fn inside a transaction. The transaction is rolled back when fn
// returns an error or panics.
func (db *DB) InTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// IsUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY constraint failure.
func IsUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(sqliteErr.Error(), "UNIQUE constraint failed")
	}
	return false
}

// IsForeignKeyViolation reports whether err is a FOREIGN KEY constraint failure.
func IsForeignKeyViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY ||
		strings.Contains(sqliteErr.Error(), "FOREIGN KEY constraint failed")
}

// wrapWriteErr maps constraint failures to ErrConflict.
func wrapWriteErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsUniqueViolation(err) {
		return fmt.Errorf("failed to %s: %w", op, ErrConflict)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// affected returns ErrNotFound when a write touched no rows.
func affected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("failed to %s: %w", op, ErrNotFound)
	}
	return nil
}
