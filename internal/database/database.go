package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/tursodatabase/go-libsql"
	_ "modernc.org/sqlite"
)

const (
	// DriverLibSQL is the default, CGO-backed libSQL driver.
	DriverLibSQL = "libsql"
	// DriverSQLite is the pure-Go modernc driver.
	DriverSQLite = "sqlite"
)

const memoryPath = ":memory:"

// Open creates a SQLite connection through the named driver and configures it
// for concurrent use: WAL journal mode, 5 s busy timeout, foreign keys enabled.
// In-memory databases are pinned to a single connection so every query sees
// the same database.
func Open(ctx context.Context, driver, path string) (*sql.DB, error) {
	var dsn string
	switch driver {
	case DriverLibSQL, "":
		driver = DriverLibSQL
		dsn = "file:" + path
	case DriverSQLite:
		dsn = path
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == memoryPath {
		db.SetMaxOpenConns(1)
	}

	// libSQL rejects Exec for PRAGMAs that return rows, but some PRAGMAs
	// (like foreign_keys=ON) return nothing. Use QueryContext and drain rows
	// to handle both cases uniformly.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		rows, err := db.QueryContext(ctx, p)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("executing %s: %w", p, err)
		}
		rows.Close()
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return db, nil
}
