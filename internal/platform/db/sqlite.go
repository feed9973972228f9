package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// openSQL is a package-level var to allow test injection.
var openSQL = sql.Open

// sqlitePragmas tune the embedded database for a single writer process.
var sqlitePragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA synchronous = NORMAL",
}

// OpenSQLite opens (creating if needed) the SQLite file at path and applies
// the performance pragmas. The special path ":memory:" opens a private
// in-process database, which is mostly useful in tests.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
	}

	conn, err := openSQL("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// A single connection keeps ":memory:" databases coherent and serialises
	// writers on file databases.
	conn.SetMaxOpenConns(1)

	for _, p := range sqlitePragmas {
		if _, err := conn.ExecContext(ctx, p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return conn, nil
}
