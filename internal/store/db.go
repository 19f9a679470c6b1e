package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection of the offline cache (talk.db).
type DB struct {
	*sql.DB
	readOnly bool
}

// Open opens the cache read-write with WAL mode and the usual pragmas.
func Open(path string) (*DB, error) {
	return open(path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", false)
}

// OpenReadOnly opens an existing cache for inspection. It never creates the
// file and never blocks the running client.
func OpenReadOnly(path string) (*DB, error) {
	return open("file:"+path+"?mode=ro&_busy_timeout=5000", true)
}

func open(dsn string, readOnly bool) (*DB, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if !readOnly {
		// One connection; writes are serialized.
		db.SetMaxOpenConns(1)
	}
	return &DB{DB: db, readOnly: readOnly}, nil
}
