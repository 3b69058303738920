// Package db is the local purchase ledger: an append-only purchase history
// keyed by order id plus a derived owned-quantity projection per product.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

const (
	dataDir = ".playbill"
	dbFile  = ".playbill/purchase.db"
)

// DB wraps the ledger database connection.
type DB struct {
	conn    *sql.DB
	baseDir string

	// mu serializes the read-count-then-write sequence in UpdatePurchase
	// within this process; the file lock covers other processes.
	mu sync.Mutex
}

// Open opens an existing ledger database.
func Open(baseDir string) (*DB, error) {
	dbPath := filepath.Join(baseDir, dbFile)

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("ledger not found: run 'playbill init' first")
	}

	conn, err := open(dbPath)
	if err != nil {
		return nil, err
	}
	return &DB{conn: conn, baseDir: baseDir}, nil
}

// Initialize creates the ledger database and its schema.
func Initialize(baseDir string) (*DB, error) {
	dbPath := filepath.Join(baseDir, dbFile)

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	conn, err := open(dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &DB{conn: conn, baseDir: baseDir}, nil
}

func open(dbPath string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL for concurrent reads while writes are serialized
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Busy timeout as fallback protection, matches the write lock timeout
	if _, err := conn.Exec("PRAGMA busy_timeout=500"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	// Slightly faster writes, still safe with WAL
	conn.Exec("PRAGMA synchronous=NORMAL")

	return conn, nil
}

// Close closes the database.
func (db *DB) Close() error {
	return db.conn.Close()
}

// BaseDir returns the base directory the ledger lives under.
func (db *DB) BaseDir() string {
	return db.baseDir
}

// withWriteLock executes fn while holding the in-process mutex and an
// exclusive cross-process file lock.
func (db *DB) withWriteLock(fn func() error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	locker := newWriteLocker(db.baseDir)
	if err := locker.acquire(defaultTimeout); err != nil {
		return err
	}
	defer locker.release()

	return fn()
}
