package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound indicates no blob exists for the requested key.
var ErrNotFound = errors.New("not found")

// ErrNoPartition indicates a write was attempted against a partition the
// schema never created. Reads treat unknown partitions as empty; writes to
// them are a programming error and are rejected.
var ErrNoPartition = errors.New("partition does not exist")

// Store is partitioned key/value persistence over a single SQLite file.
// Every entry is a blob plus an updated_at stamp; partitions are registered
// rows in the partitions table so schema drift is detectable. Store carries
// no business logic.
type Store struct {
	db   *sql.DB
	path string
}

// Config tunes the underlying SQLite connection.
type Config struct {
	Path        string
	JournalMode string // WAL, DELETE, TRUNCATE, ...
	Synchronous string // OFF, NORMAL, FULL
	BusyTimeout int    // milliseconds
}

// DefaultConfig returns the settings used by a till in production.
func DefaultConfig(path string) Config {
	return Config{
		Path:        path,
		JournalMode: "WAL",
		Synchronous: "NORMAL",
		BusyTimeout: 5000,
	}
}

func openDB(cfg Config) (*sql.DB, error) {
	if cfg.JournalMode == "" {
		cfg.JournalMode = "WAL"
	}
	if cfg.Synchronous == "" {
		cfg.Synchronous = "NORMAL"
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5000
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// The core is a single-writer client; one connection avoids SQLITE_BUSY
	// between interleaved transactions. It also means the pragmas below stick
	// for the lifetime of the pool.
	db.SetMaxOpenConns(1)
	if err := applyPragmas(db, cfg); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// applyPragmas configures the connection. The driver does not interpret
// mattn-style DSN parameters, so tuning has to happen through statements.
func applyPragmas(db *sql.DB, cfg Config) error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA journal_mode = %s", cfg.JournalMode),
		fmt.Sprintf("PRAGMA synchronous = %s", cfg.Synchronous),
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout),
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// DB exposes the raw handle for schema management.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the database file path the store was opened at.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// WithTx runs fn inside a transaction, rolling back on error.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Get fetches the blob stored under (partition, key).
// Returns ErrNotFound when absent; an unknown partition reads as absent.
func (s *Store) Get(ctx context.Context, partition, key string) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT v FROM kv WHERE partition = ? AND k = ?`, partition, key).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", partition, key, err)
	}
	return blob, nil
}

// Put stores blob under (partition, key), replacing any previous value.
// The write is a single transaction: a failure leaves the old blob intact.
func (s *Store) Put(ctx context.Context, partition, key string, blob []byte) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		ok, err := partitionExistsTx(tx, partition)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("put %s/%s: %w", partition, key, ErrNoPartition)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO kv (partition, k, v, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(partition, k) DO UPDATE SET
				v = excluded.v,
				updated_at = excluded.updated_at
		`, partition, key, blob, time.Now().UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("put %s/%s: %w", partition, key, err)
		}
		return nil
	})
}

// GetAll returns every blob in a partition in key order.
// An unknown or empty partition yields an empty slice.
func (s *Store) GetAll(ctx context.Context, partition string) ([][]byte, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT v FROM kv WHERE partition = ? ORDER BY k`, partition)
	if err != nil {
		return nil, fmt.Errorf("get all %s: %w", partition, err)
	}
	defer rows.Close()

	var blobs [][]byte
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return nil, fmt.Errorf("get all %s: %w", partition, err)
		}
		blobs = append(blobs, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get all %s: %w", partition, err)
	}
	return blobs, nil
}

// Delete removes one key from a partition. Deleting an absent key is a no-op.
func (s *Store) Delete(ctx context.Context, partition, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE partition = ? AND k = ?`, partition, key)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", partition, key, err)
	}
	return nil
}

// Clear removes every entry in a partition, leaving the partition registered.
func (s *Store) Clear(ctx context.Context, partition string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE partition = ?`, partition)
	if err != nil {
		return fmt.Errorf("clear %s: %w", partition, err)
	}
	return nil
}

// Count reports the number of entries in a partition.
func (s *Store) Count(ctx context.Context, partition string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM kv WHERE partition = ?`, partition).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", partition, err)
	}
	return n, nil
}

// HasPartition reports whether a partition is registered.
func (s *Store) HasPartition(ctx context.Context, partition string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM partitions WHERE name = ?`, partition).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has partition %s: %w", partition, err)
	}
	return true, nil
}

// Partitions lists every registered partition name.
func (s *Store) Partitions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM partitions ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("list partitions: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func partitionExistsTx(tx *sql.Tx, partition string) (bool, error) {
	var one int
	err := tx.QueryRow(`SELECT 1 FROM partitions WHERE name = ?`, partition).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check partition %s: %w", partition, err)
	}
	return true, nil
}
