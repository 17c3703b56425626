package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
)

// ErrStoreReset signals that structural drift forced a destructive reset.
// The store has been wiped and recreated from the full catalog; the caller
// must re-run its initialization (reload reference data) exactly once.
var ErrStoreReset = errors.New("store was reset and recreated")

// Migration adds partitions at a schema version. Upgrades are additive only:
// a version bump creates partitions, it never drops them.
type Migration struct {
	Version       int64
	AddPartitions []string
}

// Catalog returns the union of partitions across all migrations — the set
// that must exist for the store to be structurally sound.
func Catalog(migrations []Migration) []string {
	seen := map[string]bool{}
	var names []string
	for _, m := range migrations {
		for _, p := range m.AddPartitions {
			if !seen[p] {
				seen[p] = true
				names = append(names, p)
			}
		}
	}
	return names
}

func latestVersion(migrations []Migration) int64 {
	var v int64
	for _, m := range migrations {
		if m.Version > v {
			v = m.Version
		}
	}
	return v
}

// Two windows opening the same database file must not race a destructive
// reset against each other, so opens serialize per path.
var (
	openMu    sync.Mutex
	openLocks = map[string]*sync.Mutex{}
)

func lockFor(path string) *sync.Mutex {
	openMu.Lock()
	defer openMu.Unlock()
	l, ok := openLocks[path]
	if !ok {
		l = &sync.Mutex{}
		openLocks[path] = l
	}
	return l
}

// Open opens the store at cfg.Path and brings its schema up to the latest
// migration version. Missing partitions are created additively. If a catalog
// partition is still missing after the upgrade (an interrupted prior upgrade
// left the registry inconsistent), the store is destructively reset and
// ErrStoreReset is returned; the returned *Store is nil in that case and the
// caller should call Open again.
func Open(ctx context.Context, cfg Config, migrations []Migration) (*Store, error) {
	l := lockFor(cfg.Path)
	l.Lock()
	defer l.Unlock()

	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, path: cfg.Path}

	if err := s.ensureBaseTables(ctx); err != nil {
		db.Close()
		return nil, err
	}

	current, err := s.schemaVersion(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}
	target := latestVersion(migrations)

	if current < target {
		if err := s.applyMigrations(ctx, migrations, current); err != nil {
			db.Close()
			return nil, err
		}
	}

	// Drift check: every catalog partition must be registered by now.
	missing, err := s.missingPartitions(ctx, Catalog(migrations))
	if err != nil {
		db.Close()
		return nil, err
	}
	if len(missing) > 0 {
		// Not a normal upgrade. Something structural is wrong with this
		// database and the only safe recovery is to start over.
		log.Printf("[store] DESTRUCTIVE RESET of %s: missing partitions %v (version %d, target %d)",
			cfg.Path, missing, current, target)
		if err := s.reset(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("destructive reset: %w", err)
		}
		db.Close()
		return nil, ErrStoreReset
	}

	return s, nil
}

func (s *Store) ensureBaseTables(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS kv (
			partition  TEXT NOT NULL,
			k          TEXT NOT NULL,
			v          BLOB,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (partition, k)
		);
		CREATE TABLE IF NOT EXISTS partitions (
			name TEXT PRIMARY KEY
		);
		CREATE TABLE IF NOT EXISTS schema_meta (
			id      INTEGER PRIMARY KEY CHECK (id = 1),
			version INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("create base tables: %w", err)
	}
	return nil
}

func (s *Store) schemaVersion(ctx context.Context) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT version FROM schema_meta WHERE id = 1`).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// applyMigrations runs, in one transaction, every migration above the
// current version in ascending order and records the new version.
func (s *Store) applyMigrations(ctx context.Context, migrations []Migration, current int64) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		applied := current
		for _, m := range migrations {
			if m.Version <= current {
				continue
			}
			for _, p := range m.AddPartitions {
				if _, err := tx.Exec(
					`INSERT INTO partitions (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, p); err != nil {
					return fmt.Errorf("migration %d: add partition %s: %w", m.Version, p, err)
				}
			}
			if m.Version > applied {
				applied = m.Version
			}
			log.Printf("[store] applied migration %d (+%d partitions)", m.Version, len(m.AddPartitions))
		}
		if _, err := tx.Exec(`
			INSERT INTO schema_meta (id, version) VALUES (1, ?)
			ON CONFLICT(id) DO UPDATE SET version = excluded.version
		`, applied); err != nil {
			return fmt.Errorf("record schema version %d: %w", applied, err)
		}
		return nil
	})
}

func (s *Store) missingPartitions(ctx context.Context, catalog []string) ([]string, error) {
	var missing []string
	for _, p := range catalog {
		ok, err := s.HasPartition(ctx, p)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, p)
		}
	}
	return missing, nil
}

// reset wipes every table. The next Open rebuilds from the full catalog.
func (s *Store) reset(ctx context.Context) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM kv`,
			`DELETE FROM partitions`,
			`DELETE FROM schema_meta`,
		} {
			if _, err := tx.Exec(stmt); err != nil {
				return err
			}
		}
		return nil
	})
}
