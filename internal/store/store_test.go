package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

var testMigrations = []Migration{
	{Version: 1, AddPartitions: []string{"products", "metadata"}},
	{Version: 2, AddPartitions: []string{"taxes"}},
}

func openTestStore(t *testing.T, migrations []Migration) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pos.db")
	s, err := Open(context.Background(), DefaultConfig(path), migrations)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func pragmaValue(t *testing.T, s *Store, name string) string {
	t.Helper()
	var value string
	if err := s.DB().QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		t.Fatalf("query pragma %s: %v", name, err)
	}
	return value
}

func TestOpen_AppliesPragmas(t *testing.T) {
	s := openTestStore(t, testMigrations)

	if got := pragmaValue(t, s, "journal_mode"); got != "wal" {
		t.Fatalf("journal_mode = %q, expected wal", got)
	}
	// NORMAL = 1
	if got := pragmaValue(t, s, "synchronous"); got != "1" {
		t.Fatalf("synchronous = %q, expected 1", got)
	}
	if got := pragmaValue(t, s, "busy_timeout"); got != "5000" {
		t.Fatalf("busy_timeout = %q, expected 5000", got)
	}
}

func TestPutGet_RoundTrip(t *testing.T) {
	s := openTestStore(t, testMigrations)
	ctx := context.Background()

	if err := s.Put(ctx, "products", "7", []byte(`{"id":7}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.Get(ctx, "products", "7")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != `{"id":7}` {
		t.Fatalf("unexpected blob: %s", got)
	}
}

func TestGet_Missing(t *testing.T) {
	s := openTestStore(t, testMigrations)

	_, err := s.Get(context.Background(), "products", "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPut_UnknownPartition(t *testing.T) {
	s := openTestStore(t, testMigrations)

	err := s.Put(context.Background(), "ghost", "1", []byte(`{}`))
	if !errors.Is(err, ErrNoPartition) {
		t.Fatalf("expected ErrNoPartition, got %v", err)
	}
}

func TestPut_Overwrite(t *testing.T) {
	s := openTestStore(t, testMigrations)
	ctx := context.Background()

	if err := s.Put(ctx, "products", "7", []byte(`old`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(ctx, "products", "7", []byte(`new`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, _ := s.Get(ctx, "products", "7")
	if string(got) != "new" {
		t.Fatalf("expected overwrite, got %s", got)
	}
	n, _ := s.Count(ctx, "products")
	if n != 1 {
		t.Fatalf("expected single entry after overwrite, got %d", n)
	}
}

func TestGetAll_KeyOrderAndEmpty(t *testing.T) {
	s := openTestStore(t, testMigrations)
	ctx := context.Background()

	blobs, err := s.GetAll(ctx, "products")
	if err != nil {
		t.Fatalf("get all empty: %v", err)
	}
	if len(blobs) != 0 {
		t.Fatalf("expected empty partition, got %d blobs", len(blobs))
	}

	_ = s.Put(ctx, "products", "b", []byte("2"))
	_ = s.Put(ctx, "products", "a", []byte("1"))

	blobs, err = s.GetAll(ctx, "products")
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if len(blobs) != 2 || string(blobs[0]) != "1" || string(blobs[1]) != "2" {
		t.Fatalf("unexpected blobs: %v", blobs)
	}
}

func TestDeleteAndClear(t *testing.T) {
	s := openTestStore(t, testMigrations)
	ctx := context.Background()

	_ = s.Put(ctx, "products", "1", []byte("a"))
	_ = s.Put(ctx, "products", "2", []byte("b"))

	if err := s.Delete(ctx, "products", "1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "products", "1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected deleted key to be gone, got %v", err)
	}

	if err := s.Clear(ctx, "products"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	n, _ := s.Count(ctx, "products")
	if n != 0 {
		t.Fatalf("expected cleared partition, got %d entries", n)
	}
	// the partition stays registered after a clear
	ok, _ := s.HasPartition(ctx, "products")
	if !ok {
		t.Fatalf("clear must not drop the partition itself")
	}
}
