package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"mailmind/core/port/out"
)

// exercise runs the EntryStore contract shared by every implementation.
func exercise(t *testing.T, s out.EntryStore) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)

	// Absent entry reads as (nil, nil).
	data, err := s.Entry(ctx, "missing")
	if err != nil || data != nil {
		t.Fatalf("Entry(missing) = %v, %v; want nil, nil", data, err)
	}

	if err := s.PutEntry(ctx, "m1", []byte(`{"v":1}`), out.IndexEntry{Timestamp: now, Status: out.StatusOK}); err != nil {
		t.Fatalf("PutEntry: %v", err)
	}
	data, err = s.Entry(ctx, "m1")
	if err != nil {
		t.Fatalf("Entry(m1): %v", err)
	}
	if string(data) != `{"v":1}` {
		t.Errorf("Entry(m1) = %q", data)
	}

	// Error markers replace any payload and flip the index status.
	if err := s.PutIndexOnly(ctx, "m1", out.IndexEntry{Timestamp: now, Status: out.StatusError}); err != nil {
		t.Fatalf("PutIndexOnly: %v", err)
	}
	data, err = s.Entry(ctx, "m1")
	if err != nil || data != nil {
		t.Fatalf("Entry after PutIndexOnly = %v, %v; want nil, nil", data, err)
	}

	if err := s.PutEntry(ctx, "m2", []byte(`{"v":2}`), out.IndexEntry{Timestamp: now, Status: out.StatusOK}); err != nil {
		t.Fatalf("PutEntry m2: %v", err)
	}

	index, err := s.Index(ctx)
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if len(index) != 2 {
		t.Fatalf("Index has %d records, want 2", len(index))
	}
	if index["m1"].Status != out.StatusError {
		t.Errorf("m1 status = %q, want %q", index["m1"].Status, out.StatusError)
	}
	if index["m2"].Status != out.StatusOK {
		t.Errorf("m2 status = %q, want %q", index["m2"].Status, out.StatusOK)
	}
	if got := index["m2"].Timestamp; !got.Equal(now) {
		t.Errorf("m2 timestamp = %v, want %v", got, now)
	}

	// Delete removes both namespaces and is idempotent.
	if err := s.Delete(ctx, "m1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "m1"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	index, _ = s.Index(ctx)
	if _, ok := index["m1"]; ok {
		t.Error("m1 still indexed after Delete")
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	index, _ = s.Index(ctx)
	if len(index) != 0 {
		t.Errorf("Index has %d records after Clear, want 0", len(index))
	}
	data, _ = s.Entry(ctx, "m2")
	if data != nil {
		t.Error("m2 payload survived Clear")
	}
}

func TestMemoryStore(t *testing.T) {
	exercise(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close()
	exercise(t, s)
}

func TestSQLiteStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	idx := out.IndexEntry{Timestamp: time.Now().Truncate(time.Millisecond), Status: out.StatusOK}
	if err := s.PutEntry(ctx, "m1", []byte(`{"v":1}`), idx); err != nil {
		t.Fatalf("PutEntry: %v", err)
	}
	s.Close()

	// Data and schema version survive a reopen.
	s, err = NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	data, err := s.Entry(ctx, "m1")
	if err != nil {
		t.Fatalf("Entry after reopen: %v", err)
	}
	if string(data) != `{"v":1}` {
		t.Errorf("Entry after reopen = %q", data)
	}
}
