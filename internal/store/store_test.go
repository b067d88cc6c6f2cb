package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func newSQLite(t *testing.T, quota int64) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "kv.db"), quota)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func backends(t *testing.T, quota int64) map[string]KV {
	t.Helper()
	kvs := map[string]KV{
		"memory": NewMemory(quota),
		"sqlite": newSQLite(t, quota),
	}
	if url := os.Getenv("TEST_REDIS_URL"); url != "" {
		r, err := NewRedis(url, quota)
		if err != nil {
			t.Fatalf("NewRedis failed: %v", err)
		}
		ctx := context.Background()
		_ = r.Delete(ctx, "k")
		_ = r.Delete(ctx, "other")
		t.Cleanup(func() { _ = r.Close() })
		kvs["redis"] = r
	}
	return kvs
}

func TestKVRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, kv := range backends(t, 0) {
		t.Run(name, func(t *testing.T) {
			if _, err := kv.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound for missing key, got %v", err)
			}
			if err := kv.Set(ctx, "k", []byte("v1")); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			if err := kv.Set(ctx, "k", []byte("v2")); err != nil {
				t.Fatalf("overwrite failed: %v", err)
			}
			got, err := kv.Get(ctx, "k")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if string(got) != "v2" {
				t.Errorf("expected v2, got %q", got)
			}
			if err := kv.Delete(ctx, "k"); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			if _, err := kv.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound after delete, got %v", err)
			}
			if err := kv.Delete(ctx, "k"); err != nil {
				t.Errorf("deleting a missing key should succeed, got %v", err)
			}
		})
	}
}

func TestKVQuota(t *testing.T) {
	ctx := context.Background()
	for name, kv := range backends(t, 100) {
		t.Run(name, func(t *testing.T) {
			if err := kv.Set(ctx, "other", []byte(strings.Repeat("a", 40))); err != nil {
				t.Fatalf("Set within quota failed: %v", err)
			}
			err := kv.Set(ctx, "k", []byte(strings.Repeat("b", 60)))
			if !errors.Is(err, ErrQuotaExceeded) {
				t.Fatalf("expected ErrQuotaExceeded, got %v", err)
			}
			if _, err := kv.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
				t.Errorf("rejected write must not be stored, got %v", err)
			}
			// Replacing a key only counts its new size.
			if err := kv.Set(ctx, "other", []byte(strings.Repeat("c", 90))); err != nil {
				t.Errorf("overwrite within quota failed: %v", err)
			}
		})
	}
}

func TestKVQuotaConcurrentGrowth(t *testing.T) {
	ctx := context.Background()
	for name, kv := range backends(t, 100) {
		t.Run(name, func(t *testing.T) {
			for _, key := range []string{"k", "other"} {
				if err := kv.Set(ctx, key, []byte("x")); err != nil {
					t.Fatalf("seed %s failed: %v", key, err)
				}
			}

			// Either write fits alone; both together exceed the quota.
			keys := []string{"k", "other"}
			errs := make([]error, len(keys))
			var wg sync.WaitGroup
			for i, key := range keys {
				wg.Add(1)
				go func(i int, key string) {
					defer wg.Done()
					errs[i] = kv.Set(ctx, key, []byte(strings.Repeat("g", 60)))
				}(i, key)
			}
			wg.Wait()

			rejected := 0
			for _, err := range errs {
				switch {
				case errors.Is(err, ErrQuotaExceeded):
					rejected++
				case err != nil:
					t.Fatalf("unexpected Set error: %v", err)
				}
			}
			if rejected != 1 {
				t.Errorf("expected exactly one write rejected, got %d", rejected)
			}

			var used int
			for _, key := range keys {
				v, err := kv.Get(ctx, key)
				if err != nil {
					t.Fatalf("Get %s failed: %v", key, err)
				}
				used += len(key) + len(v)
			}
			if used > 100 {
				t.Errorf("stored %d bytes, quota is 100", used)
			}
		})
	}
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "kv.db")
	s, err := NewSQLite(path, 0)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	if err := s.Set(ctx, "chat-history", []byte(`{"messages":[]}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s, err = NewSQLite(path, 0)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer func() { _ = s.Close() }()
	got, err := s.Get(ctx, "chat-history")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if string(got) != `{"messages":[]}` {
		t.Errorf("unexpected value after reopen: %q", got)
	}
}
