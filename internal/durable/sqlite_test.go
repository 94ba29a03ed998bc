package durable

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestSQLite(t *testing.T, path string) *SQLiteKV {
	t.Helper()
	kv, err := OpenSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { kv.Close() })
	return kv
}

func TestSQLiteKV_GetSetDelete(t *testing.T) {
	kv := openTestSQLite(t, ":memory:")
	ctx := context.Background()

	if _, ok, err := kv.Get(ctx, "missing"); ok || err != nil {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}

	if err := kv.Set(ctx, "k", []byte("one")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := kv.Set(ctx, "k", []byte("two")); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}

	got, ok, err := kv.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if string(got) != "two" {
		t.Errorf("expected overwritten value, got %q", got)
	}

	if err := kv.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := kv.Delete(ctx, "k"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if _, ok, _ := kv.Get(ctx, "k"); ok {
		t.Error("expected miss after delete")
	}
}

func TestSQLiteKV_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	first, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	a, _ := New(first, Config{TTL: time.Hour})
	a.Set(ctx, "report", []int{1, 2, 3}, 0)
	first.Close()

	second := openTestSQLite(t, path)
	b, _ := New(second, Config{TTL: time.Hour})

	var got []int
	if !b.Get(ctx, "report", &got) {
		t.Fatal("expected record to survive reopening the database")
	}
	if len(got) != 3 || got[2] != 3 {
		t.Errorf("unexpected value %v", got)
	}
}

func TestSQLiteKV_Ping(t *testing.T) {
	kv := openTestSQLite(t, ":memory:")
	if err := kv.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
