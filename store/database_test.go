package store

import (
	"context"
	"os"
	"testing"
	"time"
)

// DatabaseStore tests need PostgreSQL; set LOTTERYKV_TEST_DSN to run them.
func newTestDatabaseStore(t *testing.T) *DatabaseStore {
	t.Helper()
	dsn := os.Getenv("LOTTERYKV_TEST_DSN")
	if dsn == "" {
		t.Skip("LOTTERYKV_TEST_DSN not set")
	}

	ds, err := NewDatabaseStore(dsn, quietLogger())
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}
	t.Cleanup(func() { ds.Close() })

	for _, model := range []any{&StringEntry{}, &SetMember{}, &HashField{}} {
		if err := ds.db.Where("1 = 1").Delete(model).Error; err != nil {
			t.Fatalf("truncate: %v", err)
		}
	}
	return ds
}

func TestDatabaseStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) harness {
		return harness{store: newTestDatabaseStore(t), advance: time.Sleep}
	})
}

func TestDatabaseStoreCleanupExpired(t *testing.T) {
	ds := newTestDatabaseStore(t)
	ctx := context.Background()

	ds.SetWithTTL(ctx, "short", "v", 1)
	ds.Set(ctx, "long", "v")
	time.Sleep(1100 * time.Millisecond)

	if err := ds.CleanupExpired(ctx); err != nil {
		t.Fatalf("CleanupExpired failed: %v", err)
	}

	var count int64
	ds.db.Model(&StringEntry{}).Count(&count)
	if count != 1 {
		t.Errorf("rows after cleanup: got %d, want 1", count)
	}
}

func TestDatabaseStoreConcurrentIncrement(t *testing.T) {
	ds := newTestDatabaseStore(t)
	ctx := context.Background()

	// the key starts absent, so no row exists to lock
	done := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func() {
			var err error
			for j := 0; j < 10 && err == nil; j++ {
				_, err = ds.Increment(ctx, "concurrent", 1)
			}
			done <- err
		}()
	}
	for i := 0; i < 10; i++ {
		if err := <-done; err != nil {
			t.Fatalf("Increment failed: %v", err)
		}
	}

	got, err := ds.Get(ctx, "concurrent")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "100" {
		t.Errorf("concurrent total: got %s, want 100", got)
	}
}

func TestDatabaseStoreIncrementExpiredKey(t *testing.T) {
	ds := newTestDatabaseStore(t)
	ctx := context.Background()

	if err := ds.SetWithTTL(ctx, "counter", "50", 1); err != nil {
		t.Fatalf("SetWithTTL failed: %v", err)
	}
	time.Sleep(1100 * time.Millisecond)

	got, err := ds.Increment(ctx, "counter", 3)
	if err != nil {
		t.Fatalf("Increment failed: %v", err)
	}
	if got != 3 {
		t.Errorf("Increment on expired key = %d, want 3", got)
	}

	var entry StringEntry
	if err := ds.db.Where("key = ?", "counter").First(&entry).Error; err != nil {
		t.Fatalf("load row: %v", err)
	}
	if entry.ExpiresAt != nil {
		t.Errorf("expired TTL carried over: %v", entry.ExpiresAt)
	}
}

func TestLikePrefix(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"draw:", "draw:%"},
		{"100%", `100\%%`},
		{"a_b", `a\_b%`},
		{`c:\`, `c:\\%`},
		{"", "%"},
	}

	for _, tt := range tests {
		if got := likePrefix(tt.prefix); got != tt.want {
			t.Errorf("likePrefix(%q) = %q, want %q", tt.prefix, got, tt.want)
		}
	}
}
