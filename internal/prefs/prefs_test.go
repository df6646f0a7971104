package prefs

import (
	"path/filepath"
	"testing"
)

func TestOpenMissingFile(t *testing.T) {
	t.Parallel()
	p, err := Open(filepath.Join(t.TempDir(), "assetcache.yml"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if got := p.CacheLimit(); got != 0 {
		t.Fatalf("CacheLimit() = %d, want 0 for fresh prefs", got)
	}
	if p.DownloadsLocked() {
		t.Fatal("DownloadsLocked() = true for fresh prefs")
	}
}

func TestPersistence(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "assetcache.yml")

	p, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := p.SetCacheLimit(500 << 20); err != nil {
		t.Fatalf("SetCacheLimit() error = %v", err)
	}
	if err := p.SetSortOrder("oldest_first"); err != nil {
		t.Fatalf("SetSortOrder() error = %v", err)
	}
	if err := p.SetStorage("external", "/mnt/sdcard"); err != nil {
		t.Fatalf("SetStorage() error = %v", err)
	}
	if err := p.SetDownloadsLocked(true); err != nil {
		t.Fatalf("SetDownloadsLocked() error = %v", err)
	}
	if err := p.SetSizes(1024, 2048); err != nil {
		t.Fatalf("SetSizes() error = %v", err)
	}

	q, err := Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	if got := q.CacheLimit(); got != 500<<20 {
		t.Fatalf("CacheLimit() = %d after reopen, want %d", got, int64(500<<20))
	}
	if got := q.SortOrder(); got != "oldest_first" {
		t.Fatalf("SortOrder() = %q after reopen", got)
	}
	kind, sp := q.Storage()
	if kind != "external" || sp != "/mnt/sdcard" {
		t.Fatalf("Storage() = (%q, %q) after reopen", kind, sp)
	}
	if !q.DownloadsLocked() {
		t.Fatal("DownloadsLocked() = false after reopen, want true")
	}
	db, assets := q.Sizes()
	if db != 1024 || assets != 2048 {
		t.Fatalf("Sizes() = (%d, %d) after reopen, want (1024, 2048)", db, assets)
	}
}

func TestNextCleanupCounter(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "assetcache.yml")
	p, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	a, err := p.NextCleanupCounter()
	if err != nil {
		t.Fatalf("NextCleanupCounter() error = %v", err)
	}
	b, err := p.NextCleanupCounter()
	if err != nil {
		t.Fatalf("NextCleanupCounter() error = %v", err)
	}
	if b != a+1 {
		t.Fatalf("counter advanced from %d to %d, want +1", a, b)
	}

	// The counter survives a reopen.
	q, err := Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	c, err := q.NextCleanupCounter()
	if err != nil {
		t.Fatalf("NextCleanupCounter() after reopen error = %v", err)
	}
	if c != b+1 {
		t.Fatalf("counter after reopen = %d, want %d", c, b+1)
	}
}
