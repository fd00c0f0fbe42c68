package accounts

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSharedFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestSynchronizerInitialLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.json")
	writeSharedFile(t, path, `[
		{"id": "a", "refreshToken": "rt-a"},
		{"id": "b", "refreshToken": "rt-b", "status": "disabled"}
	]`)

	pool := NewPool(StrategyRoundRobin, RefreshConfig{}, true)
	sync := NewSynchronizer(path, pool, "us-east-1")

	if err := sync.Sync(true); err != nil {
		t.Fatal(err)
	}
	total, available := pool.Size()
	if total != 2 || available != 1 {
		t.Errorf("size = %d/%d, want 2/1", total, available)
	}
}

func TestSynchronizerMissingFileEmptiesPool(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.json")
	writeSharedFile(t, path, `[{"id": "a", "refreshToken": "rt-a"}]`)

	pool := NewPool(StrategyRoundRobin, RefreshConfig{}, true)
	sync := NewSynchronizer(path, pool, "us-east-1")
	if err := sync.Sync(true); err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := sync.Sync(true); err != nil {
		t.Fatalf("missing file must not be an error: %v", err)
	}
	if total, _ := pool.Size(); total != 0 {
		t.Errorf("pool not emptied: %d accounts remain", total)
	}

	// The file coming back repopulates the pool.
	writeSharedFile(t, path, `[{"id": "a", "refreshToken": "rt-a"}]`)
	if err := sync.Sync(true); err != nil {
		t.Fatal(err)
	}
	if total, _ := pool.Size(); total != 1 {
		t.Errorf("pool not repopulated: %d accounts", total)
	}
}

func TestSynchronizerSkipsUnchangedMtime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.json")
	writeSharedFile(t, path, `[{"id": "a", "refreshToken": "rt-a"}]`)

	pool := NewPool(StrategyRoundRobin, RefreshConfig{}, true)
	sync := NewSynchronizer(path, pool, "us-east-1")
	if err := sync.Sync(true); err != nil {
		t.Fatal(err)
	}

	// A reload would reset this to the file's reported active state, so an
	// invalid account surviving Sync(false) proves the mtime skip.
	pool.MarkInvalid("a")
	if err := sync.Sync(false); err != nil {
		t.Fatal(err)
	}
	list, _ := pool.List()
	if list[0].Status != StatusInvalid {
		t.Error("unforced sync reloaded an unchanged file")
	}

	if err := sync.Sync(true); err != nil {
		t.Fatal(err)
	}
	list, _ = pool.List()
	if list[0].Status != StatusActive {
		t.Error("forced sync did not reload")
	}
}

func TestSynchronizerReloadPreservesCounters(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.json")
	writeSharedFile(t, path, `[{"id": "a", "refreshToken": "rt-a"}]`)

	pool := NewPool(StrategyRoundRobin, RefreshConfig{}, true)
	sync := NewSynchronizer(path, pool, "us-east-1")
	if err := sync.Sync(true); err != nil {
		t.Fatal(err)
	}
	if _, err := pool.Select(); err != nil {
		t.Fatal(err)
	}

	writeSharedFile(t, path, `[
		{"id": "a", "refreshToken": "rt-a"},
		{"id": "b", "refreshToken": "rt-b"}
	]`)
	if err := sync.Sync(true); err != nil {
		t.Fatal(err)
	}

	list, _ := pool.List()
	if len(list) != 2 {
		t.Fatalf("got %d accounts, want 2", len(list))
	}
	if list[0].RequestCount != 1 {
		t.Errorf("requestCount lost across reload: %d", list[0].RequestCount)
	}
}

func TestSynchronizerParseErrorKeepsSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.json")
	writeSharedFile(t, path, `[{"id": "a", "refreshToken": "rt-a"}]`)

	pool := NewPool(StrategyRoundRobin, RefreshConfig{}, true)
	sync := NewSynchronizer(path, pool, "us-east-1")
	if err := sync.Sync(true); err != nil {
		t.Fatal(err)
	}

	writeSharedFile(t, path, `{broken`)
	if err := sync.Sync(true); err == nil {
		t.Fatal("expected parse error")
	}
	if total, _ := pool.Size(); total != 1 {
		t.Errorf("previous snapshot lost on parse failure: %d accounts", total)
	}
}

func TestReadFileTimeout(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.json")
	writeSharedFile(t, path, `[]`)

	data, err := readFileTimeout(path, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `[]` {
		t.Errorf("data = %q", data)
	}
	if _, err := readFileTimeout(filepath.Join(dir, "absent"), time.Second); err == nil {
		t.Error("expected error for missing file")
	}
}
