package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreRoundtrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	if _, ok, err := store.Load(ctx, "robinhood1"); err != nil || ok {
		t.Fatalf("Load before Save: ok=%v err=%v, want miss", ok, err)
	}

	payload := []byte(`{"access_token":"abc"}`)
	if err := store.Save(ctx, "robinhood1", payload); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, ok, err := store.Load(ctx, "robinhood1")
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if string(loaded) != string(payload) {
		t.Errorf("Load = %s, want %s", loaded, payload)
	}

	if err := store.Delete(ctx, "robinhood1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := store.Load(ctx, "robinhood1"); ok {
		t.Error("Load after Delete should miss")
	}
}

func TestFileStorePermissions(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	if err := store.Save(ctx, "schwab1", []byte("secret")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, "schwab1.json"))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file mode = %o, want 600", perm)
	}
}

func TestFileStoreRejectsBadKeys(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	for _, key := range []string{"", "../escape", "Upper", "has space"} {
		if err := store.Save(ctx, key, []byte("x")); err == nil {
			t.Errorf("Save(%q) accepted an invalid key", key)
		}
	}
}

func TestFileStoreDeleteMissingIsNoop(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	if err := store.Delete(ctx, "never-saved"); err != nil {
		t.Errorf("Delete missing key: %v", err)
	}
}
