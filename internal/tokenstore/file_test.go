package tokenstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	if err := store.Write(ctx, "prod-oauth", "  secret-value\n"); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := store.Read(ctx, "prod-oauth")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != "secret-value" {
		t.Errorf("Read = %q, want %q", got, "secret-value")
	}

	ok, err := store.Exists(ctx, "prod-oauth")
	if err != nil || !ok {
		t.Errorf("Exists = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestFileStoreMissing(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	_, err = store.Read(context.Background(), "absent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Read missing = %v, want ErrNotFound", err)
	}

	ok, err := store.Exists(context.Background(), "absent")
	if err != nil || ok {
		t.Errorf("Exists missing = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestFileStoreInsecurePermissions(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	path := filepath.Join(dir, "prod-oauth")
	if err := os.WriteFile(path, []byte("secret"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := store.Read(context.Background(), "prod-oauth"); err == nil {
		t.Error("Read of 0644 file should fail")
	}
}

func TestFileStoreWritePermissions(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	if err := store.Write(context.Background(), "prod-oauth", "secret"); err != nil {
		t.Fatalf("Write: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, "prod-oauth"))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("file mode = %04o, want 0600", info.Mode().Perm())
	}
}

func TestFileStoreNameCannotEscapeDir(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	if err := store.Write(context.Background(), "../escape", "secret"); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if _, err := os.Stat(filepath.Join(filepath.Dir(dir), "escape")); err == nil {
		t.Error("secret written outside store directory")
	}
}
