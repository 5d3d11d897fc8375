package tokenstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore provides atomic file-based secret storage with secure
// permissions. Each named secret is one file under the store directory;
// writes use temp file + rename for crash safety.
type FileStore struct {
	dir string
}

// Compile-time check to ensure FileStore implements Store
var _ Store = (*FileStore)(nil)

// NewFileStore creates a FileStore rooted at dir, creating it with 0700
// permissions if it doesn't exist.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("directory cannot be empty")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	return &FileStore{
		dir: dir,
	}, nil
}

func (f *FileStore) path(name string) string {
	// Flatten any path separators so a name can never escape the store dir.
	return filepath.Join(f.dir, strings.ReplaceAll(name, string(filepath.Separator), "_"))
}

// Read returns the stored secret after trimming whitespace. Returns
// ErrNotFound if the file doesn't exist or is empty, an error if it has
// insecure permissions.
func (f *FileStore) Read(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path := f.path(name)

	// Check file permissions before reading
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return "", err
	}
	if info.Mode().Perm() != 0600 {
		return "", fmt.Errorf("insecure permissions on %s: %04o (expected 0600)", path, info.Mode().Perm())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	value := strings.TrimSpace(string(data))
	if value == "" {
		return "", fmt.Errorf("%w: empty file %s", ErrNotFound, path)
	}
	return value, nil
}

// Write atomically saves the secret using temp file + rename for crash
// safety. Sets file permissions to 0600 (owner read/write only).
func (f *FileStore) Write(ctx context.Context, name string, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := f.path(name)

	// Create secure temp file in same directory for atomic rename
	tempFile, err := os.CreateTemp(f.dir, "*.tmp")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	// Cleanup deferred for all exit paths
	defer func() { _ = os.Remove(tempName) }()
	defer func() { _ = tempFile.Close() }()

	if _, err := tempFile.Write([]byte(strings.TrimSpace(value) + "\n")); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tempName, 0600); err != nil {
		return err
	}

	// Atomic rename to final location
	if err := os.Rename(tempName, path); err != nil {
		return err
	}

	return nil
}

// Exists reports whether a non-empty secret file is present.
func (f *FileStore) Exists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	info, err := os.Stat(f.path(name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Size() > 0, nil
}
