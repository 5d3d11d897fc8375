package tokenstore

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// EnvStore provides read-only access to secrets stored in environment
// variables. A last-resort layer: suitable for bootstrapping a pre-issued
// token into a fresh deployment, not for anything the lifecycle must write.
type EnvStore struct {
	prefix string
}

// Compile-time check to ensure EnvStore implements Store
var _ Store = (*EnvStore)(nil)

// NewEnvStore creates an EnvStore. Secret names map to environment variables
// as PREFIX + upper-cased name with '-' replaced by '_' (e.g. prefix
// "TOKENWARD_SECRET_" and name "prod-oauth" → TOKENWARD_SECRET_PROD_OAUTH).
func NewEnvStore(prefix string) (*EnvStore, error) {
	if prefix == "" {
		return nil, fmt.Errorf("environment prefix cannot be empty")
	}

	return &EnvStore{
		prefix: prefix,
	}, nil
}

func (e *EnvStore) key(name string) string {
	return e.prefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// Read returns the secret from the environment variable. Returns ErrNotFound
// if unset or empty.
func (e *EnvStore) Read(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	value := os.Getenv(e.key(name))
	if value == "" {
		return "", fmt.Errorf("%w: environment variable %s", ErrNotFound, e.key(name))
	}
	return value, nil
}

// Write is not supported for environment variables (they are read-only).
func (e *EnvStore) Write(ctx context.Context, name string, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return fmt.Errorf("%w: environment variable %s", ErrReadOnly, e.key(name))
}

// Exists reports whether the environment variable is set and non-empty.
func (e *EnvStore) Exists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	return os.Getenv(e.key(name)) != "", nil
}
