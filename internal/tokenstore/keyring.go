package tokenstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyringStore provides OS-native secure credential storage. Uses macOS
// Keychain, Windows Credential Manager, or Linux Secret Service. Each named
// secret maps to one keyring entry under the configured service.
type KeyringStore struct {
	service string
}

// Compile-time check to ensure KeyringStore implements Store
var _ Store = (*KeyringStore)(nil)

// NewKeyringStore creates a KeyringStore scoped to the given service
// identifier.
func NewKeyringStore(service string) (*KeyringStore, error) {
	if service == "" {
		return nil, fmt.Errorf("service cannot be empty")
	}

	return &KeyringStore{
		service: service,
	}, nil
}

// Read returns the secret from the system keyring. Returns ErrNotFound if the
// entry is missing or empty.
func (k *KeyringStore) Read(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	value, err := keyring.Get(k.service, name)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("%w: %s/%s", ErrNotFound, k.service, name)
	}
	if err != nil {
		return "", err
	}

	if value == "" {
		return "", fmt.Errorf("%w: empty entry %s/%s", ErrNotFound, k.service, name)
	}

	return value, nil
}

// Write persists the secret to the system keyring, overwriting any existing
// value.
func (k *KeyringStore) Write(ctx context.Context, name string, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return keyring.Set(k.service, name, value)
}

// Exists reports whether a non-empty entry is present in the keyring.
func (k *KeyringStore) Exists(ctx context.Context, name string) (bool, error) {
	_, err := k.Read(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
