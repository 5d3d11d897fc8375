package tokenstore

import (
	"context"
	"errors"
)

// ErrNotFound reports that a named secret is absent from a store, as opposed
// to the store itself failing. Callers treat absence and failure differently:
// absence is a normal lifecycle state, failure is not.
var ErrNotFound = errors.New("tokenstore: secret not found")

// ErrReadOnly reports a write attempt against a read-only backend.
var ErrReadOnly = errors.New("tokenstore: store is read-only")

// Store reads and writes named secrets to persistent storage.
//
// The token lifecycle requires writable storage for its primary layer.
type Store interface {
	// Read returns the secret stored under name. Returns ErrNotFound if the
	// secret is absent or empty.
	Read(ctx context.Context, name string) (string, error)

	// Write persists the secret under name, overwriting any existing value.
	// Returns ErrReadOnly for read-only backends.
	Write(ctx context.Context, name string, value string) error

	// Exists reports whether a non-empty secret is stored under name.
	Exists(ctx context.Context, name string) (bool, error)
}
