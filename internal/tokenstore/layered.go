package tokenstore

import (
	"context"
	"errors"
	"fmt"
)

// Layered composes stores into a read-fallback chain. Reads and existence
// checks walk the layers in order and return the first hit; a layer failure
// falls through to the next layer (a broken keyring daemon must not mask a
// readable file copy). Writes target the primary layer only — a primary
// write failure surfaces to the caller rather than silently landing in a
// lower layer, because the lifecycle treats "not durably saved in the managed
// store" as failure.
type Layered struct {
	layers []Store
}

// Compile-time check to ensure Layered implements Store
var _ Store = (*Layered)(nil)

// NewLayered creates a Layered store. The first layer is the write target.
func NewLayered(layers ...Store) (*Layered, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("at least one layer required")
	}
	for i, l := range layers {
		if l == nil {
			return nil, fmt.Errorf("layer %d is nil", i)
		}
	}

	return &Layered{
		layers: layers,
	}, nil
}

// Read returns the secret from the first layer that has it. Returns
// ErrNotFound only when every layer misses; a non-absence failure is
// reported if no layer produced a value.
func (l *Layered) Read(ctx context.Context, name string) (string, error) {
	var firstErr error
	for _, layer := range l.layers {
		value, err := layer.Read(ctx, name)
		if err == nil {
			return value, nil
		}
		if !errors.Is(err, ErrNotFound) && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return "", firstErr
	}
	return "", fmt.Errorf("%w: %s (all layers)", ErrNotFound, name)
}

// Write persists the secret to the primary layer.
func (l *Layered) Write(ctx context.Context, name string, value string) error {
	return l.layers[0].Write(ctx, name, value)
}

// Exists reports whether any layer holds the secret.
func (l *Layered) Exists(ctx context.Context, name string) (bool, error) {
	var firstErr error
	for _, layer := range l.layers {
		ok, err := layer.Exists(ctx, name)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, firstErr
}
