package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/finchsec/tokenward/internal/tokenstore"
)

// Naming maps environments to secret names in the backing store. Injectable
// so deployments can follow their own secret-naming conventions.
type Naming struct {
	OAuth   func(Environment) string
	Request func(Environment) string
}

// DefaultNaming uses "{env}-oauth" and "{env}-request".
func DefaultNaming() Naming {
	return Naming{
		OAuth:   func(env Environment) string { return string(env) + "-oauth" },
		Request: func(env Environment) string { return string(env) + "-request" },
	}
}

// Tracker is the durable read/write layer for per-environment credential
// state. It is the only component that touches record serialization; decode
// failures map to "absent" so status derivation stays total and fail-safe.
type Tracker struct {
	store  tokenstore.Store
	naming Naming
}

// NewTracker creates a Tracker over the given store.
func NewTracker(store tokenstore.Store, naming Naming) (*Tracker, error) {
	if store == nil {
		return nil, fmt.Errorf("missing token store")
	}
	if naming.OAuth == nil || naming.Request == nil {
		return nil, fmt.Errorf("incomplete secret naming")
	}

	return &Tracker{
		store:  store,
		naming: naming,
	}, nil
}

// Get returns the persisted access-token record for the environment. The
// second return is false when no usable record exists; a corrupt or
// wrong-version record is reported as absent, not as an error.
func (t *Tracker) Get(ctx context.Context, env Environment) (*AccessTokenRecord, bool, error) {
	raw, err := t.store.Read(ctx, t.naming.OAuth(env))
	if errors.Is(err, tokenstore.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var rec AccessTokenRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		slog.WarnContext(ctx, "discarding undecodable access token record",
			"environment", env, "error", err)
		return nil, false, nil
	}
	if rec.SchemaVersion != recordSchemaVersion {
		slog.WarnContext(ctx, "discarding access token record with unknown schema version",
			"environment", env, "schema_version", rec.SchemaVersion)
		return nil, false, nil
	}

	return &rec, true, nil
}

// Put durably persists the record, overwriting any previous one. A write
// failure is a PersistenceError: callers must not report success past it.
func (t *Tracker) Put(ctx context.Context, env Environment, rec *AccessTokenRecord) error {
	rec.SchemaVersion = recordSchemaVersion
	rec.Environment = env

	raw, err := json.Marshal(rec)
	if err != nil {
		return &PersistenceError{Environment: env, Cause: err}
	}
	if err := t.store.Write(ctx, t.naming.OAuth(env), string(raw)); err != nil {
		return &PersistenceError{Environment: env, Cause: err}
	}
	return nil
}

// TouchLastUsed updates the record's last-used timestamp. Failures only
// degrade renewal-scheduling accuracy; callers log and move on, they never
// block a primary request on this.
func (t *Tracker) TouchLastUsed(ctx context.Context, env Environment, now time.Time) error {
	rec, ok, err := t.Get(ctx, env)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	rec.LastUsedAt = now.UTC()
	return t.Put(ctx, env, rec)
}

// getPending returns the persisted pending-flow state, if any. Corrupt blobs
// read as absent, same as records.
func (t *Tracker) getPending(ctx context.Context, env Environment) (*pendingFlow, bool) {
	raw, err := t.store.Read(ctx, t.naming.Request(env))
	if err != nil {
		if !errors.Is(err, tokenstore.ErrNotFound) {
			slog.WarnContext(ctx, "reading pending flow state", "environment", env, "error", err)
		}
		return nil, false
	}

	var p pendingFlow
	if err := json.Unmarshal([]byte(raw), &p); err != nil || p.SchemaVersion != recordSchemaVersion {
		return nil, false
	}
	return &p, true
}

// putPending persists pending-flow state; it must be durable because the
// matching complete may run in a different replica.
func (t *Tracker) putPending(ctx context.Context, env Environment, p *pendingFlow) error {
	p.SchemaVersion = recordSchemaVersion
	p.Environment = env

	raw, err := json.Marshal(p)
	if err != nil {
		return &PersistenceError{Environment: env, Cause: err}
	}
	if err := t.store.Write(ctx, t.naming.Request(env), string(raw)); err != nil {
		return &PersistenceError{Environment: env, Cause: err}
	}
	return nil
}

// clearPending marks the pending flow consumed. Best-effort: the state
// machine already prefers a fresh access token over any pending blob.
func (t *Tracker) clearPending(ctx context.Context, env Environment) {
	if err := t.putPending(ctx, env, &pendingFlow{}); err != nil {
		slog.WarnContext(ctx, "clearing pending flow state", "environment", env, "error", err)
	}
}

// Marker reads a named dedup marker. Absence is an empty string, not an
// error, so scheduler ticks stay total.
func (t *Tracker) Marker(ctx context.Context, name string) (string, error) {
	raw, err := t.store.Read(ctx, name)
	if errors.Is(err, tokenstore.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return raw, nil
}

// SetMarker durably writes a named dedup marker. Markers live in the shared
// store, never in process memory, so concurrent replicas agree on what has
// already been alerted.
func (t *Tracker) SetMarker(ctx context.Context, name, value string) error {
	return t.store.Write(ctx, name, value)
}
