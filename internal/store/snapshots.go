package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/log"
	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/rs/zerolog"
)

// Snapshots is the typed, user-namespaced view over a Backend.
type Snapshots struct {
	backend Backend
	log     zerolog.Logger
}

func NewSnapshots(backend Backend) *Snapshots {
	return &Snapshots{
		backend: backend,
		log:     log.WithComponent("store"),
	}
}

// Scope returns the namespace for userID. An empty id maps to the guest namespace.
func (s *Snapshots) Scope(userID string) *Scope {
	if userID == "" {
		userID = domain.GuestUserID
	}
	return &Scope{userID: userID, snapshots: s}
}

// Scope reads and writes one user's snapshots. Keys never leak across scopes.
type Scope struct {
	userID    string
	snapshots *Snapshots
}

func (sc *Scope) UserID() string {
	return sc.userID
}

// Key returns the backend key for a logical snapshot key.
func (sc *Scope) Key(key string) string {
	return fmt.Sprintf("%s:%s", key, sc.userID)
}

// Load decodes the snapshot stored under key. Missing, unreadable and undecodable
// snapshots all report ok=false; failures are logged.
func Load[T any](ctx context.Context, sc *Scope, key string) (T, bool) {
	var zero T
	data, err := sc.snapshots.backend.Get(ctx, sc.Key(key))
	if errors.Is(err, ErrNotFound) {
		return zero, false
	}
	if err != nil {
		sc.failed("get", key, err)
		return zero, false
	}

	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		sc.failed("decode", key, err)
		return zero, false
	}
	return value, true
}

// Save encodes value under key. The returned error wraps domain.ErrPersistenceUnavailable
// and has already been logged; callers treat it as informational.
func Save[T any](ctx context.Context, sc *Scope, key string, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return sc.failed("encode", key, err)
	}
	if err := sc.snapshots.backend.Set(ctx, sc.Key(key), data); err != nil {
		return sc.failed("set", key, err)
	}
	return nil
}

// Encode prepares an entry for SaveBatch.
func Encode[T any](sc *Scope, key string, value T) (Entry, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return Entry{}, sc.failed("encode", key, err)
	}
	return Entry{Key: sc.Key(key), Value: data}, nil
}

// SaveBatch writes entries produced by Encode as one unit.
func (sc *Scope) SaveBatch(ctx context.Context, entries ...Entry) error {
	if err := sc.snapshots.backend.SetBatch(ctx, entries); err != nil {
		return sc.failed("set_batch", "batch", err)
	}
	return nil
}

// Remove deletes the snapshot under key.
func (sc *Scope) Remove(ctx context.Context, key string) error {
	if err := sc.snapshots.backend.Delete(ctx, sc.Key(key)); err != nil {
		return sc.failed("delete", key, err)
	}
	return nil
}

func (sc *Scope) failed(op, key string, err error) error {
	metrics.SnapshotErrors.WithLabelValues(op).Inc()
	sc.snapshots.log.Warn().
		Err(err).
		Str("op", op).
		Str("key", key).
		Str("user_id", sc.userID).
		Msg("snapshot store failure ignored")
	return fmt.Errorf("%w: %s %s: %v", domain.ErrPersistenceUnavailable, op, key, err)
}
