// Package store persists per-user snapshots of engine state in a key-value backend.
//
// Backends deal in raw bytes. Snapshots layers JSON encoding, per-user namespacing
// and the failure policy on top: remote state is authoritative, so read failures
// surface as "absent" and write failures are logged and reported but never fatal.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a Backend when a key holds no value.
var ErrNotFound = errors.New("snapshot not found")

// Entry is one key/value pair of a batch write.
type Entry struct {
	Key   string
	Value []byte
}

// Backend is a durable key-value store.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// SetBatch writes entries as one unit where the backend supports it, and
	// otherwise in the given order.
	SetBatch(ctx context.Context, entries []Entry) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Logical snapshot keys. Each is namespaced by user id before it reaches a Backend.
const (
	KeyCart          = "cart"
	KeyCoupon        = "coupon"
	KeyNotifications = "notifications"
	KeyNotified      = "notified_transitions"
)
