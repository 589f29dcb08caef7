// Package store defines the session persistence contract shared by every
// backend: an atomic upsert-with-TTL, expiry-aware loads, idempotent
// deletes, and a payload-free TTL refresh for sliding expiration.
//
// # Record payload
//
// Records are serialized through a [Codec] chosen once at startup: a
// compact binary format (the default) or msgpack. Both encodings carry a
// leading format byte so a deployment can be migrated from one to the
// other without flushing live sessions — decoders accept either format
// regardless of which one they write.
//
// # Architecture boundaries
//
// This package owns the [Backend] contract, the [Record] model, and the
// record codecs. It does NOT generate identifiers, sign cookies, or decide
// session policy — those belong to internal/sid, cookie, and the Manager.
//
// # What this package must NOT do
//
//   - Import websession, cookie, or middleware (no upward imports).
//   - Let backend-specific types leak through the Backend interface.
//   - Return a Record whose expiry has already passed.
package store

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by all backends. Adapters wrap transport detail
// with fmt.Errorf("%w: %v", ErrUnavailable, err) so callers can branch on
// the category without parsing driver errors.
var (
	// ErrNotFound is returned by Load and Touch when the identifier has no
	// live record, either because none was saved or because it expired.
	ErrNotFound = errors.New("session record not found")
	// ErrConflict is returned by Create when the identifier is already
	// taken. Persistent conflicts indicate a broken entropy source.
	ErrConflict = errors.New("session id already exists")
	// ErrUnavailable is returned when the backend cannot be reached after
	// the bounded retry budget is spent.
	ErrUnavailable = errors.New("session store unavailable")
	// ErrExpired is returned by Save and Create when the record's expiry
	// is not in the future.
	ErrExpired = errors.New("session record already expired")
)

// Backend persists session records keyed by identifier. One shared handle
// serves all in-flight requests; implementations own their connection
// lifecycle and must be safe for concurrent use.
type Backend interface {
	// Load returns the live record for id, or ErrNotFound if the id is
	// absent or expired. Backends may refresh nothing on Load; sliding
	// expiration is the Manager's job via Touch or Save.
	Load(ctx context.Context, id string) (*Record, error)

	// Save upserts rec and sets its remaining TTL in one atomic step.
	// There is no intermediate state where the record exists without its
	// current TTL.
	Save(ctx context.Context, rec *Record) error

	// Create saves rec only if its identifier is unclaimed, returning
	// ErrConflict otherwise. Used on session creation so identifier
	// collisions surface instead of silently adopting a stranger's data.
	Create(ctx context.Context, rec *Record) error

	// Delete removes the record. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error

	// Touch moves the record's expiry to expiresAt without rewriting the
	// payload. Returns ErrNotFound when no live record exists.
	Touch(ctx context.Context, id string, expiresAt time.Time) error

	// Ping reports point-in-time backend reachability.
	Ping(ctx context.Context) error

	// Close releases the backend's resources. The handle is unusable
	// afterwards.
	Close() error
}
