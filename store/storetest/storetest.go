// Package storetest provides a conformance suite that every
// [store.Backend] implementation must pass. Backend packages run it from
// their own tests so the uniform contract stays uniform: the Manager
// never learns which backend it is talking to.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nocturnehq/websession/store"
)

// Factory creates a fresh, empty backend for one test. Cleanup belongs in
// t.Cleanup.
type Factory func(t *testing.T) store.Backend

// Run executes the backend conformance suite against the factory.
// Time-based expiry is deliberately excluded: clock control is backend
// specific, so TTL tests live next to each adapter.
func Run(t *testing.T, factory Factory) {
	t.Run("SaveThenLoadRoundTrip", func(t *testing.T) { testSaveLoad(t, factory) })
	t.Run("LoadAbsentIsNotFound", func(t *testing.T) { testLoadAbsent(t, factory) })
	t.Run("CreateDetectsCollision", func(t *testing.T) { testCreateConflict(t, factory) })
	t.Run("SaveOverwritesLastWriteWins", func(t *testing.T) { testSaveOverwrites(t, factory) })
	t.Run("DeleteIsIdempotent", func(t *testing.T) { testDeleteIdempotent(t, factory) })
	t.Run("TouchAbsentIsNotFound", func(t *testing.T) { testTouchAbsent(t, factory) })
	t.Run("SaveRejectsExpiredRecord", func(t *testing.T) { testSaveExpired(t, factory) })
	t.Run("LoadedRecordIsDetached", func(t *testing.T) { testLoadDetached(t, factory) })
	t.Run("PingSucceeds", func(t *testing.T) { testPing(t, factory) })
}

func newRecord(id string) *store.Record {
	rec := store.NewRecord(id, time.Now(), time.Hour)
	rec.Data["user_id"] = "42"
	return rec
}

func testSaveLoad(t *testing.T, factory Factory) {
	b := factory(t)
	ctx := context.Background()
	rec := newRecord("st-roundtrip")

	if err := b.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := b.Load(ctx, rec.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.ID != rec.ID {
		t.Fatalf("id %q, want %q", loaded.ID, rec.ID)
	}
	if loaded.Data["user_id"] != "42" {
		t.Fatalf("data lost: %+v", loaded.Data)
	}
	if loaded.CreatedAt != rec.CreatedAt || loaded.LastSeenAt != rec.LastSeenAt {
		t.Fatalf("timestamps mangled: %+v", loaded)
	}
	if loaded.ExpiresAt <= loaded.LastSeenAt {
		t.Fatalf("expiry %d not after last-seen %d", loaded.ExpiresAt, loaded.LastSeenAt)
	}
}

func testLoadAbsent(t *testing.T, factory Factory) {
	b := factory(t)

	if _, err := b.Load(context.Background(), "st-never-saved"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testCreateConflict(t *testing.T, factory Factory) {
	b := factory(t)
	ctx := context.Background()

	if err := b.Create(ctx, newRecord("st-conflict")); err != nil {
		t.Fatalf("first create: %v", err)
	}

	second := newRecord("st-conflict")
	second.Data["user_id"] = "99"
	if err := b.Create(ctx, second); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	loaded, err := b.Load(ctx, "st-conflict")
	if err != nil {
		t.Fatalf("load after conflict: %v", err)
	}
	if loaded.Data["user_id"] != "42" {
		t.Fatalf("conflicting create clobbered data: %+v", loaded.Data)
	}
}

func testSaveOverwrites(t *testing.T, factory Factory) {
	b := factory(t)
	ctx := context.Background()

	rec := newRecord("st-overwrite")
	if err := b.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	updated := rec.Clone()
	updated.Data["user_id"] = "7"
	if err := b.Save(ctx, updated); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	loaded, err := b.Load(ctx, rec.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Data["user_id"] != "7" {
		t.Fatalf("expected last write to win, got %+v", loaded.Data)
	}
}

func testDeleteIdempotent(t *testing.T, factory Factory) {
	b := factory(t)
	ctx := context.Background()

	rec := newRecord("st-delete")
	if err := b.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := b.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := b.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, err := b.Load(ctx, rec.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func testTouchAbsent(t *testing.T, factory Factory) {
	b := factory(t)

	err := b.Touch(context.Background(), "st-untouchable", time.Now().Add(time.Hour))
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testSaveExpired(t *testing.T, factory Factory) {
	b := factory(t)
	ctx := context.Background()

	rec := store.NewRecord("st-stale", time.Now().Add(-2*time.Hour), time.Hour)
	if err := b.Save(ctx, rec); !errors.Is(err, store.ErrExpired) {
		t.Fatalf("expected ErrExpired on save, got %v", err)
	}
	if err := b.Create(ctx, rec); !errors.Is(err, store.ErrExpired) {
		t.Fatalf("expected ErrExpired on create, got %v", err)
	}
}

func testLoadDetached(t *testing.T, factory Factory) {
	b := factory(t)
	ctx := context.Background()

	rec := newRecord("st-detached")
	if err := b.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	first, err := b.Load(ctx, rec.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	first.Data["user_id"] = "tampered"

	second, err := b.Load(ctx, rec.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if second.Data["user_id"] != "42" {
		t.Fatalf("loaded record aliases stored state: %+v", second.Data)
	}
}

func testPing(t *testing.T, factory Factory) {
	b := factory(t)
	if err := b.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
