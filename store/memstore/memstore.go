// Package memstore provides the in-process session backend: a mutex
// protected map with lazy expiry on load and a background sweeper that
// bounds memory growth.
//
// The sweeper never holds the map lock for a full scan. It snapshots the
// key set, then rechecks and evicts one entry at a time, so concurrent
// loads and saves are delayed by at most one entry's critical section.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/nocturnehq/websession/store"
)

const defaultSweepInterval = time.Minute

// Store is a memory-backed [store.Backend]. The handle lives for the
// process lifetime and is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	records map[string]*store.Record

	now       func() time.Time
	interval  time.Duration
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Option configures a Store at construction.
type Option func(*Store)

// WithSweepInterval overrides how often the background sweeper runs.
// Zero or negative disables the sweeper; expiry is then enforced lazily
// on Load only.
func WithSweepInterval(interval time.Duration) Option {
	return func(s *Store) {
		s.interval = interval
	}
}

// WithClock overrides the time source. Tests use it to simulate expiry
// without sleeping.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a memory store and starts its sweeper.
func New(opts ...Option) *Store {
	s := &Store{
		records:  make(map[string]*store.Record),
		now:      time.Now,
		interval: defaultSweepInterval,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.interval > 0 {
		s.wg.Add(1)
		go s.sweepLoop()
	}

	return s
}

// Load implements [store.Backend]. Expiry is checked against the clock on
// every load; a stale entry is evicted on the spot.
func (s *Store) Load(ctx context.Context, id string) (*store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := s.now()

	// Check expiry and copy while still holding the lock: Touch mutates
	// the live record's ExpiresAt in place under the write lock.
	s.mu.RLock()
	rec, ok := s.records[id]
	expired := ok && rec.ExpiredAt(now)
	if ok && !expired {
		rec = rec.Clone()
	}
	s.mu.RUnlock()

	if !ok {
		return nil, store.ErrNotFound
	}
	if expired {
		s.evictIfExpired(id)
		return nil, store.ErrNotFound
	}

	return rec, nil
}

// Save implements [store.Backend].
func (s *Store) Save(ctx context.Context, rec *store.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.ExpiredAt(s.now()) {
		return store.ErrExpired
	}

	s.mu.Lock()
	s.records[rec.ID] = rec.Clone()
	s.mu.Unlock()
	return nil
}

// Create implements [store.Backend].
func (s *Store) Create(ctx context.Context, rec *store.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.ExpiredAt(s.now()) {
		return store.ErrExpired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[rec.ID]; ok && !existing.ExpiredAt(s.now()) {
		return store.ErrConflict
	}
	s.records[rec.ID] = rec.Clone()
	return nil
}

// Delete implements [store.Backend]. Deleting an absent id is a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.records, id)
	s.mu.Unlock()
	return nil
}

// Touch implements [store.Backend].
func (s *Store) Touch(ctx context.Context, id string, expiresAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || rec.ExpiredAt(s.now()) {
		return store.ErrNotFound
	}
	rec.ExpiresAt = expiresAt.Unix()
	return nil
}

// Ping implements [store.Backend]. Memory is always reachable until Close.
func (s *Store) Ping(ctx context.Context) error {
	select {
	case <-s.done:
		return store.ErrUnavailable
	default:
		return ctx.Err()
	}
}

// Close stops the sweeper and drops every record.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()

		s.mu.Lock()
		s.records = make(map[string]*store.Record)
		s.mu.Unlock()
	})
	return nil
}

// Len reports the number of physically held records, expired or not.
// Exposed for sweeper observability and tests.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.done:
			return
		}
	}
}

// sweep evicts expired entries key by key from a snapshot, so the write
// lock is never held across the whole scan.
func (s *Store) sweep() {
	s.mu.RLock()
	keys := make([]string, 0, len(s.records))
	for id := range s.records {
		keys = append(keys, id)
	}
	s.mu.RUnlock()

	for _, id := range keys {
		s.evictIfExpired(id)
	}
}

func (s *Store) evictIfExpired(id string) {
	now := s.now()

	s.mu.Lock()
	if rec, ok := s.records[id]; ok && rec.ExpiredAt(now) {
		delete(s.records, id)
	}
	s.mu.Unlock()
}
