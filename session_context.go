package websession

import (
	"encoding/json"
	"sync"
)

// SessionContext is the request-scoped view of one session. All reads and
// writes between Begin and Finish go through it; writes are buffered
// locally and reach the backend only when Finish runs, so an aborted
// request leaves the stored session untouched.
//
// A context serves exactly one request. Sharing one across requests is a
// caller bug; the internal mutex only covers handler-local concurrency
// (for example a handler fanning out goroutines that share the context).
//
// After Finish every accessor fails with [ErrUseAfterFinish].
type SessionContext struct {
	mu sync.Mutex

	id        string
	createdAt int64

	data      map[string]string
	isNew     bool
	dirty     bool
	rotated   bool
	destroyed bool
	finished  bool
}

// ID returns the session identifier. It stays readable after Finish so
// adapters can log it.
func (sc *SessionContext) ID() string {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.id
}

// IsNew reports whether this session was allocated for the current request
// rather than loaded from the store.
func (sc *SessionContext) IsNew() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.isNew
}

// Get returns the value stored under key and whether it was present.
func (sc *SessionContext) Get(key string) (string, bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.finished {
		return "", false
	}
	v, ok := sc.data[key]
	return v, ok
}

// Keys returns the stored keys in unspecified order.
func (sc *SessionContext) Keys() []string {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.finished {
		return nil
	}
	keys := make([]string, 0, len(sc.data))
	for k := range sc.data {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of stored keys.
func (sc *SessionContext) Len() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.finished {
		return 0
	}
	return len(sc.data)
}

// Set buffers a write of key to value.
func (sc *SessionContext) Set(key, value string) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if err := sc.writable(); err != nil {
		return err
	}
	sc.data[key] = value
	sc.dirty = true
	return nil
}

// Delete buffers removal of key. Removing an absent key is not an error
// and does not mark the session modified.
func (sc *SessionContext) Delete(key string) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if err := sc.writable(); err != nil {
		return err
	}
	if _, ok := sc.data[key]; !ok {
		return nil
	}
	delete(sc.data, key)
	sc.dirty = true
	return nil
}

// Clear buffers removal of every key. The session itself stays alive; use
// [Manager.Destroy] to terminate it.
func (sc *SessionContext) Clear() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if err := sc.writable(); err != nil {
		return err
	}
	if len(sc.data) == 0 {
		return nil
	}
	sc.data = make(map[string]string)
	sc.dirty = true
	return nil
}

// GetJSON unmarshals the value under key into out.
func (sc *SessionContext) GetJSON(key string, out any) (bool, error) {
	raw, ok := sc.Get(key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return true, err
	}
	return true, nil
}

// SetJSON marshals v and stores it under key.
func (sc *SessionContext) SetJSON(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return sc.Set(key, string(raw))
}

func (sc *SessionContext) writable() error {
	if sc.finished {
		return ErrUseAfterFinish
	}
	if sc.destroyed {
		return ErrSessionDestroyed
	}
	return nil
}

// snapshot finalizes the context and returns the state Finish needs. The
// second call and every later mutation observe finished.
func (sc *SessionContext) snapshot() (contextState, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.finished {
		return contextState{}, ErrUseAfterFinish
	}
	sc.finished = true

	return contextState{
		id:        sc.id,
		createdAt: sc.createdAt,
		data:      sc.data,
		isNew:     sc.isNew,
		dirty:     sc.dirty,
		rotated:   sc.rotated,
		destroyed: sc.destroyed,
	}, nil
}

type contextState struct {
	id        string
	createdAt int64
	data      map[string]string
	isNew     bool
	dirty     bool
	rotated   bool
	destroyed bool
}
