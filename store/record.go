package store

import "time"

// Record is the owned state of one session: its data mapping plus the
// metadata timestamps. Timestamps are Unix seconds.
//
// Record instances are intended to be built by the Manager and treated as
// immutable by backends; adapters that need to retain one must Clone it.
type Record struct {
	ID         string
	Data       map[string]string
	CreatedAt  int64
	LastSeenAt int64
	ExpiresAt  int64
}

// NewRecord returns an empty record for id with created/last-seen set to
// now and expiry at now+ttl.
func NewRecord(id string, now time.Time, ttl time.Duration) *Record {
	return &Record{
		ID:         id,
		Data:       make(map[string]string),
		CreatedAt:  now.Unix(),
		LastSeenAt: now.Unix(),
		ExpiresAt:  now.Add(ttl).Unix(),
	}
}

// ExpiredAt reports whether the record is logically absent at now,
// regardless of whether the backend has physically purged it yet.
func (r *Record) ExpiredAt(now time.Time) bool {
	return now.Unix() > r.ExpiresAt
}

// Clone returns a deep copy. Backends and contexts never share a live
// Data map.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	data := make(map[string]string, len(r.Data))
	for k, v := range r.Data {
		data[k] = v
	}
	return &Record{
		ID:         r.ID,
		Data:       data,
		CreatedAt:  r.CreatedAt,
		LastSeenAt: r.LastSeenAt,
		ExpiresAt:  r.ExpiresAt,
	}
}
