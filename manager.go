package websession

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/nocturnehq/websession/cookie"
	"github.com/nocturnehq/websession/internal/sid"
	"github.com/nocturnehq/websession/store"
)

// Manager orchestrates the session lifecycle: it decodes incoming cookies,
// loads or allocates records, and persists buffered changes on Finish.
// One Manager serves the whole process; construct it through [Builder].
type Manager struct {
	cfg         Config
	backend     store.Backend
	ownsBackend bool
	codec       *cookie.Codec
	gen         sid.Generator
	metrics     *Metrics
	audit       *auditDispatcher

	now    func() time.Time
	closed atomic.Bool
}

// Begin resolves the incoming cookie value into a [SessionContext].
//
// Every recoverable failure degrades to a fresh anonymous session: a
// missing, malformed, or forged cookie, an absent or expired record, and a
// backend outage all yield a context marked new. The client is never told
// which case occurred. Begin only fails on a closed Manager or a broken
// entropy source.
func (m *Manager) Begin(ctx context.Context, rawCookie string) (*SessionContext, error) {
	if m.closed.Load() {
		return nil, ErrManagerClosed
	}

	start := m.now()
	defer func() {
		m.metrics.Observe(MetricBeginLatency, m.now().Sub(start))
	}()

	if rawCookie != "" {
		id, err := m.codec.Decode(rawCookie)
		if err != nil {
			m.metrics.Inc(MetricCookieRejected)
			m.emit(ctx, AuditEvent{
				EventType: AuditCookieRejected,
				Error:     ErrCookieInvalid.Error(),
			})
		} else if sc := m.resolve(ctx, id); sc != nil {
			return sc, nil
		}
	}

	return m.newContext()
}

// resolve loads the record for a structurally valid id. A nil return means
// the caller should fall back to a fresh session.
func (m *Manager) resolve(ctx context.Context, id string) *SessionContext {
	rec, err := m.backend.Load(ctx, id)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		return nil
	default:
		m.metrics.Inc(MetricStoreUnavailable)
		m.emit(ctx, AuditEvent{
			EventType: AuditStoreUnavailable,
			SessionID: id,
			Error:     err.Error(),
		})
		return nil
	}

	// The backend only enforces the sliding TTL; the absolute lifetime
	// cap is checked here against the record's creation time.
	now := m.now()
	if !time.Unix(rec.CreatedAt, 0).Add(m.cfg.Session.AbsoluteLifetime).After(now) {
		_ = m.backend.Delete(ctx, id)
		m.metrics.Inc(MetricSessionExpired)
		m.emit(ctx, AuditEvent{
			EventType: AuditSessionExpired,
			SessionID: id,
			Success:   true,
		})
		return nil
	}

	m.metrics.Inc(MetricSessionLoaded)
	m.emit(ctx, AuditEvent{
		EventType: AuditSessionLoaded,
		SessionID: id,
		Success:   true,
	})

	return &SessionContext{
		id:        rec.ID,
		createdAt: rec.CreatedAt,
		data:      rec.Data,
	}
}

func (m *Manager) newContext() (*SessionContext, error) {
	id, err := m.gen.New()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}
	return &SessionContext{
		id:        id,
		createdAt: m.now().Unix(),
		data:      make(map[string]string),
		isNew:     true,
	}, nil
}

// Finish finalizes sc and returns the cookie envelope to set on the
// response, or nil when the client's cookie is still current.
//
// An unmodified, non-new session is only touched (sliding expiration) and
// yields no envelope unless RefreshAlways is set. A modified or new
// session is saved; save failures are always surfaced. A destroyed session
// has its record deleted and yields a clearing envelope.
//
// Finish is terminal: the second call and any later mutation of sc fail
// with [ErrUseAfterFinish].
func (m *Manager) Finish(ctx context.Context, sc *SessionContext) (*CookieEnvelope, error) {
	if m.closed.Load() {
		return nil, ErrManagerClosed
	}

	st, err := sc.snapshot()
	if err != nil {
		return nil, err
	}

	now := m.now()

	if st.destroyed {
		return m.finishDestroyed(ctx, st, now)
	}

	expiresAt := m.nextExpiry(st.createdAt, now)
	if !expiresAt.After(now) {
		// Absolute lifetime ran out during the request.
		_ = m.backend.Delete(ctx, st.id)
		m.metrics.Inc(MetricSessionExpired)
		m.emit(ctx, AuditEvent{
			EventType: AuditSessionExpired,
			SessionID: st.id,
			Success:   true,
		})
		return clearingEnvelope(m.cfg.Cookie), nil
	}

	if !st.dirty && !st.isNew {
		m.touch(ctx, st.id, expiresAt)
		if m.cfg.Cookie.RefreshAlways {
			return issueEnvelope(m.cfg.Cookie, m.codec.Encode(st.id), expiresAt, now), nil
		}
		return nil, nil
	}

	rec := &store.Record{
		ID:         st.id,
		Data:       st.data,
		CreatedAt:  st.createdAt,
		LastSeenAt: now.Unix(),
		ExpiresAt:  expiresAt.Unix(),
	}

	if st.isNew {
		if err := m.create(ctx, rec); err != nil {
			return nil, err
		}
		sc.setID(rec.ID)
		m.metrics.Inc(MetricSessionCreated)
		m.emit(ctx, AuditEvent{
			EventType: AuditSessionCreated,
			SessionID: rec.ID,
			Success:   true,
		})
	} else {
		if err := m.backend.Save(ctx, rec); err != nil {
			m.metrics.Inc(MetricSaveFailure)
			m.emit(ctx, AuditEvent{
				EventType: AuditSaveFailed,
				SessionID: rec.ID,
				Error:     err.Error(),
			})
			return nil, m.mapStoreErr(err)
		}
	}

	return issueEnvelope(m.cfg.Cookie, m.codec.Encode(rec.ID), expiresAt, now), nil
}

func (m *Manager) finishDestroyed(ctx context.Context, st contextState, now time.Time) (*CookieEnvelope, error) {
	if !st.isNew {
		if err := m.backend.Delete(ctx, st.id); err != nil {
			m.metrics.Inc(MetricSaveFailure)
			m.emit(ctx, AuditEvent{
				EventType: AuditSaveFailed,
				SessionID: st.id,
				Error:     err.Error(),
			})
			return nil, m.mapStoreErr(err)
		}
	}

	m.metrics.Inc(MetricSessionDestroyed)
	m.emit(ctx, AuditEvent{
		EventType: AuditSessionDestroyed,
		SessionID: st.id,
		Success:   true,
	})

	if st.isNew {
		// Never persisted and never issued a cookie; nothing to clear.
		return nil, nil
	}
	return clearingEnvelope(m.cfg.Cookie), nil
}

// create persists a fresh record, regenerating the identifier on a
// backend-reported collision up to the configured budget.
func (m *Manager) create(ctx context.Context, rec *store.Record) error {
	for attempt := 0; ; attempt++ {
		err := m.backend.Create(ctx, rec)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrConflict) {
			m.metrics.Inc(MetricSaveFailure)
			m.emit(ctx, AuditEvent{
				EventType: AuditSaveFailed,
				SessionID: rec.ID,
				Error:     err.Error(),
			})
			return m.mapStoreErr(err)
		}

		if attempt+1 >= m.cfg.Session.IDRetryBudget {
			return ErrIDCollision
		}

		m.metrics.Inc(MetricIDCollisionRetry)
		id, genErr := m.gen.New()
		if genErr != nil {
			return fmt.Errorf("generate session id: %w", genErr)
		}
		rec.ID = id
	}
}

// touch refreshes the sliding TTL on the read-only path. The session is
// already resolved, so outages here degrade silently: the client keeps its
// cookie and the old TTL stands.
func (m *Manager) touch(ctx context.Context, id string, expiresAt time.Time) {
	if !m.cfg.Session.Sliding {
		return
	}

	err := m.backend.Touch(ctx, id, expiresAt)
	switch {
	case err == nil:
		m.metrics.Inc(MetricTouch)
	case errors.Is(err, store.ErrNotFound):
		// Expired or deleted between Begin and Finish; the next request
		// starts fresh.
	default:
		m.metrics.Inc(MetricStoreUnavailable)
		m.emit(ctx, AuditEvent{
			EventType: AuditStoreUnavailable,
			SessionID: id,
			Error:     err.Error(),
		})
	}
}

// Rotate replaces sc's identifier with a fresh one while carrying the data
// mapping forward, and deletes the old backend record. Required after
// trust-boundary changes (login, privilege elevation) to defeat fixation:
// an identifier the client held before the change must not survive it.
//
// sc continues as the rotated session; Finish will persist it under the
// new identifier and issue a new cookie.
func (m *Manager) Rotate(ctx context.Context, sc *SessionContext) error {
	if m.closed.Load() {
		return ErrManagerClosed
	}

	id, err := m.gen.New()
	if err != nil {
		return fmt.Errorf("generate session id: %w", err)
	}

	sc.mu.Lock()
	if sc.finished {
		sc.mu.Unlock()
		return ErrUseAfterFinish
	}
	if sc.destroyed {
		sc.mu.Unlock()
		return ErrSessionDestroyed
	}
	oldID := sc.id
	wasNew := sc.isNew
	sc.id = id
	sc.isNew = true
	sc.dirty = true
	sc.rotated = true
	sc.createdAt = m.now().Unix()
	sc.mu.Unlock()

	if !wasNew {
		if err := m.backend.Delete(ctx, oldID); err != nil {
			// Rotation already took effect locally; leaving the old record
			// to expire on its own is safe, losing the new one is not.
			m.emit(ctx, AuditEvent{
				EventType: AuditSessionRotated,
				SessionID: id,
				Error:     err.Error(),
			})
			return m.mapStoreErr(err)
		}
	}

	m.metrics.Inc(MetricSessionRotated)
	m.emit(ctx, AuditEvent{
		EventType: AuditSessionRotated,
		SessionID: id,
		Success:   true,
	})

	return nil
}

// Destroy marks sc terminated. The backend record is removed and a
// clearing envelope issued when Finish runs; until then the context
// rejects writes with [ErrSessionDestroyed].
func (m *Manager) Destroy(sc *SessionContext) error {
	if m.closed.Load() {
		return ErrManagerClosed
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.finished {
		return ErrUseAfterFinish
	}
	if sc.destroyed {
		return nil
	}
	sc.destroyed = true
	sc.data = make(map[string]string)
	return nil
}

// CookieName returns the configured session cookie name. HTTP adapters use
// it to pick the right cookie off the request.
func (m *Manager) CookieName() string {
	return m.cfg.Cookie.Name
}

// Ping reports backend reachability.
func (m *Manager) Ping(ctx context.Context) error {
	if m.closed.Load() {
		return ErrManagerClosed
	}
	return m.backend.Ping(ctx)
}

// Metrics returns the Manager's counter set for exporters.
func (m *Manager) Metrics() *Metrics {
	return m.metrics
}

// MetricsSnapshot copies the current counters and histograms. Exporters
// poll this instead of holding the Metrics value.
func (m *Manager) MetricsSnapshot() MetricsSnapshot {
	return m.metrics.Snapshot()
}

// AuditDropped returns how many audit events were discarded under
// DropIfFull.
func (m *Manager) AuditDropped() uint64 {
	return m.audit.Dropped()
}

// Close drains the audit dispatcher and, when the Manager constructed the
// backend itself, closes it. In-flight Begin/Finish calls racing Close may
// fail with ErrManagerClosed. Idempotent.
func (m *Manager) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	m.audit.Close()
	if m.ownsBackend {
		return m.backend.Close()
	}
	return nil
}

// nextExpiry computes the refreshed expiry: now + TTL (jittered when
// enabled), capped at created_at + AbsoluteLifetime.
func (m *Manager) nextExpiry(createdAt int64, now time.Time) time.Time {
	ttl := m.cfg.Session.TTL
	if m.cfg.Session.JitterEnabled && m.cfg.Session.JitterRange > 0 {
		if j, err := randomJitter(m.cfg.Session.JitterRange); err == nil {
			ttl += j
		}
	}

	exp := now.Add(ttl)
	cap := time.Unix(createdAt, 0).Add(m.cfg.Session.AbsoluteLifetime)
	if exp.After(cap) {
		return cap
	}
	return exp
}

func (m *Manager) mapStoreErr(err error) error {
	if errors.Is(err, store.ErrUnavailable) {
		m.metrics.Inc(MetricStoreUnavailable)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}

func (m *Manager) emit(ctx context.Context, event AuditEvent) {
	if m.audit == nil {
		return
	}
	event.Timestamp = m.now()
	if event.IP == "" {
		event.IP = clientIPFromContext(ctx)
	}
	m.audit.Emit(ctx, event)
}

func (sc *SessionContext) setID(id string) {
	sc.mu.Lock()
	sc.id = id
	sc.mu.Unlock()
}

func randomJitter(jitterRange time.Duration) (time.Duration, error) {
	if jitterRange <= 0 {
		return 0, nil
	}

	max := jitterRange.Nanoseconds()
	span := max*2 + 1

	n, err := rand.Int(rand.Reader, big.NewInt(span))
	if err != nil {
		return 0, err
	}

	return time.Duration(n.Int64() - max), nil
}
