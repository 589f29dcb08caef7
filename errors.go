package websession

import "errors"

var (
	// ErrCookieInvalid reports a malformed, forged, or tampered session
	// cookie. The Manager always recovers from it internally (the request
	// proceeds anonymous); it is exported so adapters inspecting audit
	// output can branch on the category.
	ErrCookieInvalid = errors.New("invalid session cookie")
	// ErrStoreUnavailable reports a backend outage that outlived the retry
	// budget. Reads degrade to an anonymous session; writes surface it.
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrIDCollision reports that identifier generation kept colliding
	// past the retry budget. Persistent collisions indicate a broken
	// entropy source, so this is fatal rather than retried forever.
	ErrIDCollision = errors.New("session id collision budget exhausted")
	// ErrUseAfterFinish reports a programming error: the session context
	// was used after Finish finalized it.
	ErrUseAfterFinish = errors.New("session context used after finish")
	// ErrSessionDestroyed reports a write against a destroyed session.
	ErrSessionDestroyed = errors.New("session destroyed")
	// ErrManagerClosed reports use of a Manager after Close.
	ErrManagerClosed = errors.New("session manager closed")
)
