package middleware

import (
	"context"
	"net"
	"net/http"

	websession "github.com/nocturnehq/websession"
)

type sessionContextKey struct{}

// SessionFromContext extracts the request's session, if the request passed
// through [Sessions].
func SessionFromContext(ctx context.Context) (*websession.SessionContext, bool) {
	sc, ok := ctx.Value(sessionContextKey{}).(*websession.SessionContext)
	return sc, ok
}

// SessionFromRequest is shorthand for SessionFromContext(r.Context()).
func SessionFromRequest(r *http.Request) (*websession.SessionContext, bool) {
	return SessionFromContext(r.Context())
}

// ErrorHandler responds when the session cannot be started or committed.
// It runs before any response byte has been written.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

func defaultErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

// Option configures the Sessions middleware.
type Option func(*sessionHandler)

// WithErrorHandler replaces the default 500 response for Begin and Finish
// failures.
func WithErrorHandler(h ErrorHandler) Option {
	return func(s *sessionHandler) {
		if h != nil {
			s.onError = h
		}
	}
}

// Sessions wraps next with the full session lifecycle. For each request it
// reads the session cookie, calls Begin, injects the resulting
// [websession.SessionContext] into the request context, and commits the
// session with Finish before the first byte of the response.
//
// Handlers below this middleware must not write the session cookie
// themselves, and must finish all session mutations before their first
// Write or WriteHeader call: the commit point is the first response byte.
func Sessions(manager *websession.Manager, opts ...Option) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		s := &sessionHandler{
			manager: manager,
			next:    next,
			onError: defaultErrorHandler,
		}
		for _, opt := range opts {
			opt(s)
		}
		return s
	}
}

type sessionHandler struct {
	manager *websession.Manager
	next    http.Handler
	onError ErrorHandler
}

func (s *sessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.manager == nil {
		s.onError(w, r, websession.ErrManagerClosed)
		return
	}

	ctx := websession.WithClientIP(r.Context(), remoteIP(r))

	raw := ""
	if c, err := r.Cookie(s.manager.CookieName()); err == nil {
		raw = c.Value
	}

	sc, err := s.manager.Begin(ctx, raw)
	if err != nil {
		s.onError(w, r, err)
		return
	}

	ctx = context.WithValue(ctx, sessionContextKey{}, sc)
	r = r.WithContext(ctx)

	sw := &sessionWriter{
		ResponseWriter: w,
		handler:        s,
		request:        r,
		sc:             sc,
	}
	s.next.ServeHTTP(sw, r)

	// Handler returned without writing anything: commit now so the
	// implicit 200 still carries the cookie.
	sw.commit()
}

// sessionWriter defers the session commit to the first response byte. Once
// the body has started the Set-Cookie header can no longer change, so
// Finish must run before delegating any write.
type sessionWriter struct {
	http.ResponseWriter
	handler *sessionHandler
	request *http.Request
	sc      *websession.SessionContext

	committed  bool
	wroteError bool
}

func (w *sessionWriter) WriteHeader(code int) {
	w.commit()
	if w.wroteError {
		return
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *sessionWriter) Write(b []byte) (int, error) {
	w.commit()
	if w.wroteError {
		// The error handler already responded. Swallow the handler's
		// body instead of corrupting the 500.
		return len(b), nil
	}
	return w.ResponseWriter.Write(b)
}

func (w *sessionWriter) Flush() {
	w.commit()
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap supports http.ResponseController.
func (w *sessionWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *sessionWriter) commit() {
	if w.committed {
		return
	}
	w.committed = true

	env, err := w.handler.manager.Finish(w.request.Context(), w.sc)
	if err != nil {
		w.wroteError = true
		w.handler.onError(w.ResponseWriter, w.request, err)
		return
	}
	if env != nil {
		http.SetCookie(w.ResponseWriter, env.Cookie())
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
