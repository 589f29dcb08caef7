package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	websession "github.com/nocturnehq/websession"
	"github.com/nocturnehq/websession/store"
	"github.com/nocturnehq/websession/store/memstore"
)

func newTestManager(t *testing.T, backend store.Backend) *websession.Manager {
	t.Helper()

	cfg := websession.DefaultConfig()
	cfg.Session.JitterEnabled = false
	cfg.Session.JitterRange = 0
	cfg.Cookie.SigningSecrets = [][]byte{[]byte("0123456789abcdef0123456789abcdef")}

	b := websession.New().WithConfig(cfg)
	if backend != nil {
		b = b.WithBackend(backend)
	}

	m, err := b.Build()
	if err != nil {
		t.Fatalf("build manager: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func sessionCookie(t *testing.T, resp *http.Response, name string) *http.Cookie {
	t.Helper()
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("no %q cookie in response", name)
	return nil
}

func TestSessionsRoundTrip(t *testing.T) {
	m := newTestManager(t, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		sc, ok := SessionFromRequest(r)
		if !ok {
			t.Fatal("session missing from request context")
		}
		if !sc.IsNew() {
			t.Fatal("first request should carry a new session")
		}
		if err := sc.Set("user_id", "42"); err != nil {
			t.Fatalf("set: %v", err)
		}
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/whoami", func(w http.ResponseWriter, r *http.Request) {
		sc, _ := SessionFromRequest(r)
		if sc.IsNew() {
			t.Fatal("cookie-bearing request resolved as new")
		}
		v, _ := sc.Get("user_id")
		w.Write([]byte(v))
	})

	srv := Sessions(m)(mux)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login", nil))

	c := sessionCookie(t, rec.Result(), m.CookieName())
	if c.Value == "" {
		t.Fatal("empty session cookie value")
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	srv.ServeHTTP(rec, req)

	if got := rec.Body.String(); got != "42" {
		t.Fatalf("whoami body = %q, want %q", got, "42")
	}
}

func TestSessionsCommitOnFirstWrite(t *testing.T) {
	m := newTestManager(t, nil)

	h := Sessions(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc, _ := SessionFromRequest(r)
		if err := sc.Set("k", "v"); err != nil {
			t.Fatalf("set before write: %v", err)
		}
		w.Write([]byte("body"))

		// The first body byte committed the session.
		if err := sc.Set("late", "write"); err != websession.ErrUseAfterFinish {
			t.Fatalf("set after write = %v, want ErrUseAfterFinish", err)
		}
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	sessionCookie(t, rec.Result(), m.CookieName())
	if got := rec.Body.String(); got != "body" {
		t.Fatalf("body = %q", got)
	}
}

func TestSessionsDestroyClearsCookie(t *testing.T) {
	m := newTestManager(t, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		sc, _ := SessionFromRequest(r)
		_ = sc.Set("user_id", "42")
	})
	mux.HandleFunc("/logout", func(w http.ResponseWriter, r *http.Request) {
		sc, _ := SessionFromRequest(r)
		if err := m.Destroy(sc); err != nil {
			t.Fatalf("destroy: %v", err)
		}
	})
	srv := Sessions(m)(mux)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login", nil))
	c := sessionCookie(t, rec.Result(), m.CookieName())

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/logout", nil)
	req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	srv.ServeHTTP(rec, req)

	cleared := sessionCookie(t, rec.Result(), m.CookieName())
	if cleared.Value != "" || cleared.MaxAge >= 0 {
		t.Fatalf("expected a clearing cookie, got value=%q maxAge=%d", cleared.Value, cleared.MaxAge)
	}
}

type failingBackend struct {
	*memstore.Store
}

func (b *failingBackend) Create(ctx context.Context, rec *store.Record) error {
	return store.ErrUnavailable
}

func TestSessionsFinishFailureRespondsInternalError(t *testing.T) {
	backend := memstore.New(memstore.WithSweepInterval(0))
	t.Cleanup(func() { _ = backend.Close() })
	m := newTestManager(t, &failingBackend{Store: backend})

	h := Sessions(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc, _ := SessionFromRequest(r)
		_ = sc.Set("k", "v")
		w.Write([]byte("secret payload"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "secret payload") {
		t.Fatal("handler body leaked past the commit failure")
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Fatal("failed commit must not set a cookie")
	}
}

func TestSessionsCustomErrorHandler(t *testing.T) {
	backend := memstore.New(memstore.WithSweepInterval(0))
	t.Cleanup(func() { _ = backend.Close() })
	m := newTestManager(t, &failingBackend{Store: backend})

	h := Sessions(m, WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
		http.Error(w, "try later", http.StatusServiceUnavailable)
	}))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc, _ := SessionFromRequest(r)
		_ = sc.Set("k", "v")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestSessionFromRequestOutsideMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, ok := SessionFromRequest(req); ok {
		t.Fatal("unexpected session on a bare request")
	}
}
