package websession

import (
	"net/http"
	"time"
)

// CookieEnvelope is the outgoing cookie Finish hands to the adapter. It is
// framework-neutral; Cookie converts it for net/http, and other adapters
// read the fields directly.
type CookieEnvelope struct {
	Name     string
	Value    string
	Path     string
	Domain   string
	Secure   bool
	HTTPOnly bool
	SameSite http.SameSite

	// MaxAge follows net/http semantics: 0 means browser-session scoped,
	// negative means delete now. Expires mirrors it for old clients.
	MaxAge  int
	Expires time.Time
}

// Cookie renders the envelope as an *http.Cookie.
func (e *CookieEnvelope) Cookie() *http.Cookie {
	return &http.Cookie{
		Name:     e.Name,
		Value:    e.Value,
		Path:     e.Path,
		Domain:   e.Domain,
		Secure:   e.Secure,
		HttpOnly: e.HTTPOnly,
		SameSite: e.SameSite,
		MaxAge:   e.MaxAge,
		Expires:  e.Expires,
	}
}

// issueEnvelope builds the envelope carrying value, honoring the
// persistent-cookie setting.
func issueEnvelope(cfg CookieConfig, value string, expiresAt time.Time, now time.Time) *CookieEnvelope {
	e := &CookieEnvelope{
		Name:     cfg.Name,
		Value:    value,
		Path:     cfg.Path,
		Domain:   cfg.Domain,
		Secure:   cfg.Secure,
		HTTPOnly: cfg.HTTPOnly,
		SameSite: cfg.SameSite,
	}
	if cfg.Persistent {
		e.MaxAge = int(expiresAt.Sub(now).Seconds())
		e.Expires = expiresAt
	}
	return e
}

// clearingEnvelope builds the envelope that removes the session cookie
// from the client.
func clearingEnvelope(cfg CookieConfig) *CookieEnvelope {
	return &CookieEnvelope{
		Name:     cfg.Name,
		Value:    "",
		Path:     cfg.Path,
		Domain:   cfg.Domain,
		Secure:   cfg.Secure,
		HTTPOnly: cfg.HTTPOnly,
		SameSite: cfg.SameSite,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	}
}
