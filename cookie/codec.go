// Package cookie encodes session identifiers into cookie values and
// validates them on the way back in.
//
// # Wire format
//
// Signed values carry three dot-separated fields:
//
//	<id>.<tag-version>.<base64url(HMAC-SHA256(secret, id))>
//
// The identifier keeps its canonical rendering (base64url for random
// identifiers, canonical UUID for time-ordered ones). The tag version is a
// single byte namespace for future tag constructions; only version '1'
// exists today. When the codec is built without secrets, the value is the
// bare identifier and any dotted value is rejected.
//
// # Architecture boundaries
//
// This package owns cookie-value integrity only. It does NOT build
// http.Cookie attributes, talk to the store, or decide session policy —
// those belong to the Manager and the framework adapters.
//
// # What this package must NOT do
//
//   - Import websession or store (no upward imports).
//   - Return partial identifiers on any decode failure.
//   - Branch on secret position in a way observable through timing.
package cookie

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/nocturnehq/websession/internal/sid"
)

// ErrInvalid is returned for every decode failure: malformed structure,
// unknown tag version, bad identifier, or tag mismatch. Callers must treat
// it exactly like an absent cookie; it intentionally carries no detail.
var ErrInvalid = errors.New("invalid session cookie")

const tagVersion = "1"

// Codec signs and verifies cookie values against an ordered secret list.
// Values are immutable after construction and safe for concurrent use.
type Codec struct {
	secrets [][]byte
}

// New builds a codec. secrets is ordered newest first; encoding always
// uses secrets[0] while decoding accepts a tag under any listed secret, so
// rotating a signing secret does not invalidate live sessions. An empty
// list yields an unsigned codec.
func New(secrets [][]byte) *Codec {
	cloned := make([][]byte, 0, len(secrets))
	for _, s := range secrets {
		if len(s) == 0 {
			continue
		}
		c := make([]byte, len(s))
		copy(c, s)
		cloned = append(cloned, c)
	}
	return &Codec{secrets: cloned}
}

// Signed reports whether the codec carries at least one signing secret.
func (c *Codec) Signed() bool {
	return len(c.secrets) > 0
}

// Encode renders id as a cookie value, tagging it with the newest secret
// when the codec is signed.
func (c *Codec) Encode(id string) string {
	if !c.Signed() {
		return id
	}
	return id + "." + tagVersion + "." + base64.RawURLEncoding.EncodeToString(c.tag(c.secrets[0], id))
}

// Decode validates raw and returns the embedded identifier. Any structural
// or integrity mismatch yields [ErrInvalid].
func (c *Codec) Decode(raw string) (string, error) {
	if raw == "" {
		return "", ErrInvalid
	}

	if !c.Signed() {
		if strings.Contains(raw, ".") {
			return "", ErrInvalid
		}
		if err := sid.Validate(raw); err != nil {
			return "", ErrInvalid
		}
		return raw, nil
	}

	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return "", ErrInvalid
	}

	id, version, encodedTag := parts[0], parts[1], parts[2]
	if version != tagVersion {
		return "", ErrInvalid
	}
	if err := sid.Validate(id); err != nil {
		return "", ErrInvalid
	}

	// Strict decoding keeps encodings canonical: exactly one accepted
	// cookie value exists per identifier and secret.
	claimed, err := base64.RawURLEncoding.Strict().DecodeString(encodedTag)
	if err != nil {
		return "", ErrInvalid
	}

	// Check every secret unconditionally so decode cost does not reveal
	// which secret (if any) matched.
	matched := false
	for _, secret := range c.secrets {
		if hmac.Equal(claimed, c.tag(secret, id)) {
			matched = true
		}
	}
	if !matched {
		return "", ErrInvalid
	}

	return id, nil
}

func (c *Codec) tag(secret []byte, id string) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(id))
	return mac.Sum(nil)
}
