// Package sid generates and validates session identifiers.
//
// Two schemes are supported, fixed once at configuration time:
//
//   - Random: 128 bits from crypto/rand, rendered as unpadded base64url
//     (22 characters). Carries no ordering information.
//   - TimeOrdered: UUIDv7, rendered in canonical UUID form (36 characters).
//     The millisecond prefix makes identifiers sortable by creation time;
//     choose it only when that leak is acceptable.
//
// Validation is structural only. A string that parses as either rendering
// is well formed; whether a session exists behind it is the store's call.
package sid

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Scheme selects the identifier generation strategy.
type Scheme int

const (
	// SchemeRandom produces uniformly random identifiers.
	SchemeRandom Scheme = iota
	// SchemeTimeOrdered produces UUIDv7 identifiers with a monotonic prefix.
	SchemeTimeOrdered
)

const randomIDSize = 16

// ErrMalformed is returned when a candidate identifier does not match any
// supported rendering.
var ErrMalformed = errors.New("malformed session id")

// ParseScheme maps a configuration string to a [Scheme].
func ParseScheme(name string) (Scheme, error) {
	switch name {
	case "", "random":
		return SchemeRandom, nil
	case "time-ordered":
		return SchemeTimeOrdered, nil
	default:
		return 0, fmt.Errorf("unknown id scheme %q", name)
	}
}

// Generator produces session identifiers for a single scheme.
// The zero value generates random identifiers.
type Generator struct {
	scheme Scheme
}

// NewGenerator returns a generator bound to the given scheme.
func NewGenerator(scheme Scheme) Generator {
	return Generator{scheme: scheme}
}

// New returns a fresh identifier. The only failure mode is an exhausted
// or broken entropy source.
func (g Generator) New() (string, error) {
	switch g.scheme {
	case SchemeTimeOrdered:
		id, err := uuid.NewV7()
		if err != nil {
			return "", err
		}
		return id.String(), nil
	default:
		var raw [randomIDSize]byte
		if _, err := rand.Read(raw[:]); err != nil {
			return "", err
		}
		return base64.RawURLEncoding.EncodeToString(raw[:]), nil
	}
}

// Validate reports whether s is a structurally well-formed identifier
// under any supported scheme. Decode paths use this to fail closed before
// touching the store.
func Validate(s string) error {
	switch len(s) {
	case base64.RawURLEncoding.EncodedLen(randomIDSize):
		raw, err := base64.RawURLEncoding.DecodeString(s)
		if err != nil || len(raw) != randomIDSize {
			return ErrMalformed
		}
		return nil
	case 36:
		if _, err := uuid.Parse(s); err != nil {
			return ErrMalformed
		}
		return nil
	default:
		return ErrMalformed
	}
}
