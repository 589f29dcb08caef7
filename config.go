package websession

import (
	"crypto/rand"
	"errors"
	"math"
	"net/http"
	"time"
)

// Config is the full configuration surface of a [Manager]. Zero values are
// filled in by [Builder]; a Config is validated once at Build and treated
// as immutable afterwards.
type Config struct {
	Session SessionConfig
	Cookie  CookieConfig
	Backend BackendConfig
	Audit   AuditConfig
	Metrics MetricsConfig

	// ProductionMode tightens validation: unsigned cookies and non-Secure
	// cookie attributes become configuration errors instead of warnings.
	ProductionMode bool
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls session lifetime and identifier generation.
type SessionConfig struct {
	// TTL is the sliding lifetime granted on creation and on each refresh.
	TTL time.Duration
	// AbsoluteLifetime caps total session age regardless of activity.
	// Sliding refreshes never push expiry past created_at + AbsoluteLifetime.
	AbsoluteLifetime time.Duration
	// Sliding enables TTL refresh on read-only requests via Touch.
	Sliding bool
	// JitterEnabled spreads refreshed expiries by a random offset in
	// [-JitterRange, +JitterRange] so fleets of sessions created together
	// do not expire together.
	JitterEnabled bool
	JitterRange   time.Duration
	// IDScheme selects identifier generation: "random" (default) or
	// "time-ordered".
	IDScheme string
	// IDRetryBudget bounds regeneration attempts when the backend reports
	// an identifier collision on creation.
	IDRetryBudget int
}

/*
====================================
COOKIE CONFIG
====================================
*/

// CookieConfig controls the envelope the Manager hands back to adapters.
type CookieConfig struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	HTTPOnly bool
	SameSite http.SameSite

	// Persistent sets Max-Age/Expires on the cookie so it survives browser
	// restarts. When false the cookie is scoped to the browser session and
	// the server-side TTL alone bounds the session.
	Persistent bool

	// RefreshAlways re-issues the cookie on every response instead of only
	// when the identifier is new or rotated.
	RefreshAlways bool

	// SigningSecrets is the ordered HMAC key list, newest first. Encoding
	// uses the first entry; decoding accepts any entry, so rotating a
	// secret does not invalidate live sessions. An empty list disables
	// signing, which Validate rejects in ProductionMode.
	SigningSecrets [][]byte
}

/*
====================================
BACKEND CONFIG
====================================
*/

// BackendKind names a storage topology.
type BackendKind string

const (
	// BackendMemory is the in-process map store.
	BackendMemory BackendKind = "memory"
	// BackendSingle is a single-node Redis store.
	BackendSingle BackendKind = "single"
	// BackendCluster is a Redis Cluster store.
	BackendCluster BackendKind = "cluster"
	// BackendSentinel is a sentinel-supervised Redis store.
	BackendSentinel BackendKind = "sentinel"
)

// BackendConfig selects and parameterizes the store backend. It is only
// consulted when no backend is supplied via [Builder.WithBackend].
type BackendConfig struct {
	Kind BackendKind

	// SweepInterval is the memory backend's expired-entry sweep cadence.
	SweepInterval time.Duration

	// Redis parameterizes the single/cluster/sentinel backends. See
	// store/redistore.Config for the matching environment variables.
	RedisAddr          string
	RedisClusterAddrs  []string
	RedisMasterName    string
	RedisSentinelAddrs []string
	RedisUsername      string
	RedisPassword      string
	RedisDB            int
	RedisPoolSize      int
	KeyPrefix          string
	Encoding           string
	MaxRetries         int
	RetryBackoff       time.Duration
	DialTimeout        time.Duration
}

// AuditConfig controls the async lifecycle-event dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops events instead of blocking Emit when the buffer is
	// full. Drops are counted and visible via Manager.AuditDropped.
	DropIfFull bool
}

// MetricsConfig controls the atomic counter set.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the baseline configuration: 30 minute sliding TTL
// with jitter, a 7 day absolute cap, a hardened Lax cookie named "sid", and
// the in-process memory backend. Callers adjust fields and hand the result
// to [Builder.WithConfig].
func DefaultConfig() Config {
	return defaultConfig()
}

// HardenedConfig returns a preset for security-sensitive deployments:
// production-mode validation, Strict SameSite, a short sliding window with
// a tight absolute cap, and time-ordered identifiers for audit-friendly
// key ordering.
//
// The preset generates a process-local signing secret so it validates out
// of the box. Multi-instance deployments MUST replace SigningSecrets with
// a shared value or cookies will only verify on the issuing instance.
func HardenedConfig() Config {
	cfg := defaultConfig()
	cfg.ProductionMode = true
	cfg.Session.TTL = 15 * time.Minute
	cfg.Session.AbsoluteLifetime = 24 * time.Hour
	cfg.Session.IDScheme = "time-ordered"
	cfg.Cookie.SameSite = http.SameSiteStrictMode
	cfg.Cookie.RefreshAlways = true
	cfg.Cookie.SigningSecrets = [][]byte{generatedSecret()}
	cfg.Audit.Enabled = true
	return cfg
}

// HighThroughputConfig returns a preset tuned for hot read paths: a wide
// jitter window to spread expiry storms, a long sliding TTL, and metrics
// enabled without the latency histograms.
//
// Like [HardenedConfig] it generates a process-local signing secret; see
// the shared-secret caveat there.
func HighThroughputConfig() Config {
	cfg := defaultConfig()
	cfg.ProductionMode = true
	cfg.Session.TTL = time.Hour
	cfg.Session.JitterRange = 2 * time.Minute
	cfg.Cookie.SigningSecrets = [][]byte{generatedSecret()}
	cfg.Backend.RedisPoolSize = 64
	cfg.Metrics.Enabled = true
	return cfg
}

func generatedSecret() []byte {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		panic("websession: cannot read entropy for generated secret: " + err.Error())
	}
	return secret
}

func defaultConfig() Config {
	return Config{
		Session: SessionConfig{
			TTL:              30 * time.Minute,
			AbsoluteLifetime: 7 * 24 * time.Hour,
			Sliding:          true,
			JitterEnabled:    true,
			JitterRange:      30 * time.Second,
			IDScheme:         "random",
			IDRetryBudget:    3,
		},
		Cookie: CookieConfig{
			Name:          "sid",
			Path:          "/",
			Secure:        true,
			HTTPOnly:      true,
			SameSite:      http.SameSiteLaxMode,
			Persistent:    false,
			RefreshAlways: false,
		},
		Backend: BackendConfig{
			Kind:          BackendMemory,
			SweepInterval: time.Minute,
			RedisAddr:     "localhost:6379",
			KeyPrefix:     "session:",
			Encoding:      "binary",
			MaxRetries:    2,
			RetryBackoff:  50 * time.Millisecond,
			DialTimeout:   5 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	if len(cfg.Cookie.SigningSecrets) > 0 {
		out.Cookie.SigningSecrets = make([][]byte, len(cfg.Cookie.SigningSecrets))
		for i, s := range cfg.Cookie.SigningSecrets {
			out.Cookie.SigningSecrets[i] = cloneBytes(s)
		}
	}
	out.Backend.RedisClusterAddrs = cloneStrings(cfg.Backend.RedisClusterAddrs)
	out.Backend.RedisSentinelAddrs = cloneStrings(cfg.Backend.RedisSentinelAddrs)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func cloneStrings(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks the configuration for internal consistency. Builder
// calls it during Build; it is exported so deployments can fail fast on
// startup before wiring anything.
func (c *Config) Validate() error {
	// Session
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	if c.Session.AbsoluteLifetime <= 0 {
		return errors.New("Session AbsoluteLifetime must be > 0")
	}
	if c.Session.AbsoluteLifetime < c.Session.TTL {
		return errors.New("Session AbsoluteLifetime must be >= TTL")
	}
	if c.Session.JitterRange < 0 {
		return errors.New("Session JitterRange must be >= 0")
	}
	if c.Session.JitterRange > time.Duration((math.MaxInt64-1)/2) {
		return errors.New("Session JitterRange is too large")
	}
	if c.Session.JitterEnabled && c.Session.JitterRange <= 0 {
		return errors.New("Session JitterRange must be > 0 when JitterEnabled is true")
	}
	if c.Session.JitterEnabled && c.Session.JitterRange*2 >= c.Session.TTL {
		return errors.New("Session JitterRange must be well under TTL")
	}
	switch c.Session.IDScheme {
	case "", "random", "time-ordered":
	default:
		return errors.New("Session IDScheme must be 'random' or 'time-ordered'")
	}
	if c.Session.IDRetryBudget <= 0 {
		return errors.New("Session IDRetryBudget must be > 0")
	}

	// Cookie
	if c.Cookie.Name == "" {
		return errors.New("Cookie Name must be set")
	}
	for _, s := range c.Cookie.SigningSecrets {
		if len(s) < 16 {
			return errors.New("Cookie SigningSecrets entries must be >= 16 bytes")
		}
	}

	// Backend
	switch c.Backend.Kind {
	case BackendMemory, BackendSingle, BackendCluster, BackendSentinel:
	default:
		return errors.New("Backend Kind must be memory, single, cluster, or sentinel")
	}
	if c.Backend.Encoding != "" && c.Backend.Encoding != "binary" && c.Backend.Encoding != "msgpack" {
		return errors.New("Backend Encoding must be 'binary' or 'msgpack'")
	}
	if c.Backend.MaxRetries < 0 {
		return errors.New("Backend MaxRetries must be >= 0")
	}
	if c.Backend.RetryBackoff < 0 {
		return errors.New("Backend RetryBackoff must be >= 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when Audit is enabled")
	}

	if c.ProductionMode {
		if len(c.Cookie.SigningSecrets) == 0 {
			return errors.New("ProductionMode requires Cookie SigningSecrets")
		}
		if !c.Cookie.Secure {
			return errors.New("ProductionMode requires Cookie Secure")
		}
		if !c.Cookie.HTTPOnly {
			return errors.New("ProductionMode requires Cookie HTTPOnly")
		}
	}

	return nil
}
