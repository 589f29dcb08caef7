package websession

import (
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nocturnehq/websession/cookie"
	"github.com/nocturnehq/websession/internal/sid"
	"github.com/nocturnehq/websession/store"
	"github.com/nocturnehq/websession/store/memstore"
	"github.com/nocturnehq/websession/store/redistore"
)

// Builder assembles a [Manager]. It is single-use: Build consumes it.
type Builder struct {
	config Config

	backend store.Backend
	redis   redis.UniversalClient

	auditSink AuditSink

	built bool
}

// New returns a Builder seeded with defaults.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithBackend supplies a pre-built store backend. The Manager will not
// close it; the caller keeps ownership. Takes precedence over both
// WithRedis and the Backend config section.
func (b *Builder) WithBackend(backend store.Backend) *Builder {
	b.backend = backend
	return b
}

// WithRedis supplies an existing Redis client to back the session store,
// honoring the Backend section's key prefix, encoding, and retry settings.
// The Manager will not close the client.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithAuditSink sets the destination for lifecycle events. Only consulted
// when Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles the counter set.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the Begin latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, constructs the backend when none was
// supplied, and returns the ready Manager. A second Build on the same
// Builder fails.
func (b *Builder) Build() (*Manager, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	scheme, err := sid.ParseScheme(cfg.Session.IDScheme)
	if err != nil {
		return nil, err
	}

	backend := b.backend
	ownsBackend := false
	switch {
	case backend != nil:
	case b.redis != nil:
		backend, err = redistore.New(b.redis, redisConfig(cfg.Backend))
		if err != nil {
			return nil, err
		}
	default:
		backend, err = buildBackend(cfg.Backend)
		if err != nil {
			return nil, err
		}
		ownsBackend = true
	}

	m := &Manager{
		cfg:         cfg,
		backend:     backend,
		ownsBackend: ownsBackend,
		codec:       cookie.New(cfg.Cookie.SigningSecrets),
		gen:         sid.NewGenerator(scheme),
		metrics:     NewMetrics(cfg.Metrics),
		audit:       newAuditDispatcher(cfg.Audit, b.auditSink),
		now:         time.Now,
	}

	b.built = true

	return m, nil
}

func buildBackend(cfg BackendConfig) (store.Backend, error) {
	switch cfg.Kind {
	case BackendMemory:
		return memstore.New(memstore.WithSweepInterval(cfg.SweepInterval)), nil
	case BackendSingle:
		return redistore.NewSingle(redisConfig(cfg))
	case BackendCluster:
		return redistore.NewCluster(redisConfig(cfg))
	case BackendSentinel:
		return redistore.NewSentinel(redisConfig(cfg))
	default:
		return nil, errors.New("unknown backend kind")
	}
}

func redisConfig(cfg BackendConfig) redistore.Config {
	return redistore.Config{
		Addr:          cfg.RedisAddr,
		ClusterAddrs:  strings.Join(cfg.RedisClusterAddrs, ","),
		MasterName:    cfg.RedisMasterName,
		SentinelAddrs: strings.Join(cfg.RedisSentinelAddrs, ","),
		Username:      cfg.RedisUsername,
		Password:      cfg.RedisPassword,
		DB:            cfg.RedisDB,
		PoolSize:      cfg.RedisPoolSize,
		KeyPrefix:     cfg.KeyPrefix,
		Encoding:      cfg.Encoding,
		MaxRetries:    cfg.MaxRetries,
		RetryBackoff:  cfg.RetryBackoff,
		DialTimeout:   cfg.DialTimeout,
	}
}
