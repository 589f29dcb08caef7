// Package redistore provides the Redis-backed session store for
// single-node, clustered, and sentinel-supervised deployments.
//
// All three topologies speak through [redis.UniversalClient], so they
// share one record format and one [store.Backend] implementation; only
// the constructor differs. TTL is delegated to Redis native expiry
// (SET PX / PEXPIREAT), which stays authoritative across process
// restarts and is the only expiry mechanism for distributed deployments.
//
// Sentinel failover is absorbed by the failover client: it re-resolves
// the elected primary on reconnect, and the bounded retry window on reads
// covers the election gap. A store error surfaces only when no primary
// becomes reachable before the retry budget is spent.
package redistore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/nocturnehq/websession/store"
)

// Config describes a Redis session backend. Every field can be populated
// from the environment via [NewFromEnv].
type Config struct {
	// Addr is the single-node address. ENV: SESSION_REDIS_ADDR
	Addr string `env:"SESSION_REDIS_ADDR,default=localhost:6379"`
	// ClusterAddrs is a comma-separated seed list enabling cluster mode.
	// ENV: SESSION_REDIS_CLUSTER_ADDRS
	ClusterAddrs string `env:"SESSION_REDIS_CLUSTER_ADDRS"`
	// MasterName is the sentinel-monitored primary name; setting it
	// enables sentinel mode. ENV: SESSION_REDIS_MASTER_NAME
	MasterName string `env:"SESSION_REDIS_MASTER_NAME"`
	// SentinelAddrs is a comma-separated sentinel list.
	// ENV: SESSION_REDIS_SENTINEL_ADDRS
	SentinelAddrs string `env:"SESSION_REDIS_SENTINEL_ADDRS"`

	Username string `env:"SESSION_REDIS_USERNAME"`
	Password string `env:"SESSION_REDIS_PASSWORD"`
	DB       int    `env:"SESSION_REDIS_DB,default=0"`
	PoolSize int    `env:"SESSION_REDIS_POOL_SIZE,default=0"`

	// KeyPrefix namespaces every session key. Operators rely on this
	// prefix for inspection and eviction tooling.
	// ENV: SESSION_KEY_PREFIX
	KeyPrefix string `env:"SESSION_KEY_PREFIX,default=session:"`
	// Encoding selects the record payload codec: "binary" or "msgpack".
	// ENV: SESSION_ENCODING
	Encoding string `env:"SESSION_ENCODING,default=binary"`

	// MaxRetries bounds re-attempts for transient Load/Touch failures.
	// ENV: SESSION_STORE_MAX_RETRIES
	MaxRetries int `env:"SESSION_STORE_MAX_RETRIES,default=2"`
	// RetryBackoff is the initial backoff between attempts; it doubles
	// per retry. ENV: SESSION_STORE_RETRY_BACKOFF
	RetryBackoff time.Duration `env:"SESSION_STORE_RETRY_BACKOFF,default=50ms"`
	// DialTimeout bounds the construction-time reachability check.
	// ENV: SESSION_STORE_DIAL_TIMEOUT
	DialTimeout time.Duration `env:"SESSION_STORE_DIAL_TIMEOUT,default=5s"`
}

// Store is a Redis-backed [store.Backend]. One Store (and its pooled
// client) is shared by all in-flight requests.
type Store struct {
	client       redis.UniversalClient
	codec        store.Codec
	prefix       string
	maxRetries   int
	retryBackoff time.Duration
	now          func() time.Time
}

// New wraps an existing client. Used directly in tests and by callers who
// manage their own client lifecycle; the topology constructors below are
// the usual entry points.
func New(client redis.UniversalClient, cfg Config) (*Store, error) {
	codec, err := store.NewCodec(cfg.Encoding)
	if err != nil {
		return nil, err
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "session:"
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 50 * time.Millisecond
	}

	return &Store{
		client:       client,
		codec:        codec,
		prefix:       prefix,
		maxRetries:   maxRetries,
		retryBackoff: backoff,
		now:          time.Now,
	}, nil
}

// NewSingle connects to one Redis node.
func NewSingle(cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redistore: single mode requires an address")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	return connect(client, cfg)
}

// NewCluster connects to a Redis Cluster through the given seed addresses.
func NewCluster(cfg Config) (*Store, error) {
	addrs := splitAddrs(cfg.ClusterAddrs)
	if len(addrs) == 0 {
		return nil, errors.New("redistore: cluster mode requires seed addresses")
	}
	client := redis.NewClusterClient(&redis.ClusterOptions{
		Addrs:    addrs,
		Username: cfg.Username,
		Password: cfg.Password,
		PoolSize: cfg.PoolSize,
	})
	return connect(client, cfg)
}

// NewSentinel connects through Redis Sentinel. The failover client
// re-resolves the primary after an election, so a failover shows up here
// as a transient error at worst, not a topology change.
func NewSentinel(cfg Config) (*Store, error) {
	addrs := splitAddrs(cfg.SentinelAddrs)
	if cfg.MasterName == "" || len(addrs) == 0 {
		return nil, errors.New("redistore: sentinel mode requires a master name and sentinel addresses")
	}
	client := redis.NewFailoverClient(&redis.FailoverOptions{
		MasterName:    cfg.MasterName,
		SentinelAddrs: addrs,
		Username:      cfg.Username,
		Password:      cfg.Password,
		DB:            cfg.DB,
		PoolSize:      cfg.PoolSize,
	})
	return connect(client, cfg)
}

// NewFromEnv loads [Config] from the environment and picks the topology:
// sentinel when a master name is set, cluster when seed addresses are
// set, single otherwise.
func NewFromEnv() (*Store, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("redistore: decode env: %w", err)
	}

	switch {
	case cfg.MasterName != "":
		return NewSentinel(cfg)
	case splitAddrs(cfg.ClusterAddrs) != nil:
		return NewCluster(cfg)
	default:
		return NewSingle(cfg)
	}
}

func connect(client redis.UniversalClient, cfg Config) (*Store, error) {
	s, err := New(client, cfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	return s, nil
}

func splitAddrs(raw string) []string {
	if raw == "" {
		return nil
	}
	var addrs []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			addrs = append(addrs, part)
		}
	}
	return addrs
}

func (s *Store) key(id string) string {
	return s.prefix + id
}

// Load implements [store.Backend]. The record's expiry is rebuilt from
// the key's live PTTL, so a Touch-extended deadline survives the stale
// expiry field inside the payload.
//
//	Performance: 1 pipelined GET+PTTL per attempt.
func (s *Store) Load(ctx context.Context, id string) (*store.Record, error) {
	key := s.key(id)

	var data []byte
	var pttl time.Duration
	err := s.retry(ctx, func() error {
		pipe := s.client.Pipeline()
		getCmd := pipe.Get(ctx, key)
		ttlCmd := pipe.PTTL(ctx, key)
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		b, err := getCmd.Bytes()
		if err != nil {
			return err
		}
		data = b
		pttl = ttlCmd.Val()
		return nil
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	rec, err := s.codec.Decode(data)
	if err != nil {
		return nil, err
	}
	rec.ID = id

	now := s.now()
	if pttl > 0 {
		rec.ExpiresAt = now.Add(pttl).Unix()
	}
	if rec.ExpiredAt(now) {
		// Redis has not purged the key yet but the record is logically
		// absent. Clean up opportunistically.
		_ = s.client.Del(ctx, key).Err()
		return nil, store.ErrNotFound
	}

	return rec, nil
}

// Save implements [store.Backend]. SET with PX is a single atomic
// command: the record never exists without its current TTL. Failures are
// surfaced, never retried into silence.
func (s *Store) Save(ctx context.Context, rec *store.Record) error {
	data, ttl, err := s.payload(rec)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(rec.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

// Create implements [store.Backend] via SET NX, so an identifier
// collision is detected atomically at the backend.
func (s *Store) Create(ctx context.Context, rec *store.Record) error {
	data, ttl, err := s.payload(rec)
	if err != nil {
		return err
	}

	ok, err := s.client.SetNX(ctx, s.key(rec.ID), data, ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	if !ok {
		return store.ErrConflict
	}
	return nil
}

// Delete implements [store.Backend].
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

// Touch implements [store.Backend]. PEXPIREAT refreshes the TTL without
// rewriting the payload, which is what keeps read-only requests cheap
// under sliding expiration.
func (s *Store) Touch(ctx context.Context, id string, expiresAt time.Time) error {
	var alive bool
	err := s.retry(ctx, func() error {
		ok, err := s.client.PExpireAt(ctx, s.key(id), expiresAt).Result()
		if err != nil {
			return err
		}
		alive = ok
		return nil
	})
	if err != nil {
		return err
	}
	if !alive {
		return store.ErrNotFound
	}
	return nil
}

// Ping implements [store.Backend].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) payload(rec *store.Record) ([]byte, time.Duration, error) {
	ttl := time.Unix(rec.ExpiresAt, 0).Sub(s.now())
	if ttl <= 0 {
		return nil, 0, store.ErrExpired
	}
	data, err := s.codec.Encode(rec)
	if err != nil {
		return nil, 0, err
	}
	return data, ttl, nil
}

// retry re-attempts op for transient failures with doubling backoff.
// Missing keys and caller cancellation are terminal; exhaustion maps to
// [store.ErrUnavailable].
func (s *Store) retry(ctx context.Context, op func() error) error {
	backoff := s.retryBackoff

	var err error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		err = op()
		if err == nil || !retryable(err) {
			return err
		}
	}

	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}

func retryable(err error) bool {
	return !errors.Is(err, redis.Nil) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}
