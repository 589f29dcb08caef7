//go:build integration
// +build integration

package test

import (
	"context"
	"net"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	websession "github.com/nocturnehq/websession"
)

// cmdCounter is a go-redis Hook that counts the number of Redis round-trips
// (individual commands and pipeline calls).
type cmdCounter struct {
	commands  atomic.Int64
	pipelines atomic.Int64
}

func (h *cmdCounter) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *cmdCounter) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.commands.Add(1)
		return next(ctx, cmd)
	}
}

func (h *cmdCounter) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		// Each pipeline call is one network round-trip regardless of command count.
		h.pipelines.Add(1)
		h.commands.Add(int64(len(cmds)))
		return next(ctx, cmds)
	}
}

func (h *cmdCounter) Reset() {
	h.commands.Store(0)
	h.pipelines.Store(0)
}

func (h *cmdCounter) Commands() int64  { return h.commands.Load() }
func (h *cmdCounter) Pipelines() int64 { return h.pipelines.Load() }

// newCountedManager builds a miniredis-backed Manager with a cmdCounter
// hook installed. Reset the counter before each measured operation.
func newCountedManager(t *testing.T) (*websession.Manager, *cmdCounter) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	counter := &cmdCounter{}
	rdb.AddHook(counter)

	// Warm the connection: go-redis may emit extra commands on first use
	// (handshake, HELLO, CLIENT SETNAME, etc.). A PING up front keeps that
	// noise out of the budgets.
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("warmup ping: %v", err)
	}
	counter.Reset()

	cfg := websession.DefaultConfig()
	cfg.Session.JitterEnabled = false
	cfg.Session.JitterRange = 0
	cfg.Cookie.SigningSecrets = [][]byte{[]byte("budget-secret-0123456789abcdefgh")}

	m, err := websession.New().WithConfig(cfg).WithRedis(rdb).Build()
	if err != nil {
		t.Fatalf("manager build: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })

	return m, counter
}

// TestReadOnlyRequestRedisBudget verifies the hot path: a request that only
// reads session data costs one pipelined load (GET+PTTL) plus one TTL
// refresh (PEXPIREAT).
func TestReadOnlyRequestRedisBudget(t *testing.T) {
	m, counter := newCountedManager(t)
	ctx := context.Background()

	raw := seedSession(t, m, map[string]string{"user_id": "42"})

	counter.Reset()

	sc, err := m.Begin(ctx, raw)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if sc.IsNew() {
		t.Fatal("seeded session resolved as new")
	}
	if _, err := m.Finish(ctx, sc); err != nil {
		t.Fatalf("finish: %v", err)
	}

	cmds := counter.Commands()
	if cmds > 3 {
		t.Errorf("read-only request used %d Redis commands; budget is <= 3 (GET+PTTL pipeline, PEXPIREAT)", cmds)
	}
	if p := counter.Pipelines(); p > 1 {
		t.Errorf("read-only request used %d pipeline round-trips; budget is <= 1", p)
	}
	t.Logf("read-only request: %d commands, %d pipelines", cmds, counter.Pipelines())
}

// TestSessionCreateRedisBudget verifies that persisting a new session is a
// single SET NX.
func TestSessionCreateRedisBudget(t *testing.T) {
	m, counter := newCountedManager(t)
	ctx := context.Background()

	sc, err := m.Begin(ctx, "")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	_ = sc.Set("k", "v")

	counter.Reset()

	if _, err := m.Finish(ctx, sc); err != nil {
		t.Fatalf("finish: %v", err)
	}

	if cmds := counter.Commands(); cmds != 1 {
		t.Errorf("create used %d Redis commands; budget is 1 (SET NX)", cmds)
	}
}

// TestSessionDestroyRedisBudget verifies that destroying a session costs
// one DEL beyond the resolve.
func TestSessionDestroyRedisBudget(t *testing.T) {
	m, counter := newCountedManager(t)
	ctx := context.Background()

	raw := seedSession(t, m, map[string]string{"user_id": "42"})

	sc, err := m.Begin(ctx, raw)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := m.Destroy(sc); err != nil {
		t.Fatalf("destroy: %v", err)
	}

	counter.Reset()

	env, err := m.Finish(ctx, sc)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if env == nil || env.MaxAge >= 0 {
		t.Fatal("expected a clearing envelope")
	}

	if cmds := counter.Commands(); cmds != 1 {
		t.Errorf("destroy used %d Redis commands; budget is 1 (DEL)", cmds)
	}
}

// TestWriteRequestRedisBudget verifies that a mutating request costs one
// pipelined load plus one SET.
func TestWriteRequestRedisBudget(t *testing.T) {
	m, counter := newCountedManager(t)
	ctx := context.Background()

	raw := seedSession(t, m, map[string]string{"visits": "1"})

	counter.Reset()

	sc, err := m.Begin(ctx, raw)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	_ = sc.Set("visits", "2")
	if _, err := m.Finish(ctx, sc); err != nil {
		t.Fatalf("finish: %v", err)
	}

	cmds := counter.Commands()
	if cmds > 3 {
		t.Errorf("write request used %d Redis commands; budget is <= 3 (GET+PTTL pipeline, SET)", cmds)
	}
	t.Logf("write request: %d commands, %d pipelines", cmds, counter.Pipelines())
}
