//go:build integration
// +build integration

package test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	websession "github.com/nocturnehq/websession"
)

func newIntegrationManager(t *testing.T, mutate func(*websession.Config)) (*websession.Manager, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := websession.DefaultConfig()
	cfg.Session.JitterEnabled = false
	cfg.Session.JitterRange = 0
	cfg.Cookie.SigningSecrets = [][]byte{[]byte("integration-secret-0123456789abc")}
	if mutate != nil {
		mutate(&cfg)
	}

	m, err := websession.New().WithConfig(cfg).WithRedis(rdb).Build()
	if err != nil {
		t.Fatalf("manager build: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })

	return m, mr
}

// seedSession creates a session holding data and returns the cookie value a
// client would present on the next request.
func seedSession(t *testing.T, m *websession.Manager, data map[string]string) string {
	t.Helper()

	sc, err := m.Begin(context.Background(), "")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	for k, v := range data {
		if err := sc.Set(k, v); err != nil {
			t.Fatalf("set %q: %v", k, err)
		}
	}
	env, err := m.Finish(context.Background(), sc)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if env == nil {
		t.Fatal("expected a cookie envelope for a new session")
	}
	return env.Value
}
