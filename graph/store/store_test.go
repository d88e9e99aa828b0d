package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type snapshot struct {
	Stage   string `json:"stage"`
	Counter int    `json:"counter"`
}

// storeContract exercises the Store behavior every backend must share.
func storeContract(t *testing.T, st Store[snapshot]) {
	t.Helper()
	ctx := context.Background()

	t.Run("unknown run returns ErrNotFound", func(t *testing.T) {
		_, _, err := st.LoadLatest(ctx, "missing")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("latest step wins", func(t *testing.T) {
		if err := st.SaveStep(ctx, "run-1", 1, "route_query", snapshot{Stage: "routed", Counter: 1}); err != nil {
			t.Fatal(err)
		}
		if err := st.SaveStep(ctx, "run-1", 2, "nl2sql", snapshot{Stage: "sql_ready", Counter: 2}); err != nil {
			t.Fatal(err)
		}

		state, step, err := st.LoadLatest(ctx, "run-1")
		if err != nil {
			t.Fatal(err)
		}
		if step != 2 || state.Stage != "sql_ready" {
			t.Errorf("expected step 2 / sql_ready, got %d / %s", step, state.Stage)
		}
	})

	t.Run("saving the same step overwrites", func(t *testing.T) {
		if err := st.SaveStep(ctx, "run-2", 1, "a", snapshot{Stage: "first"}); err != nil {
			t.Fatal(err)
		}
		if err := st.SaveStep(ctx, "run-2", 1, "a", snapshot{Stage: "second"}); err != nil {
			t.Fatal(err)
		}
		state, step, err := st.LoadLatest(ctx, "run-2")
		if err != nil {
			t.Fatal(err)
		}
		if step != 1 || state.Stage != "second" {
			t.Errorf("expected overwritten step, got %d / %s", step, state.Stage)
		}
	})

	t.Run("checkpoints round-trip", func(t *testing.T) {
		if err := st.SaveCheckpoint(ctx, "cp-1", snapshot{Stage: "labeled", Counter: 7}, 5); err != nil {
			t.Fatal(err)
		}
		state, step, err := st.LoadCheckpoint(ctx, "cp-1")
		if err != nil {
			t.Fatal(err)
		}
		if step != 5 || state.Counter != 7 {
			t.Errorf("expected step 5 / counter 7, got %d / %d", step, state.Counter)
		}

		_, _, err = st.LoadCheckpoint(ctx, "cp-missing")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestMemStore(t *testing.T) {
	storeContract(t, NewMem[snapshot]())

	t.Run("stored state does not alias caller state", func(t *testing.T) {
		type withMap struct {
			Meta map[string]string `json:"meta"`
		}
		st := NewMem[withMap]()
		ctx := context.Background()

		original := withMap{Meta: map[string]string{"engine": "embedded"}}
		if err := st.SaveStep(ctx, "run-alias", 1, "n", original); err != nil {
			t.Fatal(err)
		}
		original.Meta["engine"] = "mutated"

		loaded, _, err := st.LoadLatest(ctx, "run-alias")
		if err != nil {
			t.Fatal(err)
		}
		if loaded.Meta["engine"] != "embedded" {
			t.Error("stored snapshot aliased the caller's map")
		}
	})
}

func TestSQLiteStore(t *testing.T) {
	st, err := NewSQLite[snapshot](filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	defer st.Close()

	storeContract(t, st)

	t.Run("closed store rejects writes", func(t *testing.T) {
		tmp, err := NewSQLite[snapshot](filepath.Join(t.TempDir(), "closed.db"))
		if err != nil {
			t.Fatal(err)
		}
		if err := tmp.Close(); err != nil {
			t.Fatal(err)
		}
		if err := tmp.SaveStep(context.Background(), "r", 1, "n", snapshot{}); err == nil {
			t.Error("expected error writing to closed store")
		}
	})
}

func TestRedisStore(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	st := NewRedis[snapshot](client, "test", time.Minute)
	storeContract(t, st)

	t.Run("entries expire after TTL", func(t *testing.T) {
		short := NewRedis[snapshot](client, "ttl", time.Second)
		ctx := context.Background()
		if err := short.SaveStep(ctx, "run-ttl", 1, "n", snapshot{Stage: "fresh"}); err != nil {
			t.Fatal(err)
		}
		if _, _, err := short.LoadLatest(ctx, "run-ttl"); err != nil {
			t.Fatalf("expected entry before expiry: %v", err)
		}

		srv.FastForward(2 * time.Second)
		_, _, err := short.LoadLatest(ctx, "run-ttl")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after TTL, got %v", err)
		}
	})
}
