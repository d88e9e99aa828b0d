package graph

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/insightflow/insightflow/graph/emit"
	"github.com/insightflow/insightflow/graph/store"
)

type testState struct {
	Value   string `json:"value"`
	Counter int    `json:"counter"`
	Flag    bool   `json:"flag"`
}

func testReducer(prev, delta testState) testState {
	if delta.Value != "" {
		prev.Value = delta.Value
	}
	prev.Counter += delta.Counter
	prev.Flag = delta.Flag
	return prev
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []emit.Event
}

func (r *recordingEmitter) Emit(event emit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingEmitter) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Msg
	}
	return out
}

func stepNode(value string, counter int) Node[testState] {
	return NodeFunc[testState](func(_ context.Context, s testState) NodeResult[testState] {
		s.Value = value
		s.Counter = counter
		return NodeResult[testState]{Delta: s}
	})
}

func terminalNode(value string) Node[testState] {
	return NodeFunc[testState](func(_ context.Context, s testState) NodeResult[testState] {
		s.Value = value
		s.Counter = 0
		return NodeResult[testState]{Delta: s, Route: Stop()}
	})
}

func TestEngineValidation(t *testing.T) {
	t.Run("missing reducer", func(t *testing.T) {
		e := New[testState](nil, store.NewMem[testState](), nil, Options{})
		_, err := e.Run(context.Background(), "run-1", testState{})
		var ee *EngineError
		if !errors.As(err, &ee) || ee.Code != "MISSING_REDUCER" {
			t.Fatalf("expected MISSING_REDUCER, got %v", err)
		}
	})

	t.Run("missing store", func(t *testing.T) {
		e := New(testReducer, nil, nil, Options{})
		_, err := e.Run(context.Background(), "run-1", testState{})
		var ee *EngineError
		if !errors.As(err, &ee) || ee.Code != "MISSING_STORE" {
			t.Fatalf("expected MISSING_STORE, got %v", err)
		}
	})

	t.Run("start node not set", func(t *testing.T) {
		e := New(testReducer, store.NewMem[testState](), nil, Options{})
		_, err := e.Run(context.Background(), "run-1", testState{})
		var ee *EngineError
		if !errors.As(err, &ee) || ee.Code != "NO_START_NODE" {
			t.Fatalf("expected NO_START_NODE, got %v", err)
		}
	})

	t.Run("duplicate node ID", func(t *testing.T) {
		e := New(testReducer, store.NewMem[testState](), nil, Options{})
		if err := e.Add("a", stepNode("a", 1), nil); err != nil {
			t.Fatal(err)
		}
		err := e.Add("a", stepNode("a", 1), nil)
		var ee *EngineError
		if !errors.As(err, &ee) || ee.Code != "DUPLICATE_NODE" {
			t.Fatalf("expected DUPLICATE_NODE, got %v", err)
		}
	})

	t.Run("start node must exist", func(t *testing.T) {
		e := New(testReducer, store.NewMem[testState](), nil, Options{})
		if err := e.StartAt("missing"); err == nil {
			t.Fatal("expected error for unknown start node")
		}
	})
}

func TestEngineLinearRun(t *testing.T) {
	st := store.NewMem[testState]()
	emitter := &recordingEmitter{}
	e := New(testReducer, st, emitter, Options{MaxSteps: 10})

	mustAdd(t, e, "first", stepNode("first", 1), nil)
	mustAdd(t, e, "second", stepNode("second", 1), nil)
	mustAdd(t, e, "last", terminalNode("last"), nil)
	mustConnect(t, e, "first", "second", nil)
	mustConnect(t, e, "second", "last", nil)
	mustStart(t, e, "first")

	final, err := e.Run(context.Background(), "run-linear", testState{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if final.Value != "last" {
		t.Errorf("expected final value %q, got %q", "last", final.Value)
	}
	if final.Counter != 2 {
		t.Errorf("expected counter 2, got %d", final.Counter)
	}

	// Every node checkpointed; latest snapshot matches the final state.
	latest, step, err := st.LoadLatest(context.Background(), "run-linear")
	if err != nil {
		t.Fatalf("LoadLatest failed: %v", err)
	}
	if step != 3 {
		t.Errorf("expected 3 steps, got %d", step)
	}
	if latest.Value != "last" {
		t.Errorf("expected checkpointed value %q, got %q", "last", latest.Value)
	}

	msgs := emitter.messages()
	want := []string{
		emit.MsgNodeStart, emit.MsgNodeEnd,
		emit.MsgNodeStart, emit.MsgNodeEnd,
		emit.MsgNodeStart, emit.MsgNodeEnd,
		emit.MsgRunComplete,
	}
	if len(msgs) != len(want) {
		t.Fatalf("expected %d events, got %d: %v", len(want), len(msgs), msgs)
	}
	for i := range want {
		if msgs[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], msgs[i])
		}
	}
}

func TestEngineConditionalEdges(t *testing.T) {
	t.Run("first matching edge wins", func(t *testing.T) {
		e := New(testReducer, store.NewMem[testState](), nil, Options{MaxSteps: 10})
		mustAdd(t, e, "decide", NodeFunc[testState](func(_ context.Context, s testState) NodeResult[testState] {
			s.Flag = true
			return NodeResult[testState]{Delta: s}
		}), nil)
		mustAdd(t, e, "flagged", terminalNode("flagged"), nil)
		mustAdd(t, e, "fallback", terminalNode("fallback"), nil)
		mustConnect(t, e, "decide", "flagged", func(s testState) bool { return s.Flag })
		mustConnect(t, e, "decide", "fallback", nil)
		mustStart(t, e, "decide")

		final, err := e.Run(context.Background(), "run-edges", testState{})
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}
		if final.Value != "flagged" {
			t.Errorf("expected flagged branch, got %q", final.Value)
		}
	})

	t.Run("nil predicate catches all", func(t *testing.T) {
		e := New(testReducer, store.NewMem[testState](), nil, Options{MaxSteps: 10})
		mustAdd(t, e, "decide", stepNode("decide", 1), nil)
		mustAdd(t, e, "flagged", terminalNode("flagged"), nil)
		mustAdd(t, e, "fallback", terminalNode("fallback"), nil)
		mustConnect(t, e, "decide", "flagged", func(s testState) bool { return s.Flag })
		mustConnect(t, e, "decide", "fallback", nil)
		mustStart(t, e, "decide")

		final, err := e.Run(context.Background(), "run-fallthrough", testState{})
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}
		if final.Value != "fallback" {
			t.Errorf("expected fallback branch, got %q", final.Value)
		}
	})

	t.Run("no matching edge fails the run", func(t *testing.T) {
		e := New(testReducer, store.NewMem[testState](), nil, Options{MaxSteps: 10})
		mustAdd(t, e, "dead-end", stepNode("dead-end", 1), nil)
		mustStart(t, e, "dead-end")

		_, err := e.Run(context.Background(), "run-noroute", testState{})
		var ee *EngineError
		if !errors.As(err, &ee) || ee.Code != "NO_ROUTE" {
			t.Fatalf("expected NO_ROUTE, got %v", err)
		}
	})
}

func TestEngineExplicitRoutes(t *testing.T) {
	e := New(testReducer, store.NewMem[testState](), nil, Options{MaxSteps: 10})
	mustAdd(t, e, "jump", NodeFunc[testState](func(_ context.Context, s testState) NodeResult[testState] {
		return NodeResult[testState]{Delta: s, Route: Goto("target")}
	}), nil)
	mustAdd(t, e, "never", terminalNode("never"), nil)
	mustAdd(t, e, "target", terminalNode("target"), nil)
	// Edge points elsewhere; the explicit Goto must win.
	mustConnect(t, e, "jump", "never", nil)
	mustStart(t, e, "jump")

	final, err := e.Run(context.Background(), "run-goto", testState{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if final.Value != "target" {
		t.Errorf("expected Goto target, got %q", final.Value)
	}
}

func TestEngineMaxSteps(t *testing.T) {
	e := New(testReducer, store.NewMem[testState](), nil, Options{MaxSteps: 3})
	mustAdd(t, e, "loop", stepNode("loop", 1), nil)
	mustConnect(t, e, "loop", "loop", nil)
	mustStart(t, e, "loop")

	_, err := e.Run(context.Background(), "run-loop", testState{})
	var ee *EngineError
	if !errors.As(err, &ee) || ee.Code != "MAX_STEPS_EXCEEDED" {
		t.Fatalf("expected MAX_STEPS_EXCEEDED, got %v", err)
	}
}

func TestEngineRetry(t *testing.T) {
	t.Run("transient error retried until success", func(t *testing.T) {
		attempts := 0
		flaky := NodeFunc[testState](func(_ context.Context, s testState) NodeResult[testState] {
			attempts++
			if attempts < 3 {
				return NodeResult[testState]{Err: errors.New("connection reset")}
			}
			s.Value = "recovered"
			return NodeResult[testState]{Delta: s, Route: Stop()}
		})

		emitter := &recordingEmitter{}
		e := New(testReducer, store.NewMem[testState](), emitter, Options{MaxSteps: 10})
		mustAdd(t, e, "flaky", flaky, &NodePolicy{
			Retry: &RetryPolicy{
				MaxAttempts: 3,
				BaseDelay:   time.Millisecond,
				MaxDelay:    5 * time.Millisecond,
				Retryable:   func(error) bool { return true },
			},
		})
		mustStart(t, e, "flaky")

		final, err := e.Run(context.Background(), "run-retry", testState{})
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}
		if final.Value != "recovered" {
			t.Errorf("expected recovered, got %q", final.Value)
		}
		if attempts != 3 {
			t.Errorf("expected 3 attempts, got %d", attempts)
		}

		retries := 0
		for _, msg := range emitter.messages() {
			if msg == emit.MsgNodeRetry {
				retries++
			}
		}
		if retries != 2 {
			t.Errorf("expected 2 retry events, got %d", retries)
		}
	})

	t.Run("attempt number visible to the node", func(t *testing.T) {
		var seen []int
		flaky := NodeFunc[testState](func(ctx context.Context, s testState) NodeResult[testState] {
			seen = append(seen, Attempt(ctx))
			if len(seen) < 2 {
				return NodeResult[testState]{Err: errors.New("transient")}
			}
			return NodeResult[testState]{Delta: s, Route: Stop()}
		})

		e := New(testReducer, store.NewMem[testState](), nil, Options{MaxSteps: 10})
		mustAdd(t, e, "flaky", flaky, &NodePolicy{
			Retry: &RetryPolicy{
				MaxAttempts: 2,
				BaseDelay:   time.Millisecond,
				Retryable:   func(error) bool { return true },
			},
		})
		mustStart(t, e, "flaky")

		if _, err := e.Run(context.Background(), "run-attempt", testState{}); err != nil {
			t.Fatalf("run failed: %v", err)
		}
		if len(seen) != 2 || seen[0] != 0 || seen[1] != 1 {
			t.Errorf("expected attempts [0 1], got %v", seen)
		}
	})

	t.Run("non-retryable error fails immediately", func(t *testing.T) {
		attempts := 0
		broken := NodeFunc[testState](func(_ context.Context, s testState) NodeResult[testState] {
			attempts++
			return NodeResult[testState]{Err: errors.New("syntax error")}
		})

		e := New(testReducer, store.NewMem[testState](), nil, Options{MaxSteps: 10})
		mustAdd(t, e, "broken", broken, &NodePolicy{
			Retry: &RetryPolicy{
				MaxAttempts: 3,
				BaseDelay:   time.Millisecond,
				Retryable:   func(error) bool { return false },
			},
		})
		mustStart(t, e, "broken")

		_, err := e.Run(context.Background(), "run-noretry", testState{})
		if err == nil {
			t.Fatal("expected run failure")
		}
		if attempts != 1 {
			t.Errorf("expected 1 attempt, got %d", attempts)
		}
	})

	t.Run("attempts exhausted", func(t *testing.T) {
		attempts := 0
		alwaysDown := NodeFunc[testState](func(_ context.Context, s testState) NodeResult[testState] {
			attempts++
			return NodeResult[testState]{Err: errors.New("timeout")}
		})

		e := New(testReducer, store.NewMem[testState](), nil, Options{MaxSteps: 10})
		mustAdd(t, e, "down", alwaysDown, &NodePolicy{
			Retry: &RetryPolicy{
				MaxAttempts: 2,
				BaseDelay:   time.Millisecond,
				Retryable:   func(error) bool { return true },
			},
		})
		mustStart(t, e, "down")

		_, err := e.Run(context.Background(), "run-exhausted", testState{})
		if err == nil {
			t.Fatal("expected run failure")
		}
		if attempts != 2 {
			t.Errorf("expected 2 attempts, got %d", attempts)
		}
	})
}

func TestEngineContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := New(testReducer, store.NewMem[testState](), nil, Options{MaxSteps: 100})
	mustAdd(t, e, "spin", NodeFunc[testState](func(_ context.Context, s testState) NodeResult[testState] {
		cancel()
		return NodeResult[testState]{Delta: s}
	}), nil)
	mustConnect(t, e, "spin", "spin", nil)
	mustStart(t, e, "spin")

	_, err := e.Run(ctx, "run-cancel", testState{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestEngineConcurrentRuns(t *testing.T) {
	e := New(testReducer, store.NewMem[testState](), nil, Options{MaxSteps: 10})
	mustAdd(t, e, "a", stepNode("a", 1), nil)
	mustAdd(t, e, "b", terminalNode("b"), nil)
	mustConnect(t, e, "a", "b", nil)
	mustStart(t, e, "a")

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.Run(context.Background(), "run-concurrent", testState{})
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Errorf("run %d failed: %v", i, err)
		}
	}
}

func mustAdd(t *testing.T, e *Engine[testState], id string, n Node[testState], p *NodePolicy) {
	t.Helper()
	if err := e.Add(id, n, p); err != nil {
		t.Fatalf("Add(%s): %v", id, err)
	}
}

func mustConnect(t *testing.T, e *Engine[testState], from, to string, when Predicate[testState]) {
	t.Helper()
	if err := e.Connect(from, to, when); err != nil {
		t.Fatalf("Connect(%s, %s): %v", from, to, err)
	}
}

func mustStart(t *testing.T, e *Engine[testState], id string) {
	t.Helper()
	if err := e.StartAt(id); err != nil {
		t.Fatalf("StartAt(%s): %v", id, err)
	}
}
