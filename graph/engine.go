package graph

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/insightflow/insightflow/graph/emit"
	"github.com/insightflow/insightflow/graph/store"
)

// Engine drives a state record through the workflow graph with deterministic
// ordering, bounded retries, and full observability.
//
// Each run is a single-threaded cooperative state machine: nodes execute one
// at a time, suspending at I/O and LLM calls via their contexts. Distinct
// runs progress in parallel and are isolated by run id. After every node the
// engine merges the returned delta through the reducer, snapshots the state
// under the run's checkpoint key, emits an observability event, and
// evaluates the conditional edges to pick the successor.
//
// Type parameter S is the state type shared across the workflow.
//
// Example:
//
//	engine := graph.New(reducer, store.NewMem[State](), emit.NewNull(), graph.Options{MaxSteps: 50})
//	engine.Add("route_query", routeNode, nil)
//	engine.Add("nl2sql", sqlNode, &graph.NodePolicy{Timeout: 45 * time.Second})
//	engine.Connect("route_query", "nl2sql", func(s State) bool { return s.DataSourceID != "" })
//	engine.StartAt("route_query")
//	final, err := engine.Run(ctx, conversationID, initial)
type Engine[S any] struct {
	mu sync.RWMutex

	reducer   Reducer[S]
	nodes     map[string]Node[S]
	policies  map[string]*NodePolicy
	edges     []Edge[S]
	startNode string

	store   store.Store[S]
	emitter emit.Emitter
	metrics *Metrics
	opts    Options

	rng   *rand.Rand
	rngMu sync.Mutex
}

// Options configures engine execution behavior. Zero values are valid.
type Options struct {
	// MaxSteps bounds the number of node executions per run, preventing
	// loops from running away. Zero means no limit.
	MaxSteps int

	// DefaultNodeTimeout applies to nodes without an explicit policy
	// timeout. Zero means no per-node timeout.
	DefaultNodeTimeout time.Duration

	// Metrics, when set, records node latencies, retries and run counts.
	Metrics *Metrics
}

// New creates an Engine.
//
// reducer merges node deltas into the running state and is required.
// st persists per-step snapshots and is required. emitter may be nil.
func New[S any](reducer Reducer[S], st store.Store[S], emitter emit.Emitter, opts Options) *Engine[S] {
	return &Engine[S]{
		reducer:  reducer,
		nodes:    make(map[string]Node[S]),
		policies: make(map[string]*NodePolicy),
		store:    st,
		emitter:  emitter,
		metrics:  opts.Metrics,
		opts:     opts,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- retry jitter
	}
}

// Add registers a node with an optional execution policy.
//
// Node IDs must be unique and non-empty. policy may be nil, in which case
// Options defaults apply.
func (e *Engine[S]) Add(nodeID string, node Node[S], policy *NodePolicy) error {
	if nodeID == "" {
		return &EngineError{Message: "node ID cannot be empty"}
	}
	if node == nil {
		return &EngineError{Message: "node cannot be nil"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; exists {
		return &EngineError{Message: "duplicate node ID: " + nodeID, Code: "DUPLICATE_NODE"}
	}
	e.nodes[nodeID] = node
	if policy != nil {
		e.policies[nodeID] = policy
	}
	return nil
}

// StartAt sets the entry node for runs. The node must already be registered.
func (e *Engine[S]) StartAt(nodeID string) error {
	if nodeID == "" {
		return &EngineError{Message: "start node ID cannot be empty"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; !exists {
		return &EngineError{Message: "start node does not exist: " + nodeID, Code: "NODE_NOT_FOUND"}
	}
	e.startNode = nodeID
	return nil
}

// Connect registers a conditional edge. Edges for the same source node are
// evaluated in registration order; a nil predicate always matches.
// Node existence is validated lazily at traversal time to allow flexible
// construction order.
func (e *Engine[S]) Connect(from, to string, when Predicate[S]) error {
	if from == "" {
		return &EngineError{Message: "from node ID cannot be empty"}
	}
	if to == "" {
		return &EngineError{Message: "to node ID cannot be empty"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.edges = append(e.edges, Edge[S]{From: from, To: to, When: when})
	return nil
}

// Run executes the workflow from the start node to a terminal route.
//
// The run:
//  1. validates configuration (reducer, store, start node)
//  2. executes nodes under their policies (timeout, bounded retries with
//     exponential backoff and jitter)
//  3. merges each delta through the reducer
//  4. snapshots state under runID after every node
//  5. emits node_start / node_retry / node_end / run_* events
//  6. follows explicit routes, then conditional edges
//
// runID keys checkpoints and events; callers use the conversation id so a
// run can be resumed or observed by conversation.
func (e *Engine[S]) Run(ctx context.Context, runID string, initial S) (S, error) {
	var zero S

	if e.reducer == nil {
		return zero, &EngineError{Message: "reducer is required", Code: "MISSING_REDUCER"}
	}
	if e.store == nil {
		return zero, &EngineError{Message: "store is required", Code: "MISSING_STORE"}
	}
	e.mu.RLock()
	start := e.startNode
	_, startExists := e.nodes[start]
	e.mu.RUnlock()
	if start == "" {
		return zero, &EngineError{Message: "start node not set (call StartAt before Run)", Code: "NO_START_NODE"}
	}
	if !startExists {
		return zero, &EngineError{Message: "start node does not exist: " + start, Code: "NODE_NOT_FOUND"}
	}

	runStart := time.Now()
	currentState := initial
	currentNode := start
	step := 0

	for {
		step++

		if e.opts.MaxSteps > 0 && step > e.opts.MaxSteps {
			e.finishRun(runID, step, emit.MsgRunFailed, map[string]any{"error": ErrMaxStepsExceeded.Error()}, runStart, "failed")
			return zero, &EngineError{Message: "workflow exceeded MaxSteps limit", Code: "MAX_STEPS_EXCEEDED"}
		}

		select {
		case <-ctx.Done():
			e.finishRun(runID, step, emit.MsgRunFailed, map[string]any{"error": ctx.Err().Error()}, runStart, "cancelled")
			return zero, ctx.Err()
		default:
		}

		e.mu.RLock()
		nodeImpl, exists := e.nodes[currentNode]
		policy := e.policies[currentNode]
		e.mu.RUnlock()
		if !exists {
			e.finishRun(runID, step, emit.MsgRunFailed, map[string]any{"error": "node not found: " + currentNode}, runStart, "failed")
			return zero, &EngineError{Message: "node not found during execution: " + currentNode, Code: "NODE_NOT_FOUND"}
		}

		e.emit(emit.Event{RunID: runID, Step: step, NodeID: currentNode, Msg: emit.MsgNodeStart, Timestamp: time.Now()})

		result := e.runNode(ctx, runID, step, currentNode, nodeImpl, policy, currentState)
		if result.Err != nil {
			e.finishRun(runID, step, emit.MsgRunFailed, map[string]any{"error": result.Err.Error(), "node": currentNode}, runStart, "failed")
			return zero, result.Err
		}

		currentState = e.reducer(currentState, result.Delta)

		if err := e.store.SaveStep(ctx, runID, step, currentNode, currentState); err != nil {
			e.finishRun(runID, step, emit.MsgRunFailed, map[string]any{"error": err.Error()}, runStart, "failed")
			return zero, &EngineError{Message: "failed to save step: " + err.Error(), Code: "STORE_ERROR"}
		}

		e.emit(emit.Event{RunID: runID, Step: step, NodeID: currentNode, Msg: emit.MsgNodeEnd, Timestamp: time.Now()})

		if result.Route.Terminal {
			e.finishRun(runID, step, emit.MsgRunComplete, nil, runStart, "complete")
			return currentState, nil
		}
		if result.Route.To != "" {
			currentNode = result.Route.To
			continue
		}

		next := e.evaluateEdges(currentNode, currentState)
		if next == "" {
			e.finishRun(runID, step, emit.MsgRunFailed, map[string]any{"error": "no route from " + currentNode}, runStart, "failed")
			return zero, &EngineError{Message: "no valid route from node: " + currentNode, Code: "NO_ROUTE"}
		}
		currentNode = next
	}
}

// runNode executes a single node under its policy: per-attempt timeout and
// bounded retries with jittered exponential backoff. Only NodeResult.Err
// failures are retried; domain failures encoded into the delta flow through
// the edges.
func (e *Engine[S]) runNode(ctx context.Context, runID string, step int, nodeID string, node Node[S], policy *NodePolicy, state S) NodeResult[S] {
	timeout := e.opts.DefaultNodeTimeout
	if policy != nil && policy.Timeout > 0 {
		timeout = policy.Timeout
	}
	var retry *RetryPolicy
	if policy != nil {
		retry = policy.Retry
	}

	attempt := 0
	for {
		attemptCtx := context.WithValue(ctx, attemptKey{}, attempt)
		var cancel context.CancelFunc
		if timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(attemptCtx, timeout)
		}

		started := time.Now()
		result := node.Run(attemptCtx, state)
		if cancel != nil {
			cancel()
		}

		if e.metrics != nil {
			status := "success"
			if result.Err != nil {
				status = "error"
			}
			e.metrics.ObserveNode(nodeID, status, time.Since(started))
		}

		if result.Err == nil || ctx.Err() != nil {
			return result
		}

		if !retry.shouldRetry(attempt, result.Err) {
			return result
		}

		delay := computeBackoff(attempt, retry.BaseDelay, retry.MaxDelay, e.jitterRNG())
		attempt++

		if e.metrics != nil {
			e.metrics.CountRetry(nodeID)
		}
		e.emit(emit.Event{
			RunID: runID, Step: step, NodeID: nodeID, Msg: emit.MsgNodeRetry,
			Meta:      map[string]any{"attempt": attempt, "delay_ms": delay.Milliseconds(), "error": result.Err.Error()},
			Timestamp: time.Now(),
		})

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return NodeResult[S]{Err: ctx.Err()}
		}
	}
}

// evaluateEdges finds the first matching edge from a node. A nil predicate
// always matches. Returns "" when no edge matches.
func (e *Engine[S]) evaluateEdges(fromNode string, state S) string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, edge := range e.edges {
		if edge.From != fromNode {
			continue
		}
		if edge.When == nil || edge.When(state) {
			return edge.To
		}
	}
	return ""
}

// LoadLatest returns the most recent checkpointed state for a run.
func (e *Engine[S]) LoadLatest(ctx context.Context, runID string) (S, int, error) {
	var zero S
	if e.store == nil {
		return zero, 0, &EngineError{Message: "store is required", Code: "MISSING_STORE"}
	}
	return e.store.LoadLatest(ctx, runID)
}

// SaveCheckpoint labels the latest state of a run so it can be restored
// later under cpID.
func (e *Engine[S]) SaveCheckpoint(ctx context.Context, runID, cpID string) error {
	state, step, err := e.store.LoadLatest(ctx, runID)
	if err != nil {
		return &EngineError{Message: "cannot create checkpoint: " + err.Error(), Code: "RUN_NOT_FOUND"}
	}
	if err := e.store.SaveCheckpoint(ctx, cpID, state, step); err != nil {
		return &EngineError{Message: "failed to save checkpoint: " + err.Error(), Code: "CHECKPOINT_SAVE_FAILED"}
	}
	return nil
}

// attemptKey carries the zero-based retry attempt into node contexts.
type attemptKey struct{}

// Attempt returns the zero-based attempt number of the current node
// execution. It is 0 on the first try and outside node execution, letting
// nodes degrade gracefully once their retry budget is spent.
func Attempt(ctx context.Context) int {
	if n, ok := ctx.Value(attemptKey{}).(int); ok {
		return n
	}
	return 0
}

func (e *Engine[S]) jitterRNG() *rand.Rand {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng
}

func (e *Engine[S]) emit(event emit.Event) {
	if e.emitter != nil {
		e.emitter.Emit(event)
	}
}

func (e *Engine[S]) finishRun(runID string, step int, msg string, meta map[string]any, started time.Time, status string) {
	if e.metrics != nil {
		e.metrics.ObserveRun(status, time.Since(started))
	}
	e.emit(emit.Event{RunID: runID, Step: step, Msg: msg, Meta: meta, Timestamp: time.Now()})
}
