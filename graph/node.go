package graph

import "context"

// Node is a processing unit in the workflow graph. It receives the current
// state, performs its work (LLM calls, query execution, validation), and
// returns a NodeResult carrying the updated state and a routing decision.
//
// Nodes must not panic across the engine boundary: domain failures are
// encoded into the returned state; NodeResult.Err is reserved for
// infrastructure faults the engine may retry.
//
// Type parameter S is the state type shared across the workflow.
type Node[S any] interface {
	// Run executes the node's logic with the given context and state.
	Run(ctx context.Context, state S) NodeResult[S]
}

// NodeResult is the output of one node execution.
type NodeResult[S any] struct {
	// Delta is the state update produced by this node. It is merged with
	// the current state by the engine's reducer.
	Delta S

	// Route is the node's explicit routing decision. A zero Route defers
	// to the graph's conditional edges.
	Route Next

	// Err is an infrastructure-level error (timeout, connection reset).
	// The engine consults the node's retry policy before giving up.
	Err error
}

// Next specifies where execution goes after a node completes.
//
// Three modes:
//   - zero value: defer to edge predicates registered via Connect
//   - Goto(id): jump to a specific node
//   - Stop(): terminate the run
type Next struct {
	// To names the next node to execute.
	To string

	// Terminal stops the run when true.
	Terminal bool
}

// Stop returns a Next that terminates the run.
func Stop() Next {
	return Next{Terminal: true}
}

// Goto returns a Next that routes to the named node.
func Goto(nodeID string) Next {
	return Next{To: nodeID}
}

// NodeFunc adapts a plain function to the Node interface.
type NodeFunc[S any] func(ctx context.Context, state S) NodeResult[S]

// Run implements Node.
func (f NodeFunc[S]) Run(ctx context.Context, state S) NodeResult[S] {
	return f(ctx, state)
}

// NodeError is a structured error produced during node execution.
type NodeError struct {
	// Message is the human-readable description.
	Message string

	// Code is a machine-readable error code.
	Code string

	// NodeID identifies the node that produced this error.
	NodeID string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *NodeError) Unwrap() error {
	return e.Cause
}
