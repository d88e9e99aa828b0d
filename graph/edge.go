// Package graph provides the supervised state-graph engine that drives
// analytics workflow runs.
package graph

// Edge is a connection between two nodes in the workflow graph.
//
// Edges define control flow. They are either unconditional (When = nil) or
// conditional (traversed only when the predicate returns true for the
// current state). Edges registered for the same source node are evaluated
// in registration order; the first match wins. A node's explicit
// NodeResult.Route always takes precedence over edges.
//
// Type parameter S is the state type evaluated by predicates.
type Edge[S any] struct {
	// From is the source node ID.
	From string

	// To is the destination node ID.
	To string

	// When, if non-nil, gates traversal of this edge.
	When Predicate[S]
}

// Predicate evaluates state to decide whether an edge should be traversed.
//
// Predicates must be pure: deterministic and side-effect free. Typical
// predicates inspect flags and counters on the state record, e.g.
// `s.CriticalFailure`, `s.QueryResultRowCount == 0 && s.ExecRetries < 2`.
type Predicate[S any] func(state S) bool
