// Package emit provides observability event delivery for graph execution.
package emit

import "time"

// Standard event messages emitted by the engine.
const (
	MsgNodeStart   = "node_start"
	MsgNodeEnd     = "node_end"
	MsgNodeRetry   = "node_retry"
	MsgRunComplete = "run_complete"
	MsgRunFailed   = "run_failed"
)

// Event is a single observability event from a workflow run.
//
// Events are emitted at node boundaries and at run termination. Meta carries
// event-specific payloads, e.g. progress snapshots after each node.
type Event struct {
	// RunID identifies the workflow run (the conversation id).
	RunID string `json:"run_id"`

	// Step is the sequential step number within the run, starting at 1.
	Step int `json:"step"`

	// NodeID identifies the node this event concerns. Empty for run-level
	// events.
	NodeID string `json:"node_id"`

	// Msg is the event message, one of the Msg* constants.
	Msg string `json:"msg"`

	// Meta carries event-specific data (progress percentage, error text,
	// retry attempt number).
	Meta map[string]any `json:"meta,omitempty"`

	// Timestamp records when the event was produced.
	Timestamp time.Time `json:"timestamp"`
}
