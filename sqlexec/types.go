// Package sqlexec implements the multi-engine query executor: it analyzes a
// generated SQL query, selects an execution engine, rewrites the SQL for the
// engine's dialect, enforces read-only semantics, executes, normalizes the
// result shape, and caches by a stable content key scoped to
// organization/project/source/engine.
package sqlexec

import (
	"context"
	"errors"
	"fmt"

	"github.com/insightflow/insightflow/cache"
	"github.com/insightflow/insightflow/source"
)

// Kind identifies an execution engine.
type Kind string

// Engine kinds.
const (
	KindEmbedded    Kind = "embedded"
	KindAggregation Kind = "aggregation"
	KindBigData     Kind = "bigdata"
	KindDirectSQL   Kind = "direct_sql"
	KindDataFrame   Kind = "dataframe"
)

// Request describes one execution through the executor.
type Request struct {
	// SQL is the query text. The executor rewrites it for the selected
	// engine's dialect before dispatch.
	SQL string

	// Source is the bound data source descriptor.
	Source *source.Descriptor

	// Dialect is an optional hint naming the SQL dialect the query was
	// generated for.
	Dialect string

	// Optimize toggles engine-side optimization hints and participates in
	// the cache key.
	Optimize bool

	// Engine pins a specific engine, bypassing selection. Empty selects
	// automatically.
	Engine Kind

	// Scope isolates cache entries per organization/project.
	Scope cache.Scope
}

// Result is the uniform engine result shape. Every engine returns it
// regardless of the underlying driver.
type Result struct {
	Success bool `json:"success"`

	// Data holds rows as mappings keyed by column name.
	Data []map[string]any `json:"data"`

	// Columns are reported in SELECT order.
	Columns []string `json:"columns"`

	// RowCount is the engine-reported count before any sampling.
	RowCount int `json:"row_count"`

	// Engine names the engine that produced the result.
	Engine Kind `json:"engine_used"`

	// ExecutionTimeMS is the engine-side execution latency.
	ExecutionTimeMS int64 `json:"execution_time_ms"`

	// Cached marks results served from a cache.
	Cached bool `json:"cached"`

	// Sampled marks results truncated by the head/tail sampling policy;
	// RowCount still reports the full count.
	Sampled bool `json:"is_sampled,omitempty"`

	// Error carries the failure message when Success is false.
	Error string `json:"error,omitempty"`
}

// Engine is the uniform capability every execution backend implements.
type Engine interface {
	// Kind identifies the engine for selection and cache keys.
	Kind() Kind

	// Available reports whether the engine can serve requests right now.
	// Unavailability is a selection signal, not a critical failure.
	Available(ctx context.Context) bool

	// Execute runs the (already rewritten) SQL against the backend.
	Execute(ctx context.Context, req Request) (*Result, error)
}

// Class tags an execution failure for retry policy decisions.
type Class string

// Failure classes.
const (
	// ClassTransient covers timeouts and connection resets; retryable.
	ClassTransient Class = "transient"

	// ClassPermanent covers permission and auth failures and unknown
	// tables; promoted to critical failure without retry.
	ClassPermanent Class = "permanent"

	// ClassSyntax covers engine-reported SQL errors; not retryable
	// without regeneration.
	ClassSyntax Class = "syntax"

	// ClassUnavailable covers unreachable engines; the executor may pick
	// a legal alternative.
	ClassUnavailable Class = "unavailable"
)

// Error is a classified execution failure.
type Error struct {
	Class   Class
	Engine  Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Engine != "" {
		return fmt.Sprintf("%s (%s engine, %s)", e.Message, e.Engine, e.Class)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Class)
}

// Unwrap supports errors.Is/As.
func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether err is a transient execution failure.
func Retryable(err error) bool {
	var execErr *Error
	if errors.As(err, &execErr) {
		return execErr.Class == ClassTransient
	}
	return false
}

// ClassOf extracts the failure class, defaulting to transient for
// unclassified errors (the safe direction for a bounded retry policy).
func ClassOf(err error) Class {
	var execErr *Error
	if errors.As(err, &execErr) {
		return execErr.Class
	}
	return ClassTransient
}
