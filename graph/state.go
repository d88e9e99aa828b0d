package graph

import (
	"encoding/json"
	"fmt"
)

// Reducer merges a node's delta into the previous state deterministically.
//
// The engine serializes all writes to state through the reducer; nodes never
// mutate shared state directly. For the analytics workflow the reducer is a
// replacement merge with bookkeeping (history append, counter monotonicity).
type Reducer[S any] func(prev, delta S) S

// DeepCopy clones state via a JSON round-trip.
//
// Works for any JSON-serializable state: structs with exported fields,
// maps, slices, primitives. Unexported fields, channels and funcs are not
// carried over.
func DeepCopy[S any](state S) (S, error) {
	var zero S

	data, err := json.Marshal(state)
	if err != nil {
		return zero, fmt.Errorf("failed to marshal state: %w", err)
	}

	var copied S
	if err := json.Unmarshal(data, &copied); err != nil {
		return zero, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return copied, nil
}
