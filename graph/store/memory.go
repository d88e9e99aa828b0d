package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Mem is an in-memory Store implementation.
//
// Designed for tests and single-process development. State is deep-copied
// through JSON on both save and load so callers can never alias the stored
// snapshot.
type Mem[S any] struct {
	mu          sync.RWMutex
	steps       map[string][]stepRecord // runID -> ordered steps
	checkpoints map[string]checkpointRecord
}

type stepRecord struct {
	step   int
	nodeID string
	state  []byte
}

type checkpointRecord struct {
	step  int
	state []byte
}

// NewMem creates an empty in-memory store.
func NewMem[S any]() *Mem[S] {
	return &Mem[S]{
		steps:       make(map[string][]stepRecord),
		checkpoints: make(map[string]checkpointRecord),
	}
}

// SaveStep implements Store.
func (m *Mem[S]) SaveStep(ctx context.Context, runID string, step int, nodeID string, state S) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	records := m.steps[runID]
	for i, r := range records {
		if r.step == step {
			records[i] = stepRecord{step: step, nodeID: nodeID, state: data}
			return nil
		}
	}
	m.steps[runID] = append(records, stepRecord{step: step, nodeID: nodeID, state: data})
	return nil
}

// LoadLatest implements Store.
func (m *Mem[S]) LoadLatest(ctx context.Context, runID string) (S, int, error) {
	var zero S

	m.mu.RLock()
	defer m.mu.RUnlock()

	records, ok := m.steps[runID]
	if !ok || len(records) == 0 {
		return zero, 0, ErrNotFound
	}

	latest := records[0]
	for _, r := range records[1:] {
		if r.step > latest.step {
			latest = r
		}
	}

	var state S
	if err := json.Unmarshal(latest.state, &state); err != nil {
		return zero, 0, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return state, latest.step, nil
}

// SaveCheckpoint implements Store.
func (m *Mem[S]) SaveCheckpoint(ctx context.Context, cpID string, state S, step int) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[cpID] = checkpointRecord{step: step, state: data}
	return nil
}

// LoadCheckpoint implements Store.
func (m *Mem[S]) LoadCheckpoint(ctx context.Context, cpID string) (S, int, error) {
	var zero S

	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.checkpoints[cpID]
	if !ok {
		return zero, 0, ErrNotFound
	}

	var state S
	if err := json.Unmarshal(record.state, &state); err != nil {
		return zero, 0, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return state, record.step, nil
}
