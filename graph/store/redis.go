package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Store implementation backed by a Redis-class server.
//
// Snapshots are visible across processes, which lets an API node stream a
// run started elsewhere. Entries expire after TTL so abandoned runs do not
// accumulate.
//
// Key layout:
//
//	<prefix>:run:<runID>        latest snapshot (JSON envelope)
//	<prefix>:cp:<checkpointID>  named checkpoint (JSON envelope)
type Redis[S any] struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

type redisEnvelope struct {
	Step   int             `json:"step"`
	NodeID string          `json:"node_id,omitempty"`
	State  json.RawMessage `json:"state"`
}

// NewRedis creates a Redis-backed store. An empty prefix defaults to
// "insightflow"; a zero ttl defaults to 24h.
func NewRedis[S any](client *redis.Client, prefix string, ttl time.Duration) *Redis[S] {
	if prefix == "" {
		prefix = "insightflow"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Redis[S]{client: client, prefix: prefix, ttl: ttl}
}

// SaveStep implements Store. Only the latest snapshot per run is retained.
func (r *Redis[S]) SaveStep(ctx context.Context, runID string, step int, nodeID string, state S) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	payload, err := json.Marshal(redisEnvelope{Step: step, NodeID: nodeID, State: stateJSON})
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return r.client.Set(ctx, r.runKey(runID), payload, r.ttl).Err()
}

// LoadLatest implements Store.
func (r *Redis[S]) LoadLatest(ctx context.Context, runID string) (S, int, error) {
	return r.load(ctx, r.runKey(runID))
}

// SaveCheckpoint implements Store.
func (r *Redis[S]) SaveCheckpoint(ctx context.Context, cpID string, state S, step int) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	payload, err := json.Marshal(redisEnvelope{Step: step, State: stateJSON})
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return r.client.Set(ctx, r.cpKey(cpID), payload, r.ttl).Err()
}

// LoadCheckpoint implements Store.
func (r *Redis[S]) LoadCheckpoint(ctx context.Context, cpID string) (S, int, error) {
	return r.load(ctx, r.cpKey(cpID))
}

func (r *Redis[S]) load(ctx context.Context, key string) (S, int, error) {
	var zero S

	payload, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, 0, ErrNotFound
	}
	if err != nil {
		return zero, 0, err
	}

	var env redisEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return zero, 0, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	var state S
	if err := json.Unmarshal(env.State, &state); err != nil {
		return zero, 0, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return state, env.Step, nil
}

func (r *Redis[S]) runKey(runID string) string { return r.prefix + ":run:" + runID }
func (r *Redis[S]) cpKey(cpID string) string   { return r.prefix + ":cp:" + cpID }
