// Package sweeper contains the batch sweep worker: it claims runnable runs,
// pages their target collection, drives the AI adapters, and advances the
// checkpoint one item at a time.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/matchops/leadsweep/internal/core"
)

// Compile-time assurance this adapter satisfies the port.
var _ core.ControlSignals = (*RedisControlSignals)(nil)

// signalKeyPrefix namespaces per-run control keys.
const signalKeyPrefix = "run:ctrl:"

// RedisControlSignals implements core.ControlSignals on Redis so the operator
// API can reach a sweeper running in another process within one item.
type RedisControlSignals struct {
	client redis.UniversalClient
}

// NewRedisControlSignals creates a RedisControlSignals with the given client.
func NewRedisControlSignals(client redis.UniversalClient) *RedisControlSignals {
	return &RedisControlSignals{client: client}
}

func signalKey(runID string) string {
	return signalKeyPrefix + runID
}

// Set stores a control signal for a run with the given TTL.
func (r *RedisControlSignals) Set(ctx context.Context, runID, signal string, ttl time.Duration) error {
	if runID == "" {
		return errors.New("run id cannot be empty")
	}
	if signal != core.SignalPause && signal != core.SignalCancel {
		return fmt.Errorf("invalid control signal: %q", signal)
	}
	return r.client.Set(ctx, signalKey(runID), signal, ttl).Err()
}

// Get returns the pending signal for a run, or empty when none is set.
func (r *RedisControlSignals) Get(ctx context.Context, runID string) (string, error) {
	if runID == "" {
		return "", errors.New("run id cannot be empty")
	}
	result, err := r.client.Get(ctx, signalKey(runID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("get control signal: %w", err)
	}
	return result, nil
}

// Clear removes any pending signal for a run.
func (r *RedisControlSignals) Clear(ctx context.Context, runID string) error {
	if runID == "" {
		return errors.New("run id cannot be empty")
	}
	return r.client.Del(ctx, signalKey(runID)).Err()
}
