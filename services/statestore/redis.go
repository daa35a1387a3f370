// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/FarhadAbbasi/journey-api/services/assessment"
)

// RedisStore is the durable networked backend. State is stored as JSON
// under a per-user key with the configured TTL; expiry is enforced by
// Redis itself, not by this component.
//
// # Degradation
//
// Every call is bounded by the configured timeout. On any connectivity
// or timeout failure Get reports absent and Put/Delete become no-ops;
// the failure goes to the FallbackReporter and slog, never to the
// caller. An unreadable stored value is treated the same way as a
// missing one.
type RedisStore struct {
	client   redis.Cmdable
	ttl      time.Duration
	timeout  time.Duration
	reporter FallbackReporter
}

// NewRedisStore connects a durable store to the Redis at url
// (redis://host:port/db form).
//
// # Inputs
//
//   - url: Redis connection URL.
//   - ttl: applied to every Put. Zero means no expiry.
//   - timeout: per-call bound; a slow backend must not stall a turn
//     beyond it. Zero defaults to 2s.
//   - reporter: fallback sink; nil gets a NopReporter.
//
// # Outputs
//
//   - error: non-nil only for an unparseable URL. An unreachable server
//     is not a construction error — the store degrades per call instead.
func NewRedisStore(url string, ttl, timeout time.Duration, reporter FallbackReporter) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("statestore: parse redis url: %w", err)
	}
	return NewRedisStoreWithClient(redis.NewClient(opts), ttl, timeout, reporter), nil
}

// NewRedisStoreWithClient wraps an existing client. Used by tests and by
// deployments that manage their own client options.
func NewRedisStoreWithClient(client redis.Cmdable, ttl, timeout time.Duration, reporter FallbackReporter) *RedisStore {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if reporter == nil {
		reporter = NopReporter{}
	}
	return &RedisStore{client: client, ttl: ttl, timeout: timeout, reporter: reporter}
}

// Get implements Store.
func (r *RedisStore) Get(ctx context.Context, userID string) (*assessment.UserState, bool) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	raw, err := r.client.Get(ctx, stateKey(userID)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		r.fallback("get", userID, err)
		return nil, false
	}

	var state assessment.UserState
	if err := json.Unmarshal(raw, &state); err != nil {
		r.fallback("get", userID, fmt.Errorf("decode stored state: %w", err))
		return nil, false
	}
	return &state, true
}

// Put implements Store.
func (r *RedisStore) Put(ctx context.Context, userID string, state *assessment.UserState) {
	if state == nil {
		return
	}
	raw, err := json.Marshal(state)
	if err != nil {
		r.fallback("put", userID, fmt.Errorf("encode state: %w", err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.client.Set(ctx, stateKey(userID), raw, r.ttl).Err(); err != nil {
		r.fallback("put", userID, err)
	}
}

// Delete implements Store.
func (r *RedisStore) Delete(ctx context.Context, userID string) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.client.Del(ctx, stateKey(userID)).Err(); err != nil {
		r.fallback("delete", userID, err)
	}
}

func (r *RedisStore) fallback(op, userID string, err error) {
	slog.Warn("state store degraded to stateless behavior",
		"op", op,
		"user_id", userID,
		"error", err,
	)
	r.reporter.ReportFallback(op, err)
}
