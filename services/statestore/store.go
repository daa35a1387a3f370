// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package statestore provides the per-user state storage abstraction for
// the signal engine: a key-value interface with two interchangeable
// backends (durable Redis, ephemeral in-process) and per-user mutual
// exclusion for the get→merge→put cycle.
//
// # Failure Semantics
//
// Availability wins over persistence. Nothing in this package ever
// returns an error to the caller: when the durable backend is
// unreachable or slow, Get reports absent and Put becomes a no-op, the
// degradation is reported to a FallbackReporter, and the turn proceeds
// statelessly. There is no cached "broken" flag — the next call retries
// the backend transparently, so recovery after an outage is automatic.
//
// # Backend Selection
//
// Which backend backs the store is a configuration decision made once at
// startup (REDIS_URL set or not); it never changes per call.
package statestore

import (
	"context"

	"github.com/FarhadAbbasi/journey-api/services/assessment"
)

// Store is the per-user state capability the signal engine depends on.
//
// # Description
//
// Get returns the stored state and whether it was found; absent covers
// both "never stored" and "backend unavailable". Put stores the state
// (with the backend's configured TTL where one applies) and silently
// drops the write if the backend is unavailable. Delete removes the
// state; it exists for the admin surface and shares the same never-fail
// contract.
//
// Implementations must return state the caller owns: mutating a returned
// value never affects the stored copy.
type Store interface {
	Get(ctx context.Context, userID string) (*assessment.UserState, bool)
	Put(ctx context.Context, userID string, state *assessment.UserState)
	Delete(ctx context.Context, userID string)
}

// FallbackReporter receives out-of-band notice whenever a durable
// backend call degrades to absent/no-op. It is how storage trouble
// reaches the observability stack without ever failing a turn.
type FallbackReporter interface {
	ReportFallback(op string, err error)
}

// NopReporter discards fallback reports. Used when no metrics sink is
// wired, and in tests.
type NopReporter struct{}

// ReportFallback implements FallbackReporter.
func (NopReporter) ReportFallback(op string, err error) {}

// stateKey namespaces user state in shared backends. The prefix matches
// the original deployment so existing Redis data stays readable.
func stateKey(userID string) string {
	return "journey:user:" + userID
}
