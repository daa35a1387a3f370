// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package assessment

import "time"

// UserState is the cumulative per-user signal state. One slot per
// question ID holds the last-known-good value; a value once observed is
// never un-observed except by state loss (TTL expiry, store outage,
// process restart on the ephemeral backend).
//
// UserState is owned by the state store keyed by UserID. The merger and
// the engine receive it for the duration of one turn only; each turn
// must re-fetch.
type UserState struct {
	UserID        string       `json:"user_id"`
	Signals       SignalVector `json:"signals"`
	TurnCount     int          `json:"turn_count"`
	LastUpdatedAt time.Time    `json:"last_updated_at"`
}

// Clone returns a deep copy so the store can hand out state without
// sharing its internal maps across turns.
func (s *UserState) Clone() *UserState {
	if s == nil {
		return nil
	}
	return &UserState{
		UserID:        s.UserID,
		Signals:       s.Signals.Clone(),
		TurnCount:     s.TurnCount,
		LastUpdatedAt: s.LastUpdatedAt,
	}
}

// Merge combines this turn's normalized signals with the prior state
// into the new canonical state for the user.
//
// # Description
//
// Every previously known key is retained and every newly observed key
// overwrites the stored value: last-observed-wins per key, no smoothing.
// This is a deliberate simplicity choice — a user correcting themselves
// is reflected immediately. TurnCount increments by one.
//
// An absent prior state (first turn, TTL expiry, outage, restart) is
// treated as an empty vector with TurnCount 0, never as an error.
//
// # Inputs
//
//   - userID: owner of the state.
//   - prior: the stored state, or nil if absent.
//   - observed: this turn's normalized signals (may be empty).
//   - now: timestamp recorded as LastUpdatedAt.
//
// # Outputs
//
//   - *UserState: a fresh value; prior is never mutated.
func Merge(userID string, prior *UserState, observed SignalVector, now time.Time) *UserState {
	next := &UserState{
		UserID:        userID,
		Signals:       make(SignalVector),
		LastUpdatedAt: now,
	}
	if prior != nil {
		next.Signals = prior.Signals.Clone()
		next.TurnCount = prior.TurnCount
	}
	for k, v := range observed {
		next.Signals[k] = v
	}
	next.TurnCount++
	return next
}
