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

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMerge_FirstTurn(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	state := Merge("u1", nil, SignalVector{"Q1": 1, "Q3": -2}, now)

	assert.Equal(t, "u1", state.UserID)
	assert.Equal(t, SignalVector{"Q1": 1, "Q3": -2}, state.Signals)
	assert.Equal(t, 1, state.TurnCount)
	assert.Equal(t, now, state.LastUpdatedAt)
}

func TestMerge_LastObservedWins(t *testing.T) {
	now := time.Now().UTC()
	prior := Merge("u1", nil, SignalVector{"Q1": 1, "Q2": -1}, now)

	state := Merge("u1", prior, SignalVector{"Q1": 2, "Q3": 0}, now.Add(time.Minute))

	// Q1 overwritten, Q2 retained, Q3 added.
	assert.Equal(t, SignalVector{"Q1": 2, "Q2": -1, "Q3": 0}, state.Signals)
	assert.Equal(t, 2, state.TurnCount)
}

func TestMerge_EmptyObservationStillCountsTurn(t *testing.T) {
	now := time.Now().UTC()
	prior := Merge("u1", nil, SignalVector{"Q1": 1}, now)

	state := Merge("u1", prior, SignalVector{}, now.Add(time.Minute))

	assert.Equal(t, SignalVector{"Q1": 1}, state.Signals)
	assert.Equal(t, 2, state.TurnCount)
}

// TestMerge_Idempotence: merging the same fully-observed vector twice
// changes nothing but the turn count.
func TestMerge_Idempotence(t *testing.T) {
	now := time.Now().UTC()
	vec := SignalVector{"Q1": 2, "Q2": -2, "Q3": 0}

	first := Merge("u1", nil, vec, now)
	second := Merge("u1", first, vec, now)

	assert.Equal(t, first.Signals, second.Signals)
	assert.Equal(t, first.TurnCount+1, second.TurnCount)
}

// TestMerge_DoesNotMutatePrior: the merger receives state for one turn
// only and must never write through to the stored value.
func TestMerge_DoesNotMutatePrior(t *testing.T) {
	now := time.Now().UTC()
	prior := Merge("u1", nil, SignalVector{"Q1": 1}, now)

	next := Merge("u1", prior, SignalVector{"Q1": 2, "Q2": 1}, now)
	next.Signals["Q1"] = -2

	assert.Equal(t, SignalVector{"Q1": 1}, prior.Signals)
	assert.Equal(t, 1, prior.TurnCount)
}

func TestUserStateClone(t *testing.T) {
	var absent *UserState
	assert.Nil(t, absent.Clone())

	state := Merge("u1", nil, SignalVector{"Q1": 1}, time.Now().UTC())
	clone := state.Clone()
	clone.Signals["Q1"] = 2
	clone.TurnCount = 99

	assert.Equal(t, 1, state.Signals["Q1"])
	assert.Equal(t, 1, state.TurnCount)
}
