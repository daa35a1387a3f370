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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FarhadAbbasi/journey-api/services/assessment"
)

// TestKeyedMutex_SerializesSameKey hammers one key from many goroutines
// doing an unsynchronized read-modify-write; the lock is the only thing
// preventing lost updates.
func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	locks := NewKeyedMutex()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("u1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
}

// TestKeyedMutex_DifferentKeysDoNotContend: a held lock on one key must
// not block another key.
func TestKeyedMutex_DifferentKeysDoNotContend(t *testing.T) {
	locks := NewKeyedMutex()

	unlockA := locks.Lock("u1")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := locks.Lock("u2")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lock on u2 blocked behind a held lock on u1")
	}
}

// TestKeyedMutex_EntryRemovedAfterLastUnlock verifies the lock table
// does not grow with the user population.
func TestKeyedMutex_EntryRemovedAfterLastUnlock(t *testing.T) {
	locks := NewKeyedMutex()

	unlock := locks.Lock("u1")
	unlock()

	locks.mu.Lock()
	defer locks.mu.Unlock()
	assert.Empty(t, locks.locks)
}

// TestKeyedMutex_GetMergePutUnderRace runs the full get→merge→put cycle
// concurrently for one user against the memory store. With the per-user
// lock, every turn is counted and no signal update is lost.
func TestKeyedMutex_GetMergePutUnderRace(t *testing.T) {
	locks := NewKeyedMutex()
	store := NewMemoryStore()
	ctx := context.Background()

	const turns = 50
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			unlock := locks.Lock("u1")
			defer unlock()

			prior, _ := store.Get(ctx, "u1")
			next := assessment.Merge("u1", prior, assessment.SignalVector{"Q1": v % 5}, time.Now().UTC())
			store.Put(ctx, "u1", next)
		}(i)
	}
	wg.Wait()

	state, found := store.Get(ctx, "u1")
	require.True(t, found)
	assert.Equal(t, turns, state.TurnCount)
	assert.Contains(t, state.Signals, "Q1")
}
