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

	"github.com/FarhadAbbasi/journey-api/services/assessment"
)

// MemoryStore is the ephemeral in-process backend, used when no durable
// backend is configured. State lives for the process lifetime only and
// carries no TTL.
//
// # Thread Safety
//
// Safe for concurrent use. Values are deep-copied on both Get and Put so
// no caller ever shares a map with the store.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]*assessment.UserState
}

// NewMemoryStore returns an empty ephemeral store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*assessment.UserState)}
}

// Get implements Store.
func (m *MemoryStore) Get(ctx context.Context, userID string) (*assessment.UserState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[stateKey(userID)]
	if !ok {
		return nil, false
	}
	return state.Clone(), true
}

// Put implements Store.
func (m *MemoryStore) Put(ctx context.Context, userID string, state *assessment.UserState) {
	if state == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[stateKey(userID)] = state.Clone()
}

// Delete implements Store.
func (m *MemoryStore) Delete(ctx context.Context, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, stateKey(userID))
}

// Len returns the number of stored users. Test and admin helper.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states)
}
