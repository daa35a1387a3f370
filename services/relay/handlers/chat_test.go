// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FarhadAbbasi/journey-api/services/assessment"
	"github.com/FarhadAbbasi/journey-api/services/llm"
	"github.com/FarhadAbbasi/journey-api/services/relay/datatypes"
	"github.com/FarhadAbbasi/journey-api/services/statestore"
)

// MockLLMClient returns a canned response and records what it was asked.
type MockLLMClient struct {
	Response     string
	Err          error
	LastMessages []datatypes.Message
}

func (m *MockLLMClient) Chat(ctx context.Context, messages []datatypes.Message,
	params llm.GenerationParams) (string, error) {
	m.LastMessages = messages
	if m.Err != nil {
		return "", m.Err
	}
	return m.Response, nil
}

// absentStore simulates a fully degraded backend: every Get is absent,
// every Put is dropped.
type absentStore struct{}

func (absentStore) Get(ctx context.Context, userID string) (*assessment.UserState, bool) {
	return nil, false
}
func (absentStore) Put(ctx context.Context, userID string, state *assessment.UserState) {}
func (absentStore) Delete(ctx context.Context, userID string)                           {}

func newChatRouter(t *testing.T, mock *MockLLMClient, store statestore.Store) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	rules, err := assessment.Load("")
	require.NoError(t, err)

	router := gin.New()
	router.POST("/v1/chat", HandleChat(ChatDeps{
		LLM:     mock,
		Backend: "runpod",
		Rules:   rules,
		Store:   store,
		Locks:   statestore.NewKeyedMutex(),
	}))
	return router
}

func postChat(router *gin.Engine, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func TestHandleChat_InvalidBody(t *testing.T) {
	router := newChatRouter(t, &MockLLMClient{}, statestore.NewMemoryStore())

	w := postChat(router, "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleChat_MissingFields(t *testing.T) {
	router := newChatRouter(t, &MockLLMClient{}, statestore.NewMemoryStore())

	w := postChat(router, `{"user_id": "u1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postChat(router, `{"message": "hello"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleChat_BackendFailure(t *testing.T) {
	mock := &MockLLMClient{Err: errors.New("gpu endpoint timed out")}
	router := newChatRouter(t, mock, statestore.NewMemoryStore())

	w := postChat(router, `{"user_id": "u1", "message": "hello"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestHandleChat_FullTurn(t *testing.T) {
	mock := &MockLLMClient{
		Response: `{"assistant_message": "That sounds exciting!", "signals": {"Q1": 2, "Q2": null, "junk": 1}}`,
	}
	store := statestore.NewMemoryStore()
	router := newChatRouter(t, mock, store)

	w := postChat(router, `{"user_id": "u1", "message": "I just moved here"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.Equal(t, "That sounds exciting!", resp.AssistantMessage)
	assert.Equal(t, map[string]int{"Q1": 2}, resp.Signals)
	assert.InDelta(t, 0.05, resp.Coverage, 1e-9)
	assert.Equal(t, assessment.ConfidenceLow, resp.Confidence)
	assert.Equal(t, "spec-v0.5-default", resp.ConfigVersion)
	assert.Len(t, resp.ConfigHash, 12)

	sum := 0.0
	for _, p := range resp.StageProbs {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)

	// Prompt shape: system first, user message last.
	require.GreaterOrEqual(t, len(mock.LastMessages), 2)
	assert.Equal(t, "system", mock.LastMessages[0].Role)
	assert.Contains(t, mock.LastMessages[0].Content, "assistant_message")
	last := mock.LastMessages[len(mock.LastMessages)-1]
	assert.Equal(t, datatypes.Message{Role: "user", Content: "I just moved here"}, last)

	// State landed in the store.
	state, found := store.Get(context.Background(), "u1")
	require.True(t, found)
	assert.Equal(t, 1, state.TurnCount)
	assert.Equal(t, 2, state.Signals["Q1"])
}

func TestHandleChat_SignalsAccumulateAcrossTurns(t *testing.T) {
	mock := &MockLLMClient{
		Response: `{"assistant_message": "ok", "signals": {"Q1": 1}}`,
	}
	store := statestore.NewMemoryStore()
	router := newChatRouter(t, mock, store)

	w := postChat(router, `{"user_id": "u1", "message": "first"}`)
	require.Equal(t, http.StatusOK, w.Code)

	mock.Response = `{"assistant_message": "ok", "signals": {"Q2": -1, "Q1": 2}}`
	w = postChat(router, `{"user_id": "u1", "message": "second"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	// Last observation wins for Q1; Q2 joins the vector.
	assert.Equal(t, map[string]int{"Q1": 2, "Q2": -1}, resp.Signals)
	assert.InDelta(t, 0.10, resp.Coverage, 1e-9)

	state, found := store.Get(context.Background(), "u1")
	require.True(t, found)
	assert.Equal(t, 2, state.TurnCount)
}

func TestHandleChat_HistoryTrimmedToWindow(t *testing.T) {
	mock := &MockLLMClient{Response: `{"assistant_message": "ok", "signals": {}}`}
	router := newChatRouter(t, mock, statestore.NewMemoryStore())

	history := make([]datatypes.Message, 0, 20)
	for i := 0; i < 20; i++ {
		history = append(history, datatypes.Message{Role: "user", Content: "older turn"})
	}
	body, err := json.Marshal(datatypes.ChatRequest{
		UserID: "u1", Message: "newest", History: history,
	})
	require.NoError(t, err)

	w := postChat(router, string(body))
	require.Equal(t, http.StatusOK, w.Code)

	// system + window + new user message
	assert.Len(t, mock.LastMessages, 1+datatypes.PromptHistoryWindow+1)
}

// TestHandleChat_DegradedStoreStillResponds: with the store fully down
// every turn behaves like the user's first, but turns keep succeeding.
func TestHandleChat_DegradedStoreStillResponds(t *testing.T) {
	mock := &MockLLMClient{
		Response: `{"assistant_message": "ok", "signals": {"Q1": 1}}`,
	}
	router := newChatRouter(t, mock, absentStore{})

	for i := 0; i < 3; i++ {
		w := postChat(router, `{"user_id": "u1", "message": "hello"}`)
		require.Equal(t, http.StatusOK, w.Code)

		var resp datatypes.ChatResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, map[string]int{"Q1": 1}, resp.Signals)
		assert.InDelta(t, 0.05, resp.Coverage, 1e-9)
	}
}

// TestHandleChat_ProseOnlyModelOutput: a model that ignores the JSON
// contract still produces a usable turn with no signals.
func TestHandleChat_ProseOnlyModelOutput(t *testing.T) {
	mock := &MockLLMClient{Response: "I hear you. How has the move been?"}
	router := newChatRouter(t, mock, statestore.NewMemoryStore())

	w := postChat(router, `{"user_id": "u1", "message": "hello"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "I hear you. How has the move been?", resp.AssistantMessage)
	assert.Empty(t, resp.Signals)
	assert.Zero(t, resp.Coverage)

	// Zero observations: exactly uniform distribution.
	for _, p := range resp.StageProbs {
		assert.InDelta(t, 0.25, p, 1e-9)
	}
}

func TestHandleChat_OversizedMessageRejected(t *testing.T) {
	router := newChatRouter(t, &MockLLMClient{}, statestore.NewMemoryStore())

	big := strings.Repeat("a", datatypes.MaxMessageContentBytes+1)
	body, err := json.Marshal(datatypes.ChatRequest{UserID: "u1", Message: big})
	require.NoError(t, err)

	w := postChat(router, string(body))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
