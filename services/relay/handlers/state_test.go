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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FarhadAbbasi/journey-api/services/assessment"
	"github.com/FarhadAbbasi/journey-api/services/statestore"
)

func newStateRouter(t *testing.T, store statestore.Store) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	rules, err := assessment.Load("")
	require.NoError(t, err)

	router := gin.New()
	router.GET("/v1/users/:userId/state", GetUserState(rules, store))
	router.DELETE("/v1/users/:userId/state", DeleteUserState(store))
	router.GET("/v1/config", GetConfigInfo(rules))
	router.GET("/health", HealthCheck)
	return router
}

func doRequest(router *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestGetUserState_NotFound(t *testing.T) {
	router := newStateRouter(t, statestore.NewMemoryStore())

	w := doRequest(router, http.MethodGet, "/v1/users/ghost/state")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetUserState_Found(t *testing.T) {
	store := statestore.NewMemoryStore()
	store.Put(context.Background(), "u1", &assessment.UserState{
		UserID:        "u1",
		Signals:       assessment.SignalVector{"Q1": 2, "Q2": -1},
		TurnCount:     4,
		LastUpdatedAt: time.Now().UTC(),
	})
	router := newStateRouter(t, store)

	w := doRequest(router, http.MethodGet, "/v1/users/u1/state")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "u1", body["user_id"])
	assert.Equal(t, float64(4), body["turn_count"])
	assert.InDelta(t, 0.10, body["coverage"].(float64), 1e-9)
	assert.Equal(t, "low", body["confidence"])
	assert.NotEmpty(t, body["stage_probs"])
}

func TestDeleteUserState(t *testing.T) {
	store := statestore.NewMemoryStore()
	store.Put(context.Background(), "u1", &assessment.UserState{
		UserID:  "u1",
		Signals: assessment.SignalVector{"Q1": 1},
	})
	router := newStateRouter(t, store)

	w := doRequest(router, http.MethodDelete, "/v1/users/u1/state")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(router, http.MethodGet, "/v1/users/u1/state")
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Deleting again is still a 204.
	w = doRequest(router, http.MethodDelete, "/v1/users/u1/state")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestGetConfigInfo(t *testing.T) {
	router := newStateRouter(t, statestore.NewMemoryStore())

	w := doRequest(router, http.MethodGet, "/v1/config")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "spec-v0.5-default", body["config_version"])
	assert.Len(t, body["config_hash"], 12)
	assert.Equal(t, float64(20), body["question_count"])
	assert.ElementsMatch(t, []any{"FS", "HM", "IC", "SA"}, body["stages"])

	// The question bank must never leak through this endpoint.
	assert.NotContains(t, w.Body.String(), "questions")
}

func TestHealthCheck(t *testing.T) {
	router := newStateRouter(t, statestore.NewMemoryStore())

	w := doRequest(router, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status": "ok"}`, w.Body.String())
}
