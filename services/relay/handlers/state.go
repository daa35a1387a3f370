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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/FarhadAbbasi/journey-api/services/assessment"
	"github.com/FarhadAbbasi/journey-api/services/statestore"
)

// GetUserState returns the stored signal state for a user together with
// a fresh stage inference over it.
//
// Absent state yields 404; over a degraded store that is
// indistinguishable from "never stored", which is the intended
// stateless-degradation behavior.
func GetUserState(rules *assessment.RuleSet, store statestore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userId")

		state, found := store.Get(c.Request.Context(), userID)
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "no state for user"})
			return
		}

		result := rules.Assess(state.Signals)
		c.JSON(http.StatusOK, gin.H{
			"user_id":         state.UserID,
			"signals":         state.Signals,
			"turn_count":      state.TurnCount,
			"last_updated_at": state.LastUpdatedAt,
			"stage_probs":     result.StageProbs,
			"confidence":      result.Confidence,
			"coverage":        result.Coverage,
			"config_version":  result.ConfigVersion,
			"config_hash":     result.ConfigHash,
		})
	}
}

// DeleteUserState removes a user's stored signal state. Deletion shares
// the store's never-fail contract, so the response is 204 regardless of
// whether anything was stored.
func DeleteUserState(store statestore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userId")
		store.Delete(c.Request.Context(), userID)
		slog.Info("Deleted user state", "user_id", userID)
		c.Status(http.StatusNoContent)
	}
}
