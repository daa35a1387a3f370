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
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/FarhadAbbasi/journey-api/services/assessment"
)

// HealthCheck is the liveness probe.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetConfigInfo exposes the identity of the active rule set so callers
// can interpret stored results. The question bank itself stays hidden:
// the user never sees the questions, only the model does.
func GetConfigInfo(rules *assessment.RuleSet) gin.HandlerFunc {
	return func(c *gin.Context) {
		scaleMin, scaleMax := rules.ScaleBounds()
		c.JSON(http.StatusOK, gin.H{
			"config_version": rules.Version,
			"config_hash":    rules.Hash,
			"stages":         rules.Stages,
			"question_count": rules.QuestionCount(),
			"answer_scale":   gin.H{"min": scaleMin, "max": scaleMax},
			"confidence_thresholds": gin.H{
				"high":   rules.Confidence.High,
				"medium": rules.Confidence.Medium,
			},
		})
	}
}
