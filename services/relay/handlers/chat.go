// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP handlers for the relay service.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/FarhadAbbasi/journey-api/services/archive"
	"github.com/FarhadAbbasi/journey-api/services/assessment"
	"github.com/FarhadAbbasi/journey-api/services/llm"
	"github.com/FarhadAbbasi/journey-api/services/relay/datatypes"
	"github.com/FarhadAbbasi/journey-api/services/relay/observability"
	"github.com/FarhadAbbasi/journey-api/services/statestore"
)

var chatTracer = otel.Tracer("journey.relay.handlers")

// archiveTimeout bounds the background persistence of one turn.
const archiveTimeout = 15 * time.Second

// ChatDeps carries the collaborators a chat turn needs.
//
// Archiver may be nil (archival unconfigured); Metrics may be nil in
// tests. Everything else is required.
type ChatDeps struct {
	LLM      llm.LLMClient
	Backend  string
	Rules    *assessment.RuleSet
	Store    statestore.Store
	Locks    *statestore.KeyedMutex
	Archiver *archive.Archiver
	Metrics  *observability.RelayMetrics
}

// HandleChat runs one full chat turn.
//
// # Description
//
// The pipeline: validate the request, recover history if the client sent
// none, build the prompt, relay to the GPU backend, extract the
// structured payload from the model's reply, normalize the signals,
// merge them into the user's stored state under a per-user lock, infer
// the stage distribution, and archive the turn in the background.
//
// State storage never fails a turn: a degraded store means the merge
// starts from an absent prior and the response still goes out. Only
// request validation (400) and a failed backend call (502) surface as
// errors to the caller.
func HandleChat(deps ChatDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleChat")
		defer span.End()

		var req datatypes.ChatRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to parse the chat request", "error", err)
			recordTurn(deps.Metrics, observability.TurnStatusValidationError, start)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			slog.Warn("Rejected chat request", "user_id", req.UserID, "error", err)
			recordTurn(deps.Metrics, observability.TurnStatusValidationError, start)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		span.SetAttributes(attribute.String("chat.user_id", req.UserID))

		// Clients that keep no local transcript send an empty history;
		// recover the recent turns from the archive when we can.
		history := req.History
		if len(history) == 0 && deps.Archiver != nil {
			recovered, err := deps.Archiver.LoadRecentConversation(ctx, req.UserID, datatypes.PromptHistoryWindow)
			if err != nil {
				slog.Warn("History recovery failed, continuing without", "user_id", req.UserID, "error", err)
			} else {
				history = recovered
			}
		}

		messages := make([]datatypes.Message, 0, datatypes.PromptHistoryWindow+2)
		messages = append(messages, datatypes.Message{Role: "system", Content: deps.Rules.BuildSystemPrompt()})
		messages = append(messages, datatypes.TrimHistory(history, datatypes.PromptHistoryWindow)...)
		messages = append(messages, datatypes.Message{Role: "user", Content: req.Message})

		llmStart := time.Now()
		rawOutput, err := deps.LLM.Chat(ctx, messages, llm.GenerationParams{})
		if deps.Metrics != nil {
			deps.Metrics.RecordInference(deps.Backend, time.Since(llmStart).Seconds())
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("LLMClient.Chat failed", "user_id", req.UserID, "error", err)
			recordTurn(deps.Metrics, observability.TurnStatusLLMError, start)
			c.JSON(http.StatusBadGateway, gin.H{"error": "inference backend unavailable"})
			return
		}

		assistantMsg, rawSignals := llm.ExtractModelOutput(rawOutput)
		observed := deps.Rules.Normalize(rawSignals)

		// The get-merge-put cycle is serialized per user so concurrent
		// turns for the same user cannot lose each other's signals.
		unlock := deps.Locks.Lock(req.UserID)
		prior, _ := deps.Store.Get(ctx, req.UserID)
		merged := assessment.Merge(req.UserID, prior, observed, time.Now().UTC())
		deps.Store.Put(ctx, req.UserID, merged)
		unlock()

		result := deps.Rules.Assess(merged.Signals)
		recordTurn(deps.Metrics, observability.TurnStatusSuccess, start)

		go persistTurn(deps, req, assistantMsg, merged, result)

		slog.Info("Chat turn completed", "user_id", req.UserID,
			"turn_count", merged.TurnCount, "coverage", result.Coverage,
			"confidence", result.Confidence)

		c.JSON(http.StatusOK, datatypes.ChatResponse{
			AssistantMessage: assistantMsg,
			Signals:          merged.Signals,
			StageProbs:       result.StageProbs,
			Confidence:       result.Confidence,
			Coverage:         result.Coverage,
			ConfigVersion:    result.ConfigVersion,
			ConfigHash:       result.ConfigHash,
		})
	}
}

// persistTurn archives one completed turn. Runs in the background with
// its own context: the HTTP response never waits on archival.
func persistTurn(deps ChatDeps, req datatypes.ChatRequest, assistantMsg string,
	merged *assessment.UserState, result assessment.Result) {

	if deps.Archiver == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	archive.SafePersist(ctx, deps.Archiver, archive.TurnRecord{
		UserID:           req.UserID,
		UserMessage:      req.Message,
		AssistantMessage: assistantMsg,
		Signals:          merged.Signals,
		StageProbs:       result.StageProbs,
		Confidence:       result.Confidence,
		Coverage:         result.Coverage,
		ConfigVersion:    result.ConfigVersion,
		ConfigHash:       result.ConfigHash,
		ModelID:          deps.Backend,
		RequestID:        uuid.NewString(),
	}, func() {
		if deps.Metrics != nil {
			deps.Metrics.RecordArchiveFailure()
		}
	})
}

func recordTurn(metrics *observability.RelayMetrics, status observability.TurnStatus, start time.Time) {
	if metrics != nil {
		metrics.RecordTurn(status, time.Since(start).Seconds())
	}
}
