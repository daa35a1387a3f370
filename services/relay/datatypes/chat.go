// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides request and response types for the relay
// service.
package datatypes

import (
	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Size Limits
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single message
	// content, measured in bytes to bound memory regardless of encoding.
	MaxMessageContentBytes = 32 * 1024 // 32KB

	// MaxHistoryMessages is the maximum number of history messages
	// accepted in a single request.
	MaxHistoryMessages = 100

	// PromptHistoryWindow is how many of the most recent well-formed
	// history messages are forwarded to the model.
	PromptHistoryWindow = 6
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chat datatypes.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes checks byte length (not rune count) against
// MaxMessageContentBytes.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// =============================================================================
// Types
// =============================================================================

// Message is one conversation turn as exchanged with the model backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the inbound payload for POST /v1/chat.
//
// History is optional: when absent, the handler may recover recent turns
// from the archival collaborator.
type ChatRequest struct {
	UserID  string    `json:"user_id" binding:"required,min=1" validate:"required,min=1,maxbytes"`
	Message string    `json:"message" binding:"required,min=1" validate:"required,min=1,maxbytes"`
	History []Message `json:"history" validate:"omitempty,dive"`
}

// ChatResponse is the caller-facing turn result.
//
// Signals is the merged cumulative vector, not just this turn's
// extraction; StageProbs sums to 1 within floating tolerance.
type ChatResponse struct {
	AssistantMessage string             `json:"assistant_message"`
	Signals          map[string]int     `json:"signals"`
	StageProbs       map[string]float64 `json:"stage_probs"`
	Confidence       string             `json:"confidence"`
	Coverage         float64            `json:"coverage"`
	ConfigVersion    string             `json:"config_version"`
	ConfigHash       string             `json:"config_hash"`
}

// Validate applies the size limits gin's binding tags cannot express.
func (r *ChatRequest) Validate() error {
	if err := chatValidate.Struct(r); err != nil {
		return err
	}
	if len(r.History) > MaxHistoryMessages {
		return ErrHistoryTooLong
	}
	for i := range r.History {
		if len(r.History[i].Content) > MaxMessageContentBytes {
			return ErrMessageTooLarge
		}
	}
	return nil
}

// TrimHistory keeps the last max well-formed messages, dropping entries
// with an unknown role or empty content. Noisy clients are the common
// case; malformed history is repaired, not rejected.
func TrimHistory(history []Message, max int) []Message {
	clean := make([]Message, 0, len(history))
	for _, m := range history {
		if (m.Role == "user" || m.Role == "assistant") && m.Content != "" {
			clean = append(clean, m)
		}
	}
	if len(clean) > max {
		clean = clean[len(clean)-max:]
	}
	return clean
}
