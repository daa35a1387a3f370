// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides clients for the remote inference backends the
// relay forwards chat turns to, plus recovery of structured output from
// noisy model text.
package llm

import (
	"context"

	"github.com/FarhadAbbasi/journey-api/services/relay/datatypes"
)

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
}

// LLMClient defines the standard interface for any inference backend.
// Chat returns the model's raw text; extracting the structured payload
// from it is the caller's business (see ExtractModelOutput).
type LLMClient interface {
	Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error)
}
