// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Fallback assistant messages when the model output carries no usable
// natural-language reply.
const (
	emptyOutputFallback = "Thanks for sharing that. Could you tell me a bit more about how this has been feeling for you?"
	noMessageFallback   = "Thanks for sharing that. Could you tell me a bit more?"
	assistantMessageKey = "assistant_message"
	assistantTextKey    = "text"
	signalsKey          = "signals"
)

var (
	codeFenceRe = regexp.MustCompile("(?s)```.*?```")
	jsonObjRe   = regexp.MustCompile(`(?s)\{.*?\}`)
	jsonListRe  = regexp.MustCompile(`(?s)\[.*?\]`)

	// Models occasionally emit Python literals inside otherwise valid
	// JSON; repair before giving up on a block.
	pythonLiteralReplacer = strings.NewReplacer(
		": None", ": null",
		": True", ": true",
		": False", ": false",
		" None", " null",
		" True", " true",
		" False", " false",
	)
)

// ExtractModelOutput recovers the assistant message and the raw signal
// map from model output text.
//
// # Description
//
// The prompt demands a single JSON object, but real model output is
// noisy: prose around the JSON, several JSON blocks, code fences,
// Python-style literals. This function scans for balanced top-level
// JSON blocks outside of string literals, parses what it can (repairing
// Python literals on a second attempt), merges every "signals" object it
// finds, and prefers the assistant message that accompanied signals.
//
// Extraction never fails: with nothing parseable the text itself
// (stripped of fences and JSON debris) becomes the message, and a
// neutral fallback covers the fully degenerate case. The returned signal
// map is raw model output — the assessment normalizer decides what is
// usable.
func ExtractModelOutput(text string) (string, map[string]any) {
	text = strings.TrimSpace(text)
	signals := make(map[string]any)
	if text == "" {
		return emptyOutputFallback, signals
	}

	var firstMsg, msgWithSignals string
	for _, block := range scanJSONBlocks(text) {
		for _, fragment := range parseFragments(block) {
			msg := fragmentMessage(fragment)
			if msg != "" && firstMsg == "" {
				firstMsg = msg
			}
			if sig, ok := fragment[signalsKey].(map[string]any); ok {
				for k, v := range sig {
					signals[k] = v
				}
				if msg != "" {
					msgWithSignals = msg
				}
			}
		}
	}

	switch {
	case msgWithSignals != "":
		return msgWithSignals, signals
	case firstMsg != "":
		return firstMsg, signals
	}

	// Nothing parseable carried a message: fall back to the prose left
	// over once fences and JSON debris are stripped.
	cleaned := codeFenceRe.ReplaceAllString(text, "")
	cleaned = jsonObjRe.ReplaceAllString(cleaned, "")
	cleaned = jsonListRe.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" || cleaned == "}" {
		return noMessageFallback, signals
	}
	return cleaned, signals
}

// scanJSONBlocks returns every balanced top-level {...} or [...] block
// in text, skipping brackets inside string literals.
func scanJSONBlocks(text string) []string {
	var blocks []string
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i, ch := range text {
		if escaped {
			escaped = false
			continue
		}
		switch {
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
			// bracket characters inside strings are content
		case ch == '{' || ch == '[':
			if depth == 0 {
				start = i
			}
			depth++
		case ch == '}' || ch == ']':
			if depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					blocks = append(blocks, text[start:i+1])
					start = -1
				}
			}
		}
	}
	return blocks
}

// parseFragments decodes a block into object fragments: a bare object
// yields itself, a list yields its object elements. Unparseable blocks
// get one repair attempt with Python literals rewritten.
func parseFragments(block string) []map[string]any {
	var parsed any
	if err := json.Unmarshal([]byte(block), &parsed); err != nil {
		repaired := pythonLiteralReplacer.Replace(block)
		if err := json.Unmarshal([]byte(repaired), &parsed); err != nil {
			return nil
		}
	}

	switch v := parsed.(type) {
	case map[string]any:
		return []map[string]any{v}
	case []any:
		var out []map[string]any
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}

func fragmentMessage(fragment map[string]any) string {
	if msg, ok := fragment[assistantMessageKey].(string); ok {
		return strings.TrimSpace(msg)
	}
	if msg, ok := fragment[assistantTextKey].(string); ok {
		return strings.TrimSpace(msg)
	}
	return ""
}
