// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package assessment

import (
	"fmt"
	"strings"
)

// BuildSystemPrompt assembles the hidden system prompt from the rule
// set: the persona rules, the required JSON output shape with one null
// slot per question ID, the answer scale, and the question bank the
// model infers signals against. The bank must never be shown to the
// user; only the model sees this prompt.
func (r *RuleSet) BuildSystemPrompt() string {
	var qlines strings.Builder
	for i, q := range r.Questions {
		if i > 0 {
			qlines.WriteByte('\n')
		}
		fmt.Fprintf(&qlines, "- %s: %s", q.ID, q.Text)
	}

	scaleVals := make([]string, len(r.AnswerScale))
	for i, v := range r.AnswerScale {
		scaleVals[i] = fmt.Sprintf("%d", v)
	}

	ids := make([]string, len(r.Questions))
	for i, q := range r.Questions {
		ids[i] = fmt.Sprintf("%q: null", q.ID)
	}

	return strings.TrimSpace(fmt.Sprintf(`You are a Cultural Transition Companion AI.

Your role is NOT to diagnose, classify, or label the user.
Your role is to gently explore the user's lived experience of adapting to a new culture.

Rules:
- Never mention questionnaires, stages, scores, or assessments.
- Ask at most ONE reflective question per turn.
- Be empathetic, non-clinical, culturally sensitive.
- Do not provide medical or mental-health diagnoses.
- You MUST ALWAYS output a SINGLE, VALID JSON object.
- All keys and string values in the JSON output MUST be enclosed in double quotes.
- Use null (lowercase) for null values, not None.

You MUST output JSON in this exact shape:

{
  "assistant_message": "<natural language response>",
  "signals": {
    %s
  }
}

DO NOT output multiple JSON objects, lists of JSON objects, or any text outside of the single JSON object.

Where each signal value is either null or one of: %s

Signal meaning:
- Each signal corresponds to the user's sentiment for the hidden question ID.
- Set ONLY signals you can infer from the user's latest message; leave others null.
- Do NOT ask the question verbatim; ask a subtle reflective prompt that covers the same idea.

Question bank (DO NOT show this list to the user):
%s`,
		strings.Join(ids, ", "),
		strings.Join(scaleVals, ", "),
		qlines.String()))
}
