// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package assessment implements the per-user signal state engine: it
// normalizes model-extracted conversational signals, merges them into
// cumulative per-user state, and derives a stage probability distribution
// with an associated confidence tier and coverage fraction.
//
// # Description
//
// The engine is driven by an immutable RuleSet (question bank, stage
// weights, answer scale, confidence thresholds) loaded once at startup.
// Every inference result carries the rule set's version and hash so a
// stored result can always be traced back to the exact rules that
// produced it.
//
// # Thread Safety
//
// A RuleSet is immutable after Parse and safe for concurrent use. All
// functions in this package are side-effect free.
package assessment

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
)

// Confidence tiers, lowest to highest. ConfidenceTier never returns a
// value outside this set.
const (
	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)

// Question is a single entry of the question bank. The model is prompted
// to infer the user's sentiment for each question from free conversation;
// the question text itself is never shown to the user.
type Question struct {
	ID      string             `json:"id"`
	Text    string             `json:"text"`
	Weights map[string]float64 `json:"weights"`
}

// ConfidenceThresholds holds the coverage cutoffs for the confidence
// tiers. Coverage >= High yields "high", coverage >= Medium yields
// "medium", anything below is "low".
type ConfidenceThresholds struct {
	High   float64 `json:"high"`
	Medium float64 `json:"medium"`
}

// RuleSet is the immutable, versioned rule configuration for the engine.
//
// # Description
//
// Built by Parse (or Load). All lookup structures are precomputed so the
// hot path never validates or allocates for bookkeeping. The Hash field
// is a 12-hex-character SHA-256 prefix over the canonical JSON form of
// the document, attached to every inference result for auditability.
//
// # Fields
//
//   - Version: human-assigned identifier of the rule document.
//   - Hash: short content hash of the canonical document.
//   - Stages: the fixed, ordered set of stage names.
//   - AnswerScale: the discrete values a signal may take.
//   - Questions: the signal vocabulary with per-stage weights.
//   - Confidence: coverage thresholds for the confidence tiers.
type RuleSet struct {
	Version     string               `json:"version"`
	Hash        string               `json:"-"`
	Stages      []string             `json:"stages"`
	AnswerScale []int                `json:"answer_scale"`
	Questions   []Question           `json:"questions"`
	Confidence  ConfidenceThresholds `json:"confidence_thresholds"`

	scaleMin int
	scaleMax int
	byID     map[string]int
}

// Load reads and parses a rule set from the given path. An empty path
// loads the embedded default bank (the same document the original
// deployment shipped with).
//
// A load failure is fatal by design: the process must not serve
// inference requests with a partial or absent rule set, so callers are
// expected to abort on error.
func Load(path string) (*RuleSet, error) {
	if path == "" {
		return Parse([]byte(defaultRuleSetJSON))
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("assessment: read rule set %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse validates a rule set document and builds the immutable RuleSet.
//
// # Inputs
//
//   - raw: JSON document with version, stages, answer_scale, questions
//     and confidence_thresholds.
//
// # Outputs
//
//   - *RuleSet: ready for concurrent use.
//   - error: non-nil if the document is structurally invalid. Partial
//     rule sets are never returned.
func Parse(raw []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := json.Unmarshal(raw, &rs); err != nil {
		return nil, fmt.Errorf("assessment: parse rule set: %w", err)
	}
	if len(rs.Stages) == 0 {
		return nil, fmt.Errorf("assessment: rule set has no stages")
	}
	if len(rs.Questions) == 0 {
		return nil, fmt.Errorf("assessment: rule set has no questions")
	}
	if len(rs.AnswerScale) == 0 {
		return nil, fmt.Errorf("assessment: rule set has no answer scale")
	}
	if rs.Confidence.High == 0 && rs.Confidence.Medium == 0 {
		return nil, fmt.Errorf("assessment: rule set has no confidence thresholds")
	}
	if rs.Confidence.Medium > rs.Confidence.High {
		return nil, fmt.Errorf("assessment: confidence thresholds out of order (medium %v > high %v)",
			rs.Confidence.Medium, rs.Confidence.High)
	}

	rs.byID = make(map[string]int, len(rs.Questions))
	for i := range rs.Questions {
		q := &rs.Questions[i]
		if q.ID == "" {
			return nil, fmt.Errorf("assessment: question %d has no id", i)
		}
		if _, dup := rs.byID[q.ID]; dup {
			return nil, fmt.Errorf("assessment: duplicate question id %q", q.ID)
		}
		rs.byID[q.ID] = i
		// Missing stage weights default to zero so the engine never has
		// to nil-check on the hot path.
		if q.Weights == nil {
			q.Weights = make(map[string]float64, len(rs.Stages))
		}
		for _, s := range rs.Stages {
			if _, ok := q.Weights[s]; !ok {
				q.Weights[s] = 0
			}
		}
	}

	rs.scaleMin, rs.scaleMax = rs.AnswerScale[0], rs.AnswerScale[0]
	for _, v := range rs.AnswerScale[1:] {
		if v < rs.scaleMin {
			rs.scaleMin = v
		}
		if v > rs.scaleMax {
			rs.scaleMax = v
		}
	}

	hash, err := canonicalHash(raw)
	if err != nil {
		return nil, err
	}
	rs.Hash = hash
	return &rs, nil
}

// QuestionCount returns the size of the signal vocabulary. It is the
// denominator of the coverage fraction.
func (r *RuleSet) QuestionCount() int {
	return len(r.Questions)
}

// KnownKey reports whether id belongs to the signal vocabulary.
func (r *RuleSet) KnownKey(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// ScaleBounds returns the inclusive [min, max] of the answer scale.
func (r *RuleSet) ScaleBounds() (int, int) {
	return r.scaleMin, r.scaleMax
}

// ConfidenceTier maps a coverage fraction to a discrete confidence
// label. Monotonic: a higher coverage never yields a lower tier.
func (r *RuleSet) ConfidenceTier(coverage float64) string {
	switch {
	case coverage >= r.Confidence.High:
		return ConfidenceHigh
	case coverage >= r.Confidence.Medium:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// canonicalHash computes the 12-hex-character SHA-256 prefix of the
// canonical (key-sorted, compact) JSON form of raw. Re-marshalling
// through a generic value makes the hash independent of the whitespace
// and key order of the source file.
func canonicalHash(raw []byte) (string, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("assessment: hash rule set: %w", err)
	}
	canon, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("assessment: hash rule set: %w", err)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:])[:12], nil
}

// defaultRuleSetJSON is the embedded default question bank. It mirrors
// the bank the production prompt was tuned against; edits here change
// the config hash and therefore the audit identity of every result.
const defaultRuleSetJSON = `
{
  "version": "spec-v0.5-default",
  "stages": ["FS", "HM", "IC", "SA"],
  "answer_scale": [-2, -1, 0, 1, 2],
  "confidence_thresholds": {"high": 0.75, "medium": 0.45},
  "questions": [
    {"id":"Q1","text":"I feel excited about the possibilities of living abroad","weights":{"FS":1,"HM":1,"IC":0,"SA":1}},
    {"id":"Q2","text":"I feel shut out and excluded","weights":{"FS":1,"HM":0,"IC":1,"SA":0}},
    {"id":"Q3","text":"I feel guilty leaving my family and friends behind","weights":{"FS":1,"HM":0,"IC":1,"SA":0}},
    {"id":"Q4","text":"I feel my social relationships are superficial","weights":{"FS":0,"HM":0,"IC":1,"SA":0}},
    {"id":"Q5","text":"I feel lonely and/or isolated","weights":{"FS":0,"HM":0,"IC":1,"SA":0}},
    {"id":"Q6","text":"I feel I can maintain my cultural identity and embrace the new culture","weights":{"FS":0,"HM":1,"IC":0,"SA":1}},
    {"id":"Q7","text":"I feel I understand the values of the country I am assigned to","weights":{"FS":1,"HM":0,"IC":0,"SA":1}},
    {"id":"Q8","text":"I feel sad","weights":{"FS":1,"HM":0,"IC":1,"SA":0}},
    {"id":"Q9","text":"I feel disappointed in myself","weights":{"FS":1,"HM":0,"IC":1,"SA":0}},
    {"id":"Q10","text":"I feel discouraged in my new assignment/country","weights":{"FS":1,"HM":0,"IC":1,"SA":0}},
    {"id":"Q11","text":"I feel I am integrated and belong","weights":{"FS":0,"HM":0,"IC":0,"SA":1}},
    {"id":"Q12","text":"I feel that I (and/or) my family is thriving","weights":{"FS":0,"HM":1,"IC":0,"SA":1}},
    {"id":"Q13","text":"I fear that I am inadequate to succeed","weights":{"FS":0,"HM":0,"IC":1,"SA":0}},
    {"id":"Q14","text":"I wish I was better prepared for living abroad","weights":{"FS":1,"HM":0,"IC":1,"SA":0}},
    {"id":"Q15","text":"I feel like the company will leverage my/partner's skills upon returning home","weights":{"FS":0,"HM":0,"IC":0,"SA":1}},
    {"id":"Q16","text":"I feel like issues at home are impacting my work performance","weights":{"FS":0,"HM":0,"IC":1,"SA":0}},
    {"id":"Q17","text":"I feel that my company cares about my/our well-being","weights":{"FS":1,"HM":1,"IC":0,"SA":1}},
    {"id":"Q18","text":"I feel like I am the best \"me\" I can be","weights":{"FS":1,"HM":0,"IC":0,"SA":1}},
    {"id":"Q19","text":"I have been provided, throughout the assignment, with the tools and resources to adapt in the new country","weights":{"FS":1,"HM":0,"IC":0,"SA":1}},
    {"id":"Q20","text":"I am open to using technology to help me adapt abroad","weights":{"FS":1,"HM":1,"IC":1,"SA":1}}
  ]
}
`
