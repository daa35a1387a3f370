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

// Result is one stage inference over a cumulative signal vector. It is
// derived, never stored: the engine recomputes it from scratch each turn
// rather than transitioning between stages incrementally.
//
// # Fields
//
//   - StageProbs: probability per stage, summing to 1 within floating
//     tolerance.
//   - StageScores: the raw (unclamped) weighted scores behind the
//     distribution, kept for archival and debugging.
//   - Confidence: discrete tier derived from coverage.
//   - Coverage: fraction of the signal vocabulary observed so far.
//   - ConfigVersion, ConfigHash: identity of the rule set that produced
//     this result.
type Result struct {
	StageProbs    map[string]float64 `json:"stage_probs"`
	StageScores   map[string]float64 `json:"stage_scores"`
	Confidence    string             `json:"confidence"`
	Coverage      float64            `json:"coverage"`
	ConfigVersion string             `json:"config_version"`
	ConfigHash    string             `json:"config_hash"`
}

// Assess maps a cumulative signal vector to a stage distribution.
//
// # Description
//
// For each stage the engine sums weight(question, stage) * value over
// the observed signals, clamps negative stage scores to zero, and
// normalizes by the total. A zero total (nothing observed yet, or all
// scores negative) yields an exactly uniform distribution rather than an
// error. Confidence is the coverage tier from the rule set's thresholds,
// so it can only rise as more of the vocabulary is observed.
//
// Deterministic: the same vector always produces the same result under
// the same rule set.
func (r *RuleSet) Assess(signals SignalVector) Result {
	scores := make(map[string]float64, len(r.Stages))
	for _, s := range r.Stages {
		scores[s] = 0
	}

	observed := 0
	for _, q := range r.Questions {
		v, ok := signals[q.ID]
		if !ok {
			continue
		}
		observed++
		for _, s := range r.Stages {
			scores[s] += q.Weights[s] * float64(v)
		}
	}

	var total float64
	clamped := make(map[string]float64, len(r.Stages))
	for _, s := range r.Stages {
		c := scores[s]
		if c < 0 {
			c = 0
		}
		clamped[s] = c
		total += c
	}

	probs := make(map[string]float64, len(r.Stages))
	if total > 0 {
		for _, s := range r.Stages {
			probs[s] = clamped[s] / total
		}
	} else {
		uniform := 1.0 / float64(len(r.Stages))
		for _, s := range r.Stages {
			probs[s] = uniform
		}
	}

	coverage := float64(observed) / float64(len(r.Questions))

	return Result{
		StageProbs:    probs,
		StageScores:   scores,
		Confidence:    r.ConfidenceTier(coverage),
		Coverage:      coverage,
		ConfigVersion: r.Version,
		ConfigHash:    r.Hash,
	}
}
