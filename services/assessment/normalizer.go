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
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// SignalVector maps question IDs to signal values on the answer scale.
// A vector is partial: keys the model could not infer are simply absent.
type SignalVector map[string]int

// Clone returns an independent copy of the vector. Clone of nil is an
// empty, non-nil vector.
func (v SignalVector) Clone() SignalVector {
	out := make(SignalVector, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Normalize validates a raw signal map against the rule set's signal
// vocabulary and answer scale.
//
// # Description
//
// The raw map comes straight out of model JSON, so partial, absent,
// malformed and out-of-range entries are the common case, not an error:
//
//   - keys outside the question bank are dropped
//   - nil values and values that do not coerce to an integer are dropped
//   - integer values outside the scale are clamped to the scale bounds
//
// Deterministic and side-effect free. The returned vector contains only
// recognized keys with in-scale values.
func (r *RuleSet) Normalize(raw map[string]any) SignalVector {
	out := make(SignalVector)
	if raw == nil {
		return out
	}
	for key, val := range raw {
		if !r.KnownKey(key) {
			continue
		}
		iv, ok := coerceInt(val)
		if !ok {
			continue
		}
		if iv < r.scaleMin {
			iv = r.scaleMin
		}
		if iv > r.scaleMax {
			iv = r.scaleMax
		}
		out[key] = iv
	}
	return out
}

// coerceInt converts the scalar types a decoded JSON payload can carry
// into an exact integer. Fractional floats and non-numeric strings fail
// rather than round: a half-parsed signal is worse than a dropped one.
func coerceInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case float64:
		if math.Trunc(x) != x || math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return int(x), true
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return int(i), true
		}
		if f, err := x.Float64(); err == nil && math.Trunc(f) == f {
			return int(f), true
		}
		return 0, false
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}
