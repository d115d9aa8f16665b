package matrix

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// LayerMatch is one constraint against one annotation layer: a regular
// expression on the label, numeric bounds on the label read as a number, or
// both. All populated filters must hold.
//
// The boolean fields are tri-state at rest (nil when the JSON omitted them)
// and concrete after SetNullBooleans.
type LayerMatch struct {
	ID            string  `json:"id"`
	Pattern       *string `json:"pattern,omitempty"`
	Not           *bool   `json:"not,omitempty"`
	CaseSensitive *bool   `json:"caseSensitive,omitempty"`
	Min           *string `json:"min,omitempty"`
	Max           *string `json:"max,omitempty"`
	Target        *bool   `json:"target,omitempty"`
	AnchorStart   *bool   `json:"anchorStart,omitempty"`
	AnchorEnd     *bool   `json:"anchorEnd,omitempty"`
}

// SetNullBooleans replaces nil boolean fields with false, so callers can
// dereference them without nil checks.
func (lm *LayerMatch) SetNullBooleans() *LayerMatch {
	if lm.Not == nil {
		lm.Not = new(bool)
	}
	if lm.CaseSensitive == nil {
		lm.CaseSensitive = new(bool)
	}
	if lm.Target == nil {
		lm.Target = new(bool)
	}
	if lm.AnchorStart == nil {
		lm.AnchorStart = new(bool)
	}
	if lm.AnchorEnd == nil {
		lm.AnchorEnd = new(bool)
	}
	return lm
}

// NormalizeStrings replaces empty-string pattern/min/max with absent.
func (lm *LayerMatch) NormalizeStrings() *LayerMatch {
	if lm.Pattern != nil && *lm.Pattern == "" {
		lm.Pattern = nil
	}
	if lm.Min != nil && *lm.Min == "" {
		lm.Min = nil
	}
	if lm.Max != nil && *lm.Max == "" {
		lm.Max = nil
	}
	return lm
}

// HasCondition reports whether any of pattern/min/max is set. Constraints
// with no condition are logically absent and are skipped by engines.
func (lm *LayerMatch) HasCondition() bool {
	return (lm.Pattern != nil && *lm.Pattern != "") ||
		(lm.Min != nil && *lm.Min != "") ||
		(lm.Max != nil && *lm.Max != "")
}

// IsTarget reports whether this constraint marks the position the search
// reports.
func (lm *LayerMatch) IsTarget() bool { return lm.Target != nil && *lm.Target }

// IsNegated reports whether the pattern match is negated.
func (lm *LayerMatch) IsNegated() bool { return lm.Not != nil && *lm.Not }

// IsAnchorStart reports whether the match is pinned to the word start.
func (lm *LayerMatch) IsAnchorStart() bool { return lm.AnchorStart != nil && *lm.AnchorStart }

// IsAnchorEnd reports whether the match is pinned to the word end.
func (lm *LayerMatch) IsAnchorEnd() bool { return lm.AnchorEnd != nil && *lm.AnchorEnd }

// EnsurePatternAnchored wraps an unanchored pattern in ^(...)$ so that
// engines apply full-string matching semantics.
func (lm *LayerMatch) EnsurePatternAnchored() *LayerMatch {
	if lm.Pattern == nil || *lm.Pattern == "" {
		return lm
	}
	p := *lm.Pattern
	if !strings.HasPrefix(p, "^") || !strings.HasSuffix(p, "$") {
		p = "^(" + p + ")$"
		lm.Pattern = &p
	}
	return lm
}

// Regexp compiles the anchored label pattern, case-insensitively unless
// caseSensitive is set. Returns nil when no pattern is present.
func (lm *LayerMatch) Regexp() (*regexp.Regexp, error) {
	if lm.Pattern == nil || *lm.Pattern == "" {
		return nil, nil
	}
	anchored := *lm.Pattern
	if !strings.HasPrefix(anchored, "^") || !strings.HasSuffix(anchored, "$") {
		anchored = "^(" + anchored + ")$"
	}
	if lm.CaseSensitive == nil || !*lm.CaseSensitive {
		anchored = "(?i)" + anchored
	}
	re, err := regexp.Compile(anchored)
	if err != nil {
		return nil, fmt.Errorf("layer %q: %w", lm.ID, err)
	}
	return re, nil
}

// MinValue returns the inclusive lower bound, if set and numeric.
func (lm *LayerMatch) MinValue() (float64, bool) { return numericBound(lm.Min) }

// MaxValue returns the exclusive upper bound, if set and numeric.
func (lm *LayerMatch) MaxValue() (float64, bool) { return numericBound(lm.Max) }

func numericBound(s *string) (float64, bool) {
	if s == nil || *s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(*s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (lm *LayerMatch) describe() string {
	var parts []string
	if lm.Pattern != nil && *lm.Pattern != "" {
		if lm.IsNegated() {
			parts = append(parts, "NOT "+*lm.Pattern)
		} else {
			parts = append(parts, *lm.Pattern)
		}
	}
	if lm.Min != nil && *lm.Min != "" {
		parts = append(parts, ">="+*lm.Min)
	}
	if lm.Max != nil && *lm.Max != "" {
		parts = append(parts, "<"+*lm.Max)
	}
	return lm.ID + ":" + strings.Join(parts, " ")
}
