// Package matrix implements the declarative search matrix: an ordered
// sequence of columns, each constraining one word position across annotation
// layers, matched left to right subject to per-column adjacency.
package matrix

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/corpex-io/corpex/internal/domain"
)

// Matrix is one complete search query: find every place where column 0's
// constraints hold, followed within column 0's adjacency by column 1's, and
// so on. Immutable for the lifetime of one search task.
type Matrix struct {
	Columns []*Column `json:"columns"`
}

// FromJSON decodes a matrix from its JSON document, failing fast on any
// malformed content (no partial matrix). Boolean fields are normalized to
// concrete values and empty strings to absent.
func FromJSON(data []byte) (*Matrix, error) {
	var m Matrix
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidMatrix, err)
	}
	m.SetNullBooleans()
	return &m, nil
}

// Read decodes a matrix from a reader, typically an HTTP request body.
func Read(r io.Reader) (*Matrix, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidMatrix, err)
	}
	return FromJSON(data)
}

// SetNullBooleans normalizes every constraint in place: nil booleans become
// false and empty-string pattern/min/max become absent.
func (m *Matrix) SetNullBooleans() *Matrix {
	for _, col := range m.Columns {
		for _, id := range col.LayerIDs() {
			for _, lm := range col.Matches(id) {
				lm.SetNullBooleans().NormalizeStrings()
			}
		}
	}
	return m
}

// TargetLayerID returns the layer id of the first constraint marked as
// target, scanning columns and layers in canonical order. Empty when no
// target is set, in which case engines report the whole match.
func (m *Matrix) TargetLayerID() string {
	if lm := m.targetMatch(); lm != nil {
		return lm.ID
	}
	return ""
}

// TargetColumn returns the index of the column holding the target
// constraint, or -1 when no target is set.
func (m *Matrix) TargetColumn() int {
	for i, col := range m.Columns {
		for _, id := range col.LayerIDs() {
			for _, lm := range col.Matches(id) {
				if lm.IsTarget() {
					return i
				}
			}
		}
	}
	return -1
}

func (m *Matrix) targetMatch() *LayerMatch {
	for _, col := range m.Columns {
		for _, id := range col.LayerIDs() {
			for _, lm := range col.Matches(id) {
				if lm.IsTarget() {
					return lm
				}
			}
		}
	}
	return nil
}

// HasCondition reports whether any constraint in the matrix has a condition.
func (m *Matrix) HasCondition() bool {
	for _, col := range m.Columns {
		for _, id := range col.LayerIDs() {
			for _, lm := range col.Matches(id) {
				if lm.HasCondition() {
					return true
				}
			}
		}
	}
	return false
}

// Validate checks that the matrix is executable: at least one column, at
// least one conditioned constraint, and at most one target.
func (m *Matrix) Validate() error {
	if m == nil || len(m.Columns) == 0 {
		return fmt.Errorf("%w: no columns", domain.ErrInvalidMatrix)
	}
	if !m.HasCondition() {
		return fmt.Errorf("%w: no conditions on any layer", domain.ErrInvalidMatrix)
	}
	targets := 0
	for _, col := range m.Columns {
		for _, id := range col.LayerIDs() {
			for _, lm := range col.Matches(id) {
				if lm.IsTarget() {
					targets++
				}
			}
		}
	}
	if targets > 1 {
		return fmt.Errorf("%w: %d target layers, at most one allowed", domain.ErrInvalidMatrix, targets)
	}
	return nil
}

// String renders a compact human-readable description of the query, used for
// task naming and status text. Identical queries render identically.
func (m *Matrix) String() string {
	if m == nil {
		return ""
	}
	parts := make([]string, 0, len(m.Columns))
	for _, col := range m.Columns {
		parts = append(parts, col.describe())
	}
	return strings.Join(parts, " ")
}
