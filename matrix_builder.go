package corpex

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/corpex-io/corpex/internal/domain/matrix"
)

// Well-known layer names every annotation graph carries.
const (
	WordLayer    = "orthography"
	SegmentLayer = "segment"
)

// MatrixBuilder is a fluent builder for search matrices. Each Word or Column
// call opens a new token position; constraint calls apply to the current
// position and Target/CaseSensitive to the most recent constraint.
type MatrixBuilder struct {
	cols []*builderColumn
	last *matrix.LayerMatch
	err  error
}

type builderColumn struct {
	adj    int
	order  []string
	layers map[string][]*matrix.LayerMatch
}

// NewMatrix starts an empty matrix.
func NewMatrix() *MatrixBuilder {
	return &MatrixBuilder{}
}

// Column opens a new token position.
func (b *MatrixBuilder) Column() *MatrixBuilder {
	b.cols = append(b.cols, &builderColumn{layers: make(map[string][]*matrix.LayerMatch)})
	b.last = nil
	return b
}

// Word opens a new token position constrained by an orthography pattern.
func (b *MatrixBuilder) Word(pattern string) *MatrixBuilder {
	return b.Column().Layer(WordLayer, pattern)
}

// Layer adds a pattern constraint on the named layer to the current position.
func (b *MatrixBuilder) Layer(layerID, pattern string) *MatrixBuilder {
	lm := &matrix.LayerMatch{ID: layerID, Pattern: strPtr(pattern)}
	return b.add(layerID, lm)
}

// Not adds a negated pattern constraint: the position matches only when no
// annotation on the layer matches the pattern.
func (b *MatrixBuilder) Not(layerID, pattern string) *MatrixBuilder {
	lm := &matrix.LayerMatch{ID: layerID, Pattern: strPtr(pattern), Not: boolPtr(true)}
	return b.add(layerID, lm)
}

// Range adds a numeric constraint: label >= min (inclusive) and < max
// (exclusive). Either bound may be empty.
func (b *MatrixBuilder) Range(layerID, min, max string) *MatrixBuilder {
	lm := &matrix.LayerMatch{ID: layerID}
	if min != "" {
		lm.Min = strPtr(min)
	}
	if max != "" {
		lm.Max = strPtr(max)
	}
	return b.add(layerID, lm)
}

// Segments adds a contiguous sub-word run on the named layer: the patterns
// must match consecutive segments inside the word, in order.
func (b *MatrixBuilder) Segments(layerID string, patterns ...string) *MatrixBuilder {
	if len(patterns) == 0 {
		return b.fail(fmt.Errorf("segments on layer %q: at least one pattern required", layerID))
	}
	for _, p := range patterns {
		b.add(layerID, &matrix.LayerMatch{ID: layerID, Pattern: strPtr(p)})
	}
	return b
}

// Target marks the most recent constraint as the reported position. At most
// one constraint in the matrix may be a target.
func (b *MatrixBuilder) Target() *MatrixBuilder {
	if b.last == nil {
		return b.fail(errors.New("target: no constraint to mark"))
	}
	b.last.Target = boolPtr(true)
	return b
}

// CaseSensitive makes the most recent constraint's pattern case-sensitive.
func (b *MatrixBuilder) CaseSensitive() *MatrixBuilder {
	if b.last == nil {
		return b.fail(errors.New("caseSensitive: no constraint to mark"))
	}
	b.last.CaseSensitive = boolPtr(true)
	return b
}

// AnchorStart pins the current position's sub-word run to the word start.
func (b *MatrixBuilder) AnchorStart() *MatrixBuilder {
	if b.last == nil {
		return b.fail(errors.New("anchorStart: no constraint to mark"))
	}
	col := b.cols[len(b.cols)-1]
	run := col.layers[b.last.ID]
	run[0].AnchorStart = boolPtr(true)
	return b
}

// AnchorEnd pins the current position's sub-word run to the word end.
func (b *MatrixBuilder) AnchorEnd() *MatrixBuilder {
	if b.last == nil {
		return b.fail(errors.New("anchorEnd: no constraint to mark"))
	}
	b.last.AnchorEnd = boolPtr(true)
	return b
}

// Adj sets the distance from the current position to the next: 1 means
// immediately adjacent (the default), N permits up to N-1 intervening tokens.
func (b *MatrixBuilder) Adj(n int) *MatrixBuilder {
	if len(b.cols) == 0 {
		return b.fail(errors.New("adj: no column opened"))
	}
	if n < 1 {
		return b.fail(fmt.Errorf("adj: must be at least 1, got %d", n))
	}
	b.cols[len(b.cols)-1].adj = n
	return b
}

// JSON renders the matrix document, for sending to a remote corpex server.
func (b *MatrixBuilder) JSON() ([]byte, error) {
	m, err := b.build()
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode matrix: %w", err)
	}
	return data, nil
}

// String renders the compact query description used in task names.
func (b *MatrixBuilder) String() string {
	m, err := b.build()
	if err != nil {
		return ""
	}
	return m.String()
}

func (b *MatrixBuilder) add(layerID string, lm *matrix.LayerMatch) *MatrixBuilder {
	if len(b.cols) == 0 {
		b.Column()
	}
	col := b.cols[len(b.cols)-1]
	if _, ok := col.layers[layerID]; !ok {
		col.order = append(col.order, layerID)
	}
	col.layers[layerID] = append(col.layers[layerID], lm)
	b.last = lm
	return b
}

func (b *MatrixBuilder) fail(err error) *MatrixBuilder {
	if b.err == nil {
		b.err = err
	}
	return b
}

func (b *MatrixBuilder) build() (*matrix.Matrix, error) {
	if b == nil {
		return nil, errors.New("nil matrix builder")
	}
	if b.err != nil {
		return nil, b.err
	}
	m := &matrix.Matrix{}
	for _, bc := range b.cols {
		col := matrix.NewColumn(bc.adj)
		for _, id := range bc.order {
			col.AddLayer(id, bc.layers[id]...)
		}
		m.Columns = append(m.Columns, col)
	}
	m.SetNullBooleans()
	return m, nil
}

func strPtr(s string) *string { return &s }
func boolPtr(v bool) *bool    { return &v }
