package sqlite

import (
	"regexp"
	"strconv"

	"github.com/corpex-io/corpex/internal/domain/matchid"
	"github.com/corpex-io/corpex/internal/domain/matrix"
)

// layerInfo is one row of the layer table.
type layerInfo struct {
	id    int64
	name  string
	scope string
}

// tagAnnotation is one annotation tagged to a word: a word tag (single
// annotation per layer) or a sub-word segment (ordered run per layer).
type tagAnnotation struct {
	id      int64
	label   string
	ordinal int
}

// wordToken is one word with everything evaluation and identifier emission
// need: ownership, anchors, and per-layer tags in ordinal order.
type wordToken struct {
	id          int64
	label       string
	turnID      int64
	speaker     int64
	utteranceID int64
	uttStart    int64
	uttEnd      int64
	tags        map[string][]tagAnnotation
}

// graphData is one fully loaded transcript, words in turn-then-ordinal order.
type graphData struct {
	agID  int64
	words []wordToken
}

type compiledMatch struct {
	re          *regexp.Regexp
	min, max    *float64
	not         bool
	target      bool
	anchorStart bool
	anchorEnd   bool
}

type compiledLayer struct {
	layerID string
	items   []compiledMatch
	subword bool
}

type compiledColumn struct {
	layers []compiledLayer
	adj    int
}

// compiledMatrix is a matrix with regexes compiled and unconditioned
// constraints pruned, ready to evaluate against loaded graphs.
type compiledMatrix struct {
	cols      []compiledColumn
	targetCol int
	wordLayer string
	layers    map[string]layerInfo
}

// compile validates and lowers the matrix. wordLayer names the layer whose
// constraints apply to the word orthography itself rather than to tags.
func compile(m *matrix.Matrix, wordLayer string, layers map[string]layerInfo) (*compiledMatrix, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	cm := &compiledMatrix{targetCol: m.TargetColumn(), wordLayer: wordLayer, layers: layers}
	for _, col := range m.Columns {
		cc := compiledColumn{adj: col.Adjacency()}
		for _, id := range col.LayerIDs() {
			matches := col.Matches(id)
			cl := compiledLayer{layerID: id, subword: len(matches) > 1}
			keep := false
			for _, lm := range matches {
				re, err := lm.Regexp()
				if err != nil {
					return nil, err
				}
				item := compiledMatch{
					re:          re,
					not:         lm.IsNegated(),
					target:      lm.IsTarget(),
					anchorStart: lm.IsAnchorStart(),
					anchorEnd:   lm.IsAnchorEnd(),
				}
				if v, ok := lm.MinValue(); ok {
					item.min = &v
				}
				if v, ok := lm.MaxValue(); ok {
					item.max = &v
				}
				if lm.HasCondition() || lm.IsTarget() {
					keep = true
				}
				cl.items = append(cl.items, item)
			}
			if keep {
				cc.layers = append(cc.layers, cl)
			}
		}
		cm.cols = append(cm.cols, cc)
	}
	return cm, nil
}

// labelMatches applies the positive conditions of one constraint to a label.
// Negation is applied by the callers.
func (item *compiledMatch) labelMatches(label string) bool {
	if item.re != nil && !item.re.MatchString(label) {
		return false
	}
	if item.min != nil || item.max != nil {
		v, err := strconv.ParseFloat(label, 64)
		if err != nil {
			return false
		}
		if item.min != nil && v < *item.min {
			return false
		}
		if item.max != nil && v >= *item.max {
			return false
		}
	}
	return true
}

// matchSingle evaluates a single-constraint layer against the annotations
// tagging one word. A negated constraint matches exactly when no annotation
// satisfies the conditions; it contributes no target annotation.
func (cl *compiledLayer) matchSingle(anns []tagAnnotation) (int64, bool) {
	item := cl.items[0]
	if item.not {
		for _, ann := range anns {
			if item.labelMatches(ann.label) {
				return 0, false
			}
		}
		return 0, true
	}
	for _, ann := range anns {
		if item.labelMatches(ann.label) {
			return ann.id, true
		}
	}
	return 0, false
}

// matchSubword evaluates a sub-word constraint list: the items must match a
// contiguous run of segments, in order. anchorStart on the first item pins
// the run to the word start, anchorEnd on the last item to the word end.
func (cl *compiledLayer) matchSubword(segs []tagAnnotation) (int64, bool) {
	n := len(cl.items)
	if n == 0 || len(segs) < n {
		return 0, false
	}
	for start := 0; start+n <= len(segs); start++ {
		if cl.items[0].anchorStart && start != 0 {
			break
		}
		if cl.items[n-1].anchorEnd && start+n != len(segs) {
			continue
		}
		target := int64(0)
		ok := true
		for i := 0; i < n; i++ {
			seg := segs[start+i]
			if i > 0 && seg.ordinal != segs[start+i-1].ordinal+1 {
				ok = false
				break
			}
			matched := cl.items[i].labelMatches(seg.label)
			if cl.items[i].not {
				matched = !matched
			}
			if !matched {
				ok = false
				break
			}
			if cl.items[i].target || (target == 0 && i == 0) {
				target = seg.id
			}
		}
		if ok {
			return target, true
		}
	}
	return 0, false
}

// matchWord evaluates every layer of one column against one word, returning
// the target annotation id when a layer of this column is marked target.
func (cc *compiledColumn) matchWord(cm *compiledMatrix, w *wordToken) (string, int64, bool) {
	targetLayer := ""
	var targetID int64
	for i := range cc.layers {
		cl := &cc.layers[i]
		var anns []tagAnnotation
		if cl.layerID == cm.wordLayer {
			anns = []tagAnnotation{{id: w.id, label: w.label, ordinal: 1}}
		} else {
			anns = w.tags[cl.layerID]
		}
		var id int64
		var ok bool
		if cl.subword {
			id, ok = cl.matchSubword(anns)
		} else {
			id, ok = cl.matchSingle(anns)
		}
		if !ok {
			return "", 0, false
		}
		if cl.hasTarget() {
			targetLayer = cl.layerID
			targetID = id
		}
	}
	return targetLayer, targetID, true
}

func (cl *compiledLayer) hasTarget() bool {
	for i := range cl.items {
		if cl.items[i].target {
			return true
		}
	}
	return false
}

// search evaluates the matrix at every word position of the graph, aligning
// successive columns within each column's adjacency and never crossing a
// turn boundary. Matches are reported in word order.
func (cm *compiledMatrix) search(g *graphData) []matchid.MatchID {
	var out []matchid.MatchID
	for i := range g.words {
		if id, ok := cm.matchAt(g, i); ok {
			out = append(out, id)
		}
	}
	return out
}

func (cm *compiledMatrix) matchAt(g *graphData, start int) (matchid.MatchID, bool) {
	targetLayer := ""
	var targetID int64
	var align func(col, idx int) bool
	align = func(col, idx int) bool {
		w := &g.words[idx]
		layer, id, ok := cm.cols[col].matchWord(cm, w)
		if !ok {
			return false
		}
		if col == cm.targetCol && layer != "" {
			targetLayer, targetID = layer, id
		}
		if col == len(cm.cols)-1 {
			return true
		}
		adj := cm.cols[col].adj
		for next := idx + 1; next <= idx+adj && next < len(g.words); next++ {
			if g.words[next].turnID != w.turnID {
				break
			}
			if align(col+1, next) {
				return true
			}
		}
		return false
	}
	if !align(0, start) {
		return matchid.MatchID{}, false
	}

	first := &g.words[start]
	id := matchid.MatchID{
		GraphID:       g.agID,
		UtteranceID:   first.utteranceID,
		StartAnchorID: first.uttStart,
		EndAnchorID:   first.uttEnd,
		SpeakerNumber: first.speaker,
		TargetScope:   "w",
		TargetLayerID: WordLayerID,
		TargetID:      first.id,
		FirstWordID:   first.id,
	}
	if targetLayer != "" && targetID != 0 {
		if info, ok := cm.layers[targetLayer]; ok {
			id.TargetScope = info.scope
			id.TargetLayerID = info.id
			id.TargetID = targetID
		}
	}
	return id, true
}

func progressPercent(done, total int) int {
	if total <= 0 {
		return 100
	}
	return done * 100 / total
}
