package matrix

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Column is one position in the matched token sequence. Each layer id maps to
// one or more constraints: a single LayerMatch constrains annotations tagged
// to the word in this position, while a list requests contiguous sub-word
// matching (e.g. a run of phonemic segments inside the word).
//
// Layer insertion order from the JSON document is the canonical ordering and
// is preserved across round trips.
type Column struct {
	layers map[string][]*LayerMatch
	order  []string
	adj    int
}

// NewColumn creates an empty column with the given adjacency.
func NewColumn(adj int) *Column {
	return &Column{layers: make(map[string][]*LayerMatch), adj: adj}
}

// AddLayer appends constraints for a layer, keeping insertion order. Adding
// to an existing layer id extends its sub-word list.
func (c *Column) AddLayer(layerID string, matches ...*LayerMatch) *Column {
	if c.layers == nil {
		c.layers = make(map[string][]*LayerMatch)
	}
	if _, ok := c.layers[layerID]; !ok {
		c.order = append(c.order, layerID)
	}
	c.layers[layerID] = append(c.layers[layerID], matches...)
	return c
}

// LayerIDs returns layer ids in canonical (insertion) order.
func (c *Column) LayerIDs() []string { return c.order }

// Matches returns the constraints for a layer id, nil if absent.
func (c *Column) Matches(layerID string) []*LayerMatch { return c.layers[layerID] }

// Adjacency returns the distance to the next column: 1 means the immediately
// following token, N permits up to N-1 intervening tokens. Defaults to 1.
func (c *Column) Adjacency() int {
	if c.adj <= 0 {
		return 1
	}
	return c.adj
}

type columnJSON struct {
	Layers json.RawMessage `json:"layers"`
	Adj    *int            `json:"adj,omitempty"`
}

// UnmarshalJSON decodes the column, preserving the layer key order of the
// document. A layer value may be a single constraint object or an array of
// them (sub-word matching). Malformed JSON fails the whole decode.
func (c *Column) UnmarshalJSON(data []byte) error {
	var aux columnJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("column: %w", err)
	}
	c.layers = make(map[string][]*LayerMatch)
	c.order = nil
	c.adj = 0
	if aux.Adj != nil {
		c.adj = *aux.Adj
	}
	if len(aux.Layers) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(aux.Layers))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("column layers: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("column layers: expected object, got %v", tok)
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("column layers: %w", err)
		}
		key := keyTok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("layer %q: %w", key, err)
		}
		matches, err := decodeLayerValue(key, raw)
		if err != nil {
			return err
		}
		c.order = append(c.order, key)
		c.layers[key] = matches
	}
	return nil
}

func decodeLayerValue(key string, raw json.RawMessage) ([]*LayerMatch, error) {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []*LayerMatch
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("layer %q: %w", key, err)
		}
		for _, lm := range list {
			fillLayerID(lm, key)
		}
		return list, nil
	}
	var single LayerMatch
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, fmt.Errorf("layer %q: %w", key, err)
	}
	fillLayerID(&single, key)
	return []*LayerMatch{&single}, nil
}

func fillLayerID(lm *LayerMatch, key string) {
	if lm != nil && lm.ID == "" {
		lm.ID = key
	}
}

// MarshalJSON encodes the column with layers in canonical order. Single
// constraints serialize as objects, sub-word lists as arrays.
func (c *Column) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"layers":{`)
	for i, id := range c.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(id)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		matches := c.layers[id]
		var val []byte
		if len(matches) == 1 {
			val, err = json.Marshal(matches[0])
		} else {
			val, err = json.Marshal(matches)
		}
		if err != nil {
			return nil, fmt.Errorf("layer %q: %w", id, err)
		}
		buf.Write(val)
	}
	buf.WriteString(`},"adj":`)
	fmt.Fprintf(&buf, "%d", c.Adjacency())
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (c *Column) describe() string {
	var parts []string
	for _, id := range c.order {
		for _, lm := range c.layers[id] {
			if lm.HasCondition() {
				parts = append(parts, lm.describe())
			}
		}
	}
	return strings.Join(parts, ",")
}
