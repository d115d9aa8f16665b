package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/corpex-io/corpex/internal/domain/matrix"
)

// Search runs the matrix against every transcript in the corpus. Transcripts
// are loaded and evaluated one at a time; cancellation is observed between
// transcripts, returning the matches collected so far without error.
func (s *Store) Search(ctx context.Context, m *matrix.Matrix, onProgress func(int)) ([]string, error) {
	layers, err := s.loadLayers(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, err
	}
	wordLayer := ""
	for name, info := range layers {
		if info.id == WordLayerID {
			wordLayer = name
		}
	}
	cm, err := compile(m, wordLayer, layers)
	if err != nil {
		return nil, err
	}

	agIDs, err := s.transcriptIDs(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, err
	}

	var ids []string
	for i, agID := range agIDs {
		if ctx.Err() != nil {
			s.logger.Info("search cancelled",
				zap.Int("transcriptsSearched", i),
				zap.Int("matchesSoFar", len(ids)))
			break
		}
		g, err := s.loadGraph(ctx, agID)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return nil, err
		}
		for _, match := range cm.search(g) {
			ids = append(ids, match.String())
		}
		if onProgress != nil {
			onProgress(progressPercent(i+1, len(agIDs)))
		}
	}
	return ids, nil
}

func (s *Store) loadLayers(ctx context.Context) (map[string]layerInfo, error) {
	st, err := s.stmt(ctx, `SELECT layer_id, name, scope FROM layer`)
	if err != nil {
		return nil, err
	}
	rows, err := st.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("load layers: %w", err)
	}
	defer rows.Close()
	layers := make(map[string]layerInfo)
	for rows.Next() {
		var info layerInfo
		if err := rows.Scan(&info.id, &info.name, &info.scope); err != nil {
			return nil, fmt.Errorf("scan layer: %w", err)
		}
		layers[info.name] = info
	}
	return layers, rows.Err()
}

func (s *Store) transcriptIDs(ctx context.Context) ([]int64, error) {
	st, err := s.stmt(ctx, `SELECT ag_id FROM transcript ORDER BY ag_id`)
	if err != nil {
		return nil, err
	}
	rows, err := st.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("load transcripts: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// loadGraph materializes one transcript: words in turn-then-ordinal order
// with speaker, utterance anchors, and all tag and segment annotations.
func (s *Store) loadGraph(ctx context.Context, agID int64) (*graphData, error) {
	speakers, err := s.loadTurnSpeakers(ctx, agID)
	if err != nil {
		return nil, err
	}
	utterances, err := s.loadUtterances(ctx, agID)
	if err != nil {
		return nil, err
	}

	st, err := s.stmt(ctx, `
		SELECT annotation_id, label, turn_annotation_id, utterance_annotation_id
		FROM annotation WHERE ag_id = ? AND layer_id = ?
		ORDER BY turn_annotation_id, ordinal`)
	if err != nil {
		return nil, err
	}
	rows, err := st.QueryContext(ctx, agID, WordLayerID)
	if err != nil {
		return nil, fmt.Errorf("load words for graph %d: %w", agID, err)
	}
	defer rows.Close()

	g := &graphData{agID: agID}
	index := make(map[int64]int)
	for rows.Next() {
		var w wordToken
		var turnID, uttID sql.NullInt64
		if err := rows.Scan(&w.id, &w.label, &turnID, &uttID); err != nil {
			return nil, fmt.Errorf("scan word: %w", err)
		}
		w.turnID = turnID.Int64
		w.utteranceID = uttID.Int64
		w.speaker = speakers[w.turnID]
		if u, ok := utterances[w.utteranceID]; ok {
			w.uttStart, w.uttEnd = u[0], u[1]
		}
		w.tags = make(map[string][]tagAnnotation)
		index[w.id] = len(g.words)
		g.words = append(g.words, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.loadTags(ctx, agID, g, index); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *Store) loadTurnSpeakers(ctx context.Context, agID int64) (map[int64]int64, error) {
	st, err := s.stmt(ctx, `SELECT annotation_id, label FROM annotation WHERE ag_id = ? AND layer_id = ?`)
	if err != nil {
		return nil, err
	}
	rows, err := st.QueryContext(ctx, agID, TurnLayerID)
	if err != nil {
		return nil, fmt.Errorf("load turns for graph %d: %w", agID, err)
	}
	defer rows.Close()
	speakers := make(map[int64]int64)
	for rows.Next() {
		var id int64
		var label string
		if err := rows.Scan(&id, &label); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		if n, err := strconv.ParseInt(label, 10, 64); err == nil {
			speakers[id] = n
		}
	}
	return speakers, rows.Err()
}

func (s *Store) loadUtterances(ctx context.Context, agID int64) (map[int64][2]int64, error) {
	st, err := s.stmt(ctx, `
		SELECT annotation_id, start_anchor_id, end_anchor_id
		FROM annotation WHERE ag_id = ? AND layer_id = ?`)
	if err != nil {
		return nil, err
	}
	rows, err := st.QueryContext(ctx, agID, UtteranceLayerID)
	if err != nil {
		return nil, fmt.Errorf("load utterances for graph %d: %w", agID, err)
	}
	defer rows.Close()
	utterances := make(map[int64][2]int64)
	for rows.Next() {
		var id int64
		var start, end sql.NullInt64
		if err := rows.Scan(&id, &start, &end); err != nil {
			return nil, fmt.Errorf("scan utterance: %w", err)
		}
		utterances[id] = [2]int64{start.Int64, end.Int64}
	}
	return utterances, rows.Err()
}

// loadTags attaches every annotation tagged to a word of the graph: word
// tags and sub-word segments alike, keyed by layer name in ordinal order.
func (s *Store) loadTags(ctx context.Context, agID int64, g *graphData, index map[int64]int) error {
	st, err := s.stmt(ctx, `
		SELECT a.word_annotation_id, l.name, a.annotation_id, a.label, a.ordinal
		FROM annotation a JOIN layer l ON l.layer_id = a.layer_id
		WHERE a.ag_id = ? AND a.word_annotation_id IS NOT NULL
		ORDER BY a.word_annotation_id, a.layer_id, a.ordinal`)
	if err != nil {
		return err
	}
	rows, err := st.QueryContext(ctx, agID)
	if err != nil {
		return fmt.Errorf("load tags for graph %d: %w", agID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var wordID int64
		var layerName string
		var tag tagAnnotation
		if err := rows.Scan(&wordID, &layerName, &tag.id, &tag.label, &tag.ordinal); err != nil {
			return fmt.Errorf("scan tag: %w", err)
		}
		i, ok := index[wordID]
		if !ok {
			continue
		}
		w := &g.words[i]
		w.tags[layerName] = append(w.tags[layerName], tag)
	}
	return rows.Err()
}
