// Package sqlite implements the graph store against a relational annotation
// graph: transcripts, layers, and annotations (words, sub-word segments,
// turns, utterances, and word tags) in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/corpex-io/corpex/internal/store"
)

// Well-known layer numbers. The word and utterance numbers are pinned by the
// match identifier encoding (ew_0_*, em_12_*).
const (
	WordLayerID      = 0
	SegmentLayerID   = 1
	TurnLayerID      = 11
	UtteranceLayerID = 12
)

const schema = `
CREATE TABLE IF NOT EXISTS transcript (
	ag_id INTEGER PRIMARY KEY,
	name  TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS layer (
	layer_id INTEGER PRIMARY KEY,
	name     TEXT NOT NULL UNIQUE,
	scope    TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS annotation (
	annotation_id INTEGER PRIMARY KEY,
	ag_id    INTEGER NOT NULL REFERENCES transcript(ag_id),
	layer_id INTEGER NOT NULL REFERENCES layer(layer_id),
	label    TEXT NOT NULL,
	turn_annotation_id      INTEGER,
	utterance_annotation_id INTEGER,
	word_annotation_id      INTEGER,
	ordinal  INTEGER NOT NULL DEFAULT 1,
	start_anchor_id INTEGER,
	end_anchor_id   INTEGER
);
CREATE INDEX IF NOT EXISTS idx_annotation_graph_layer ON annotation(ag_id, layer_id);
CREATE INDEX IF NOT EXISTS idx_annotation_word ON annotation(word_annotation_id);
INSERT OR IGNORE INTO layer (layer_id, name, scope) VALUES
	(0, 'orthography', 'w'),
	(1, 'segment', 's'),
	(11, 'turn', 'm'),
	(12, 'utterance', 'm');
`

// Store is a SQLite-backed graph store. Prepared statements are created once
// and cached for the life of the store.
type Store struct {
	db     *sql.DB
	logger *zap.Logger

	mu    sync.Mutex
	stmts map[string]*sql.Stmt
}

var _ store.GraphStore = (*Store)(nil)

// Open opens (or creates) the annotation graph database at path.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open graph database: %w", err)
	}
	s := &Store{db: db, logger: logger, stmts: make(map[string]*sql.Stmt)}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// DB exposes the underlying handle for data loading and tests.
func (s *Store) DB() *sql.DB { return s.db }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping graph database: %w", err)
	}
	return nil
}

// Close closes cached statements and the database handle, tolerating
// repeated calls.
func (s *Store) Close() error {
	s.mu.Lock()
	for _, st := range s.stmts {
		_ = st.Close()
	}
	s.stmts = make(map[string]*sql.Stmt)
	s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil && !errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("close graph database: %w", err)
	}
	return nil
}

// stmt returns a cached prepared statement for query, preparing it on first
// use.
func (s *Store) stmt(ctx context.Context, query string) (*sql.Stmt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.stmts[query]; ok {
		return st, nil
	}
	if s.db == nil {
		return nil, sql.ErrConnDone
	}
	st, err := s.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("prepare statement: %w", err)
	}
	s.stmts[query] = st
	return st, nil
}

// SpeakerNumberForWord returns the label of the turn owning the word,
// interpreted as the participant speaker number.
func (s *Store) SpeakerNumberForWord(ctx context.Context, wordID int64) (int64, error) {
	st, err := s.stmt(ctx, `
		SELECT t.label FROM annotation w
		JOIN annotation t ON t.annotation_id = w.turn_annotation_id
		WHERE w.annotation_id = ?`)
	if err != nil {
		return 0, err
	}
	var label string
	if err := st.QueryRowContext(ctx, wordID).Scan(&label); err != nil {
		return 0, fmt.Errorf("speaker for word %d: %w", wordID, err)
	}
	speaker, err := strconv.ParseInt(label, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("turn label %q is not a speaker number: %w", label, err)
	}
	return speaker, nil
}

// UtteranceForWord returns the utterance owning the word and its anchors.
func (s *Store) UtteranceForWord(ctx context.Context, wordID int64) (int64, int64, int64, error) {
	st, err := s.stmt(ctx, `
		SELECT u.annotation_id, u.start_anchor_id, u.end_anchor_id FROM annotation w
		JOIN annotation u ON u.annotation_id = w.utterance_annotation_id
		WHERE w.annotation_id = ?`)
	if err != nil {
		return 0, 0, 0, err
	}
	var uttID int64
	var start, end sql.NullInt64
	if err := st.QueryRowContext(ctx, wordID).Scan(&uttID, &start, &end); err != nil {
		return 0, 0, 0, fmt.Errorf("utterance for word %d: %w", wordID, err)
	}
	return uttID, start.Int64, end.Int64, nil
}

// GraphIDForTranscript resolves a transcript name to its graph id.
func (s *Store) GraphIDForTranscript(ctx context.Context, name string) (int64, error) {
	st, err := s.stmt(ctx, `SELECT ag_id FROM transcript WHERE name = ?`)
	if err != nil {
		return 0, err
	}
	var agID int64
	if err := st.QueryRowContext(ctx, name).Scan(&agID); err != nil {
		return 0, fmt.Errorf("transcript %q: %w", name, err)
	}
	return agID, nil
}

// GraphIDForWord returns the graph id of the transcript containing the word.
func (s *Store) GraphIDForWord(ctx context.Context, wordID int64) (int64, error) {
	st, err := s.stmt(ctx, `SELECT ag_id FROM annotation WHERE annotation_id = ?`)
	if err != nil {
		return 0, err
	}
	var agID int64
	if err := st.QueryRowContext(ctx, wordID).Scan(&agID); err != nil {
		return 0, fmt.Errorf("graph for word %d: %w", wordID, err)
	}
	return agID, nil
}

// WordForTarget returns the first word annotation a non-word target is tagged
// to: the tagged word for sub-word and word-tag targets, the first word in
// the span for utterance and turn targets.
func (s *Store) WordForTarget(ctx context.Context, _ string, _, targetID int64) (int64, error) {
	st, err := s.stmt(ctx, `
		SELECT COALESCE(
			(SELECT word_annotation_id FROM annotation
				WHERE annotation_id = ?1 AND word_annotation_id IS NOT NULL),
			(SELECT annotation_id FROM annotation
				WHERE utterance_annotation_id = ?1 AND layer_id = 0 ORDER BY ordinal LIMIT 1),
			(SELECT annotation_id FROM annotation
				WHERE turn_annotation_id = ?1 AND layer_id = 0 ORDER BY ordinal LIMIT 1)
		)`)
	if err != nil {
		return 0, err
	}
	var wordID sql.NullInt64
	if err := st.QueryRowContext(ctx, targetID).Scan(&wordID); err != nil {
		return 0, fmt.Errorf("word for target %d: %w", targetID, err)
	}
	if !wordID.Valid {
		return 0, fmt.Errorf("no word found for target %d", targetID)
	}
	return wordID.Int64, nil
}
