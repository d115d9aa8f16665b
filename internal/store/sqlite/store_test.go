package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/corpex-io/corpex/internal/domain/matrix"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "graphs.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// seedCorpus loads one transcript: speaker 3 saying "the cat sat" in one
// utterance, with a phonemes tag and segments on "cat".
func seedCorpus(t *testing.T, s *Store) {
	t.Helper()
	exec := func(query string, args ...any) {
		t.Helper()
		if _, err := s.DB().Exec(query, args...); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	exec(`INSERT INTO transcript (ag_id, name) VALUES (5, 'demo.trs')`)
	exec(`INSERT INTO layer (layer_id, name, scope) VALUES (20, 'phonemes', 'w')`)
	// turn 900 (speaker 3), utterance 910 with anchors 70..80
	exec(`INSERT INTO annotation (annotation_id, ag_id, layer_id, label) VALUES (900, 5, ?, '3')`, TurnLayerID)
	exec(`INSERT INTO annotation (annotation_id, ag_id, layer_id, label, turn_annotation_id, start_anchor_id, end_anchor_id)
		VALUES (910, 5, ?, '', 900, 70, 80)`, UtteranceLayerID)
	words := []struct {
		id    int64
		label string
		ord   int
	}{{1001, "the", 1}, {1002, "cat", 2}, {1003, "sat", 3}}
	for _, w := range words {
		exec(`INSERT INTO annotation (annotation_id, ag_id, layer_id, label, turn_annotation_id, utterance_annotation_id, ordinal)
			VALUES (?, 5, ?, ?, 900, 910, ?)`, w.id, WordLayerID, w.label, w.ord)
	}
	exec(`INSERT INTO annotation (annotation_id, ag_id, layer_id, label, word_annotation_id) VALUES (2001, 5, 20, 'k{t', 1002)`)
	segs := []struct {
		id    int64
		label string
		ord   int
	}{{3001, "k", 1}, {3002, "{", 2}, {3003, "t", 3}}
	for _, seg := range segs {
		exec(`INSERT INTO annotation (annotation_id, ag_id, layer_id, label, word_annotation_id, ordinal)
			VALUES (?, 5, ?, ?, 1002, ?)`, seg.id, SegmentLayerID, seg.label, seg.ord)
	}
}

func TestStoreEnricherQueries(t *testing.T) {
	s := openTestStore(t)
	seedCorpus(t, s)
	ctx := context.Background()

	if speaker, err := s.SpeakerNumberForWord(ctx, 1002); err != nil || speaker != 3 {
		t.Errorf("SpeakerNumberForWord = %d, %v", speaker, err)
	}
	utt, start, end, err := s.UtteranceForWord(ctx, 1002)
	if err != nil || utt != 910 || start != 70 || end != 80 {
		t.Errorf("UtteranceForWord = %d, %d, %d, %v", utt, start, end, err)
	}
	if agID, err := s.GraphIDForTranscript(ctx, "demo.trs"); err != nil || agID != 5 {
		t.Errorf("GraphIDForTranscript = %d, %v", agID, err)
	}
	if _, err := s.GraphIDForTranscript(ctx, "missing.trs"); err == nil {
		t.Error("GraphIDForTranscript should fail for unknown name")
	}
	if agID, err := s.GraphIDForWord(ctx, 1001); err != nil || agID != 5 {
		t.Errorf("GraphIDForWord = %d, %v", agID, err)
	}

	// word-tag target resolves to its word, utterance target to its first word
	if wordID, err := s.WordForTarget(ctx, "w", 20, 2001); err != nil || wordID != 1002 {
		t.Errorf("WordForTarget(tag) = %d, %v", wordID, err)
	}
	if wordID, err := s.WordForTarget(ctx, "m", UtteranceLayerID, 910); err != nil || wordID != 1001 {
		t.Errorf("WordForTarget(utterance) = %d, %v", wordID, err)
	}
	if _, err := s.WordForTarget(ctx, "w", 20, 99999); err == nil {
		t.Error("WordForTarget should fail for unknown target")
	}
}

func TestStoreSearch(t *testing.T) {
	s := openTestStore(t)
	seedCorpus(t, s)

	doc := []byte(`{"columns":[
		{"layers":{"orthography":{"id":"orthography","pattern":"the"}},"adj":1},
		{"layers":{"orthography":{"id":"orthography","pattern":"cat"}},"adj":1}
	]}`)
	m, err := matrix.FromJSON(doc)
	if err != nil {
		t.Fatal(err)
	}

	var lastPercent int
	ids, err := s.Search(context.Background(), m, func(p int) { lastPercent = p })
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("ids = %v, want 1 match", ids)
	}
	want := "g_5;em_12_910;n_70-n_80;p_3;#=ew_0_1001;[0]=ew_0_1001"
	if ids[0] != want {
		t.Errorf("match = %q, want %q", ids[0], want)
	}
	if lastPercent != 100 {
		t.Errorf("final progress = %d, want 100", lastPercent)
	}
}

func TestStoreSearchCancelled(t *testing.T) {
	s := openTestStore(t)
	seedCorpus(t, s)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m, err := matrix.FromJSON([]byte(`{"columns":[{"layers":{"orthography":{"pattern":"the"}}}]}`))
	if err != nil {
		t.Fatal(err)
	}
	ids, err := s.Search(ctx, m, nil)
	if err != nil {
		t.Fatalf("Search after cancel should return partial results, got %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("ids = %v, want none", ids)
	}
}

func TestStoreCloseIdempotent(t *testing.T) {
	s := openTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.stmt(context.Background(), `SELECT 1`); err != sql.ErrConnDone {
		t.Errorf("stmt after close = %v, want sql.ErrConnDone", err)
	}
}
