package results

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// --- Mocks ---

type mockEnricher struct {
	speakers    map[int64]int64
	utterances  map[int64][3]int64 // wordID -> utterance, startAnchor, endAnchor
	graphs      map[int64]int64    // wordID -> agID
	names       map[string]int64
	words       map[int64]int64 // targetID -> wordID
	nameLookups int
	closed      bool
}

func (m *mockEnricher) SpeakerNumberForWord(_ context.Context, wordID int64) (int64, error) {
	if s, ok := m.speakers[wordID]; ok {
		return s, nil
	}
	return 0, fmt.Errorf("no speaker for word %d", wordID)
}

func (m *mockEnricher) UtteranceForWord(_ context.Context, wordID int64) (int64, int64, int64, error) {
	if u, ok := m.utterances[wordID]; ok {
		return u[0], u[1], u[2], nil
	}
	return 0, 0, 0, fmt.Errorf("no utterance for word %d", wordID)
}

func (m *mockEnricher) GraphIDForTranscript(_ context.Context, name string) (int64, error) {
	m.nameLookups++
	if g, ok := m.names[name]; ok {
		return g, nil
	}
	return 0, fmt.Errorf("no transcript %q", name)
}

func (m *mockEnricher) GraphIDForWord(_ context.Context, wordID int64) (int64, error) {
	if g, ok := m.graphs[wordID]; ok {
		return g, nil
	}
	return 0, fmt.Errorf("no graph for word %d", wordID)
}

func (m *mockEnricher) WordForTarget(_ context.Context, _ string, _, targetID int64) (int64, error) {
	if w, ok := m.words[targetID]; ok {
		return w, nil
	}
	return 0, fmt.Errorf("no word for target %d", targetID)
}

func (m *mockEnricher) Close() error {
	m.closed = true
	return nil
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "results.csv")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// --- Tests ---

func TestCsvResultsCanonicalPassThrough(t *testing.T) {
	ids := []string{
		"g_1;em_12_10;n_100-n_110;p_1;#=ew_0_50;[0]=ew_0_50",
		"g_1;em_12_11;n_120-n_130;p_2;#=ew_0_60;[0]=ew_0_60",
	}
	path := writeCSV(t, "Transcript,MatchId\nt1.trs,"+ids[0]+"\nt1.trs,"+ids[1]+"\n")

	// nil enricher proves pattern branch 1 needs no database access
	r := NewCsvResults(path, "", nil, nil)
	defer r.Close()

	if r.Size() != 2 {
		t.Errorf("Size() = %d, want 2", r.Size())
	}
	for i := 0; r.HasNext(); i++ {
		got, err := r.Next()
		if err != nil {
			t.Fatalf("Next() error: %v", err)
		}
		if got != ids[i] {
			t.Errorf("row %d = %q, want %q", i, got, ids[i])
		}
	}
}

func TestCsvResultsBareUIDs(t *testing.T) {
	enrich := &mockEnricher{
		speakers:   map[int64]int64{16783: 7},
		utterances: map[int64][3]int64{16783: {900, 1000, 1010}},
		graphs:     map[int64]int64{16783: 42},
	}
	path := writeCSV(t, "Transcript,MatchId\nt1.trs,ew_0_16783\n")

	r := NewCsvResults(path, "MatchId", enrich, nil)
	defer r.Close()

	got, err := r.Next()
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	want := "g_42;em_12_900;n_1000-n_1010;p_7;#=ew_0_16783;prefix=1-;[0]=ew_0_16783"
	if got != want {
		t.Errorf("Next() = %q, want %q", got, want)
	}
	if rec := r.LastRecord(); len(rec) != 2 || rec[0] != "t1.trs" || rec[1] != "ew_0_16783" {
		t.Errorf("LastRecord() = %v", rec)
	}
	if cols := r.Columns(); len(cols) != 2 || cols[1] != "MatchId" {
		t.Errorf("Columns() = %v", cols)
	}
}

func TestCsvResultsEnrichmentFailureDegrades(t *testing.T) {
	// No data behind the enricher at all; fields stay zero, no error.
	path := writeCSV(t, "MatchId\new_0_5\n")
	r := NewCsvResults(path, "MatchId", &mockEnricher{}, nil)
	defer r.Close()

	got, err := r.Next()
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	if !strings.Contains(got, "[0]=ew_0_5") || !strings.HasPrefix(got, "g_0;") {
		t.Errorf("degraded identifier = %q", got)
	}
}

func TestCsvResultsNameURLCaching(t *testing.T) {
	enrich := &mockEnricher{
		names:      map[string]int64{"t1.trs": 9},
		speakers:   map[int64]int64{1: 1, 2: 1},
		utterances: map[int64][3]int64{1: {10, 1, 2}, 2: {11, 3, 4}},
		graphs:     map[int64]int64{1: 9, 2: 9},
	}
	content := "MatchId\n" +
		"https://host.example.org/corpex/transcript?transcript=t1.trs#ew_0_1\n" +
		"https://host.example.org/corpex/transcript?transcript=t1.trs#ew_0_2\n"
	r := NewCsvResults(writeCSV(t, content), "", enrich, nil)
	defer r.Close()

	for r.HasNext() {
		got, err := r.Next()
		if err != nil {
			t.Fatalf("Next() error: %v", err)
		}
		if !strings.HasPrefix(got, "g_9;") {
			t.Errorf("identifier = %q, want graph 9", got)
		}
	}
	if enrich.nameLookups != 1 {
		t.Errorf("name lookups = %d, want 1 (cached)", enrich.nameLookups)
	}
}

func TestCsvResultsGraphURL(t *testing.T) {
	enrich := &mockEnricher{
		words:      map[int64]int64{500: 50},
		speakers:   map[int64]int64{50: 3},
		utterances: map[int64][3]int64{50: {500, 70, 80}},
	}
	content := "MatchId\nhttps://host.example.org/corpex/transcript?ag_id=4#em_12_500\n"
	r := NewCsvResults(writeCSV(t, content), "", enrich, nil)
	defer r.Close()

	got, err := r.Next()
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	want := "g_4;em_12_500;n_70-n_80;p_3;#=em_12_500;prefix=1-;[0]=ew_0_50"
	if got != want {
		t.Errorf("Next() = %q, want %q", got, want)
	}
}

func TestCsvResultsUnknownFormatPassesThrough(t *testing.T) {
	path := writeCSV(t, "Word,MatchId\nhello,not-an-identifier\nworld,also plain\n")
	r := NewCsvResults(path, "", &mockEnricher{}, nil)
	defer r.Close()

	got, err := r.Next()
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	if got != "not-an-identifier" {
		t.Errorf("Next() = %q, want raw value", got)
	}
}

func TestCsvResultsDelimiterInference(t *testing.T) {
	for _, tt := range []struct {
		name    string
		content string
	}{
		{"semicolon", "Word;MatchId\nhello;x1\n"},
		{"tab", "Word\tMatchId\nhello\tx1\n"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			r := NewCsvResults(writeCSV(t, tt.content), "", nil, nil)
			defer r.Close()
			got, err := r.Next()
			if err != nil || got != "x1" {
				t.Errorf("Next() = %q, %v", got, err)
			}
		})
	}
}

func TestCsvResultsSeekAndReset(t *testing.T) {
	path := writeCSV(t, "MatchId\nr1\nr2\nr3\n")
	r := NewCsvResults(path, "", nil, nil)
	defer r.Close()

	if !r.Seek(2) {
		t.Fatal("Seek(2) = false")
	}
	if got, _ := r.Next(); got != "r2" {
		t.Errorf("after Seek(2): %q", got)
	}
	// seeking backwards forces a reset and re-skip
	if !r.Seek(1) {
		t.Fatal("Seek(1) = false")
	}
	if got, _ := r.Next(); got != "r1" {
		t.Errorf("after Seek(1): %q", got)
	}
	if err := r.Reset(); err != nil {
		t.Fatal(err)
	}
	if got, _ := r.Next(); got != "r1" {
		t.Errorf("after Reset: %q", got)
	}
}

func TestCsvResultsPageLength(t *testing.T) {
	path := writeCSV(t, "MatchId\nr1\nr2\nr3\n")
	r := NewCsvResults(path, "", nil, nil)
	defer r.Close()
	r.SetPageLength(2)

	var got []string
	for r.HasNext() {
		id, err := r.Next()
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, id)
	}
	if len(got) != 2 {
		t.Errorf("page = %v, want 2 items", got)
	}
}

func TestCsvResultsMissingFile(t *testing.T) {
	r := NewCsvResults(filepath.Join(t.TempDir(), "nope.csv"), "", nil, nil)
	if err := r.Reset(); err == nil {
		t.Error("Reset() on missing file should fail")
	}
	if r.HasNext() {
		t.Error("HasNext() on missing file should be false")
	}
	if _, err := r.Next(); err == nil {
		t.Error("Next() on missing file should fail")
	}
}

func TestCsvResultsCloseClosesEnricher(t *testing.T) {
	enrich := &mockEnricher{}
	path := writeCSV(t, "MatchId\new_0_1\n")
	r := NewCsvResults(path, "", enrich, nil)
	if _, err := r.Next(); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if !enrich.closed {
		t.Error("Close() should close the owned enricher")
	}
	// idempotent
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
}
