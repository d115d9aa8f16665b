package results

import (
	"errors"
	"testing"

	"github.com/corpex-io/corpex/internal/domain"
)

func TestArrayResultsIteration(t *testing.T) {
	r := NewArrayResults([]string{"a", "b", "c"})
	if r.Size() != 3 {
		t.Errorf("Size() = %d, want 3", r.Size())
	}
	var got []string
	for r.HasNext() {
		id, err := r.Next()
		if err != nil {
			t.Fatalf("Next() error: %v", err)
		}
		got = append(got, id)
	}
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("iteration = %v", got)
	}
	if _, err := r.Next(); !errors.Is(err, domain.ErrNoSuchElement) {
		t.Errorf("Next() past end = %v, want ErrNoSuchElement", err)
	}
}

func TestArrayResultsSeek(t *testing.T) {
	r := NewArrayResults([]string{"a", "b", "c"})
	if !r.Seek(2) {
		t.Fatal("Seek(2) = false")
	}
	id, err := r.Next()
	if err != nil || id != "b" {
		t.Errorf("Next() after Seek(2) = %q, %v", id, err)
	}
	if r.Seek(4) {
		t.Error("Seek(4) past end should report false")
	}
}

func TestArrayResultsReset(t *testing.T) {
	r := NewArrayResults([]string{"a", "b"})
	_, _ = r.Next()
	_, _ = r.Next()
	if err := r.Reset(); err != nil {
		t.Fatalf("Reset() error: %v", err)
	}
	id, err := r.Next()
	if err != nil || id != "a" {
		t.Errorf("Next() after Reset = %q, %v", id, err)
	}
}

func TestArrayResultsPageLength(t *testing.T) {
	r := NewArrayResults([]string{"a", "b", "c"})
	r.SetPageLength(1)
	var got []string
	for r.HasNext() {
		id, err := r.Next()
		if err != nil {
			t.Fatalf("Next() error: %v", err)
		}
		got = append(got, id)
	}
	if len(got) != 1 || got[0] != "a" {
		t.Errorf("page = %v, want [a]", got)
	}
	if r.HasNext() {
		t.Error("HasNext() should be false until Reset")
	}
	if err := r.Reset(); err != nil {
		t.Fatal(err)
	}
	if !r.HasNext() {
		t.Error("HasNext() should be true after Reset")
	}
}

func TestArrayResultsEmpty(t *testing.T) {
	r := NewArrayResults(nil)
	if r.Size() != 0 || r.HasNext() {
		t.Errorf("empty results: size=%d hasNext=%v", r.Size(), r.HasNext())
	}
}
