package task

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/corpex-io/corpex/internal/domain/matrix"
	"github.com/corpex-io/corpex/internal/results"
)

type searchFunc func(ctx context.Context, t *SearchTask) (results.SearchResults, error)

func (f searchFunc) Search(ctx context.Context, t *SearchTask) (results.SearchResults, error) {
	return f(ctx, t)
}

func condMatrix(pattern string) *matrix.Matrix {
	lm := (&matrix.LayerMatch{ID: "orthography", Pattern: &pattern}).SetNullBooleans()
	return &matrix.Matrix{Columns: []*matrix.Column{matrix.NewColumn(1).AddLayer("orthography", lm)}}
}

func quickTask(m *matrix.Matrix, s Searcher, opts ...SearchOption) *SearchTask {
	st := NewSearchTask(m, s, nil, nil, opts...)
	st.SetIdleTimeout(10 * time.Millisecond)
	return st
}

func TestSearchTaskValidation(t *testing.T) {
	called := false
	recordCall := searchFunc(func(context.Context, *SearchTask) (results.SearchResults, error) {
		called = true
		return results.NewArrayResults(nil), nil
	})

	for _, tt := range []struct {
		name string
		m    *matrix.Matrix
		want string
	}{
		{"nil matrix", nil, "Search matrix was not specified"},
		{"no columns", &matrix.Matrix{}, "Search matrix was not specified"},
		{
			"all wildcards",
			&matrix.Matrix{Columns: []*matrix.Column{
				matrix.NewColumn(1).AddLayer("orthography", (&matrix.LayerMatch{ID: "orthography"}).SetNullBooleans()),
			}},
			"Search matrix has no conditions",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			called = false
			st := quickTask(tt.m, recordCall)
			st.Run()
			if st.Status() != tt.want {
				t.Errorf("status = %q, want %q", st.Status(), tt.want)
			}
			if called {
				t.Error("validation failure must short-circuit before search")
			}
			if st.Results() != nil {
				t.Error("no results expected after validation failure")
			}
		})
	}
}

func TestSearchTaskFoundResults(t *testing.T) {
	found := searchFunc(func(context.Context, *SearchTask) (results.SearchResults, error) {
		return results.NewArrayResults([]string{"m1", "m2", "m3"}), nil
	})
	st := quickTask(condMatrix("the"), found, WithBaseURL("http://host.example.org"))
	st.setID(7)
	st.Run()

	if st.Status() != "Found 3 results" {
		t.Errorf("status = %q", st.Status())
	}
	if !strings.HasSuffix(st.ResultURL(), fmt.Sprintf("%d", st.ID())) {
		t.Errorf("resultURL %q should end in the task id", st.ResultURL())
	}
	if st.Percent() != 100 {
		t.Errorf("percent = %d, want 100", st.Percent())
	}
}

func TestSearchTaskEmptyResults(t *testing.T) {
	empty := searchFunc(func(context.Context, *SearchTask) (results.SearchResults, error) {
		return results.NewArrayResults(nil), nil
	})
	st := quickTask(condMatrix("the"), empty)
	st.Run()

	if st.Status() != "Found 0 results" {
		t.Errorf("status = %q", st.Status())
	}
	if st.ResultURL() != "" {
		t.Errorf("resultURL = %q, want none for zero results", st.ResultURL())
	}
}

func TestSearchTaskNilResults(t *testing.T) {
	none := searchFunc(func(context.Context, *SearchTask) (results.SearchResults, error) {
		return nil, nil
	})
	st := quickTask(condMatrix("the"), none)
	st.Run()
	if st.Status() != "No results are available" {
		t.Errorf("status = %q", st.Status())
	}
}

func TestSearchTaskErrorCaptured(t *testing.T) {
	boom := errors.New("store exploded")
	failing := searchFunc(func(context.Context, *SearchTask) (results.SearchResults, error) {
		return nil, boom
	})
	st := quickTask(condMatrix("the"), failing)
	st.Run()

	if !errors.Is(st.LastError(), boom) {
		t.Errorf("LastError() = %v", st.LastError())
	}
	if st.Status() != "store exploded" {
		t.Errorf("status = %q, want the message text", st.Status())
	}
	if st.Running() {
		t.Error("task should have ended despite the error")
	}
}

func TestSearchTaskPanicRecovered(t *testing.T) {
	panicking := searchFunc(func(context.Context, *SearchTask) (results.SearchResults, error) {
		panic("unexpected")
	})
	st := quickTask(condMatrix("the"), panicking)
	st.Run()
	if st.LastError() == nil {
		t.Error("panic should be captured as the last error")
	}
	if st.Running() {
		t.Error("task should have ended despite the panic")
	}
}

func TestSearchTaskCancelledSuffix(t *testing.T) {
	cancellable := searchFunc(func(ctx context.Context, _ *SearchTask) (results.SearchResults, error) {
		<-ctx.Done()
		return results.NewArrayResults([]string{"partial"}), nil
	})
	st := quickTask(condMatrix("the"), cancellable)
	done := make(chan struct{})
	go func() {
		st.Run()
		close(done)
	}()
	eventually(t, st.Running, "task never started running")
	st.Cancel()
	<-done

	if !strings.HasSuffix(st.Status(), " - cancelled.") {
		t.Errorf("status = %q, want cancelled suffix", st.Status())
	}
	if !strings.HasPrefix(st.Status(), "Found 1 results") {
		t.Errorf("status = %q, want partial result summary first", st.Status())
	}
}

func TestSearchTaskClosesResults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matches.csv")
	if err := os.WriteFile(path, []byte("MatchId\nm1\nm2\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	st := NewParseResultsFile(path, "", nil, nil)
	st.SetIdleTimeout(time.Second)
	done := make(chan struct{})
	go func() {
		st.Run()
		close(done)
	}()
	eventually(t, func() bool { return st.Status() == "Found 2 results" }, "parse never finished")

	// the run closed the results already; a late collector reopens on demand
	var got string
	err := st.WithResults(func(res results.SearchResults) error {
		var e error
		got, e = res.Next()
		return e
	})
	if err != nil || got != "m1" {
		t.Errorf("Next() after run = %q, %v", got, err)
	}
	st.Release()
	<-done
}

func TestParseResultsFileRemovedAfterDeath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "upload.csv")
	if err := os.WriteFile(path, []byte("MatchId\nm1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	st := NewParseResultsFile(path, "", nil, nil)
	st.SetIdleTimeout(10 * time.Millisecond)
	st.Run()

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("spooled file should be gone once the task dies, stat err = %v", err)
	}
}

func TestParseResultsFileMissing(t *testing.T) {
	st := NewParseResultsFile(filepath.Join(t.TempDir(), "nope.csv"), "", nil, nil)
	st.SetIdleTimeout(10 * time.Millisecond)
	st.Run()
	if st.LastError() == nil {
		t.Error("missing file should be captured as an error")
	}
	if st.Results() != nil {
		t.Error("no results expected for a missing file")
	}
}
