package task

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/corpex-io/corpex/internal/domain/matrix"
	"github.com/corpex-io/corpex/internal/store"
)

// --- Mocks ---

type mockStore struct {
	closed bool
}

func (m *mockStore) Search(context.Context, *matrix.Matrix, func(int)) ([]string, error) {
	return nil, nil
}
func (m *mockStore) Ping(context.Context) error { return nil }
func (m *mockStore) Close() error               { m.closed = true; return nil }
func (m *mockStore) SpeakerNumberForWord(context.Context, int64) (int64, error) { return 0, nil }
func (m *mockStore) UtteranceForWord(context.Context, int64) (int64, int64, int64, error) {
	return 0, 0, 0, nil
}
func (m *mockStore) GraphIDForTranscript(context.Context, string) (int64, error) { return 0, nil }
func (m *mockStore) GraphIDForWord(context.Context, int64) (int64, error)        { return 0, nil }
func (m *mockStore) WordForTarget(context.Context, string, int64, int64) (int64, error) {
	return 0, nil
}

type mockPool struct {
	st        *mockStore
	checkouts int
	returns   int
}

func (p *mockPool) Checkout(context.Context) (store.GraphStore, error) {
	p.checkouts++
	return p.st, nil
}
func (p *mockPool) Return(store.GraphStore) { p.returns++ }
func (p *mockPool) Close() error            { return nil }

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// --- Tests ---

func TestSetStatusTruncation(t *testing.T) {
	tk := NewTask("truncation", nil, nil)
	tk.SetMaxLogSize(200)
	for i := 0; i < 20; i++ {
		tk.SetStatus("a status line that pads out the log buffer nicely")
	}
	log := tk.Log()
	if len(log) > 260 {
		t.Errorf("log length = %d, want bounded near 200", len(log))
	}
	if !strings.HasPrefix(log, "...\n") {
		t.Errorf("truncated log should start with marker, got %q", log[:10])
	}
	if !strings.Contains(log, "nicely") {
		t.Error("most recent lines should survive truncation")
	}
	if tk.Status() != "a status line that pads out the log buffer nicely" {
		t.Errorf("status = %q", tk.Status())
	}
}

func TestCancelIdempotent(t *testing.T) {
	tk := NewTask("cancel-twice", nil, nil)
	tk.Cancel()
	tk.Cancel()
	if !tk.Cancelling() {
		t.Error("Cancelling() should be true")
	}
	if n := strings.Count(tk.Log(), "Cancelling..."); n != 1 {
		t.Errorf("log has %d Cancelling... lines, want 1", n)
	}
	select {
	case <-tk.Context().Done():
	default:
		t.Error("Cancel should cancel the task context")
	}
}

func TestWaitToDieIdleTimeout(t *testing.T) {
	tk := NewTask("idle", nil, nil)
	tk.SetIdleTimeout(80 * time.Millisecond)
	tk.RunStart()
	tk.RunEnd()

	start := time.Now()
	tk.WaitToDie()
	elapsed := time.Since(start)
	if elapsed < 70*time.Millisecond {
		t.Errorf("WaitToDie returned after %v, before the idle window", elapsed)
	}
	if elapsed > time.Second {
		t.Errorf("WaitToDie took %v, should return promptly after the window", elapsed)
	}
}

func TestWaitToDieExtendedByKeepAlive(t *testing.T) {
	tk := NewTask("kept-alive", nil, nil)
	tk.SetIdleTimeout(80 * time.Millisecond)
	tk.RunStart()
	tk.RunEnd()

	go func() {
		time.Sleep(40 * time.Millisecond)
		tk.KeepAlive()
	}()
	start := time.Now()
	tk.WaitToDie()
	if elapsed := time.Since(start); elapsed < 110*time.Millisecond {
		t.Errorf("WaitToDie returned after %v, keep-alive should have extended it", elapsed)
	}
}

func TestReleaseSkipsWait(t *testing.T) {
	tk := NewTask("released", nil, nil)
	tk.SetIdleTimeout(10 * time.Second)
	tk.RunStart()
	tk.RunEnd()
	tk.Release()

	done := make(chan struct{})
	go func() {
		tk.WaitToDie()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitToDie should return immediately after Release")
	}
}

func TestRunEndReturnsStoreExactlyOnce(t *testing.T) {
	pool := &mockPool{st: &mockStore{}}
	tk := NewTask("pooled", pool, nil)
	tk.RunStart()
	if _, err := tk.Store(context.Background()); err != nil {
		t.Fatal(err)
	}
	// second call reuses the held store
	if _, err := tk.Store(context.Background()); err != nil {
		t.Fatal(err)
	}
	tk.RunEnd()
	tk.RunEnd()
	if pool.checkouts != 1 {
		t.Errorf("checkouts = %d, want 1", pool.checkouts)
	}
	if pool.returns != 1 {
		t.Errorf("returns = %d, want 1", pool.returns)
	}
}

func TestDurationFreezesAtRunEnd(t *testing.T) {
	tk := NewTask("duration", nil, nil)
	tk.RunStart()
	time.Sleep(20 * time.Millisecond)
	live := tk.Duration()
	if live <= 0 {
		t.Error("running duration should be positive")
	}
	tk.RunEnd()
	frozen := tk.Duration()
	time.Sleep(20 * time.Millisecond)
	if tk.Duration() != frozen {
		t.Error("duration should be frozen after RunEnd")
	}
}

func TestPercentClamped(t *testing.T) {
	tk := NewTask("percent", nil, nil)
	tk.SetPercent(-5)
	if tk.Percent() != 0 {
		t.Errorf("Percent() = %d, want 0", tk.Percent())
	}
	tk.SetPercent(150)
	if tk.Percent() != 100 {
		t.Errorf("Percent() = %d, want 100", tk.Percent())
	}
}
