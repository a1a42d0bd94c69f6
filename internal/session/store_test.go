package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/support-desk/internal/domain"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeNow struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeNow) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeNow) Add(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func newTestStore(t *testing.T) (*Memory, *fakeNow) {
	t.Helper()
	clk := &fakeNow{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	return NewMemory(time.Hour, WithClock(clk.Now), WithNamePicker(func() string { return "Tyler" })), clk
}

func TestCreateGeneratesAndReusesIDs(t *testing.T) {
	store, _ := newTestStore(t)

	generated := store.Create("")
	if generated.ID == "" {
		t.Fatal("expected generated id")
	}
	if generated.Stage != domain.StagePre || len(generated.SolvedPuzzles) != 0 {
		t.Fatalf("unexpected fresh session: %+v", generated)
	}
	if generated.AgentName != "Tyler" {
		t.Fatalf("unexpected agent name %q", generated.AgentName)
	}

	reused := store.Create("client-supplied")
	if reused.ID != "client-supplied" {
		t.Fatalf("expected supplied id to be reused, got %q", reused.ID)
	}
	if _, ok := store.Get("client-supplied"); !ok {
		t.Fatal("reused id not retrievable")
	}
}

func TestGetRefreshesActivity(t *testing.T) {
	store, clk := newTestStore(t)
	s := store.Create("a")

	clk.Add(10 * time.Minute)
	got, ok := store.Get("a")
	if !ok {
		t.Fatal("session missing")
	}
	if !got.LastActivityAt.After(s.LastActivityAt) {
		t.Fatal("Get did not refresh lastActivityAt")
	}

	if _, ok := store.Get("missing"); ok {
		t.Fatal("expected not-found for unknown id")
	}
}

func TestResolveRecreatesUnknownID(t *testing.T) {
	store, _ := newTestStore(t)

	s, recreated := store.Resolve("lost-session")
	if !recreated || s.ID != "lost-session" {
		t.Fatalf("expected recreation under supplied id, got %+v recreated=%v", s, recreated)
	}
	if _, recreated := store.Resolve("lost-session"); recreated {
		t.Fatal("second resolve should find the existing session")
	}
}

func TestFlagsAreIdempotentAndAbsentSafe(t *testing.T) {
	store, _ := newTestStore(t)
	store.Create("a")

	store.MarkLinkShown("a")
	store.MarkLinkShown("a")
	store.MarkPuzzleOpened("a")
	store.MarkLinkShown("ghost")
	store.MarkPuzzleOpened("ghost")

	s, _ := store.Get("a")
	if !s.HelpLinkRevealed || !s.PuzzlePanelOpened {
		t.Fatalf("flags not set: %+v", s)
	}
	if store.Len() != 1 {
		t.Fatalf("flag setters must not create sessions, len=%d", store.Len())
	}
}

func TestRecordPuzzleResultAdvancesStage(t *testing.T) {
	store, clk := newTestStore(t)
	store.Create("a")

	order := []domain.Category{domain.CategoryHands, domain.CategoryFboy, domain.CategoryCute}
	want := []domain.Stage{domain.StagePuzzle1, domain.StagePuzzle2, domain.StageCompleted}
	prev := domain.StagePre
	for i, cat := range order {
		clk.Add(time.Second)
		s, ok := store.RecordPuzzleResult("a", cat, true, clk.Now())
		if !ok {
			t.Fatal("session missing")
		}
		if s.Stage != want[i] {
			t.Fatalf("after %d solves stage = %s, want %s", i+1, s.Stage, want[i])
		}
		if s.Stage.Rank() < prev.Rank() {
			t.Fatalf("stage regressed from %s to %s", prev, s.Stage)
		}
		if s.Stage != domain.StageFor(len(s.SolvedPuzzles)) {
			t.Fatalf("stage %s inconsistent with %d solved", s.Stage, len(s.SolvedPuzzles))
		}
		prev = s.Stage
	}

	s, _ := store.RecordPuzzleResult("a", domain.CategoryHands, true, clk.Now())
	if len(s.SolvedPuzzles) != domain.TotalPuzzles {
		t.Fatalf("solved puzzles exceeded cap: %v", s.SolvedPuzzles)
	}
	if diff := cmp.Diff(order, s.SolvedPuzzles); diff != "" {
		t.Fatalf("solved order mismatch (-want +got):\n%s", diff)
	}
}

func TestFailedSubmissionsOnlyTouchActivity(t *testing.T) {
	store, clk := newTestStore(t)
	store.Create("a")

	last := time.Time{}
	for i := 0; i < 4; i++ {
		clk.Add(time.Second)
		s, ok := store.RecordPuzzleResult("a", domain.CategoryHands, false, clk.Now())
		if !ok {
			t.Fatal("session missing")
		}
		if len(s.SolvedPuzzles) != 0 || s.Stage != domain.StagePre {
			t.Fatalf("failed submission changed progress: %+v", s)
		}
		if !s.LastActivityAt.After(last) {
			t.Fatalf("lastActivityAt did not advance on attempt %d", i+1)
		}
		last = s.LastActivityAt
	}
}

func TestRecordPuzzleResultUnknownSession(t *testing.T) {
	store, _ := newTestStore(t)
	if _, ok := store.RecordPuzzleResult("nope", domain.CategoryHands, true, time.Now()); ok {
		t.Fatal("expected not-found")
	}
	if store.Len() != 0 {
		t.Fatal("update must not create sessions")
	}
}

func TestIssuePuzzleClearedOnSolve(t *testing.T) {
	store, _ := newTestStore(t)
	store.Create("a")

	s, ok := store.IssuePuzzle("a", &domain.PuzzleInstance{ID: "i1", Category: domain.CategoryHands, CorrectIndex: 2})
	if !ok || s.ActivePuzzle == nil || s.ActivePuzzle.CorrectIndex != 2 {
		t.Fatalf("active puzzle not recorded: %+v", s.ActivePuzzle)
	}
	s, _ = store.RecordPuzzleResult("a", domain.CategoryHands, true, time.Time{})
	if s.ActivePuzzle != nil {
		t.Fatal("active puzzle should clear after a correct answer")
	}
}

func TestSweepEvictsIdleSessions(t *testing.T) {
	store, clk := newTestStore(t)
	store.Create("old")
	clk.Add(50 * time.Minute)
	store.Create("fresh")
	clk.Add(15 * time.Minute)

	evicted := store.Sweep(clk.Now())
	if len(evicted) != 1 || evicted[0].ID != "old" {
		t.Fatalf("unexpected eviction set: %+v", evicted)
	}
	if !evicted[0].Abandoned {
		t.Fatal("incomplete evicted session should be flagged abandoned")
	}
	if _, ok := store.Get("fresh"); !ok {
		t.Fatal("fresh session evicted")
	}
}

func TestSweeperStopsWithContext(t *testing.T) {
	store, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := StartSweeper(ctx, store, time.Millisecond, nil)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestSweepOnceInvokesCallback(t *testing.T) {
	store, clk := newTestStore(t)
	store.Create("a")
	clk.Add(2 * time.Hour)

	var got []string
	n := sweepOnce(store, clk.Now(), func(s domain.Session) { got = append(got, s.ID) })
	if n != 1 || len(got) != 1 || got[0] != "a" {
		t.Fatalf("callback not invoked for evicted session: n=%d got=%v", n, got)
	}
}

func TestConcurrentAccess(t *testing.T) {
	store := NewMemory(time.Hour)
	store.Create("shared")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				store.Get("shared")
				store.MarkLinkShown("shared")
				store.RecordPuzzleResult("shared", domain.CategoryHands, j%2 == 0, time.Time{})
			}
		}()
	}
	wg.Wait()

	s, _ := store.Get("shared")
	if len(s.SolvedPuzzles) != domain.TotalPuzzles {
		t.Fatalf("expected cap of %d solves, got %d", domain.TotalPuzzles, len(s.SolvedPuzzles))
	}
}
