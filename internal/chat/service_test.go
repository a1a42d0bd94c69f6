package chat

import (
	"context"
	"errors"
	"iter"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ashureev/support-desk/internal/counters"
	"github.com/ashureev/support-desk/internal/domain"
	"github.com/ashureev/support-desk/internal/llm"
	"github.com/ashureev/support-desk/internal/narrative"
	"github.com/ashureev/support-desk/internal/puzzle"
	"github.com/ashureev/support-desk/internal/session"
	"github.com/ashureev/support-desk/internal/stream"
)

type recordingProvider struct {
	mu    sync.Mutex
	reqs  []llm.Request
	reply string
	err   error
}

func (p *recordingProvider) Name() string { return "recording" }

func (p *recordingProvider) Stream(_ context.Context, req llm.Request) iter.Seq2[string, error] {
	p.mu.Lock()
	p.reqs = append(p.reqs, req)
	p.mu.Unlock()
	return func(yield func(string, error) bool) {
		for _, tok := range strings.SplitAfter(p.reply, " ") {
			if tok != "" && !yield(tok, nil) {
				return
			}
		}
		if p.err != nil {
			yield("", p.err)
		}
	}
}

func (p *recordingProvider) last() llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reqs[len(p.reqs)-1]
}

type fixture struct {
	svc      *Service
	store    *session.Memory
	provider *recordingProvider
	counters *counters.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	m, err := puzzle.DefaultManifest()
	if err != nil {
		t.Fatalf("DefaultManifest failed: %v", err)
	}
	store := session.NewMemory(time.Hour, session.WithNamePicker(func() string { return "Tyler" }))
	provider := &recordingProvider{reply: "hi there [MULTI] I'm locked out"}
	kv := counters.NewMemory()
	svc, err := New(Options{
		Sessions: store,
		Engine:   puzzle.NewEngine(m, rand.New(rand.NewPCG(3, 4))),
		Provider: provider,
		Counters: counters.NewService(kv),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return &fixture{svc: svc, store: store, provider: provider, counters: kv}
}

func collect(t *testing.T, seq iter.Seq2[stream.Event, error]) ([]stream.Event, error) {
	t.Helper()
	var out []stream.Event
	for ev, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func userMsg(text string) domain.Message {
	return domain.Message{ID: "u", Role: domain.RoleUser, Content: text}
}

func TestBootstrapCreatesAndReuses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	info, err := f.svc.Bootstrap(ctx, "")
	if err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	if info.SessionID == "" || info.AgentName != "Tyler" || info.Stage != domain.StagePre {
		t.Fatalf("unexpected info %+v", info)
	}
	again, _ := f.svc.Bootstrap(ctx, info.SessionID)
	if again.SessionID != info.SessionID || f.store.Len() != 1 {
		t.Fatalf("expected reuse, got %+v with %d sessions", again, f.store.Len())
	}
	lost, _ := f.svc.Bootstrap(ctx, "lost-id")
	if lost.SessionID != "lost-id" || lost.Stage != domain.StagePre {
		t.Fatalf("expected recreation under the same id, got %+v", lost)
	}
}

func TestRespondStreamsMetaChunksAndBoundaries(t *testing.T) {
	f := newFixture(t)
	events, err := collect(t, f.svc.Respond(context.Background(), Request{
		SessionID: "s1",
		Messages:  []domain.Message{userMsg("hello, my order is late")},
	}))
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if events[0].Type != stream.TypeMeta || events[0].Meta.SessionID != "s1" || events[0].Meta.AgentName != "Tyler" {
		t.Fatalf("first event should be meta, got %+v", events[0])
	}

	var a stream.Assembler
	msgs, err := a.Consume(func(yield func(stream.Event, error) bool) {
		for _, ev := range events {
			if !yield(ev, nil) {
				return
			}
		}
	})
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	want := []stream.Message{{Index: 0, Text: "hi there"}, {Index: 1, Text: "I'm locked out"}}
	if diff := cmp.Diff(want, msgs); diff != "" {
		t.Fatalf("messages mismatch (-want +got):\n%s", diff)
	}

	req := f.provider.last()
	if req.Label != "normal" || !strings.Contains(req.System, "YOU ARE AT MESSAGE 1.") {
		t.Fatalf("unexpected request label=%q system:\n%s", req.Label, req.System)
	}
}

func TestRespondRejectsInvalidRequests(t *testing.T) {
	f := newFixture(t)
	bad := []Request{
		{},
		{Messages: []domain.Message{{Role: "system", Content: "x"}}},
		{Messages: []domain.Message{userMsg("x")}, PuzzleEvent: &domain.PuzzleEvent{Type: "exploded"}},
	}
	for i, req := range bad {
		events, err := collect(t, f.svc.Respond(context.Background(), req))
		if !errors.Is(err, ErrInvalidRequest) || len(events) != 0 {
			t.Errorf("case %d: expected ErrInvalidRequest before any event, got %v after %d events", i, err, len(events))
		}
	}
	if len(f.provider.reqs) != 0 {
		t.Fatal("provider must not be called for invalid requests")
	}
}

func TestRespondGenerationFailureIsGeneric(t *testing.T) {
	f := newFixture(t)
	f.provider.reply = ""
	f.provider.err = errors.New("upstream 502: secret detail")

	events, err := collect(t, f.svc.Respond(context.Background(), Request{Messages: []domain.Message{userMsg("hi there")}}))
	if err != nil {
		t.Fatalf("generation failures must not surface as errors: %v", err)
	}
	last := events[len(events)-1]
	if last.Type != stream.TypeError || last.Message != genericFailure {
		t.Fatalf("expected generic error event, got %+v", last)
	}
}

func TestRespondVariants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	nudge := 2

	cases := []struct {
		req   Request
		label string
		want  string
	}{
		{Request{SessionID: "v", Messages: []domain.Message{userMsg(narrative.IntroMarker)}}, "intro", "INTRO SEQUENCE"},
		{Request{SessionID: "v", Messages: []domain.Message{userMsg(narrative.NudgeMarker)}, NudgeIndex: &nudge}, "nudge", "Meltdown"},
		{Request{SessionID: "v", Messages: []domain.Message{userMsg("[puzzle]")}, PuzzleEvent: &domain.PuzzleEvent{Type: domain.PuzzleFailed, Attempts: 2, Ordinal: 1}}, "failed", "second failure"},
	}
	for _, tc := range cases {
		if _, err := collect(t, f.svc.Respond(ctx, tc.req)); err != nil {
			t.Fatalf("Respond failed: %v", err)
		}
		got := f.provider.last()
		if got.Label != tc.label || !strings.Contains(got.System, tc.want) {
			t.Errorf("label %q: expected %q in system prompt, got label %q", tc.label, tc.want, got.Label)
		}
	}
}

func TestPromptCountsSkipMarkers(t *testing.T) {
	f := newFixture(t)
	nudge := 0
	req := Request{
		SessionID: "m",
		Messages: []domain.Message{
			{ID: "a1", Role: domain.RoleAssistant, Content: "Hi! How can I help?"},
			userMsg("my order is late"),
			{ID: "a2", Role: domain.RoleAssistant, Content: "let me check"},
			{ID: "n1", Role: domain.RoleUser, Content: narrative.NudgeMarker},
		},
		NudgeIndex: &nudge,
	}
	if _, err := collect(t, f.svc.Respond(context.Background(), req)); err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	sys := f.provider.last().System
	for _, want := range []string{"- User message count: 1\n", "- Assistant message count: 2\n"} {
		if !strings.Contains(sys, want) {
			t.Errorf("expected %q in system prompt:\n%s", want, sys)
		}
	}
}

func TestOpenedEventMarksSession(t *testing.T) {
	f := newFixture(t)
	_, err := collect(t, f.svc.Respond(context.Background(), Request{
		SessionID:   "o1",
		Messages:    []domain.Message{userMsg("[puzzle]")},
		PuzzleEvent: &domain.PuzzleEvent{Type: domain.PuzzleOpened},
	}))
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	s, _ := f.store.Get("o1")
	if !s.PuzzlePanelOpened {
		t.Fatal("opened event should set puzzlePanelOpened")
	}
	if !strings.Contains(f.provider.last().System, "Puzzle opened: true") {
		t.Fatal("prompt should reflect the opened flag")
	}
}

func TestExpectedStageOverridesPromptOnly(t *testing.T) {
	f := newFixture(t)
	_, err := collect(t, f.svc.Respond(context.Background(), Request{
		SessionID: "e1",
		Messages:  []domain.Message{userMsg("[puzzle]")},
		PuzzleEvent: &domain.PuzzleEvent{
			Type:          domain.PuzzlePassed,
			Attempts:      1,
			Ordinal:       1,
			ExpectedStage: domain.StagePuzzle1,
		},
	}))
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if sys := f.provider.last().System; !strings.Contains(sys, "Current puzzle state: puzzle1") {
		t.Fatalf("prompt should use the expected stage:\n%s", sys)
	}
	if s, _ := f.store.Get("e1"); s.Stage != domain.StagePre {
		t.Fatalf("stored stage must not change, got %s", s.Stage)
	}
}

func TestPromptStageLabelsThirdPuzzle(t *testing.T) {
	sess := domain.Session{
		Stage:        domain.StagePuzzle2,
		ActivePuzzle: &domain.ActivePuzzle{Category: domain.CategoryCute},
	}
	if got := promptStage(sess, nil); got != domain.StagePuzzle3 {
		t.Fatalf("expected puzzle3 label, got %s", got)
	}
	stale := &domain.PuzzleEvent{Type: domain.PuzzlePassed, ExpectedStage: domain.StagePuzzle1}
	if got := promptStage(domain.Session{Stage: domain.StageCompleted}, stale); got != domain.StageCompleted {
		t.Fatalf("expected stage must not regress the prompt, got %s", got)
	}
	final := &domain.PuzzleEvent{Type: domain.PuzzlePassed, Ordinal: 3}
	if got := promptStage(domain.Session{Stage: domain.StagePuzzle2}, final); got != domain.StageCompleted {
		t.Fatalf("third pass without expected stage should read completed, got %s", got)
	}
}

func TestPuzzleFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.NextPuzzle(ctx, ""); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}

	for i, cat := range puzzle.Order {
		view, err := f.svc.NextPuzzle(ctx, "p1")
		if err != nil {
			t.Fatalf("NextPuzzle %d failed: %v", i, err)
		}
		if view.Category != cat || view.Ordinal != i+1 || len(view.Images) != 3 || view.TotalPuzzles != 3 {
			t.Fatalf("unexpected view %+v", view)
		}

		s, _ := f.store.Get("p1")
		wrong := (s.ActivePuzzle.CorrectIndex + 1) % 3
		res, err := f.svc.SubmitPuzzle(ctx, Submission{SessionID: "p1", Category: cat, SelectedIndex: &wrong})
		if err != nil || res.Correct {
			t.Fatalf("wrong index should fail, got %+v, %v", res, err)
		}

		right := s.ActivePuzzle.CorrectIndex
		lie := false
		res, err = f.svc.SubmitPuzzle(ctx, Submission{SessionID: "p1", Category: cat, SelectedIndex: &right, Correct: &lie})
		if err != nil || !res.Correct || res.SolvedPuzzles != i+1 {
			t.Fatalf("server-side scoring should win, got %+v, %v", res, err)
		}
	}

	s, _ := f.store.Get("p1")
	if s.Stage != domain.StageCompleted {
		t.Fatalf("expected completed, got %s", s.Stage)
	}
	if _, err := f.svc.NextPuzzle(ctx, "p1"); !errors.Is(err, ErrNoMorePuzzles) {
		t.Fatalf("expected ErrNoMorePuzzles, got %v", err)
	}
	if v, _ := f.counters.Get(ctx, counters.AgentsSaved); v != 3 {
		t.Fatalf("expected agents-saved 3, got %d", v)
	}
}

func TestSubmitPuzzleErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	yes := true

	if _, err := f.svc.SubmitPuzzle(ctx, Submission{SessionID: "nope", Category: domain.CategoryHands, Correct: &yes}); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := f.svc.SubmitPuzzle(ctx, Submission{SessionID: "x", Category: "dogs", Correct: &yes}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}

	if _, err := f.svc.NextPuzzle(ctx, "m1"); err != nil {
		t.Fatalf("NextPuzzle failed: %v", err)
	}
	if _, err := f.svc.SubmitPuzzle(ctx, Submission{SessionID: "m1", Category: domain.CategoryCute, Correct: &yes}); !errors.Is(err, ErrCategoryMismatch) {
		t.Fatalf("expected ErrCategoryMismatch, got %v", err)
	}
	if _, err := f.svc.SubmitPuzzle(ctx, Submission{SessionID: "m1", Category: domain.CategoryHands}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest without a verdict, got %v", err)
	}
}

func TestSubmitWithoutIssuedPuzzleTrustsClient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.Create("t1")
	yes := true
	res, err := f.svc.SubmitPuzzle(ctx, Submission{SessionID: "t1", Category: domain.CategoryHands, Correct: &yes})
	if err != nil || !res.Correct || res.Stage != domain.StagePuzzle1 {
		t.Fatalf("unexpected result %+v, %v", res, err)
	}
}

func TestMarkLinkShown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.svc.MarkLinkShown(ctx, " "); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if err := f.svc.MarkLinkShown(ctx, "gone"); err != nil {
		t.Fatalf("MarkLinkShown failed: %v", err)
	}
	s, ok := f.store.Get("gone")
	if !ok || !s.HelpLinkRevealed {
		t.Fatalf("expected recreated session with link flag, got %+v", s)
	}
}

func TestWindowKeepsTail(t *testing.T) {
	msgs := make([]domain.Message, 8)
	for i := range msgs {
		msgs[i] = domain.Message{ID: string(rune('a' + i))}
	}
	got := window(msgs, 5)
	if len(got) != 5 || got[0].ID != "d" || got[4].ID != "h" {
		t.Fatalf("unexpected window %+v", got)
	}
}

func TestAbandonedCountsTicketsInLimbo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.svc.Abandoned(ctx, domain.Session{ID: "left", Stage: domain.StagePuzzle1, Abandoned: true})
	f.svc.Abandoned(ctx, domain.Session{ID: "done", Stage: domain.StageCompleted})

	got, err := f.counters.Get(ctx, counters.TicketsInLimbo)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != 1 {
		t.Fatalf("expected one ticket in limbo, got %d", got)
	}
}
