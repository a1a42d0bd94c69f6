package conversation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/support-desk/internal/chat"
	"github.com/ashureev/support-desk/internal/clock"
	"github.com/ashureev/support-desk/internal/domain"
)

// Puzzle panel timings.
const (
	OpenedDebounce  = 100 * time.Millisecond
	PassDelay       = 1000 * time.Millisecond
	NextPuzzleDelay = 2500 * time.Millisecond
)

type panelHooks struct {
	shown  func(chat.PuzzleView)
	result func(chat.SubmitResult)
}

// Panel shows the verification puzzles of one session and reports what the
// user does with them through the Bridge.
type Panel struct {
	ctx       context.Context
	backend   Backend
	bridge    *Bridge
	clock     clock.Clock
	sessionID string
	hooks     panelHooks

	mu       sync.Mutex
	current  *chat.PuzzleView
	attempts int
	opened   map[string]bool
	complete bool
	closed   bool
	timers   []clock.Timer
}

func newPanel(ctx context.Context, b Backend, br *Bridge, c clock.Clock, sessionID string, hooks panelHooks) *Panel {
	return &Panel{
		ctx:       ctx,
		backend:   b,
		bridge:    br,
		clock:     c,
		sessionID: sessionID,
		hooks:     hooks,
		opened:    make(map[string]bool),
	}
}

// Open loads the next unsolved puzzle and schedules its opened event.
func (p *Panel) Open(ctx context.Context) (chat.PuzzleView, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return chat.PuzzleView{}, ErrClosed
	}
	if p.complete {
		p.mu.Unlock()
		return chat.PuzzleView{}, ErrComplete
	}
	p.mu.Unlock()

	view, err := p.backend.NextPuzzle(ctx, p.sessionID)
	if errors.Is(err, chat.ErrNoMorePuzzles) {
		p.mu.Lock()
		p.complete = true
		p.mu.Unlock()
		return chat.PuzzleView{}, ErrComplete
	}
	if err != nil {
		return chat.PuzzleView{}, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return chat.PuzzleView{}, ErrClosed
	}
	p.current = &view
	p.attempts = 0
	if !p.opened[view.InstanceID] {
		p.opened[view.InstanceID] = true
		ordinal := view.Ordinal
		p.after(OpenedDebounce, func() {
			p.bridge.Emit(domain.PuzzleEvent{Type: domain.PuzzleOpened, Ordinal: ordinal})
		})
	}
	p.mu.Unlock()

	p.hooks.shown(view)
	return view, nil
}

// Current returns the puzzle on screen.
func (p *Panel) Current() (chat.PuzzleView, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return chat.PuzzleView{}, false
	}
	return *p.current, true
}

// Complete reports whether all puzzles are solved.
func (p *Panel) Complete() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.complete
}

// Select submits the image at index. The server scores it. A failure is
// reported immediately; a pass is reported after PassDelay so the session
// update lands first, and the next puzzle follows after NextPuzzleDelay.
func (p *Panel) Select(ctx context.Context, index int) (chat.SubmitResult, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return chat.SubmitResult{}, ErrClosed
	}
	if p.current == nil {
		p.mu.Unlock()
		return chat.SubmitResult{}, ErrNoPuzzle
	}
	view := *p.current
	p.mu.Unlock()

	res, err := p.backend.SubmitPuzzle(ctx, chat.Submission{
		SessionID:     p.sessionID,
		Category:      view.Category,
		SelectedIndex: &index,
	})
	if err != nil {
		return chat.SubmitResult{}, err
	}

	p.mu.Lock()
	if p.current == nil || p.current.InstanceID != view.InstanceID {
		// Another selection already resolved this instance.
		p.mu.Unlock()
		return res, nil
	}
	p.attempts++
	attempts := p.attempts
	if res.Correct {
		p.current = nil
		p.complete = res.Complete
		p.after(PassDelay, func() {
			p.bridge.Emit(domain.PuzzleEvent{
				Type:          domain.PuzzlePassed,
				Attempts:      attempts,
				Ordinal:       view.Ordinal,
				ExpectedStage: domain.ExpectedStageFor(view.Ordinal),
			})
		})
		if !res.Complete {
			p.after(NextPuzzleDelay, p.loadNext)
		}
	}
	p.mu.Unlock()

	p.hooks.result(res)
	if !res.Correct {
		p.bridge.Emit(domain.PuzzleEvent{Type: domain.PuzzleFailed, Attempts: attempts, Ordinal: view.Ordinal})
	}
	return res, nil
}

func (p *Panel) loadNext() {
	if _, err := p.Open(p.ctx); err != nil && !errors.Is(err, ErrClosed) && !errors.Is(err, ErrComplete) {
		slog.Warn("Failed to load next puzzle", "session_id", p.sessionID, "error", err)
	}
}

// after schedules f unless the panel is closed. Callers hold p.mu.
func (p *Panel) after(d time.Duration, f func()) {
	p.timers = append(p.timers, p.clock.AfterFunc(d, func() {
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if !closed {
			f()
		}
	}))
}

// Close stops every scheduled panel action.
func (p *Panel) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for _, t := range p.timers {
		t.Stop()
	}
	p.timers = nil
}
