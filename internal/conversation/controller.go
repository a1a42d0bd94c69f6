package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/support-desk/internal/chat"
	"github.com/ashureev/support-desk/internal/clock"
	"github.com/ashureev/support-desk/internal/domain"
	"github.com/ashureev/support-desk/internal/narrative"
	"github.com/ashureev/support-desk/internal/stream"
)

// DefaultGreetingDelay is how long after Start the greeting appears.
const DefaultGreetingDelay = 500 * time.Millisecond

// FallbackMessage replaces a response that failed to generate.
const FallbackMessage = "Sorry, I got a bit confused there... where were we?"

// Options configures a Controller.
type Options struct {
	Backend       Backend
	Sink          Sink
	Clock         clock.Clock
	Classifier    narrative.Classifier
	SessionID     string
	GreetingDelay time.Duration
}

// Snapshot is a consistent copy of the controller's state.
type Snapshot struct {
	SessionID     string
	AgentName     string
	Stage         domain.Stage
	Messages      []domain.Message
	State         domain.ConversationState
	LinkMessageID string
	Busy          bool
	Armed         bool
	Resigned      bool
}

type replyKind int

const (
	replyUser replyKind = iota
	replyNudge
	replyEvent
)

type reply struct {
	kind  replyKind
	step  Step
	gen   uint64
	event *domain.PuzzleEvent
}

type pendingStep struct {
	step Step
	gen  uint64
}

// Controller runs one conversation. All state is owned by a single loop
// goroutine; public methods hand work to it and timers post back onto it.
type Controller struct {
	backend    Backend
	sink       Sink
	clock      clock.Clock
	classifier narrative.Classifier
	greetDelay time.Duration
	cascade    *Cascade
	bridge     *Bridge

	ctx     context.Context
	cancel  context.CancelFunc
	ops     chan func()
	stopped chan struct{}
	wg      sync.WaitGroup

	startOnce sync.Once
	closeOnce sync.Once
	started   atomic.Bool

	// Loop-owned state.
	sessionID  string
	agentName  string
	stage      domain.Stage
	messages   []domain.Message
	tracker    *narrative.Tracker
	greeted    bool
	greeting   clock.Timer
	busy       bool
	pending    *pendingStep
	seenEvents map[string]bool
	panel      *Panel
	closed     bool
}

// New validates opts and returns an unstarted Controller.
func New(opts Options) (*Controller, error) {
	if opts.Backend == nil {
		return nil, errors.New("conversation: backend is required")
	}
	if opts.Sink == nil {
		opts.Sink = NopSink{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Classifier == nil {
		opts.Classifier = narrative.Keywords{}
	}
	if opts.GreetingDelay <= 0 {
		opts.GreetingDelay = DefaultGreetingDelay
	}
	c := &Controller{
		backend:    opts.Backend,
		sink:       opts.Sink,
		clock:      opts.Clock,
		classifier: opts.Classifier,
		greetDelay: opts.GreetingDelay,
		cascade:    NewCascade(opts.Clock),
		ops:        make(chan func()),
		stopped:    make(chan struct{}),
		sessionID:  strings.TrimSpace(opts.SessionID),
		stage:      domain.StagePre,
		tracker:    narrative.NewTracker(opts.Classifier),
		seenEvents: make(map[string]bool),
	}
	c.bridge = NewBridge(c.deliverEvent)
	return c, nil
}

// Start bootstraps the session, starts the loop and schedules the greeting.
// ctx bounds the whole conversation.
func (c *Controller) Start(ctx context.Context) error {
	err := ErrClosed
	c.startOnce.Do(func() {
		info, bErr := c.backend.Bootstrap(ctx, c.sessionID)
		if bErr != nil {
			err = fmt.Errorf("bootstrap session: %w", bErr)
			return
		}
		c.sessionID = info.SessionID
		c.agentName = info.AgentName
		c.stage = info.Stage
		c.tracker.SetStage(info.Stage)
		if info.HelpLinkRevealed {
			// A resumed session that already showed the link goes straight to the puzzles.
			c.tracker.StartPuzzle()
		}

		c.ctx, c.cancel = context.WithCancel(ctx)
		c.started.Store(true)
		go c.loop()

		greet := c.clock.AfterFunc(c.greetDelay, func() { c.post(c.greet) })
		err = c.do(func() { c.greeting = greet })
		slog.Info("Conversation started", "session_id", c.sessionID, "agent", c.agentName, "stage", c.stage)
	})
	return err
}

// SessionID returns the bootstrapped session id.
func (c *Controller) SessionID() string { return c.sessionID }

// AgentName returns the persona name.
func (c *Controller) AgentName() string { return c.agentName }

// Bridge returns the puzzle event bridge.
func (c *Controller) Bridge() *Bridge { return c.bridge }

// Submit sends a user message. It fails with ErrBusy while a response is in
// flight. Any armed cascade is cancelled and resignation is lifted.
func (c *Controller) Submit(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	var err error
	if dErr := c.do(func() {
		switch {
		case c.closed:
			err = ErrClosed
			return
		case c.busy:
			err = ErrBusy
			return
		}
		c.cascade.Cancel()
		c.cascade.Reengage()
		c.pending = nil
		c.greeted = true
		if c.greeting != nil {
			c.greeting.Stop()
		}

		c.appendMessage(domain.RoleUser, text)
		c.tracker.ObserveUser(text)
		c.startReply(reply{kind: replyUser})
	}); dErr != nil {
		return dErr
	}
	return err
}

// OpenPuzzles opens the puzzle panel and loads the first unsolved puzzle.
// It requires the help link to have been revealed and fails with ErrBusy
// while a response is in flight, since the panel's opened event would be
// dropped. Calling it again returns the same panel.
func (c *Controller) OpenPuzzles(ctx context.Context) (*Panel, error) {
	var (
		panel *Panel
		fresh bool
		err   error
	)
	if dErr := c.do(func() {
		if c.panel != nil {
			panel = c.panel
			return
		}
		if _, revealed := c.tracker.LinkMessageID(); !revealed && !c.tracker.PuzzleStarted() {
			err = ErrLinkHidden
			return
		}
		if c.busy {
			err = ErrBusy
			return
		}
		c.tracker.StartPuzzle()
		c.cascade.Cancel()
		c.panel = newPanel(c.ctx, c.backend, c.bridge, c.clock, c.sessionID, panelHooks{
			shown:  func(v chat.PuzzleView) { c.post(func() { c.sink.PuzzleShown(v) }) },
			result: func(r chat.SubmitResult) { c.post(func() { c.onPuzzleResult(r) }) },
		})
		panel, fresh = c.panel, true
	}); dErr != nil {
		return nil, dErr
	}
	if err != nil {
		return nil, err
	}
	if fresh {
		if _, err := panel.Open(ctx); err != nil && !errors.Is(err, ErrComplete) {
			return panel, fmt.Errorf("load puzzle: %w", err)
		}
	}
	return panel, nil
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() (Snapshot, error) {
	var s Snapshot
	err := c.do(func() {
		linkID, _ := c.tracker.LinkMessageID()
		s = Snapshot{
			SessionID:     c.sessionID,
			AgentName:     c.agentName,
			Stage:         c.stage,
			Messages:      append([]domain.Message(nil), c.messages...),
			State:         c.tracker.State(),
			LinkMessageID: linkID,
			Busy:          c.busy,
			Armed:         c.cascade.Armed(),
			Resigned:      c.cascade.Resigned(),
		}
	})
	return s, err
}

// Close stops the loop, cancels any in-flight request and every timer, and
// waits for background work to finish.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		if !c.started.Load() {
			return
		}
		_ = c.do(func() {
			c.closed = true
			if c.greeting != nil {
				c.greeting.Stop()
			}
			if c.panel != nil {
				c.panel.Close()
			}
		})
		c.cascade.Cancel()
		c.cancel()
		<-c.stopped
		c.wg.Wait()
		slog.Info("Conversation closed", "session_id", c.sessionID)
	})
	return nil
}

func (c *Controller) loop() {
	defer close(c.stopped)
	for {
		select {
		case op := <-c.ops:
			op()
		case <-c.ctx.Done():
			return
		}
	}
}

// post queues fn on the loop. It must never be called from the loop itself.
func (c *Controller) post(fn func()) bool {
	if !c.started.Load() {
		return false
	}
	select {
	case c.ops <- fn:
		return true
	case <-c.stopped:
		return false
	}
}

// do runs fn on the loop and waits for it.
func (c *Controller) do(fn func()) error {
	if !c.started.Load() {
		return ErrClosed
	}
	done := make(chan struct{})
	if !c.post(func() { fn(); close(done) }) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-c.stopped:
		return ErrClosed
	}
}

func (c *Controller) greet() {
	if c.greeted || c.closed {
		return
	}
	c.greeted = true
	text := fmt.Sprintf("Hi! I'm %s from Support Company. How can I help you today?", c.agentName)
	m := c.appendMessage(domain.RoleAssistant, text)
	users, assistants := domain.CountRoles(c.messages)
	c.tracker.ObserveAssistant(m.ID, text, assistants, users)
	c.maybeArm()
}

func (c *Controller) appendMessage(role domain.Role, text string) domain.Message {
	m := domain.Message{ID: uuid.NewString(), Role: role, Content: text}
	c.messages = append(c.messages, m)
	c.sink.Message(m)
	return m
}

func (c *Controller) startReply(r reply) {
	c.busy = true
	c.sink.Busy(true)

	msgs := append([]domain.Message(nil), c.messages...)
	state := c.tracker.State()
	req := chat.Request{
		SessionID:         c.sessionID,
		Messages:          msgs,
		ConversationState: &state,
		PuzzleEvent:       r.event,
	}
	if r.kind == replyNudge {
		idx := r.step.NudgeIndex
		req.NudgeIndex = &idx
		req.Messages = append(req.Messages, domain.Message{ID: uuid.NewString(), Role: domain.RoleUser, Content: narrative.NudgeMarker})
	}

	c.wg.Add(1)
	go c.run(req, r)
}

// run streams one response on its own goroutine and posts every update back
// onto the loop.
func (c *Controller) run(req chat.Request, r reply) {
	defer c.wg.Done()
	asm := stream.Assembler{
		OnMeta: func(m stream.Meta) {
			c.post(func() { c.setStage(m.Stage) })
		},
		OnPartial: func(index int, text string) {
			c.post(func() { c.sink.Partial(index, text) })
		},
		OnMessage: func(m stream.Message) {
			c.post(func() { c.onAssistant(m.Text) })
		},
	}
	_, err := asm.Consume(c.backend.Respond(c.ctx, req))
	c.post(func() { c.finish(r, err) })
}

func (c *Controller) onAssistant(text string) {
	m := c.appendMessage(domain.RoleAssistant, text)
	users, assistants := domain.CountRoles(c.messages)
	if c.tracker.ObserveAssistant(m.ID, text, assistants, users) {
		c.revealLink(m.ID)
	}
}

func (c *Controller) finish(r reply, err error) {
	c.busy = false
	if err != nil && !c.closed {
		slog.Warn("Response failed", "session_id", c.sessionID, "error", err)
		c.appendMessage(domain.RoleAssistant, FallbackMessage)
	}
	c.sink.Busy(false)
	if c.closed {
		return
	}

	if r.kind == replyNudge {
		if !c.cascade.Current(r.gen) {
			// Delivered, but the cascade moved on while this was in flight.
			return
		}
		if r.step.Final {
			if id := c.lastAssistantID(); id != "" && c.tracker.ForceReveal(id) {
				c.revealLink(id)
			}
			c.cascade.Resign()
			slog.Info("Idle cascade resigned", "session_id", c.sessionID)
			return
		}
	}

	if p := c.pending; p != nil {
		c.pending = nil
		c.fire(p.step, p.gen)
		return
	}
	c.maybeArm()
}

// maybeArm arms the cascade shape that fits the transcript.
func (c *Controller) maybeArm() {
	if c.closed || c.busy || !c.greeted || c.stage == domain.StageCompleted {
		return
	}
	if _, revealed := c.tracker.LinkMessageID(); revealed || c.tracker.PuzzleStarted() {
		return
	}
	if c.cascade.Armed() || c.cascade.Resigned() || len(c.messages) == 0 {
		return
	}
	if c.messages[len(c.messages)-1].Role != domain.RoleAssistant {
		return
	}
	users, assistants := domain.CountRoles(c.messages)
	if OverCap(len(c.messages), assistants) {
		c.cascade.Resign()
		slog.Info("Message cap reached, resigning", "session_id", c.sessionID, "messages", len(c.messages))
		return
	}

	var plan Plan
	if users == 0 {
		plan = PostGreeting()
	} else {
		plan = PostUser(c.classifier.Dismissive(c.lastUserText()))
	}
	if c.cascade.Arm(plan, c.onFire) {
		slog.Debug("Idle cascade armed", "session_id", c.sessionID, "plan", plan.Name)
	}
}

// onFire runs on the clock's goroutine.
func (c *Controller) onFire(step Step, gen uint64) {
	c.post(func() { c.fire(step, gen) })
}

func (c *Controller) fire(step Step, gen uint64) {
	if c.closed || !c.cascade.Current(gen) {
		return
	}
	if c.busy {
		if step.Final {
			c.pending = &pendingStep{step: step, gen: gen}
		}
		return
	}
	c.tracker.SetNudgeIndex(step.NudgeIndex)
	if step.ForceAskedForHelp {
		c.tracker.ForceAskedForHelp()
	}
	slog.Debug("Idle nudge", "session_id", c.sessionID, "nudge_index", step.NudgeIndex)
	c.startReply(reply{kind: replyNudge, step: step, gen: gen})
}

// deliverEvent is the Bridge's hand-off. It runs on the emitter's goroutine.
func (c *Controller) deliverEvent(ev domain.PuzzleEvent) bool {
	return c.post(func() { c.handleEvent(ev) })
}

func (c *Controller) handleEvent(ev domain.PuzzleEvent) {
	if c.closed || c.seenEvents[ev.ID] {
		return
	}
	c.seenEvents[ev.ID] = true
	c.cascade.Cancel()
	c.pending = nil
	if c.busy {
		slog.Debug("Puzzle event dropped while busy", "session_id", c.sessionID, "type", ev.Type)
		return
	}
	if ev.Type == domain.PuzzlePassed {
		c.setStage(ev.ExpectedStage)
	}
	c.startReply(reply{kind: replyEvent, event: &ev})
}

func (c *Controller) onPuzzleResult(res chat.SubmitResult) {
	c.setStage(res.Stage)
	c.sink.PuzzleResult(res)
	if res.Complete {
		c.sink.Complete()
	}
}

// setStage advances the stage; it never moves backwards.
func (c *Controller) setStage(s domain.Stage) {
	if !s.Valid() || s.Rank() <= c.stage.Rank() {
		return
	}
	c.stage = s
	c.tracker.SetStage(s)
	c.sink.StageChanged(s)
	if s == domain.StageCompleted {
		c.cascade.Cancel()
		c.pending = nil
	}
}

func (c *Controller) revealLink(id string) {
	slog.Info("Help link revealed", "session_id", c.sessionID, "message_id", id)
	c.sink.LinkRevealed(id)
	sessionID := c.sessionID
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.backend.MarkLinkShown(c.ctx, sessionID); err != nil && c.ctx.Err() == nil {
			slog.Warn("Failed to mark link shown", "session_id", sessionID, "error", err)
		}
	}()
}

func (c *Controller) lastAssistantID() string {
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Role == domain.RoleAssistant {
			return c.messages[i].ID
		}
	}
	return ""
}

func (c *Controller) lastUserText() string {
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Role == domain.RoleUser {
			return c.messages[i].Content
		}
	}
	return ""
}
