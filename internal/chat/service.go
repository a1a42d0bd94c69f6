package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/ashureev/support-desk/internal/clock"
	"github.com/ashureev/support-desk/internal/counters"
	"github.com/ashureev/support-desk/internal/domain"
	"github.com/ashureev/support-desk/internal/llm"
	"github.com/ashureev/support-desk/internal/narrative"
	"github.com/ashureev/support-desk/internal/puzzle"
	"github.com/ashureev/support-desk/internal/session"
	"github.com/ashureev/support-desk/internal/stream"
	"github.com/ashureev/support-desk/internal/transcript"
)

// DefaultHistoryWindow is how many trailing messages are sent to the model.
const DefaultHistoryWindow = 5

// genericFailure is the only error text a client ever sees for a failed generation.
const genericFailure = "failed to generate response"

// Options wires the service's collaborators. Sessions, Engine and Provider
// are required.
type Options struct {
	Sessions      session.Store
	Engine        *puzzle.Engine
	Provider      llm.Provider
	Counters      *counters.Service
	Transcript    transcript.Logger
	Classifier    narrative.Classifier
	Clock         clock.Clock
	Pacing        stream.Pacing
	HistoryWindow int
}

// Service implements bootstrap, respond, puzzle and link operations.
type Service struct {
	sessions   session.Store
	engine     *puzzle.Engine
	provider   llm.Provider
	counters   *counters.Service
	log        transcript.Logger
	classifier narrative.Classifier
	clock      clock.Clock
	pacing     stream.Pacing
	window     int
}

// New validates opts and returns a Service.
func New(opts Options) (*Service, error) {
	if opts.Sessions == nil || opts.Engine == nil || opts.Provider == nil {
		return nil, errors.New("chat: sessions, engine and provider are required")
	}
	if opts.Counters == nil {
		opts.Counters = counters.NewService(nil)
	}
	if opts.Transcript == nil {
		opts.Transcript = transcript.Noop{}
	}
	if opts.Classifier == nil {
		opts.Classifier = narrative.Keywords{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = DefaultHistoryWindow
	}
	return &Service{
		sessions:   opts.Sessions,
		engine:     opts.Engine,
		provider:   opts.Provider,
		counters:   opts.Counters,
		log:        opts.Transcript,
		classifier: opts.Classifier,
		clock:      opts.Clock,
		pacing:     opts.Pacing,
		window:     opts.HistoryWindow,
	}, nil
}

// Sessions exposes the session store for health reporting.
func (s *Service) Sessions() session.Store { return s.sessions }

// Counters exposes the counter service.
func (s *Service) Counters() *counters.Service { return s.counters }

// Provider returns the configured text generator.
func (s *Service) Provider() llm.Provider { return s.provider }

// Bootstrap resolves or creates the session and returns its metadata.
func (s *Service) Bootstrap(_ context.Context, sessionID string) (SessionInfo, error) {
	sessionID = strings.TrimSpace(sessionID)
	var sess domain.Session
	if sessionID == "" {
		sess = s.sessions.Create("")
		slog.Info("Session created", "session_id", sess.ID, "agent", sess.AgentName)
	} else {
		var recreated bool
		sess, recreated = s.sessions.Resolve(sessionID)
		if recreated {
			slog.Info("Session recreated on bootstrap", "session_id", sess.ID)
		}
	}
	return infoFor(sess), nil
}

// MarkLinkShown records that the help link was displayed.
func (s *Service) MarkLinkShown(_ context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("%w: sessionId is required", ErrInvalidRequest)
	}
	if _, recreated := s.sessions.Resolve(sessionID); recreated {
		slog.Info("Session recreated on mark-link-shown", "session_id", sessionID)
	}
	s.sessions.MarkLinkShown(sessionID)
	s.log.Log(transcript.Event{
		SessionID: sessionID,
		Channel:   "server",
		EventType: transcript.EventLinkShown,
	})
	return nil
}

// Abandoned handles a session evicted by the sweeper. A session that never
// completed counts as a ticket left in limbo.
func (s *Service) Abandoned(ctx context.Context, sess domain.Session) {
	if !sess.Abandoned {
		return
	}
	s.log.Log(transcript.Event{
		SessionID: sess.ID,
		Channel:   "server",
		EventType: transcript.EventSessionAbandoned,
		Meta: map[string]any{
			"stage":          sess.Stage,
			"solved_puzzles": sess.Solved(),
		},
	})
	if _, degraded, err := s.counters.Increment(ctx, counters.TicketsInLimbo, 1); err != nil || degraded {
		slog.Warn("Failed to count abandoned session", "session_id", sess.ID, "error", err)
	}
}

// NextPuzzle issues the next unsolved puzzle for the session.
func (s *Service) NextPuzzle(_ context.Context, sessionID string) (PuzzleView, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return PuzzleView{}, fmt.Errorf("%w: sessionId is required", ErrInvalidRequest)
	}
	sess, recreated := s.sessions.Resolve(sessionID)
	if recreated {
		slog.Info("Session recreated on puzzle fetch", "session_id", sessionID)
	}
	cat, ok := puzzle.NextCategory(sess.Solved())
	if !ok {
		return PuzzleView{}, ErrNoMorePuzzles
	}
	inst, err := s.engine.Build(cat)
	if err != nil {
		slog.Error("Failed to build puzzle", "session_id", sessionID, "category", cat, "error", err)
		return PuzzleView{}, fmt.Errorf("%w: %w", ErrPuzzleUnavailable, err)
	}
	s.sessions.IssuePuzzle(sessionID, inst)

	ordinal := sess.Solved() + 1
	s.log.Log(transcript.Event{
		SessionID: sessionID,
		Channel:   "server",
		EventType: transcript.EventPuzzleIssued,
		Meta: map[string]any{
			"category":      cat,
			"instance_id":   inst.ID,
			"puzzle_number": ordinal,
		},
	})
	return viewOf(inst, ordinal), nil
}

// SubmitPuzzle scores and records an answer. When the session holds the
// issued instance and the client sent a selected index, correctness is
// derived here and the client's own verdict is ignored.
func (s *Service) SubmitPuzzle(ctx context.Context, sub Submission) (SubmitResult, error) {
	sub.SessionID = strings.TrimSpace(sub.SessionID)
	if sub.SessionID == "" || puzzle.Ordinal(sub.Category) == 0 {
		return SubmitResult{}, fmt.Errorf("%w: sessionId and a known category are required", ErrInvalidRequest)
	}
	sess, ok := s.sessions.Get(sub.SessionID)
	if !ok {
		return SubmitResult{}, ErrSessionNotFound
	}

	active := sess.ActivePuzzle
	if active != nil && active.Category != sub.Category {
		return SubmitResult{}, fmt.Errorf("%w: issued %s, got %s", ErrCategoryMismatch, active.Category, sub.Category)
	}

	var correct bool
	switch {
	case sub.SelectedIndex != nil && active != nil:
		correct = *sub.SelectedIndex == active.CorrectIndex
	case sub.Correct != nil:
		correct = *sub.Correct
	default:
		return SubmitResult{}, fmt.Errorf("%w: correct or selectedIndex is required", ErrInvalidRequest)
	}

	before := sess.Solved()
	after, ok := s.sessions.RecordPuzzleResult(sub.SessionID, sub.Category, correct, s.clock.Now())
	if !ok {
		return SubmitResult{}, ErrSessionNotFound
	}

	s.log.Log(transcript.Event{
		SessionID: sub.SessionID,
		Channel:   "server",
		EventType: transcript.EventPuzzleResult,
		Meta: map[string]any{
			"category": sub.Category,
			"correct":  correct,
			"stage":    after.Stage,
			"solved":   after.Solved(),
		},
	})
	slog.Info("Puzzle submitted",
		"session_id", sub.SessionID,
		"category", sub.Category,
		"correct", correct,
		"stage", after.Stage,
	)

	if after.Solved() > before {
		if _, degraded, err := s.counters.Increment(ctx, counters.AgentsSaved, 1); err != nil || degraded {
			slog.Warn("agents-saved increment degraded", "session_id", sub.SessionID, "error", err)
		}
	}

	return SubmitResult{
		Correct:       correct,
		Stage:         after.Stage,
		SolvedPuzzles: after.Solved(),
		Complete:      after.Completed(),
	}, nil
}

// Respond streams the persona's next messages. The first element is a meta
// event. A non-nil error is only ever yielded as the first element, for
// requests that fail validation; generation failures arrive as an error event
// followed by nothing.
func (s *Service) Respond(ctx context.Context, req Request) iter.Seq2[stream.Event, error] {
	return func(yield func(stream.Event, error) bool) {
		if err := validate(req); err != nil {
			yield(stream.Event{}, err)
			return
		}

		sess, recreated := s.sessions.Resolve(req.SessionID)
		if recreated && req.SessionID != "" {
			slog.Info("Session recreated on chat", "session_id", sess.ID)
		}
		if ev := req.PuzzleEvent; ev != nil && ev.Type == domain.PuzzleOpened {
			s.sessions.MarkPuzzleOpened(sess.ID)
			if fresh, ok := s.sessions.Get(sess.ID); ok {
				sess = fresh
			}
		}

		plan := s.plan(sess, req)
		s.logInbound(sess.ID, req, plan)

		if !yield(stream.MetaEvent(stream.Meta{
			SessionID: sess.ID,
			AgentName: sess.AgentName,
			Stage:     sess.Stage,
		}), nil) {
			return
		}

		tokens := s.provider.Stream(ctx, plan.request)
		var current strings.Builder
		for ev, err := range stream.Produce(ctx, tokens, s.pacing, s.clock) {
			if err != nil {
				slog.Error("Persona generation failed",
					"session_id", sess.ID,
					"provider", s.provider.Name(),
					"variant", plan.variant,
					"error", err,
				)
				yield(stream.ErrorEvent(genericFailure), nil)
				return
			}
			switch ev.Type {
			case stream.TypeChunk:
				current.WriteString(ev.Text)
			case stream.TypeMessageEnd:
				s.log.Log(transcript.Event{
					SessionID: sess.ID,
					VisitorID: req.VisitorID,
					Channel:   req.Channel,
					Direction: "outbound",
					EventType: transcript.EventAssistantMessage,
					Content:   current.String(),
					Meta: map[string]any{
						"index":      ev.Index,
						"request_id": req.RequestID,
						"variant":    plan.variant.String(),
						"stage":      plan.stage,
					},
				})
				current.Reset()
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

func validate(req Request) error {
	if len(req.Messages) == 0 {
		return fmt.Errorf("%w: messages are required", ErrInvalidRequest)
	}
	for i, m := range req.Messages {
		if m.Role != domain.RoleUser && m.Role != domain.RoleAssistant {
			return fmt.Errorf("%w: message %d has role %q", ErrInvalidRequest, i, m.Role)
		}
	}
	if ev := req.PuzzleEvent; ev != nil {
		switch ev.Type {
		case domain.PuzzleOpened, domain.PuzzleFailed, domain.PuzzlePassed:
		default:
			return fmt.Errorf("%w: unknown puzzle event %q", ErrInvalidRequest, ev.Type)
		}
		if ev.ExpectedStage != "" && !ev.ExpectedStage.Valid() {
			return fmt.Errorf("%w: unknown expectedStage %q", ErrInvalidRequest, ev.ExpectedStage)
		}
	}
	if req.NudgeIndex != nil && *req.NudgeIndex < 0 {
		return fmt.Errorf("%w: nudgeIndex must be >= 0", ErrInvalidRequest)
	}
	return nil
}

func (s *Service) logInbound(sessionID string, req Request, p plan) {
	last := req.Messages[len(req.Messages)-1]
	meta := map[string]any{"request_id": req.RequestID, "variant": p.variant.String()}
	switch {
	case req.PuzzleEvent != nil:
		meta["type"] = req.PuzzleEvent.Type
		meta["attempts"] = req.PuzzleEvent.Attempts
		meta["puzzle_number"] = req.PuzzleEvent.Ordinal
		s.log.Log(transcript.Event{
			SessionID: sessionID,
			VisitorID: req.VisitorID,
			Channel:   req.Channel,
			Direction: "inbound",
			EventType: transcript.EventPuzzleEvent,
			Meta:      meta,
		})
	case p.variant == narrative.VariantNormal && last.Role == domain.RoleUser:
		s.log.Log(transcript.Event{
			SessionID: sessionID,
			VisitorID: req.VisitorID,
			Channel:   req.Channel,
			Direction: "inbound",
			EventType: transcript.EventUserMessage,
			Content:   last.Content,
			Meta:      meta,
		})
	}
}
