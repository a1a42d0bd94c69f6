// Package session holds per-conversation state with best-effort TTL eviction.
package session

import (
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/support-desk/internal/domain"
	"github.com/google/uuid"
)

// AgentNames is the persona name pool.
var AgentNames = []string{"Tyler", "Marcus", "Sarah", "Ashley", "Jordan", "Alex"}

// Store is the session repository. Every operation is total: absence is
// reported through the boolean result, never as an error.
type Store interface {
	// Create allocates a session. A non-empty id is reused as the key and
	// replaces any existing entry.
	Create(id string) domain.Session

	// Get returns the session and refreshes its activity timestamp.
	Get(id string) (domain.Session, bool)

	// Resolve returns the existing session or recreates it under id.
	// The boolean reports whether the session had to be recreated.
	Resolve(id string) (domain.Session, bool)

	// MarkLinkShown sets the help-link flag. No-op when absent.
	MarkLinkShown(id string)

	// MarkPuzzleOpened sets the puzzle-panel flag. No-op when absent.
	MarkPuzzleOpened(id string)

	// IssuePuzzle records the instance served to the session.
	IssuePuzzle(id string, inst *domain.PuzzleInstance) (domain.Session, bool)

	// RecordPuzzleResult applies a scored submission.
	RecordPuzzleResult(id string, category domain.Category, correct bool, at time.Time) (domain.Session, bool)

	// Sweep evicts sessions idle for longer than the retention window and
	// returns them.
	Sweep(now time.Time) []domain.Session

	// Len returns the number of live sessions.
	Len() int
}

// Memory is an in-process Store.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	ttl      time.Duration
	now      func() time.Time
	pickName func() string
}

// Option configures a Memory store.
type Option func(*Memory)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) { m.now = now }
}

// WithNamePicker overrides persona selection.
func WithNamePicker(pick func() string) Option {
	return func(m *Memory) { m.pickName = pick }
}

// NewMemory creates a store that evicts sessions idle for longer than ttl.
func NewMemory(ttl time.Duration, opts ...Option) *Memory {
	if ttl <= 0 {
		ttl = time.Hour
	}
	m := &Memory{
		sessions: make(map[string]*domain.Session),
		ttl:      ttl,
		now:      time.Now,
		pickName: func() string { return AgentNames[rand.IntN(len(AgentNames))] },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL returns the retention window.
func (m *Memory) TTL() time.Duration { return m.ttl }

// Create allocates a new session.
func (m *Memory) Create(id string) domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(id).Clone()
}

func (m *Memory) createLocked(id string) *domain.Session {
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}
	now := m.now()
	s := &domain.Session{
		ID:             id,
		AgentName:      m.pickName(),
		Stage:          domain.StagePre,
		SolvedPuzzles:  []domain.Category{},
		CreatedAt:      now,
		LastActivityAt: now,
	}
	m.sessions[id] = s
	return s
}

// Get returns the session and touches it.
func (m *Memory) Get(id string) (domain.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return domain.Session{}, false
	}
	s.LastActivityAt = m.now()
	return s.Clone(), true
}

// Resolve returns the session for id, recreating it when absent.
func (m *Memory) Resolve(id string) (domain.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok && id != "" {
		s.LastActivityAt = m.now()
		return s.Clone(), false
	}
	return m.createLocked(id).Clone(), true
}

// MarkLinkShown sets HelpLinkRevealed.
func (m *Memory) MarkLinkShown(id string) {
	m.update(id, func(s *domain.Session) { s.HelpLinkRevealed = true })
}

// MarkPuzzleOpened sets PuzzlePanelOpened.
func (m *Memory) MarkPuzzleOpened(id string) {
	m.update(id, func(s *domain.Session) { s.PuzzlePanelOpened = true })
}

// IssuePuzzle remembers the served instance.
func (m *Memory) IssuePuzzle(id string, inst *domain.PuzzleInstance) (domain.Session, bool) {
	return m.update(id, func(s *domain.Session) {
		if inst == nil {
			s.ActivePuzzle = nil
			return
		}
		s.ActivePuzzle = &domain.ActivePuzzle{
			Category:     inst.Category,
			InstanceID:   inst.ID,
			CorrectIndex: inst.CorrectIndex,
			IssuedAt:     m.now(),
		}
	})
}

// RecordPuzzleResult appends category on a correct answer and recomputes the stage.
func (m *Memory) RecordPuzzleResult(id string, category domain.Category, correct bool, at time.Time) (domain.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return domain.Session{}, false
	}
	if at.IsZero() {
		at = m.now()
	}
	if correct && len(s.SolvedPuzzles) < domain.TotalPuzzles {
		s.SolvedPuzzles = append(s.SolvedPuzzles, category)
		s.ActivePuzzle = nil
	}
	s.Stage = domain.StageFor(len(s.SolvedPuzzles))
	if at.After(s.LastActivityAt) {
		s.LastActivityAt = at
	}
	return s.Clone(), true
}

// Sweep evicts idle sessions.
func (m *Memory) Sweep(now time.Time) []domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := now.Add(-m.ttl)
	var evicted []domain.Session
	for id, s := range m.sessions {
		if s.LastActivityAt.Before(cutoff) {
			if !s.Completed() {
				s.Abandoned = true
			}
			evicted = append(evicted, s.Clone())
			delete(m.sessions, id)
		}
	}
	return evicted
}

// Len returns the number of live sessions.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Memory) update(id string, fn func(*domain.Session)) (domain.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return domain.Session{}, false
	}
	fn(s)
	s.LastActivityAt = m.now()
	return s.Clone(), true
}
