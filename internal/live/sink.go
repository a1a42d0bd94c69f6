package live

import (
	"log/slog"
	"sync"

	"github.com/ashureev/support-desk/internal/chat"
	"github.com/ashureev/support-desk/internal/conversation"
	"github.com/ashureev/support-desk/internal/domain"
)

const defaultQueueSize = 256

// frameSink turns Controller callbacks into queued frames. Callbacks run on
// the Controller loop and must not block on the socket, so frames go through
// a bounded queue drained by the connection's writer.
type frameSink struct {
	queue     chan Frame
	sessionID string

	mu     sync.Mutex
	closed bool
}

var _ conversation.Sink = (*frameSink)(nil)

func newFrameSink(size int) *frameSink {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &frameSink{queue: make(chan Frame, size)}
}

func (s *frameSink) setSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = id
}

// push enqueues f. When the queue is full the oldest frame is dropped.
func (s *frameSink) push(f Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- f:
		return
	default:
	}

	slog.Warn("Live frame queue full, dropping oldest", "session_id", s.sessionID, "type", f.Type)
	select {
	case <-s.queue:
	default:
	}
	select {
	case s.queue <- f:
	default:
		slog.Warn("Failed to queue live frame", "session_id", s.sessionID, "type", f.Type)
	}
}

// close stops accepting frames and closes the queue so the writer drains and
// exits.
func (s *frameSink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.queue)
}

func (s *frameSink) Message(m domain.Message) {
	s.push(Frame{Type: FrameMessage, Message: &m})
}

func (s *frameSink) Partial(index int, text string) {
	s.push(Frame{Type: FramePartial, Index: index, Text: text})
}

func (s *frameSink) LinkRevealed(id string) {
	s.push(Frame{Type: FrameLink, MessageID: id})
}

func (s *frameSink) StageChanged(stage domain.Stage) {
	s.push(Frame{Type: FrameStage, Stage: stage})
}

func (s *frameSink) Busy(busy bool) {
	s.push(Frame{Type: FrameBusy, Busy: &busy})
}

func (s *frameSink) PuzzleShown(v chat.PuzzleView) {
	s.push(Frame{Type: FramePuzzle, Puzzle: &v})
}

func (s *frameSink) PuzzleResult(r chat.SubmitResult) {
	s.push(Frame{Type: FrameResult, Result: &r, Stage: r.Stage})
}

func (s *frameSink) Complete() {
	s.push(Frame{Type: FrameComplete})
}
