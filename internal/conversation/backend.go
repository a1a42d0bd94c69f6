// Package conversation drives one chat session from the client side: the
// greeting, idle nudges, the help link and the puzzle panel.
package conversation

import (
	"context"
	"errors"
	"iter"

	"github.com/ashureev/support-desk/internal/chat"
	"github.com/ashureev/support-desk/internal/domain"
	"github.com/ashureev/support-desk/internal/stream"
)

// Errors returned by the Controller and Panel.
var (
	ErrBusy         = errors.New("a response is already in flight")
	ErrClosed       = errors.New("conversation closed")
	ErrEmptyMessage = errors.New("message is empty")
	ErrLinkHidden   = errors.New("help link has not been revealed")
	ErrNoPuzzle     = errors.New("no puzzle is being shown")
	ErrComplete     = errors.New("all puzzles completed")
)

// Backend is the server API a Controller talks to. *chat.Service satisfies it
// in-process; client.Client satisfies it over HTTP.
type Backend interface {
	Bootstrap(ctx context.Context, sessionID string) (chat.SessionInfo, error)
	Respond(ctx context.Context, req chat.Request) iter.Seq2[stream.Event, error]
	MarkLinkShown(ctx context.Context, sessionID string) error
	NextPuzzle(ctx context.Context, sessionID string) (chat.PuzzleView, error)
	SubmitPuzzle(ctx context.Context, sub chat.Submission) (chat.SubmitResult, error)
}

var _ Backend = (*chat.Service)(nil)

// Sink receives presentation updates. Calls are made from the Controller's
// loop goroutine, one at a time, and must not block for long.
type Sink interface {
	Message(m domain.Message)
	Partial(index int, text string)
	LinkRevealed(messageID string)
	StageChanged(stage domain.Stage)
	Busy(busy bool)
	PuzzleShown(view chat.PuzzleView)
	PuzzleResult(res chat.SubmitResult)
	Complete()
}

// NopSink discards everything. Embed it to implement part of Sink.
type NopSink struct{}

func (NopSink) Message(domain.Message)         {}
func (NopSink) Partial(int, string)            {}
func (NopSink) LinkRevealed(string)            {}
func (NopSink) StageChanged(domain.Stage)      {}
func (NopSink) Busy(bool)                      {}
func (NopSink) PuzzleShown(chat.PuzzleView)    {}
func (NopSink) PuzzleResult(chat.SubmitResult) {}
func (NopSink) Complete()                      {}
