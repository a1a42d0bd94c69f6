// Package stream turns a model's token stream into discrete persona messages
// and back.
package stream

import "github.com/ashureev/support-desk/internal/domain"

// Type discriminates stream events.
type Type string

// Event types.
const (
	TypeMeta       Type = "meta"
	TypeChunk      Type = "chunk"
	TypeMessageEnd Type = "message_end"
	TypeError      Type = "error"
	TypeDone       Type = "done"
)

// Meta describes the session a response belongs to.
type Meta struct {
	SessionID string       `json:"sessionId"`
	AgentName string       `json:"agentName"`
	Stage     domain.Stage `json:"stage"`
}

// Event is one element of a response stream. Which fields are set depends on Type.
type Event struct {
	Type    Type   `json:"type"`
	Index   int    `json:"index"`
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
	Meta    *Meta  `json:"meta,omitempty"`
}

// MetaEvent announces session metadata.
func MetaEvent(m Meta) Event { return Event{Type: TypeMeta, Meta: &m} }

// Chunk carries text for message index.
func Chunk(index int, text string) Event { return Event{Type: TypeChunk, Index: index, Text: text} }

// MessageEnd closes message index.
func MessageEnd(index int) Event { return Event{Type: TypeMessageEnd, Index: index} }

// ErrorEvent reports a failure to the consumer. msg must be safe to show.
func ErrorEvent(msg string) Event { return Event{Type: TypeError, Message: msg} }

// Done terminates a successful stream.
func Done() Event { return Event{Type: TypeDone} }
