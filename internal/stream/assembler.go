package stream

import (
	"errors"
	"iter"
	"strings"
)

// ErrTruncated is returned when a stream ends without a done event.
var ErrTruncated = errors.New("stream ended before done")

// RemoteError is an error event received from the producer.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return "remote: " + e.Message }

// Message is one finalized persona message.
type Message struct {
	Index int
	Text  string
}

// Assembler rebuilds discrete messages from an event stream. Callbacks run on
// the consuming goroutine, in stream order.
type Assembler struct {
	// OnMeta receives session metadata.
	OnMeta func(Meta)
	// OnPartial receives the text accumulated so far for an open message.
	OnPartial func(index int, text string)
	// OnMessage runs at every message boundary.
	OnMessage func(Message)
}

// Consume reads events until done, an error or the end of the sequence. The
// messages finalized before a failure are returned alongside the error; a
// message still open at that point is discarded.
func (a *Assembler) Consume(events iter.Seq2[Event, error]) ([]Message, error) {
	var (
		msgs []Message
		buf  strings.Builder
		open = -1
	)
	for ev, err := range events {
		if err != nil {
			return msgs, err
		}
		switch ev.Type {
		case TypeMeta:
			if ev.Meta != nil && a.OnMeta != nil {
				a.OnMeta(*ev.Meta)
			}
		case TypeChunk:
			if open != ev.Index {
				buf.Reset()
				open = ev.Index
			}
			buf.WriteString(ev.Text)
			if a.OnPartial != nil {
				a.OnPartial(ev.Index, buf.String())
			}
		case TypeMessageEnd:
			if open != ev.Index {
				continue
			}
			m := Message{Index: ev.Index, Text: buf.String()}
			buf.Reset()
			open = -1
			msgs = append(msgs, m)
			if a.OnMessage != nil {
				a.OnMessage(m)
			}
		case TypeError:
			return msgs, &RemoteError{Message: ev.Message}
		case TypeDone:
			return msgs, nil
		}
	}
	return msgs, ErrTruncated
}
