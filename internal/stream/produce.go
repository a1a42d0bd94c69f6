package stream

import (
	"context"
	"iter"
	"time"

	"github.com/ashureev/support-desk/internal/clock"
)

// Pacing controls how fast produced text is revealed.
type Pacing struct {
	CharDelay  time.Duration
	MessageGap time.Duration
}

// DefaultPacing reveals 50 characters per second with a pause between messages.
var DefaultPacing = Pacing{CharDelay: 20 * time.Millisecond, MessageGap: 1200 * time.Millisecond}

// Produce converts raw model tokens into paced chunk and message_end events.
// A message_end is emitted at every delimiter, not only when tokens run out.
// A token error is yielded as-is and ends the sequence; the consumer decides
// how to surface it.
func Produce(ctx context.Context, tokens iter.Seq2[string, error], p Pacing, c clock.Clock) iter.Seq2[Event, error] {
	if c == nil {
		c = clock.Real{}
	}
	return func(yield func(Event, error) bool) {
		var (
			split   Splitter
			index   int
			inMsg   bool
			stopped bool
		)

		send := func(pieces []Piece) bool {
			for _, piece := range pieces {
				if piece.End {
					inMsg = false
					if !yield(MessageEnd(index), nil) {
						return false
					}
					index++
					continue
				}
				if !inMsg {
					inMsg = true
					if index > 0 {
						if err := clock.Sleep(ctx, c, p.MessageGap); err != nil {
							yield(Event{}, err)
							return false
						}
					}
				}
				if !reveal(ctx, c, p.CharDelay, index, piece.Text, yield) {
					return false
				}
			}
			return true
		}

		for tok, err := range tokens {
			if err != nil {
				yield(Event{}, err)
				return
			}
			if !send(split.Write(tok)) {
				stopped = true
				break
			}
		}
		if stopped {
			return
		}
		if !send(split.Flush()) {
			return
		}
		yield(Done(), nil)
	}
}

// reveal yields text one rune at a time with delay between runes, or as a
// single chunk when delay is zero.
func reveal(ctx context.Context, c clock.Clock, delay time.Duration, index int, text string, yield func(Event, error) bool) bool {
	if delay <= 0 {
		return yield(Chunk(index, text), nil)
	}
	for _, r := range text {
		if err := clock.Sleep(ctx, c, delay); err != nil {
			yield(Event{}, err)
			return false
		}
		if !yield(Chunk(index, string(r)), nil) {
			return false
		}
	}
	return true
}
