package stream

import (
	"strings"
	"unicode"
)

// Delimiter separates persona messages inside a single model completion.
const Delimiter = "[MULTI]"

// Piece is splitter output: either text for the current message or the end
// of that message.
type Piece struct {
	Text string
	End  bool
}

// Splitter finds message boundaries in a token stream. A delimiter may arrive
// split across tokens, so a possible delimiter prefix and trailing whitespace
// are held back until the next token disambiguates them. Messages are trimmed
// and empty messages produce no pieces at all.
type Splitter struct {
	pending string
	started bool
}

// Write feeds one token and returns the pieces that are now certain.
func (s *Splitter) Write(token string) []Piece {
	s.pending += token
	var out []Piece
	for {
		i := strings.Index(s.pending, Delimiter)
		if i < 0 {
			break
		}
		out = s.emit(out, strings.TrimRightFunc(s.pending[:i], unicode.IsSpace))
		out = s.end(out)
		s.pending = s.pending[i+len(Delimiter):]
	}
	keep := holdback(s.pending)
	cut := len(s.pending) - keep
	out = s.emit(out, s.pending[:cut])
	s.pending = s.pending[cut:]
	return out
}

// Flush ends the stream, closing the current message if it has text.
func (s *Splitter) Flush() []Piece {
	out := s.emit(nil, strings.TrimRightFunc(s.pending, unicode.IsSpace))
	s.pending = ""
	return s.end(out)
}

func (s *Splitter) emit(out []Piece, text string) []Piece {
	if !s.started {
		text = strings.TrimLeftFunc(text, unicode.IsSpace)
	}
	if text == "" {
		return out
	}
	s.started = true
	return append(out, Piece{Text: text})
}

func (s *Splitter) end(out []Piece) []Piece {
	if !s.started {
		return out
	}
	s.started = false
	return append(out, Piece{End: true})
}

// holdback returns how many trailing bytes of s cannot be emitted yet.
func holdback(s string) int {
	k := 0
	for n := min(len(Delimiter)-1, len(s)); n > 0; n-- {
		if strings.HasSuffix(s, Delimiter[:n]) {
			k = n
			break
		}
	}
	rest := s[:len(s)-k]
	return len(s) - len(strings.TrimRightFunc(rest, unicode.IsSpace))
}

// Split splits a complete text into trimmed, non-empty messages.
func Split(text string) []string {
	var s Splitter
	var msgs []string
	var cur strings.Builder
	collect := func(pieces []Piece) {
		for _, p := range pieces {
			if p.End {
				msgs = append(msgs, cur.String())
				cur.Reset()
				continue
			}
			cur.WriteString(p.Text)
		}
	}
	collect(s.Write(text))
	collect(s.Flush())
	return msgs
}
