package stream

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"strings"
)

const maxSSELine = 1 << 20

// WriteSSE writes ev as one server-sent event. The caller flushes.
func WriteSSE(w io.Writer, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}

// DecodeSSE parses server-sent events written by WriteSSE. Comment lines and
// unknown fields are ignored.
func DecodeSSE(r io.Reader) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), maxSSELine)

		var name string
		var data strings.Builder
		dispatch := func() bool {
			defer func() {
				name = ""
				data.Reset()
			}()
			if data.Len() == 0 {
				return true
			}
			var ev Event
			if err := json.Unmarshal([]byte(data.String()), &ev); err != nil {
				return yield(Event{}, fmt.Errorf("decode event %q: %w", name, err))
			}
			if ev.Type == "" {
				ev.Type = Type(name)
			}
			return yield(ev, nil)
		}

		for sc.Scan() {
			line := sc.Text()
			switch {
			case line == "":
				if !dispatch() {
					return
				}
			case strings.HasPrefix(line, ":"):
			case strings.HasPrefix(line, "event:"):
				name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				if data.Len() > 0 {
					data.WriteByte('\n')
				}
				data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			}
		}
		if err := sc.Err(); err != nil {
			yield(Event{}, fmt.Errorf("read stream: %w", err))
			return
		}
		dispatch()
	}
}
