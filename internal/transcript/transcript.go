// Package transcript writes conversation records as rotated NDJSON.
package transcript

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Event types.
const (
	EventUserMessage      = "user_message"
	EventAssistantMessage = "assistant_message"
	EventPuzzleEvent      = "puzzle_event"
	EventPuzzleIssued     = "puzzle_issued"
	EventPuzzleResult     = "puzzle_result"
	EventLinkShown        = "link_shown"
	EventSessionAbandoned = "session_abandoned"
)

// Event is one transcript record.
type Event struct {
	Timestamp string         `json:"ts"`
	SessionID string         `json:"session_id"`
	VisitorID string         `json:"visitor_id,omitempty"`
	Channel   string         `json:"channel"`
	Direction string         `json:"direction,omitempty"`
	EventType string         `json:"event_type"`
	Content   string         `json:"content,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// Logger accepts transcript events without blocking the caller.
type Logger interface {
	Log(Event)
	Close() error
}

// Config controls the file logger.
type Config struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	QueueSize  int
}

// Noop discards everything.
type Noop struct{}

// Log implements Logger.
func (Noop) Log(Event) {}

// Close implements Logger.
func (Noop) Close() error { return nil }

// New returns a Logger for cfg; a disabled config yields Noop.
func New(cfg Config, log *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return Noop{}, nil
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("transcript path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("create transcript directory: %w", err)
	}
	w := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	return newAsync(w, cfg.QueueSize, log), nil
}

type asyncLogger struct {
	w     io.WriteCloser
	log   *slog.Logger
	queue chan Event
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

func newAsync(w io.WriteCloser, queueSize int, log *slog.Logger) *asyncLogger {
	if queueSize <= 0 {
		queueSize = 1000
	}
	if log == nil {
		log = slog.Default()
	}
	l := &asyncLogger{
		w:     w,
		log:   log,
		queue: make(chan Event, queueSize),
		done:  make(chan struct{}),
	}
	go l.run()
	return l
}

// Log enqueues ev, dropping it with a warning when the queue is full.
func (l *asyncLogger) Log(ev Event) {
	if ev.Timestamp == "" {
		ev.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- ev:
	default:
		l.log.Warn("transcript queue full, dropping event",
			"session_id", ev.SessionID,
			"event_type", ev.EventType,
		)
	}
}

func (l *asyncLogger) run() {
	defer close(l.done)
	enc := json.NewEncoder(l.w)
	for ev := range l.queue {
		if err := enc.Encode(ev); err != nil {
			l.log.Warn("failed to write transcript event", "error", err)
		}
	}
}

// Close drains the queue and closes the file.
func (l *asyncLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	<-l.done
	return l.w.Close()
}
