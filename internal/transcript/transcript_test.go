package transcript

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestLoggerWritesNDJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "transcript.ndjson")
	logger, err := New(Config{Enabled: true, Path: path, MaxSizeMB: 1, QueueSize: 16}, slog.Default())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() { _ = logger.Close() }()

	logger.Log(Event{
		SessionID: "sess-1",
		Channel:   "http",
		Direction: "inbound",
		EventType: EventUserMessage,
		Content:   "hello?",
	})

	line := waitForLogLine(t, path)
	var got Event
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("failed to unmarshal log line: %v", err)
	}
	if got.Content != "hello?" || got.EventType != EventUserMessage {
		t.Fatalf("unexpected event: %+v", got)
	}
	if got.Timestamp == "" {
		t.Fatal("expected timestamp to be filled in")
	}
}

func TestDisabledLoggerIsNoop(t *testing.T) {
	logger, err := New(Config{}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := logger.(Noop); !ok {
		t.Fatalf("expected Noop, got %T", logger)
	}
}

type blockingWriter struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	release chan struct{}
}

func (w *blockingWriter) Write(p []byte) (int, error) {
	<-w.release
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *blockingWriter) Close() error { return nil }

func TestLoggerDropsWhenQueueFull(t *testing.T) {
	w := &blockingWriter{release: make(chan struct{})}
	var logs bytes.Buffer
	l := newAsync(w, 1, slog.New(slog.NewTextHandler(&logs, nil)))

	for i := 0; i < 5; i++ {
		l.Log(Event{SessionID: "s", EventType: EventPuzzleEvent})
	}
	close(w.release)
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !strings.Contains(logs.String(), "transcript queue full") {
		t.Fatalf("expected a drop warning, got %q", logs.String())
	}
	l.Log(Event{SessionID: "after-close"})
	if strings.Contains(w.buf.String(), "after-close") {
		t.Fatal("events after Close must be ignored")
	}
}

func waitForLogLine(t *testing.T, path string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil && len(data) > 0 {
			lines := strings.Split(strings.TrimSpace(string(data)), "\n")
			if len(lines) > 0 {
				return lines[len(lines)-1]
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for log file %s", path)
	return ""
}
