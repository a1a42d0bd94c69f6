package live

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/support-desk/internal/chat"
	"github.com/ashureev/support-desk/internal/clock"
	"github.com/ashureev/support-desk/internal/conversation"
	"github.com/ashureev/support-desk/internal/domain"
	"github.com/ashureev/support-desk/internal/llm"
	"github.com/ashureev/support-desk/internal/puzzle"
	"github.com/ashureev/support-desk/internal/session"
)

type liveFixture struct {
	url      string
	clk      *clock.Manual
	sessions *session.Memory
	handler  *Handler
}

func newLiveFixture(t *testing.T) *liveFixture {
	t.Helper()
	m, err := puzzle.DefaultManifest()
	if err != nil {
		t.Fatalf("DefaultManifest failed: %v", err)
	}
	sessions := session.NewMemory(time.Hour, session.WithNamePicker(func() string { return "Jordan" }))
	svc, err := chat.New(chat.Options{
		Sessions: sessions,
		Engine:   puzzle.NewEngine(m, rand.New(rand.NewPCG(9, 10))),
		Provider: llm.NewScripted(map[string][]string{"normal": {"wait what [MULTI] hold on"}}),
	})
	if err != nil {
		t.Fatalf("chat.New failed: %v", err)
	}
	clk := clock.NewManual(time.Unix(0, 0))
	h := NewHandler(Options{Backend: svc, Clock: clk, IsDev: true})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &liveFixture{
		url:      "ws" + strings.TrimPrefix(srv.URL, "http"),
		clk:      clk,
		sessions: sessions,
		handler:  h,
	}
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func (f *liveFixture) dial(t *testing.T, sessionID string) *wsClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, f.url+"?sessionId="+sessionID, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "test done") })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(msg inbound) {
	c.t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		c.t.Fatalf("marshal: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		c.t.Fatalf("Write failed: %v", err)
	}
}

// next reads frames until one of type typ arrives.
func (c *wsClient) next(typ string) Frame {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			c.t.Fatalf("waiting for %s frame: %v", typ, err)
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.t.Fatalf("decode frame: %v", err)
		}
		if f.Type == typ {
			return f
		}
	}
}

func TestConversationOverWebSocket(t *testing.T) {
	f := newLiveFixture(t)
	c := f.dial(t, "ws-1")

	sess := c.next(FrameSession)
	if sess.Session == nil || sess.Session.SessionID != "ws-1" || sess.Session.AgentName != "Jordan" {
		t.Fatalf("unexpected session frame %+v", sess.Session)
	}

	f.clk.Advance(conversation.DefaultGreetingDelay)
	greeting := c.next(FrameMessage)
	want := "Hi! I'm Jordan from Support Company. How can I help you today?"
	if greeting.Message == nil || greeting.Message.Content != want {
		t.Fatalf("unexpected greeting %+v", greeting.Message)
	}

	c.send(inbound{Type: InPing})
	c.next(FramePong)

	c.send(inbound{Type: InHelp})
	if got := c.next(FrameError).Error; got != "link_hidden" {
		t.Fatalf("expected link_hidden, got %q", got)
	}

	c.send(inbound{Type: InMessage, Content: "where is my refund"})
	if m := c.next(FrameMessage); m.Message.Role != domain.RoleUser || m.Message.Content != "where is my refund" {
		t.Fatalf("expected the user message first, got %+v", m.Message)
	}
	if b := c.next(FrameBusy); b.Busy == nil || !*b.Busy {
		t.Fatalf("expected busy=true, got %+v", b)
	}
	var replies []string
	for len(replies) < 2 {
		replies = append(replies, c.next(FrameMessage).Message.Content)
	}
	if replies[0] != "wait what" || replies[1] != "hold on" {
		t.Fatalf("unexpected replies %q", replies)
	}
	if b := c.next(FrameBusy); b.Busy == nil || *b.Busy {
		t.Fatalf("expected busy=false, got %+v", b)
	}
}

func TestPuzzlesOverWebSocket(t *testing.T) {
	f := newLiveFixture(t)
	f.sessions.Create("ws-2")
	f.sessions.MarkLinkShown("ws-2")
	c := f.dial(t, "ws-2")
	c.next(FrameSession)

	c.send(inbound{Type: InHelp})
	shown := c.next(FramePuzzle)
	if shown.Puzzle == nil || shown.Puzzle.Category != domain.CategoryHands {
		t.Fatalf("unexpected puzzle %+v", shown.Puzzle)
	}

	sess, ok := f.sessions.Get("ws-2")
	if !ok || sess.ActivePuzzle == nil {
		t.Fatal("expected an issued puzzle")
	}
	c.send(inbound{Type: InSelect, Index: sess.ActivePuzzle.CorrectIndex})
	if st := c.next(FrameStage); st.Stage != domain.StagePuzzle1 {
		t.Fatalf("expected stage puzzle1, got %q", st.Stage)
	}
	res := c.next(FrameResult)
	if res.Result == nil || !res.Result.Correct || res.Result.SolvedPuzzles != 1 {
		t.Fatalf("unexpected result %+v", res.Result)
	}

	f.clk.Advance(conversation.PassDelay)
	if m := c.next(FrameMessage); m.Message.Role != domain.RoleAssistant {
		t.Fatalf("expected a reply to the passed event, got %+v", m.Message)
	}
}

func TestNewConnectionReplacesOld(t *testing.T) {
	f := newLiveFixture(t)
	first := f.dial(t, "ws-3")
	first.next(FrameSession)

	second := f.dial(t, "ws-3")
	second.next(FrameSession)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		if _, _, err := first.conn.Read(ctx); err != nil {
			if websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
				t.Fatalf("expected policy violation close, got %v", err)
			}
			break
		}
	}
	if n := f.handler.Registry().Len(); n != 1 {
		t.Fatalf("expected one live connection, got %d", n)
	}
}
