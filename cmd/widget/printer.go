package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/ashureev/support-desk/internal/chat"
	"github.com/ashureev/support-desk/internal/conversation"
	"github.com/ashureev/support-desk/internal/domain"
)

// printer renders conversation updates as plain text lines.
type printer struct {
	mu    sync.Mutex
	out   io.Writer
	agent string
}

var _ conversation.Sink = (*printer)(nil)

func newPrinter(out io.Writer) *printer {
	return &printer{out: out, agent: "agent"}
}

func (p *printer) setAgent(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if name != "" {
		p.agent = name
	}
}

func (p *printer) printf(format string, a ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, a...)
}

func (p *printer) Message(m domain.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m.Role == domain.RoleUser {
		fmt.Fprintf(p.out, "you: %s\n", m.Content)
		return
	}
	fmt.Fprintf(p.out, "%s: %s\n", p.agent, m.Content)
}

func (p *printer) Partial(int, string) {}

func (p *printer) LinkRevealed(string) {
	p.printf("   [ Help them? type /help ]\n")
}

func (p *printer) StageChanged(stage domain.Stage) {
	p.printf("-- stage: %s\n", stage)
}

func (p *printer) Busy(busy bool) {
	if !busy {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "   %s is typing...\n", p.agent)
}

func (p *printer) PuzzleShown(v chat.PuzzleView) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "== puzzle %d/%d: %s\n", v.Ordinal, v.TotalPuzzles, v.Prompt)
	for i, img := range v.Images {
		fmt.Fprintf(p.out, "   %d) %s\n", i+1, img.Alt)
	}
	fmt.Fprintln(p.out, "   pick one with /pick N")
}

func (p *printer) PuzzleResult(r chat.SubmitResult) {
	if r.Correct {
		p.printf("== correct! %d/%d solved\n", r.SolvedPuzzles, domain.TotalPuzzles)
		return
	}
	p.printf("== not quite, try again\n")
}

func (p *printer) Complete() {
	p.printf("== all puzzles solved, the agent is free\n")
}
