// Terminal chat widget: runs a support conversation against a remote server.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/alexflint/go-arg"
	"github.com/joho/godotenv"

	"github.com/ashureev/support-desk/internal/client"
	"github.com/ashureev/support-desk/internal/conversation"
)

type args struct {
	Server  string `arg:"env:SUPPORT_DESK_URL" help:"Server base URL." default:"http://localhost:8080"`
	Session string `arg:"env:SUPPORT_DESK_SESSION" help:"Resume an existing session id."`
}

func (args) Description() string {
	return "Chat with a support agent. Type a message, /help to open the puzzles, /pick N to choose an image, /quit to leave."
}

func main() {
	_ = godotenv.Load()

	var a args
	arg.MustParse(&a)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, a, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, a args, in io.Reader, out io.Writer) error {
	api := client.New(a.Server)
	defer func() { _ = api.Close() }()

	p := newPrinter(out)
	ctl, err := conversation.New(conversation.Options{
		Backend:   api,
		Sink:      p,
		SessionID: a.Session,
	})
	if err != nil {
		return err
	}
	defer func() { _ = ctl.Close() }()

	if err := ctl.Start(ctx); err != nil {
		return fmt.Errorf("start conversation: %w", err)
	}
	p.setAgent(ctl.AgentName())
	p.printf("Connected to %s as session %s\n", a.Server, ctl.SessionID())

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	var panel *conversation.Panel
	for {
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case line, ok = <-lines:
			if !ok {
				return nil
			}
		}

		cmd, err := parseCommand(line)
		if err != nil {
			p.printf("! %v\n", err)
			continue
		}
		switch cmd.kind {
		case cmdNone:
		case cmdQuit:
			return nil
		case cmdSay:
			if err := ctl.Submit(cmd.text); err != nil {
				p.printf("! %s\n", describe(err))
			}
		case cmdHelp:
			reopened := panel != nil
			next, err := ctl.OpenPuzzles(ctx)
			if next != nil {
				panel = next
			}
			if err != nil {
				p.printf("! %s\n", describe(err))
				continue
			}
			if v, ok := panel.Current(); ok && reopened {
				p.PuzzleShown(v)
			} else if panel.Complete() {
				p.Complete()
			}
		case cmdPick:
			if panel == nil {
				p.printf("! %s\n", describe(conversation.ErrNoPuzzle))
				continue
			}
			if _, err := panel.Select(ctx, cmd.index); err != nil {
				p.printf("! %s\n", describe(err))
			}
		}
	}
}

type cmdKind int

const (
	cmdNone cmdKind = iota
	cmdSay
	cmdHelp
	cmdPick
	cmdQuit
)

type command struct {
	kind  cmdKind
	text  string
	index int
}

// parseCommand reads one input line. /pick takes a 1-based image number.
func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{kind: cmdNone}, nil
	}
	if !strings.HasPrefix(line, "/") {
		return command{kind: cmdSay, text: line}, nil
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return command{kind: cmdQuit}, nil
	case "/help":
		return command{kind: cmdHelp}, nil
	case "/pick":
		if len(fields) != 2 {
			return command{}, errors.New("usage: /pick N")
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil || n < 1 {
			return command{}, fmt.Errorf("not an image number: %q", fields[1])
		}
		return command{kind: cmdPick, index: n - 1}, nil
	default:
		return command{}, fmt.Errorf("unknown command %s", fields[0])
	}
}

func describe(err error) string {
	switch {
	case errors.Is(err, conversation.ErrBusy):
		return "the agent is still typing"
	case errors.Is(err, conversation.ErrEmptyMessage):
		return "nothing to send"
	case errors.Is(err, conversation.ErrLinkHidden):
		return "there is nothing to help with yet"
	case errors.Is(err, conversation.ErrNoPuzzle):
		return "no puzzle is open, type /help first"
	case errors.Is(err, conversation.ErrComplete):
		return "every puzzle is solved"
	case errors.Is(err, client.ErrRateLimited):
		return "slow down a little"
	default:
		return err.Error()
	}
}
