// Package llm is the boundary to text-generation backends.
package llm

import (
	"context"
	"iter"

	"github.com/ashureev/support-desk/internal/domain"
)

// Request is one generation call.
type Request struct {
	System   string
	Messages []domain.Message
	// Label tags the request kind (intro, nudge, opened, failed, passed,
	// normal, completed). Remote providers ignore it.
	Label string
	// Step is the position within Label: assistant messages so far, nudge
	// index, failed attempts or puzzle ordinal.
	Step int
}

// Provider streams free text for a prompt and history.
type Provider interface {
	// Stream yields text fragments in order. An error ends the sequence.
	Stream(ctx context.Context, req Request) iter.Seq2[string, error]
	// Name identifies the backend in logs and health output.
	Name() string
}

// Collect drains a provider stream into one string.
func Collect(seq iter.Seq2[string, error]) (string, error) {
	var out []byte
	for tok, err := range seq {
		if err != nil {
			return string(out), err
		}
		out = append(out, tok...)
	}
	return string(out), nil
}
