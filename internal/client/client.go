// Package client talks to the support desk HTTP API. Client implements
// conversation.Backend so a Controller can run against a remote server.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"time"

	"resty.dev/v3"

	"github.com/ashureev/support-desk/internal/chat"
	"github.com/ashureev/support-desk/internal/counters"
	"github.com/ashureev/support-desk/internal/domain"
	"github.com/ashureev/support-desk/internal/stream"
)

// DefaultTimeout bounds each JSON call. Streams are bounded by the caller's
// context only.
const DefaultTimeout = 10 * time.Second

// ErrRateLimited is returned when the server answers 429.
var ErrRateLimited = errors.New("rate limit exceeded")

type apiError struct {
	Message string `json:"error"`
}

// Client is a resty-backed API client. It keeps cookies, so the visitor
// identity issued by the server sticks across calls.
type Client struct {
	http    *resty.Client
	timeout time.Duration
}

// New returns a client for the server at baseURL.
func New(baseURL string) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetHeader("User-Agent", "support-desk-widget"),
		timeout: DefaultTimeout,
	}
}

// Close releases idle connections.
func (c *Client) Close() error {
	return c.http.Close()
}

// Bootstrap implements conversation.Backend.
func (c *Client) Bootstrap(ctx context.Context, sessionID string) (chat.SessionInfo, error) {
	var info chat.SessionInfo
	err := c.call(ctx, http.MethodPost, "/api/chat", chat.Request{
		SessionID: sessionID,
		Messages:  []domain.Message{},
	}, &info)
	return info, err
}

// Respond implements conversation.Backend by decoding the server-sent event
// stream of POST /api/chat.
func (c *Client) Respond(ctx context.Context, req chat.Request) iter.Seq2[stream.Event, error] {
	return func(yield func(stream.Event, error) bool) {
		var apiErr apiError
		resp, err := c.http.R().
			SetContext(ctx).
			SetHeader("Accept", "text/event-stream").
			SetBody(req).
			SetDoNotParseResponse(true).
			Post("/api/chat")
		if err != nil {
			yield(stream.Event{}, fmt.Errorf("post /api/chat: %w", err))
			return
		}
		body := resp.Body
		defer body.Close()

		if resp.IsError() {
			_ = json.NewDecoder(body).Decode(&apiErr)
			yield(stream.Event{}, statusError("/api/chat", resp.StatusCode(), apiErr.Message))
			return
		}
		for ev, err := range stream.DecodeSSE(body) {
			if !yield(ev, err) || err != nil {
				return
			}
		}
	}
}

// MarkLinkShown implements conversation.Backend.
func (c *Client) MarkLinkShown(ctx context.Context, sessionID string) error {
	return c.call(ctx, http.MethodPost, "/api/chat/mark-link-shown", map[string]string{"sessionId": sessionID}, nil)
}

// NextPuzzle implements conversation.Backend.
func (c *Client) NextPuzzle(ctx context.Context, sessionID string) (chat.PuzzleView, error) {
	var view chat.PuzzleView
	err := c.call(ctx, http.MethodGet, "/api/puzzle?sessionId="+url.QueryEscape(sessionID), nil, &view)
	return view, err
}

// SubmitPuzzle implements conversation.Backend.
func (c *Client) SubmitPuzzle(ctx context.Context, sub chat.Submission) (chat.SubmitResult, error) {
	var res chat.SubmitResult
	err := c.call(ctx, http.MethodPost, "/api/puzzle", sub, &res)
	return res, err
}

// Counters reads the public tallies.
func (c *Client) Counters(ctx context.Context) (counters.Snapshot, error) {
	var snap counters.Snapshot
	err := c.call(ctx, http.MethodGet, "/api/counters", nil, &snap)
	return snap, err
}

func (c *Client) call(ctx context.Context, method, path string, body, result any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var apiErr apiError
	req := c.http.R().
		SetContext(ctx).
		SetExpectResponseContentType("application/json").
		SetError(&apiErr)
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", strings.ToLower(method), path, err)
	}
	if resp.IsError() {
		return statusError(path, resp.StatusCode(), apiErr.Message)
	}
	return nil
}

// statusError maps an API error response back onto the service sentinels.
func statusError(path string, status int, msg string) error {
	switch status {
	case http.StatusBadRequest:
		if msg == chat.ErrNoMorePuzzles.Error() {
			return chat.ErrNoMorePuzzles
		}
		return fmt.Errorf("%w: %s", chat.ErrInvalidRequest, msg)
	case http.StatusNotFound:
		return chat.ErrSessionNotFound
	case http.StatusConflict:
		return chat.ErrCategoryMismatch
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return fmt.Errorf("%s: status %d: %s", path, status, msg)
}
