package counters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"resty.dev/v3"
)

// KVStore talks to a Redis-over-REST service (Upstash wire format):
// GET /get/{key}, /incrby/{key}/{n}, /ping, each answering {"result": ...}.
type KVStore struct {
	client *resty.Client
}

var _ Store = (*KVStore)(nil)

type kvReply struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// NewKV creates a REST KV store client.
func NewKV(baseURL, token string) (*KVStore, error) {
	if baseURL == "" {
		return nil, errors.New("kv store: base url is required")
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(5 * time.Second)
	if token != "" {
		c.SetAuthToken(token)
	}
	return &KVStore{client: c}, nil
}

func (s *KVStore) call(ctx context.Context, path string) (json.RawMessage, error) {
	var reply kvReply
	resp, err := s.client.R().
		SetContext(ctx).
		SetExpectResponseContentType("application/json").
		SetResult(&reply).
		SetError(&reply).
		Get(path)
	if err != nil {
		return nil, fmt.Errorf("kv %s: %w", path, err)
	}
	if resp.IsError() {
		if reply.Error != "" {
			return nil, fmt.Errorf("kv %s: status %d: %s", path, resp.StatusCode(), reply.Error)
		}
		return nil, fmt.Errorf("kv %s: status %d", path, resp.StatusCode())
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("kv %s: %s", path, reply.Error)
	}
	return reply.Result, nil
}

// Get implements Store.
func (s *KVStore) Get(ctx context.Context, key string) (int64, error) {
	raw, err := s.call(ctx, "/get/"+url.PathEscape(key))
	if err != nil {
		return 0, err
	}
	return parseKVInt(raw)
}

// IncrBy implements Store.
func (s *KVStore) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	raw, err := s.call(ctx, "/incrby/"+url.PathEscape(key)+"/"+strconv.FormatInt(n, 10))
	if err != nil {
		return 0, err
	}
	return parseKVInt(raw)
}

// Ping implements Store.
func (s *KVStore) Ping(ctx context.Context) error {
	_, err := s.call(ctx, "/ping")
	return err
}

// Close implements Store.
func (s *KVStore) Close() error {
	return s.client.Close()
}

// parseKVInt accepts null, a JSON number or a numeric string.
func parseKVInt(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("kv result %s: %w", raw, err)
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("kv result %q: %w", s, err)
	}
	return v, nil
}
