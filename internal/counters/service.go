package counters

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

const defaultOpTimeout = 3 * time.Second

// aliases maps legacy counter keys onto the current names.
var aliases = map[string]string{
	"tickets-limbo": TicketsInLimbo,
}

// Canonical resolves aliases; unknown names are returned unchanged.
func Canonical(name string) string {
	if c, ok := aliases[name]; ok {
		return c
	}
	return name
}

// Snapshot is the read model served to clients.
type Snapshot struct {
	AgentsSaved    int64 `json:"agentsSaved"`
	TicketsInLimbo int64 `json:"ticketsInLimbo"`
	Degraded       bool  `json:"degraded,omitempty"`
}

// Service reads and bumps counters, degrading to fallback values instead of
// failing when the store is unavailable.
type Service struct {
	store   Store
	timeout time.Duration
}

// NewService wraps store. A nil store behaves as permanently unavailable.
func NewService(store Store) *Service {
	return &Service{store: store, timeout: defaultOpTimeout}
}

// Snapshot reads both counters concurrently. Each failed read is replaced by
// its fallback independently.
func (s *Service) Snapshot(ctx context.Context) Snapshot {
	names := []string{AgentsSaved, TicketsInLimbo}
	values := make([]int64, len(names))
	failed := make([]bool, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			v, err := s.get(gctx, name)
			if err != nil {
				slog.Warn("counter read failed, using fallback", "counter", name, "error", err)
				values[i] = Fallbacks[name]
				failed[i] = true
				return nil
			}
			values[i] = v
			return nil
		})
	}
	_ = g.Wait()

	return Snapshot{
		AgentsSaved:    values[0],
		TicketsInLimbo: values[1],
		Degraded:       failed[0] || failed[1],
	}
}

// Increment adds by (default 1) to name. A store failure is reported as
// value 0 with degraded set, never as an error.
func (s *Service) Increment(ctx context.Context, name string, by int64) (value int64, degraded bool, err error) {
	name = Canonical(name)
	if !Valid(name) {
		return 0, false, fmt.Errorf("%w: %q", ErrUnknownCounter, name)
	}
	if by == 0 {
		by = 1
	}
	if s.store == nil {
		return 0, true, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	v, err := s.store.IncrBy(ctx, name, by)
	if err != nil {
		slog.Warn("counter increment failed", "counter", name, "by", by, "error", err)
		return 0, true, nil
	}
	return v, false, nil
}

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error {
	if s.store == nil {
		return fmt.Errorf("counter store not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.store.Ping(ctx)
}

func (s *Service) get(ctx context.Context, name string) (int64, error) {
	if s.store == nil {
		return 0, fmt.Errorf("counter store not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.store.Get(ctx, name)
}
