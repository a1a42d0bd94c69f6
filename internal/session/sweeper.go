package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/support-desk/internal/domain"
)

// DefaultSweepInterval is used when no interval is configured.
const DefaultSweepInterval = 5 * time.Minute

// EvictCallback is called for every session removed by the sweeper.
type EvictCallback func(s domain.Session)

// StartSweeper runs a background goroutine that periodically evicts idle
// sessions until ctx is cancelled. The returned channel closes when the
// goroutine has exited.
func StartSweeper(ctx context.Context, store Store, interval time.Duration, onEvict EvictCallback) <-chan struct{} {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", interval)

		for {
			select {
			case now := <-ticker.C:
				sweepOnce(store, now, onEvict)
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
	return done
}

func sweepOnce(store Store, now time.Time, onEvict EvictCallback) int {
	evicted := store.Sweep(now)
	if len(evicted) == 0 {
		return 0
	}

	for _, s := range evicted {
		slog.Info("Session evicted",
			"session_id", s.ID,
			"stage", s.Stage,
			"abandoned", s.Abandoned,
			"idle", now.Sub(s.LastActivityAt).Round(time.Second))
		if onEvict != nil {
			onEvict(s)
		}
	}

	slog.Info("Session sweep completed", "evicted", len(evicted), "remaining", store.Len())
	return len(evicted)
}
