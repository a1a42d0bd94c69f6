package conversation

import (
	"sync"

	"github.com/google/uuid"

	"github.com/ashureev/support-desk/internal/domain"
)

// Bridge carries puzzle events from a Panel to its Controller. Emit is fire
// and forget: the Controller drops events that arrive while it is busy and
// events it has already seen.
type Bridge struct {
	mu      sync.Mutex
	deliver func(domain.PuzzleEvent) bool
}

// NewBridge returns a bridge that hands events to deliver in emission order.
func NewBridge(deliver func(domain.PuzzleEvent) bool) *Bridge {
	return &Bridge{deliver: deliver}
}

// Emit stamps ev with an id when it has none and delivers it. It reports
// whether the receiver accepted the hand-off, not whether the event was acted on.
func (b *Bridge) Emit(ev domain.PuzzleEvent) (string, bool) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return ev.ID, b.deliver(ev)
}
