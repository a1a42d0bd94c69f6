package conversation

import (
	"sync"
	"time"

	"github.com/ashureev/support-desk/internal/clock"
)

// Safety cap on automatic follow-ups.
const (
	maxTotalMessages     = 30
	maxAssistantMessages = 15
)

// Step is one delayed nudge in a cascade. Delay is measured from arming.
type Step struct {
	Delay             time.Duration
	NudgeIndex        int
	ForceAskedForHelp bool
	// Final steps force the help link after their response and resign the cascade.
	Final bool
}

// Plan is a named sequence of steps.
type Plan struct {
	Name  string
	Steps []Step
}

// PostGreeting is armed after the greeting while the user has not spoken.
func PostGreeting() Plan {
	return Plan{
		Name: "post-greeting",
		Steps: []Step{
			{Delay: 15 * time.Second, NudgeIndex: 0},
			{Delay: 30 * time.Second, NudgeIndex: 1},
			{Delay: 45 * time.Second, NudgeIndex: 2, ForceAskedForHelp: true},
			{Delay: 60 * time.Second, NudgeIndex: 3, ForceAskedForHelp: true, Final: true},
		},
	}
}

// PostUser is armed after a reply to the user. Dismissive users are nudged sooner.
func PostUser(dismissive bool) Plan {
	first := 10 * time.Second
	if dismissive {
		first = 3 * time.Second
	}
	return Plan{
		Name: "post-user",
		Steps: []Step{
			{Delay: first, NudgeIndex: 0},
			{Delay: first + 10*time.Second, NudgeIndex: 1, ForceAskedForHelp: true},
		},
	}
}

// OverCap reports whether the transcript is past the automatic follow-up limit.
func OverCap(total, assistants int) bool {
	return total > maxTotalMessages || assistants > maxAssistantMessages
}

// Cascade holds at most one armed plan. Every Arm starts a new generation;
// Cancel and Resign invalidate it, so a fire that raced the cancellation can
// be recognised with Current.
type Cascade struct {
	clock clock.Clock

	mu       sync.Mutex
	gen      uint64
	armed    bool
	resigned bool
	pending  int
	timers   []clock.Timer
}

// NewCascade creates a disarmed cascade on c.
func NewCascade(c clock.Clock) *Cascade {
	if c == nil {
		c = clock.Real{}
	}
	return &Cascade{clock: c}
}

// Arm schedules every step of p. It is a no-op returning false while a plan
// is already armed or after resignation. fire runs on the clock's goroutine.
func (c *Cascade) Arm(p Plan, fire func(Step, uint64)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.armed || c.resigned || len(p.Steps) == 0 {
		return false
	}
	c.gen++
	gen := c.gen
	c.armed = true
	c.pending = len(p.Steps)
	c.timers = c.timers[:0]
	for _, st := range p.Steps {
		c.timers = append(c.timers, c.clock.AfterFunc(st.Delay, func() {
			c.mu.Lock()
			live := c.armed && c.gen == gen
			if live {
				c.pending--
			}
			c.mu.Unlock()
			if live {
				fire(st, gen)
			}
		}))
	}
	return true
}

// Cancel stops every pending step and disarms.
func (c *Cascade) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
}

func (c *Cascade) cancelLocked() {
	for _, t := range c.timers {
		t.Stop()
	}
	c.timers = c.timers[:0]
	if c.armed {
		c.gen++
	}
	c.armed = false
	c.pending = 0
}

// Resign cancels and refuses further arming until Reengage.
func (c *Cascade) Resign() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
	c.resigned = true
}

// Reengage lifts resignation after renewed user activity.
func (c *Cascade) Reengage() {
	c.mu.Lock()
	c.resigned = false
	c.mu.Unlock()
}

// Armed reports whether a plan is armed. An exhausted plan stays armed
// until cancelled.
func (c *Cascade) Armed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armed
}

// Resigned reports whether automatic nudges are disabled.
func (c *Cascade) Resigned() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resigned
}

// Current reports whether gen is the live armed generation.
func (c *Cascade) Current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armed && c.gen == gen
}

// Pending returns the number of steps that have not fired yet.
func (c *Cascade) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}
