// Package timing splits wall-clock time into setup and thinking buckets.
package timing

import "time"

// Bucket is where elapsed time is attributed.
type Bucket int

const (
	Setup Bucket = iota
	Thinking
)

func (b Bucket) String() string {
	if b == Thinking {
		return "thinking"
	}
	return "setup"
}

// Event is a progress report derived from target activity.
type Event int

const (
	// EventSetupProgress: the program is being driven through menus or fed input.
	EventSetupProgress Event = iota
	// EventEngineThinking: the program reports it is computing.
	EventEngineThinking
	// EventMoveEntered: an opponent move was entered and the program is now on move.
	EventMoveEntered
	// EventMoveObserved: the program's move became visible. No phase change.
	EventMoveObserved
)

func (e Event) String() string {
	switch e {
	case EventSetupProgress:
		return "setup_progress"
	case EventEngineThinking:
		return "engine_thinking"
	case EventMoveEntered:
		return "move_entered"
	case EventMoveObserved:
		return "move_observed"
	default:
		return "unknown"
	}
}

// phase returns the bucket that becomes active after the event, if any.
func (e Event) phase() (Bucket, bool) {
	switch e {
	case EventSetupProgress:
		return Setup, true
	case EventEngineThinking, EventMoveEntered:
		return Thinking, true
	default:
		return 0, false
	}
}

// Breakdown is a pair of bucket totals.
type Breakdown struct {
	Setup    time.Duration
	Thinking time.Duration
}

func (b Breakdown) Total() time.Duration { return b.Setup + b.Thinking }

func (b Breakdown) Add(o Breakdown) Breakdown {
	return Breakdown{Setup: b.Setup + o.Setup, Thinking: b.Thinking + o.Thinking}
}

// Classifier keeps exactly one bucket open at a time, so the two totals always add
// up to the wall time since the last Reset. Not safe for concurrent use.
type Classifier struct {
	now     func() time.Time
	active  Bucket
	since   time.Time
	resetAt time.Time
	totals  [2]time.Duration
}

// New returns a classifier with the setup bucket open. A nil clock uses time.Now.
func New(now func() time.Time) *Classifier {
	if now == nil {
		now = time.Now
	}
	t := now()
	return &Classifier{now: now, active: Setup, since: t, resetAt: t}
}

func (c *Classifier) BeginSetup()    { c.switchTo(Setup) }
func (c *Classifier) BeginThinking() { c.switchTo(Thinking) }

// Mark closes the open interval into the active bucket, then applies ev's phase change.
func (c *Classifier) Mark(ev Event) {
	c.close()
	if b, ok := ev.phase(); ok {
		c.active = b
	}
}

// Active returns the bucket currently accumulating time.
func (c *Classifier) Active() Bucket { return c.active }

// Elapsed includes the open interval when b is active.
func (c *Classifier) Elapsed(b Bucket) time.Duration {
	d := c.totals[b]
	if b == c.active {
		d += c.now().Sub(c.since)
	}
	return d
}

// Snapshot reads both buckets at a single instant.
func (c *Classifier) Snapshot() Breakdown {
	t := c.now()
	out := Breakdown{Setup: c.totals[Setup], Thinking: c.totals[Thinking]}
	open := t.Sub(c.since)
	if c.active == Thinking {
		out.Thinking += open
	} else {
		out.Setup += open
	}
	return out
}

// SinceReset is the wall time the current totals cover.
func (c *Classifier) SinceReset() time.Duration { return c.now().Sub(c.resetAt) }

// Reset starts a new cycle with active open and returns the closed cycle's totals.
func (c *Classifier) Reset(active Bucket) Breakdown {
	c.close()
	out := Breakdown{Setup: c.totals[Setup], Thinking: c.totals[Thinking]}
	c.totals = [2]time.Duration{}
	c.active = active
	c.resetAt = c.since
	return out
}

func (c *Classifier) switchTo(b Bucket) {
	c.close()
	c.active = b
}

func (c *Classifier) close() {
	t := c.now()
	if d := t.Sub(c.since); d > 0 {
		c.totals[c.active] += d
	}
	c.since = t
}
