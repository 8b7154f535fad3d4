package provider

import (
	"sync"
	"time"

	"github.com/dirsync/syncprov/csn"
)

// CheckpointSink receives a (scope, csn) pair whenever the checkpoint
// policy decides the context CSN should be persisted. Persistence format
// and storage are out of scope (spec.md Non-goals; SPEC_FULL.md restates
// this) — only the trigger policy lives here.
type CheckpointSink interface {
	Checkpoint(scope string, c csn.CSN) error
}

// CheckpointSinkFunc adapts a plain function to CheckpointSink.
type CheckpointSinkFunc func(scope string, c csn.CSN) error

func (f CheckpointSinkFunc) Checkpoint(scope string, c csn.CSN) error { return f(scope, c) }

// Checkpointer implements the original's two-trigger checkpoint policy
// (SPEC_FULL.md supplemented feature 1, grounded on syncprov_checkpoint):
// persist after Ops writes or Interval elapsed, whichever comes first.
type Checkpointer struct {
	Scope    string
	Ops      int
	Interval time.Duration
	Sink     CheckpointSink

	now func() time.Time

	mu      sync.Mutex
	sinceOp int
	last    time.Time
}

// NewCheckpointer returns a Checkpointer triggering every ops writes or
// every interval, whichever comes first. An ops of 0 disables the op
// trigger; an interval of 0 disables the time trigger.
func NewCheckpointer(scope string, ops int, interval time.Duration, sink CheckpointSink) *Checkpointer {
	return &Checkpointer{Scope: scope, Ops: ops, Interval: interval, Sink: sink, now: time.Now}
}

// Observe records one committed write and fires the sink if either trigger
// has been met.
func (c *Checkpointer) Observe(current csn.CSN) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sinceOp++
	now := c.now()
	if c.last.IsZero() {
		c.last = now
	}

	opTriggered := c.Ops > 0 && c.sinceOp >= c.Ops
	timeTriggered := c.Interval > 0 && now.Sub(c.last) >= c.Interval
	if !opTriggered && !timeTriggered {
		return
	}

	if c.Sink != nil {
		_ = c.Sink.Checkpoint(c.Scope, current)
	}
	c.sinceOp = 0
	c.last = now
}
