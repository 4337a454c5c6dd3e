// Package emitter delivers transcript segments from a session to its
// consumers.
//
// Emit never blocks the session indefinitely: sinks either accept a batch
// within a bounded time or drop it.
package emitter

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/xkeyC/fl-caption/pkg/transcript"
)

// Emitter receives batches of segments in emission order.
type Emitter interface {
	Emit(segments []transcript.Segment)
}

// Func adapts a function to Emitter. The function must return promptly.
type Func func(segments []transcript.Segment)

// Emit implements Emitter.
func (f Func) Emit(segments []transcript.Segment) {
	f(segments)
}

// Discard drops every batch.
var Discard Emitter = Func(func([]transcript.Segment) {})

// Tag returns an emitter that stamps every segment with session before
// passing the batch to next. The caller's slice is not modified. A nil next
// yields nil.
func Tag(session string, next Emitter) Emitter {
	if next == nil {
		return nil
	}
	return Func(func(segments []transcript.Segment) {
		tagged := make([]transcript.Segment, len(segments))
		for i, seg := range segments {
			seg.Session = session
			tagged[i] = seg
		}
		next.Emit(tagged)
	})
}

// Multi fans each batch out to every emitter in order.
type Multi []Emitter

// Emit implements Emitter.
func (m Multi) Emit(segments []transcript.Segment) {
	for _, e := range m {
		e.Emit(segments)
	}
}

// DefaultTimeout bounds how long Chan.Emit waits for a full channel.
const DefaultTimeout = 50 * time.Millisecond

// Chan is a bounded channel sink. A batch that cannot be queued within the
// timeout, or that arrives after Close, is dropped and counted.
type Chan struct {
	ch      chan []transcript.Segment
	timeout time.Duration

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// NewChan returns a sink with the given capacity. A non-positive timeout
// selects DefaultTimeout.
func NewChan(capacity int, timeout time.Duration) *Chan {
	if capacity < 0 {
		capacity = 0
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Chan{ch: make(chan []transcript.Segment, capacity), timeout: timeout}
}

// C returns the receive side. It is closed by Close.
func (c *Chan) C() <-chan []transcript.Segment {
	return c.ch
}

// Emit implements Emitter.
func (c *Chan) Emit(segments []transcript.Segment) {
	if len(segments) == 0 {
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		c.dropped.Add(1)
		return
	}
	select {
	case c.ch <- segments:
		return
	default:
	}
	t := time.NewTimer(c.timeout)
	defer t.Stop()
	select {
	case c.ch <- segments:
	case <-t.C:
		c.dropped.Add(1)
	}
}

// Dropped returns the number of batches dropped so far.
func (c *Chan) Dropped() int64 {
	return c.dropped.Load()
}

// Close closes the channel. Later batches are dropped.
func (c *Chan) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
}
