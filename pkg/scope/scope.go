// Package scope provides hierarchical cancellation for capture and
// transcription sessions.
//
// A Scope is cancelled when it, or any ancestor, is cancelled. Cancellation
// is permanent. Scopes are safe for concurrent use and are built on
// context.Context so they compose with blocking Go APIs.
package scope

import (
	"context"
)

// Scope is a node in a cancellation tree.
type Scope struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewRoot returns a scope with no parent.
func NewRoot() *Scope {
	return FromContext(context.Background())
}

// FromContext returns a scope cancelled when ctx is done.
func FromContext(ctx context.Context) *Scope {
	ctx, cancel := context.WithCancel(ctx)
	return &Scope{ctx: ctx, cancel: cancel}
}

// Child returns a new scope that is cancelled whenever s is cancelled.
// Cancelling the child does not affect s.
func (s *Scope) Child() *Scope {
	return FromContext(s.ctx)
}

// Cancel cancels s and all of its descendants. It is idempotent.
func (s *Scope) Cancel() {
	s.cancel()
}

// Cancelled reports whether s or an ancestor has been cancelled.
func (s *Scope) Cancelled() bool {
	return s.ctx.Err() != nil
}

// Done returns a channel closed when s is cancelled.
func (s *Scope) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Context returns the context bound to s.
func (s *Scope) Context() context.Context {
	return s.ctx
}
