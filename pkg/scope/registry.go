package scope

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrUnknownHandle is returned for handles that were never created or have
// been removed.
var ErrUnknownHandle = errors.New("scope: unknown handle")

// Handle identifies a registered scope.
type Handle string

// Registry maps opaque handles to root scopes. Callers create a handle when
// launching a session and later cancel it by handle alone.
type Registry struct {
	mu     sync.Mutex
	scopes map[Handle]*Scope
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{scopes: make(map[Handle]*Scope)}
}

// Create registers a new root scope and returns its handle.
func (r *Registry) Create() (Handle, *Scope) {
	s := NewRoot()
	h := Handle(uuid.NewString())

	r.mu.Lock()
	r.scopes[h] = s
	r.mu.Unlock()
	return h, s
}

// Lookup returns the scope registered under h.
func (r *Registry) Lookup(h Handle) (*Scope, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.scopes[h]
	return s, ok
}

// Cancel cancels the scope registered under h. The handle stays registered
// until Remove is called.
func (r *Registry) Cancel(h Handle) error {
	s, ok := r.Lookup(h)
	if !ok {
		return ErrUnknownHandle
	}
	s.Cancel()
	return nil
}

// Remove cancels and forgets the scope registered under h.
func (r *Registry) Remove(h Handle) {
	r.mu.Lock()
	s, ok := r.scopes[h]
	delete(r.scopes, h)
	r.mu.Unlock()
	if ok {
		s.Cancel()
	}
}

// Handles returns the currently registered handles in no particular order.
func (r *Registry) Handles() []Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	hs := make([]Handle, 0, len(r.scopes))
	for h := range r.scopes {
		hs = append(hs, h)
	}
	return hs
}

// Len returns the number of registered handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.scopes)
}
