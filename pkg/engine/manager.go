package engine

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/xkeyC/fl-caption/pkg/audio/capture"
	"github.com/xkeyC/fl-caption/pkg/emitter"
	"github.com/xkeyC/fl-caption/pkg/scope"
)

// Status describes a running session.
type Status struct {
	Handle  scope.Handle `json:"handle"`
	Device  capture.Info `json:"device"`
	Family  string       `json:"family"`
	Started time.Time    `json:"started"`
}

type managed struct {
	inst    *Instance
	started time.Time
}

// Manager launches sessions and stops them by handle.
type Manager struct {
	env Env
	reg *scope.Registry

	mu      sync.Mutex
	running map[scope.Handle]managed
}

// NewManager returns a manager launching sessions in env.
func NewManager(env Env) *Manager {
	return &Manager{
		env:     env.withDefaults(),
		reg:     scope.NewRegistry(),
		running: make(map[scope.Handle]managed),
	}
}

// Start launches a session and returns its handle. The handle is forgotten
// once the session has exited.
func (m *Manager) Start(cfg Config, em emitter.Emitter) (scope.Handle, error) {
	h, sc := m.reg.Create()
	inst, err := Launch(sc, cfg, m.env, emitter.Tag(string(h), em))
	if err != nil {
		m.reg.Remove(h)
		return "", err
	}
	m.mu.Lock()
	m.running[h] = managed{inst: inst, started: time.Now()}
	m.mu.Unlock()

	go func() {
		inst.Wait()
		m.mu.Lock()
		delete(m.running, h)
		m.mu.Unlock()
		m.reg.Remove(h)
	}()
	return h, nil
}

// Stop cancels the session under h and waits for it to exit or for ctx to
// end.
func (m *Manager) Stop(ctx context.Context, h scope.Handle) error {
	m.mu.Lock()
	r, ok := m.running[h]
	m.mu.Unlock()
	if !ok {
		return scope.ErrUnknownHandle
	}
	if err := m.reg.Cancel(h); err != nil {
		return err
	}
	select {
	case <-r.inst.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sessions lists running sessions ordered by start time.
func (m *Manager) Sessions() []Status {
	m.mu.Lock()
	out := make([]Status, 0, len(m.running))
	for h, r := range m.running {
		out = append(out, Status{
			Handle:  h,
			Device:  r.inst.Info(),
			Family:  string(r.inst.Config().Family),
			Started: r.started,
		})
	}
	m.mu.Unlock()
	slices.SortFunc(out, func(a, b Status) int {
		if c := a.Started.Compare(b.Started); c != 0 {
			return c
		}
		return strings.Compare(string(a.Handle), string(b.Handle))
	})
	return out
}

// Shutdown stops every running session.
func (m *Manager) Shutdown(ctx context.Context) error {
	for _, s := range m.Sessions() {
		if err := m.Stop(ctx, s.Handle); err != nil && !errors.Is(err, scope.ErrUnknownHandle) {
			return err
		}
	}
	return nil
}
