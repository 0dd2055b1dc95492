// Package model keeps at most one speech model resident, loading it on first
// use and unloading it after a period of disuse or when the selection changes.
package model

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultIdleTimeout   = 300 * time.Second
	DefaultSweepInterval = 30 * time.Second
)

// Selection identifies the model to load and the compute device to load it on.
type Selection struct {
	Model  string `json:"model"`
	Device string `json:"device"`
}

func (s Selection) String() string {
	return s.Model + "@" + s.Device
}

// Request is one inference call against a loaded model.
type Request struct {
	AudioPath string
	Language  string
	Task      string
}

type Handle interface {
	Transcribe(ctx context.Context, req Request) (string, error)
	Close() error
}

type Loader interface {
	Load(ctx context.Context, sel Selection) (Handle, error)
}

type LoaderFunc func(ctx context.Context, sel Selection) (Handle, error)

func (f LoaderFunc) Load(ctx context.Context, sel Selection) (Handle, error) {
	return f(ctx, sel)
}

type LoadError struct {
	Selection Selection
	Err       error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load model %s on %s: %v", e.Selection.Model, e.Selection.Device, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

type Options struct {
	Loader        Loader
	Selection     Selection
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	// Reclaim runs after a handle is released. Defaults to debug.FreeOSMemory.
	Reclaim func()
	Now     func() time.Time
	Logger  *zap.Logger
}

type resident struct {
	handle   Handle
	sel      Selection
	loadedAt time.Time
	lastUsed time.Time
	refs     int
	retired  bool
}

type loadCall struct {
	done chan struct{}
	gen  uint64
	err  error
}

type Manager struct {
	loader        Loader
	idleTimeout   time.Duration
	sweepInterval time.Duration
	reclaim       func()
	now           func() time.Time
	logger        *zap.Logger

	mu      sync.Mutex
	sel     Selection
	gen     uint64
	cur     *resident
	loading *loadCall
}

func NewManager(opts Options) *Manager {
	m := &Manager{
		loader:        opts.Loader,
		sel:           opts.Selection,
		idleTimeout:   opts.IdleTimeout,
		sweepInterval: opts.SweepInterval,
		reclaim:       opts.Reclaim,
		now:           opts.Now,
		logger:        opts.Logger,
	}
	if m.idleTimeout <= 0 {
		m.idleTimeout = DefaultIdleTimeout
	}
	if m.sweepInterval <= 0 {
		m.sweepInterval = DefaultSweepInterval
	}
	if m.reclaim == nil {
		m.reclaim = debug.FreeOSMemory
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	return m
}

// Lease is a checkout of the resident handle. The handle is never evicted
// while a lease is outstanding.
type Lease struct {
	m    *Manager
	r    *resident
	once sync.Once
}

func (l *Lease) Handle() Handle {
	return l.r.handle
}

func (l *Lease) Selection() Selection {
	return l.r.sel
}

func (l *Lease) Release() {
	l.once.Do(func() {
		l.m.release(l.r)
	})
}

// Acquire returns a lease on the handle for the current selection, loading it
// first if nothing is resident.
func (m *Manager) Acquire(ctx context.Context) (*Lease, error) {
	return m.ensure(ctx, true)
}

// EnsureLoaded loads the current selection if needed without checking it out.
func (m *Manager) EnsureLoaded(ctx context.Context) error {
	_, err := m.ensure(ctx, false)
	return err
}

func (m *Manager) ensure(ctx context.Context, checkout bool) (*Lease, error) {
	for {
		m.mu.Lock()
		if r := m.cur; r != nil {
			r.lastUsed = m.now()
			var lease *Lease
			if checkout {
				r.refs++
				lease = &Lease{m: m, r: r}
			}
			m.mu.Unlock()
			return lease, nil
		}

		if call := m.loading; call != nil {
			m.mu.Unlock()
			select {
			case <-call.done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			if call.err != nil && !m.superseded(call) {
				return nil, call.err
			}
			continue
		}

		call := &loadCall{done: make(chan struct{}), gen: m.gen}
		sel := m.sel
		m.loading = call
		m.mu.Unlock()

		m.load(ctx, call, sel)
		if call.err != nil && !m.superseded(call) {
			return nil, call.err
		}
	}
}

func (m *Manager) superseded(call *loadCall) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return call.gen != m.gen
}

// load runs without the lock held. The caller's cancellation does not abort
// it, since other callers may be waiting on the same load.
func (m *Manager) load(ctx context.Context, call *loadCall, sel Selection) {
	defer close(call.done)

	started := time.Now()
	if m.loader == nil {
		m.mu.Lock()
		m.loading = nil
		m.mu.Unlock()
		call.err = &LoadError{Selection: sel, Err: fmt.Errorf("no model loader configured")}
		return
	}
	handle, err := m.loader.Load(context.WithoutCancel(ctx), sel)

	m.mu.Lock()
	m.loading = nil
	if err != nil {
		m.mu.Unlock()
		call.err = &LoadError{Selection: sel, Err: err}
		m.logger.Error("model load failed", zap.Stringer("selection", sel), zap.Error(err))
		return
	}
	if call.gen != m.gen {
		m.mu.Unlock()
		m.logger.Info("discarding model loaded for stale selection", zap.Stringer("selection", sel))
		m.closeHandle(handle, sel)
		return
	}

	now := m.now()
	m.cur = &resident{handle: handle, sel: sel, loadedAt: now, lastUsed: now}
	m.mu.Unlock()

	m.logger.Info("model loaded", zap.Stringer("selection", sel), zap.Duration("took", time.Since(started)))
}

func (m *Manager) release(r *resident) {
	m.mu.Lock()
	r.refs--
	r.lastUsed = m.now()
	closeNow := r.retired && r.refs == 0
	m.mu.Unlock()

	if closeNow {
		m.closeHandle(r.handle, r.sel)
		m.reclaim()
	}
}

// Select records a new selection and drops the resident handle without
// loading. A handle still checked out is closed when its last lease ends.
// Update rewrites the selection under the lock, so concurrent changes to the
// model and the device compose. The resident handle is retired only when the
// result differs from the current selection.
func (m *Manager) Update(fn func(Selection) Selection) bool {
	m.mu.Lock()
	next := fn(m.sel)
	if next == m.sel {
		m.mu.Unlock()
		return false
	}
	m.sel = next
	m.gen++
	old := m.drop()
	m.mu.Unlock()

	m.logger.Info("model selection changed", zap.Stringer("selection", next))
	if old != nil {
		m.closeHandle(old.handle, old.sel)
		m.reclaim()
	}
	return true
}

// drop must be called with mu held. It returns the resident handle when it
// can be closed immediately.
func (m *Manager) drop() *resident {
	r := m.cur
	m.cur = nil
	if r == nil {
		return nil
	}
	r.retired = true
	if r.refs > 0 {
		return nil
	}
	return r
}

func (m *Manager) Selection() Selection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sel
}

// Sweep evicts the resident handle when it is not checked out and has been
// idle for longer than the idle timeout. It reports whether it evicted.
func (m *Manager) Sweep() bool {
	m.mu.Lock()
	r := m.cur
	if r == nil || r.refs > 0 || m.now().Sub(r.lastUsed) <= m.idleTimeout {
		m.mu.Unlock()
		return false
	}
	m.cur = nil
	r.retired = true
	idle := m.now().Sub(r.lastUsed)
	m.mu.Unlock()

	m.logger.Info("unloading idle model", zap.Stringer("selection", r.sel), zap.Duration("idle", idle))
	m.closeHandle(r.handle, r.sel)
	m.reclaim()
	return true
}

// Run sweeps on a fixed interval until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Close unloads the resident handle, if any.
func (m *Manager) Close() {
	m.mu.Lock()
	m.gen++
	old := m.drop()
	m.mu.Unlock()

	if old != nil {
		m.closeHandle(old.handle, old.sel)
	}
}

type Status struct {
	Selection Selection `json:"selection"`
	Loaded    bool      `json:"loaded"`
	Loading   bool      `json:"loading"`
	InUse     int       `json:"in_use"`
	LoadedAt  time.Time `json:"loaded_at,omitzero"`
	LastUsed  time.Time `json:"last_used,omitzero"`
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{Selection: m.sel, Loading: m.loading != nil}
	if r := m.cur; r != nil {
		st.Loaded = true
		st.InUse = r.refs
		st.LoadedAt = r.loadedAt
		st.LastUsed = r.lastUsed
	}
	return st
}

func (m *Manager) closeHandle(h Handle, sel Selection) {
	if err := h.Close(); err != nil {
		m.logger.Warn("close model handle", zap.Stringer("selection", sel), zap.Error(err))
	}
}
