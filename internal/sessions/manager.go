// Package sessions owns the live conversation sessions of every surface and
// runs their turns.
package sessions

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/suraboy/weather-insight/internal/runtime"
	"github.com/suraboy/weather-insight/internal/tools"
	"github.com/suraboy/weather-insight/internal/types"
)

var (
	// ErrNotFound is returned when no session matches a key or ID.
	ErrNotFound = errors.New("session not found")
	// ErrStopped is passed to Go callbacks once Stop has begun.
	ErrStopped = errors.New("session manager stopped")
)

// Manager resolves sessions by key and runs turns on them. Turns started
// with Go are cancelled by Stop.
type Manager struct {
	rt *runtime.Runtime

	mu    sync.RWMutex
	byKey map[types.SessionKey]*runtime.Session
	byID  map[types.SessionID]*runtime.Session
	used  map[types.SessionKey]time.Time

	active atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc

	// stopMu orders wg.Add in Go against wg.Wait in Stop.
	stopMu   sync.Mutex
	stopping bool
	wg       sync.WaitGroup
}

// New creates a Manager backed by rt.
func New(rt *runtime.Runtime) *Manager {
	return &Manager{
		rt:    rt,
		byKey: make(map[types.SessionKey]*runtime.Session),
		byID:  make(map[types.SessionID]*runtime.Session),
		used:  make(map[types.SessionKey]time.Time),
	}
}

// Start initialises the manager's context. Must be called before Go.
func (m *Manager) Start(ctx context.Context) {
	m.ctx, m.cancel = context.WithCancel(ctx)
}

// Stop cancels background turns, waits for them and closes every session.
// Go calls made after Stop begins are rejected with ErrStopped.
func (m *Manager) Stop() {
	m.stopMu.Lock()
	m.stopping = true
	m.stopMu.Unlock()

	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for key, sess := range m.byKey {
		sess.Close()
		delete(m.byKey, key)
		delete(m.byID, sess.ID)
		delete(m.used, key)
	}
}

// track registers fn with the wait group unless Stop has begun.
func (m *Manager) track() bool {
	m.stopMu.Lock()
	defer m.stopMu.Unlock()
	if m.stopping {
		return false
	}
	m.wg.Add(1)
	return true
}

// Resolve returns the session for key, creating it with nav on first use.
// The boolean reports whether a new session was created.
func (m *Manager) Resolve(ctx context.Context, key types.SessionKey, nav tools.Navigator) (*runtime.Session, bool) {
	m.mu.RLock()
	sess, ok := m.byKey[key]
	m.mu.RUnlock()
	if ok {
		return sess, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.byKey[key]; ok {
		return sess, false
	}
	sess = m.rt.NewSession(ctx, key, nav)
	m.byKey[key] = sess
	m.byID[sess.ID] = sess
	m.used[key] = time.Now()
	return sess, true
}

// Get returns a session by ID.
func (m *Manager) Get(id types.SessionID) (*runtime.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Lookup returns a session by key.
func (m *Manager) Lookup(key types.SessionKey) (*runtime.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// List returns all live sessions.
func (m *Manager) List() []*runtime.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*runtime.Session, 0, len(m.byID))
	for _, s := range m.byID {
		out = append(out, s)
	}
	return out
}

// Close tears down the session for key.
func (m *Manager) Close(key types.SessionKey) error {
	m.mu.Lock()
	sess, ok := m.byKey[key]
	if ok {
		delete(m.byKey, key)
		delete(m.byID, sess.ID)
		delete(m.used, key)
	}
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	sess.Close()
	slog.Info("session closed", "session", sess.ID, "key", key)
	return nil
}

// Submit runs a turn synchronously.
func (m *Manager) Submit(ctx context.Context, sess *runtime.Session, text string) (*runtime.Turn, error) {
	m.active.Add(1)
	defer m.active.Add(-1)
	m.touch(sess.Key)
	defer m.touch(sess.Key)
	return m.rt.Submit(ctx, sess, text)
}

func (m *Manager) touch(key types.SessionKey) {
	m.mu.Lock()
	if _, ok := m.byKey[key]; ok {
		m.used[key] = time.Now()
	}
	m.mu.Unlock()
}

// Go runs a turn in the background under the manager's context and calls
// done, if non-nil, when it finishes or is rejected.
func (m *Manager) Go(sess *runtime.Session, text string, done func(*runtime.Turn, error)) {
	if !m.track() {
		if done != nil {
			done(nil, ErrStopped)
		}
		return
	}
	go func() {
		defer m.wg.Done()
		turn, err := m.Submit(m.ctx, sess, text)
		if done != nil {
			done(turn, err)
		}
	}()
}

// CloseIdle closes sessions whose key starts with prefix and that have not
// run a turn for maxIdle. Busy sessions are kept. Returns how many closed.
func (m *Manager) CloseIdle(prefix string, maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	m.mu.Lock()
	var idle []*runtime.Session
	for key, sess := range m.byKey {
		if !strings.HasPrefix(string(key), prefix) || sess.Busy() || m.used[key].After(cutoff) {
			continue
		}
		idle = append(idle, sess)
		delete(m.byKey, key)
		delete(m.byID, sess.ID)
		delete(m.used, key)
	}
	m.mu.Unlock()

	for _, sess := range idle {
		sess.Close()
		slog.Info("idle session closed", "session", sess.ID, "key", sess.Key, "max_idle", maxIdle)
	}
	return len(idle)
}

// SweepIdle runs CloseIdle for prefix in the background until Stop.
func (m *Manager) SweepIdle(prefix string, maxIdle time.Duration) {
	if maxIdle <= 0 || !m.track() {
		return
	}
	every := max(min(maxIdle/2, 5*time.Minute), time.Second)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.CloseIdle(prefix, maxIdle)
			case <-m.ctx.Done():
				return
			}
		}
	}()
}

// Active returns the number of turns in progress.
func (m *Manager) Active() int64 {
	return m.active.Load()
}

// WaitIdle blocks until no turns are in progress, or the timeout expires.
// Returns true if idle, false if timed out.
func (m *Manager) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if m.active.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(50 * time.Millisecond):
		}
	}
}
