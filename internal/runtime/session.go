package runtime

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/suraboy/weather-insight/internal/tools"
	"github.com/suraboy/weather-insight/internal/types"
	"github.com/suraboy/weather-insight/pkg/llm"
)

// Session is one conversation: its history, its remote model session and
// the dispatcher bound to the surface's navigator. A session whose model
// session failed to open is inert and rejects submissions.
type Session struct {
	ID  types.SessionID
	Key types.SessionKey

	store      *Store
	remote     llm.Session
	openErr    error
	dispatcher *tools.Dispatcher

	mu     sync.Mutex
	cancel context.CancelFunc
	closed atomic.Bool
}

// Snapshot returns the current messages and busy flag.
func (s *Session) Snapshot() Snapshot {
	return s.store.Snapshot()
}

// Messages returns a copy of the history.
func (s *Session) Messages() []types.Message {
	return s.store.Snapshot().Messages
}

// Busy reports whether a turn is in progress.
func (s *Session) Busy() bool {
	return s.store.Busy()
}

// Subscribe registers a presentation callback. See Store.Subscribe.
func (s *Session) Subscribe(fn func(Snapshot)) func() {
	return s.store.Subscribe(fn)
}

// Available reports whether the model session opened.
func (s *Session) Available() bool {
	return s.remote != nil
}

// Err returns the error that made the session inert, if any.
func (s *Session) Err() error {
	return s.openErr
}

// Cancel stops the turn in progress. The controller notices before its next
// suspend point and ends the turn with a cancellation message. Reports
// whether a turn was running.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

// Close cancels any running turn and detaches all subscribers. Later
// submissions return ErrClosed.
func (s *Session) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.Cancel()
	s.store.clearSubscribers()
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

func (s *Session) setCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
}
