package runtime

import (
	"sync"

	"github.com/suraboy/weather-insight/internal/types"
)

// Snapshot is the presentation view of a session.
type Snapshot struct {
	Messages []types.Message `json:"messages"`
	Busy     bool            `json:"busy"`
}

// Store is a session's ordered message history and busy flag. Messages are
// only ever appended; only the loop controller writes.
type Store struct {
	mu       sync.Mutex
	messages []types.Message
	busy     bool
	subs     map[int]func(Snapshot)
	nextSub  int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{subs: make(map[int]func(Snapshot))}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		Messages: append([]types.Message(nil), s.messages...),
		Busy:     s.busy,
	}
}

// Busy reports whether a turn is in progress.
func (s *Store) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Len returns the number of stored messages.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Subscribe registers fn to be called with a snapshot after every change.
// Callbacks run on the goroutine that made the change, so they must not
// block for long. The returned function removes the subscription.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store) append(msg types.Message) {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.publishLocked()
}

// tryBegin sets busy if it was clear and reports whether it did.
func (s *Store) tryBegin() bool {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return false
	}
	s.busy = true
	s.publishLocked()
	return true
}

func (s *Store) end() {
	s.mu.Lock()
	s.busy = false
	s.publishLocked()
}

func (s *Store) clearSubscribers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = make(map[int]func(Snapshot))
}

// publishLocked releases s.mu and notifies subscribers outside the lock.
func (s *Store) publishLocked() {
	snap := s.snapshotLocked()
	fns := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}
