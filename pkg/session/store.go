package session

import (
	"slices"
	"sync"
	"time"
)

// RemoveFunc runs before a session leaves the store. It is called with the
// store lock held and must not call back into the store.
type RemoveFunc func(key string)

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithRemoveHook registers the hook that releases per-chat resources (the
// reminder timer) before a session is deleted.
func WithRemoveHook(fn RemoveFunc) StoreOption {
	return func(s *Store) {
		s.onRemove = fn
	}
}

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store is the in-memory session map.
type Store struct {
	now      func() time.Time
	onRemove RemoveFunc

	mu       sync.RWMutex
	sessions map[string]*ChatSession
	nextSeq  uint64
}

// NewStore builds an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		now:      time.Now,
		sessions: make(map[string]*ChatSession),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// GetOrCreate returns the chat's session, creating it on first sight.
func (s *Store) GetOrCreate(addr Address) (*ChatSession, bool) {
	key := addr.Key()

	s.mu.RLock()
	sess, ok := s.sessions[key]
	s.mu.RUnlock()
	if ok {
		return sess, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok = s.sessions[key]
	if ok {
		return sess, false
	}

	s.nextSeq++
	sess = &ChatSession{
		Address:   addr,
		Key:       key,
		CreatedAt: s.now(),
		seq:       s.nextSeq,
	}
	s.sessions[key] = sess
	return sess, true
}

// Get looks up a session without creating it.
func (s *Store) Get(key string) (*ChatSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[key]
	return sess, ok
}

// Clear removes one session, releasing its resources first.
func (s *Store) Clear(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[key]; !ok {
		return false
	}

	s.removeLocked(key)
	return true
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// List returns the live sessions, oldest-created first.
func (s *Store) List() []*ChatSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedLocked()
}

// EvictOldest removes oldest-created sessions until at most limit remain and
// returns the evicted keys in eviction order.
func (s *Store) EvictOldest(limit int) []string {
	if limit < 0 {
		limit = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	excess := len(s.sessions) - limit
	if excess <= 0 {
		return nil
	}

	victims := s.sortedLocked()[:excess]
	evicted := make([]string, 0, len(victims))
	for _, sess := range victims {
		s.removeLocked(sess.Key)
		evicted = append(evicted, sess.Key)
	}

	return evicted
}

func (s *Store) removeLocked(key string) {
	if s.onRemove != nil {
		s.onRemove(key)
	}
	delete(s.sessions, key)
}

func (s *Store) sortedLocked() []*ChatSession {
	out := make([]*ChatSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}

	slices.SortFunc(out, func(a, b *ChatSession) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		default:
			return 0
		}
	})

	return out
}
