package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/clawinfra/pilink/internal/orchestrator"
)

// MemoryStore is an in-process Store. Sessions idle past the TTL are
// dropped on next access.
type MemoryStore struct {
	mu          sync.Mutex
	sessions    map[string]*memorySession
	ttl         time.Duration
	maxMessages int
	now         func() time.Time
}

type memorySession struct {
	msgs    []orchestrator.ChatMessage
	touched time.Time
}

// NewMemoryStore creates a store. Zero ttl or maxMessages means unlimited.
func NewMemoryStore(ttl time.Duration, maxMessages int) *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[string]*memorySession),
		ttl:         ttl,
		maxMessages: maxMessages,
		now:         time.Now,
	}
}

func (s *MemoryStore) History(_ context.Context, id string) ([]orchestrator.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.live(id)
	if sess == nil {
		return []orchestrator.ChatMessage{}, nil
	}
	return append([]orchestrator.ChatMessage(nil), sess.msgs...), nil
}

func (s *MemoryStore) Append(_ context.Context, id string, msgs ...orchestrator.ChatMessage) error {
	kept := keep(msgs)
	if len(kept) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.live(id)
	if sess == nil {
		sess = &memorySession{}
		s.sessions[id] = sess
	}
	sess.msgs = append(sess.msgs, kept...)
	if s.maxMessages > 0 && len(sess.msgs) > s.maxMessages {
		sess.msgs = append([]orchestrator.ChatMessage(nil), sess.msgs[len(sess.msgs)-s.maxMessages:]...)
	}
	sess.touched = s.now()
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Len returns the number of live sessions.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id := range s.sessions {
		if s.live(id) != nil {
			n++
		}
	}
	return n
}

// live returns the session or nil, expiring it if idle. Caller holds mu.
func (s *MemoryStore) live(id string) *memorySession {
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	if s.ttl > 0 && s.now().Sub(sess.touched) > s.ttl {
		delete(s.sessions, id)
		return nil
	}
	return sess
}
