package bot

import (
	"sync"

	"feedbot/internal/feed"
)

// Session is the conversation state of one subscriber while adding a feed.
type Session struct {
	// AwaitingURL is set by /add until /confirm or /cancel.
	AwaitingURL bool
	// Candidate is the validated feed URL waiting for /confirm.
	Candidate string
	Top       feed.Post
}

// Sessions maps subscribers to their pending conversation state.
type Sessions struct {
	mu sync.Mutex
	m  map[int64]Session
}

func NewSessions() *Sessions {
	return &Sessions{m: map[int64]Session{}}
}

func (s *Sessions) Get(id int64) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[id]
	return v, ok
}

func (s *Sessions) Put(id int64, v Session) {
	s.mu.Lock()
	s.m[id] = v
	s.mu.Unlock()
}

func (s *Sessions) Delete(id int64) {
	s.mu.Lock()
	delete(s.m, id)
	s.mu.Unlock()
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}
