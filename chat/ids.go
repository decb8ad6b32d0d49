package chat

import (
	"sync"
	"time"
)

// idSource hands out millisecond timestamps that strictly increase, so the
// user and model messages of one turn never collide.
type idSource struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func (s *idSource) next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.now().UnixMilli()
	if t <= s.last {
		t = s.last + 1
	}
	s.last = t
	return t
}
