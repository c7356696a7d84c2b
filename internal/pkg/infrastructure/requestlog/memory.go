package requestlog

import (
	"context"
	"sync"
)

//RingSink keeps the last N entries in memory
type RingSink struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
}

//NewRingSink creates a ring buffer holding at most capacity entries
func NewRingSink(capacity int) *RingSink {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingSink{entries: make([]Entry, capacity)}
}

//Record stores the entry, overwriting the oldest one when the buffer is full
func (s *RingSink) Record(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[s.next] = entry
	s.next = (s.next + 1) % len(s.entries)
	if s.next == 0 {
		s.full = true
	}
	return nil
}

func (s *RingSink) Recent(_ context.Context, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := s.next
	if s.full {
		count = len(s.entries)
	}
	if limit > 0 && limit < count {
		count = limit
	}

	out := make([]Entry, 0, count)
	idx := s.next
	for i := 0; i < count; i++ {
		idx = (idx - 1 + len(s.entries)) % len(s.entries)
		out = append(out, s.entries[idx])
	}
	return out, nil
}

//Len returns the number of retained entries
func (s *RingSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return len(s.entries)
	}
	return s.next
}
