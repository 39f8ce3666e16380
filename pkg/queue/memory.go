package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a Store kept in memory, for development and tests.
type MemoryStore struct {
	mu      sync.Mutex
	nextID  int64
	entries map[int64]*Entry
	now     func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[int64]*Entry), now: time.Now}
}

func (s *MemoryStore) Add(_ context.Context, entry Entry) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	now := s.now()
	entry.ID = s.nextID
	entry.Status = StatusWaiting
	entry.OriginalMemberNumber = ""
	entry.MemberNumberSource = ""
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now
	s.entries[entry.ID] = &entry
	added := entry
	return &added, nil
}

func (s *MemoryStore) filter(keep func(*Entry) bool, less func(a, b *Entry) bool) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Entry{}
	for _, e := range s.entries {
		if keep(e) {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return less(&out[i], &out[j])
	})
	return out
}

func (s *MemoryStore) Waiting(_ context.Context) ([]Entry, error) {
	return s.filter((*Entry).Waiting, func(a, b *Entry) bool {
		return a.CreatedAt.Before(b.CreatedAt)
	}), nil
}

func (s *MemoryStore) Handled(_ context.Context) ([]Entry, error) {
	return s.filter(func(e *Entry) bool { return !e.Waiting() }, func(a, b *Entry) bool {
		return a.CreatedAt.After(b.CreatedAt)
	}), nil
}

func (s *MemoryStore) WaitingCount(ctx context.Context) (int, error) {
	waiting, _ := s.Waiting(ctx)
	return len(waiting), nil
}

func (s *MemoryStore) Get(_ context.Context, id int64) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *e
	return &c, nil
}

func (s *MemoryStore) update(id int64, fn func(*Entry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}
	fn(e)
	e.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) SetMemberNumber(_ context.Context, id int64, number, source string) error {
	return s.update(id, func(e *Entry) {
		if !e.Overridden() {
			e.OriginalMemberNumber = e.MemberNumber
		}
		e.MemberNumber = number
		e.MemberNumberSource = source
	})
}

func (s *MemoryStore) RevertMemberNumber(_ context.Context, id int64) error {
	return s.update(id, func(e *Entry) {
		if e.Overridden() {
			e.MemberNumber = e.OriginalMemberNumber
		}
		e.OriginalMemberNumber = ""
		e.MemberNumberSource = ""
	})
}

func (s *MemoryStore) MarkHandled(_ context.Context, id int64) error {
	return s.update(id, func(e *Entry) {
		e.Status = StatusHandled
	})
}
