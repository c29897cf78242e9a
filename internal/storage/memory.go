package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is the default SeenStore when no persistence backend is
// configured. State is lost on restart, which the in-process dedup window
// mostly papers over.
type MemoryStore struct {
	mu   sync.Mutex
	seen map[string]NotifiedDeal
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[string]NotifiedDeal)}
}

func (s *MemoryStore) LastNotified(_ context.Context, id string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deal, ok := s.seen[id]
	if !ok {
		return time.Time{}, false, nil
	}
	return deal.NotifiedAt, true, nil
}

func (s *MemoryStore) MarkNotified(_ context.Context, deal NotifiedDeal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[deal.ID]; ok {
		return nil
	}
	s.seen[deal.ID] = deal
	return nil
}

func (s *MemoryStore) TrimOld(_ context.Context, max int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.seen) <= max {
		return nil
	}
	deals := make([]NotifiedDeal, 0, len(s.seen))
	for _, d := range s.seen {
		deals = append(deals, d)
	}
	sort.Slice(deals, func(i, j int) bool {
		return deals[i].NotifiedAt.Before(deals[j].NotifiedAt)
	})
	for _, d := range deals[:len(deals)-max] {
		delete(s.seen, d.ID)
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }
