package ledger

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps entries in process memory. Entries are lost on exit.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*Entry
	closed  bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Record stores a copy of entry.
func (s *MemoryStore) Record(ctx context.Context, entry *Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	e := *entry
	s.entries = append(s.entries, &e)
	return nil
}

// matching returns copies of matching entries sorted by the query order.
func (s *MemoryStore) matching(q *Query) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var out []*Entry
	for _, e := range s.entries {
		if q.matches(e) {
			c := *e
			out = append(out, &c)
		}
	}

	oldest := q != nil && q.Oldest
	sort.SliceStable(out, func(i, j int) bool {
		if oldest {
			return out[i].Time.Before(out[j].Time)
		}
		return out[i].Time.After(out[j].Time)
	})
	return out, nil
}

// Query returns the entries matching q, newest first unless q.Oldest is set.
func (s *MemoryStore) Query(ctx context.Context, q *Query) ([]*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := s.matching(q)
	if err != nil {
		return nil, err
	}
	if q == nil {
		return out, nil
	}

	if q.Offset >= len(out) {
		return []*Entry{}, nil
	}
	out = out[q.Offset:]
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	return out, nil
}

// Count returns the number of entries matching q.
func (s *MemoryStore) Count(ctx context.Context, q *Query) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrStoreClosed
	}

	var n int64
	for _, e := range s.entries {
		if q.matches(e) {
			n++
		}
	}
	return n, nil
}

// Delete removes the entries matching q and returns how many were removed.
func (s *MemoryStore) Delete(ctx context.Context, q *Query) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}

	kept := s.entries[:0]
	var deleted int64
	for _, e := range s.entries {
		if q.matches(e) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(s.entries); i++ {
		s.entries[i] = nil
	}
	s.entries = kept
	return deleted, nil
}

// Summary aggregates the entries matching q per model.
func (s *MemoryStore) Summary(ctx context.Context, q *Query) ([]Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	byModel := make(map[string]*Summary)
	for _, e := range s.entries {
		if !q.matches(e) {
			continue
		}
		sum, ok := byModel[e.Model]
		if !ok {
			sum = &Summary{Model: e.Model}
			byModel[e.Model] = sum
		}
		sum.add(e)
	}

	out := make([]Summary, 0, len(byModel))
	for _, sum := range byModel {
		out = append(out, *sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out, nil
}

// Close marks the store closed. Later calls return ErrStoreClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.entries = nil
	return nil
}

func (sum *Summary) add(e *Entry) {
	sum.Requests++
	if e.Error != "" {
		sum.Errors++
	}
	if e.Canceled {
		sum.Canceled++
	}
	sum.PromptTokens += e.PromptTokens
	sum.CompletionTokens += e.CompletionTokens
	sum.CachedTokens += e.CachedTokens
	sum.ReasoningTokens += e.ReasoningTokens
	sum.BytesForwarded += e.BytesForwarded
}
