package docstore

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// MemoryStore keeps documents in a map. Used in tests and for ephemeral
// indexes.
type MemoryStore struct {
	*engine
	mu   sync.RWMutex
	rows map[string]record
}

var _ Store = (*MemoryStore)(nil)

// NewMemory returns an empty MemoryStore.
func NewMemory() *MemoryStore {
	s := &MemoryStore{rows: make(map[string]record)}
	s.engine = &engine{b: s}
	return s
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

type memTxn struct {
	rows   map[string]record
	staged map[string]record
}

func (t *memTxn) load(_ context.Context, id string) (*record, error) {
	if r, ok := t.staged[id]; ok {
		return &r, nil
	}
	if r, ok := t.rows[id]; ok {
		return &r, nil
	}
	return nil, nil
}

func (t *memTxn) save(_ context.Context, r record) error {
	t.staged[r.ID] = r
	return nil
}

func (s *MemoryStore) update(ctx context.Context, fn func(tx txn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTxn{rows: s.rows, staged: make(map[string]record)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for id, r := range tx.staged {
		s.rows[id] = r
	}
	return nil
}

func (s *MemoryStore) fetch(_ context.Context, ids []string) (map[string]record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]record, len(ids))
	for _, id := range ids {
		if r, ok := s.rows[id]; ok {
			out[id] = r
		}
	}
	return out, nil
}

func (s *MemoryStore) scan(context.Context) ([]record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]record, 0, len(s.rows))
	for _, r := range s.rows {
		if !r.Deleted {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b record) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}
