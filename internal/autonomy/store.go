package autonomy

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store persists the durable autonomy state: the approve/deny lists that
// survive restarts and the budget ledger backing the hourly action and
// daily cost counters.
type Store interface {
	IsApproved(ctx context.Context, tool string) (bool, error)
	Approve(ctx context.Context, tool, approvedBy string) error
	Revoke(ctx context.Context, tool string) error
	ListApproved(ctx context.Context) ([]string, error)

	IsDenied(ctx context.Context, tool string) (bool, error)
	DenyTool(ctx context.Context, tool, deniedBy string) error
	AllowTool(ctx context.Context, tool string) error
	ListDenied(ctx context.Context) ([]string, error)

	RecordAction(ctx context.Context, at time.Time) error
	ActionsSince(ctx context.Context, since time.Time) (int, error)

	RecordCost(ctx context.Context, at time.Time, cents int64) error
	CostSince(ctx context.Context, since time.Time) (int64, error)

	Close() error
}

// MemoryStore is the in-memory Store used for tests and when no state
// path is configured. State does not survive the process.
type MemoryStore struct {
	mu       sync.RWMutex
	approved map[string]string
	denied   map[string]string
	actions  []time.Time
	costs    []costEntry
}

type costEntry struct {
	at    time.Time
	cents int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		approved: make(map[string]string),
		denied:   make(map[string]string),
	}
}

func (s *MemoryStore) IsApproved(_ context.Context, tool string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.approved[tool]
	return ok, nil
}

func (s *MemoryStore) Approve(_ context.Context, tool, approvedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approved[tool] = approvedBy
	return nil
}

func (s *MemoryStore) Revoke(_ context.Context, tool string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.approved, tool)
	return nil
}

func (s *MemoryStore) ListApproved(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tools := make([]string, 0, len(s.approved))
	for tool := range s.approved {
		tools = append(tools, tool)
	}
	sort.Strings(tools)
	return tools, nil
}

func (s *MemoryStore) IsDenied(_ context.Context, tool string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.denied[tool]
	return ok, nil
}

func (s *MemoryStore) DenyTool(_ context.Context, tool, deniedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.denied[tool] = deniedBy
	return nil
}

func (s *MemoryStore) AllowTool(_ context.Context, tool string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.denied, tool)
	return nil
}

func (s *MemoryStore) ListDenied(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tools := make([]string, 0, len(s.denied))
	for tool := range s.denied {
		tools = append(tools, tool)
	}
	sort.Strings(tools)
	return tools, nil
}

func (s *MemoryStore) RecordAction(_ context.Context, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, at)
	s.pruneLocked(at)
	return nil
}

func (s *MemoryStore) ActionsSince(_ context.Context, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, t := range s.actions {
		if !t.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) RecordCost(_ context.Context, at time.Time, cents int64) error {
	if cents <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.costs = append(s.costs, costEntry{at: at, cents: cents})
	return nil
}

func (s *MemoryStore) CostSince(_ context.Context, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, c := range s.costs {
		if !c.at.Before(since) {
			total += c.cents
		}
	}
	return total, nil
}

func (s *MemoryStore) Close() error { return nil }

// pruneLocked drops ledger entries older than the widest window anyone
// queries (48h covers both the hourly and daily counters).
func (s *MemoryStore) pruneLocked(now time.Time) {
	cutoff := now.Add(-48 * time.Hour)
	kept := s.actions[:0]
	for _, t := range s.actions {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.actions = kept
	keptCosts := s.costs[:0]
	for _, c := range s.costs {
		if c.at.After(cutoff) {
			keptCosts = append(keptCosts, c)
		}
	}
	s.costs = keptCosts
}
