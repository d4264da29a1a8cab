package ledger

import (
	"context"
	"sync"

	"github.com/raushankrgupta/tryon-orchestrator/models"
)

// MemoryStore is a process-local Store, used for local runs and tests.
type MemoryStore struct {
	mu       sync.Mutex
	balances map[string]int64
}

func NewMemoryStore(initial map[string]int64) *MemoryStore {
	balances := make(map[string]int64, len(initial))
	for k, v := range initial {
		balances[k] = v
	}
	return &MemoryStore{balances: balances}
}

func (s *MemoryStore) ReadBalance(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	balance, ok := s.balances[userID]
	if !ok {
		return 0, ErrUserNotFound
	}
	return balance, nil
}

func (s *MemoryStore) AdjustBalance(_ context.Context, userID string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	balance, ok := s.balances[userID]
	if !ok {
		return 0, ErrUserNotFound
	}
	if balance+delta < 0 {
		return balance, ErrInsufficientFunds
	}
	balance += delta
	s.balances[userID] = balance
	return balance, nil
}

// MemoryJournal keeps ledger entries in memory.
type MemoryJournal struct {
	mu      sync.Mutex
	entries []models.LedgerEntry
}

func (j *MemoryJournal) Record(_ context.Context, entry models.LedgerEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries = append(j.entries, entry)
	return nil
}

// Entries returns a copy of the recorded entries.
func (j *MemoryJournal) Entries() []models.LedgerEntry {
	j.mu.Lock()
	defer j.mu.Unlock()

	return append([]models.LedgerEntry(nil), j.entries...)
}
