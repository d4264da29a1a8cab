package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/raushankrgupta/tryon-orchestrator/models"
	"github.com/raushankrgupta/tryon-orchestrator/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyStore struct {
	*MemoryStore
	mu        sync.Mutex
	failWrite bool
	failRead  bool
	writes    int
}

func (s *flakyStore) ReadBalance(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	fail := s.failRead
	s.mu.Unlock()
	if fail {
		return 0, errors.New("connection reset")
	}
	return s.MemoryStore.ReadBalance(ctx, userID)
}

func (s *flakyStore) AdjustBalance(ctx context.Context, userID string, delta int64) (int64, error) {
	s.mu.Lock()
	s.writes++
	fail := s.failWrite
	s.mu.Unlock()
	if fail {
		return 0, errors.New("write concern timeout")
	}
	return s.MemoryStore.AdjustBalance(ctx, userID, delta)
}

func (s *flakyStore) setFailWrite(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrite = fail
}

func newTestLedger(balances map[string]int64) (*Ledger, *flakyStore, *MemoryJournal) {
	store := &flakyStore{MemoryStore: NewMemoryStore(balances)}
	journal := &MemoryJournal{}
	return New(store, journal, utils.DiscardLogger()), store, journal
}

func TestDebit_Success(t *testing.T) {
	l, store, journal := newTestLedger(map[string]int64{"u1": 100})

	balance, err := l.Debit(context.Background(), "u1", 25, "task-1")
	require.NoError(t, err)
	assert.Equal(t, int64(75), balance)

	durable, err := store.MemoryStore.ReadBalance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(75), durable)

	entries := journal.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, models.EntryDebit, entries[0].Type)
	assert.Equal(t, "task-1", entries[0].Reference)
	assert.Equal(t, int64(75), entries[0].BalanceAfter)
}

func TestDebit_InsufficientFunds(t *testing.T) {
	l, store, _ := newTestLedger(map[string]int64{"u1": 20})

	_, err := l.Debit(context.Background(), "u1", 25, "task-1")
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, 0, store.writes)

	balance, err := l.Balance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), balance)
}

func TestDebit_RollsBackOnWriteFailure(t *testing.T) {
	l, store, journal := newTestLedger(map[string]int64{"u1": 30})
	store.failWrite = true

	_, err := l.Debit(context.Background(), "u1", 25, "task-1")
	require.ErrorIs(t, err, ErrPersistence)

	balance, err := l.Balance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(30), balance)
	assert.Empty(t, journal.Entries())
}

func TestCredit_KeepsVisibleBalanceOnWriteFailure(t *testing.T) {
	l, store, _ := newTestLedger(map[string]int64{"u1": 5})
	_, err := l.Balance(context.Background(), "u1")
	require.NoError(t, err)

	store.failWrite = true
	balance, err := l.Credit(context.Background(), "u1", 25, "task-1")
	require.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, int64(30), balance)

	visible, err := l.Balance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(30), visible)
}

func TestRejectsNonPositiveAmounts(t *testing.T) {
	l, _, _ := newTestLedger(map[string]int64{"u1": 10})

	_, err := l.Debit(context.Background(), "u1", 0, "")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = l.Credit(context.Background(), "u1", -5, "")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestBalance_UnknownUser(t *testing.T) {
	l, _, _ := newTestLedger(nil)

	_, err := l.Balance(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestBalance_ReadFailureIsPersistenceError(t *testing.T) {
	l, store, _ := newTestLedger(map[string]int64{"u1": 10})
	store.failRead = true

	_, err := l.Debit(context.Background(), "u1", 5, "")
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestSubscribe_ObservesEveryMutation(t *testing.T) {
	l, _, _ := newTestLedger(map[string]int64{"u1": 100})

	var seen []int64
	l.Subscribe(func(userID string, balance int64) {
		assert.Equal(t, "u1", userID)
		seen = append(seen, balance)
	})

	_, err := l.Debit(context.Background(), "u1", 25, "t1")
	require.NoError(t, err)
	_, err = l.Credit(context.Background(), "u1", 25, "t1")
	require.NoError(t, err)

	assert.Equal(t, []int64{75, 100}, seen)
}

func TestDebit_ConcurrentNeverOverdraws(t *testing.T) {
	l, _, _ := newTestLedger(map[string]int64{"u1": 100})

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Debit(context.Background(), "u1", 25, ""); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, succeeded)
	balance, err := l.Balance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestDebit_InstancesSharingStoreKeepEveryDebit(t *testing.T) {
	store := NewMemoryStore(map[string]int64{"u1": 100})
	a := New(store, nil, utils.DiscardLogger())
	b := New(store, nil, utils.DiscardLogger())
	ctx := context.Background()

	_, err := a.Balance(ctx, "u1")
	require.NoError(t, err)
	_, err = b.Balance(ctx, "u1")
	require.NoError(t, err)

	balance, err := a.Debit(ctx, "u1", 25, "task-a")
	require.NoError(t, err)
	assert.Equal(t, int64(75), balance)

	balance, err = b.Debit(ctx, "u1", 25, "task-b")
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance, "stale cache is replaced by the durable result")

	durable, err := store.ReadBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), durable)

	visible, err := a.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), visible)
}

func TestDebit_StaleCacheCannotOverspend(t *testing.T) {
	store := NewMemoryStore(map[string]int64{"u1": 30})
	a := New(store, nil, utils.DiscardLogger())
	b := New(store, nil, utils.DiscardLogger())
	ctx := context.Background()

	_, err := b.Balance(ctx, "u1")
	require.NoError(t, err)

	_, err = a.Debit(ctx, "u1", 25, "task-a")
	require.NoError(t, err)

	balance, err := b.Debit(ctx, "u1", 25, "task-b")
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, int64(5), balance)

	durable, err := store.ReadBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), durable)
}

func TestDebit_SeesCreditFromAnotherInstance(t *testing.T) {
	store := NewMemoryStore(map[string]int64{"u1": 10})
	a := New(store, nil, utils.DiscardLogger())
	b := New(store, nil, utils.DiscardLogger())
	ctx := context.Background()

	_, err := a.Balance(ctx, "u1")
	require.NoError(t, err)
	_, err = b.Credit(ctx, "u1", 25, "refund")
	require.NoError(t, err)

	balance, err := a.Debit(ctx, "u1", 25, "task-a")
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)
}

func TestCredit_PendingCreditPersistedOnNextMutation(t *testing.T) {
	l, store, _ := newTestLedger(map[string]int64{"u1": 5})
	ctx := context.Background()

	store.setFailWrite(true)
	_, err := l.Credit(ctx, "u1", 25, "task-1")
	require.ErrorIs(t, err, ErrPersistence)

	store.setFailWrite(false)
	balance, err := l.Debit(ctx, "u1", 10, "task-2")
	require.NoError(t, err)
	assert.Equal(t, int64(20), balance)

	durable, err := store.MemoryStore.ReadBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), durable)
}
