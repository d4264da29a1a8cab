// Package ledger owns the spendable try-on balance of every user. All balance
// mutations go through Debit and Credit; nothing else writes the balance.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/raushankrgupta/tryon-orchestrator/models"
	"github.com/sirupsen/logrus"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrPersistence       = errors.New("balance persistence failed")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrUserNotFound      = errors.New("user not found")
)

// Store is the durable home of user balances. It is shared by every instance
// of the service, so balance changes are applied as atomic adjustments rather
// than absolute writes.
type Store interface {
	ReadBalance(ctx context.Context, userID string) (int64, error)
	// AdjustBalance adds delta to the stored balance and returns the result.
	// A delta that would take the balance below zero is rejected with
	// ErrInsufficientFunds, together with the unchanged stored balance.
	AdjustBalance(ctx context.Context, userID string, delta int64) (int64, error)
}

// Journal records applied mutations. Journal failures never fail a mutation.
type Journal interface {
	Record(ctx context.Context, entry models.LedgerEntry) error
}

// Observer is notified with the new visible balance after every applied mutation.
type Observer func(userID string, balance int64)

// Ledger keeps an in-memory balance cache in front of a durable Store.
// Mutations for one user are serialized within the process; the Store guards
// against writers in other processes. Credits the Store refused stay visible
// and are retried on the user's next mutation.
type Ledger struct {
	store   Store
	journal Journal
	logger  logrus.FieldLogger

	mu        sync.Mutex
	cache     map[string]int64
	unsynced  map[string]int64
	locks     map[string]*sync.Mutex
	observers []Observer
}

// New creates a ledger. journal may be nil.
func New(store Store, journal Journal, logger logrus.FieldLogger) *Ledger {
	return &Ledger{
		store:    store,
		journal:  journal,
		logger:   logger,
		cache:    make(map[string]int64),
		unsynced: make(map[string]int64),
		locks:    make(map[string]*sync.Mutex),
	}
}

// Subscribe registers an observer of the visible balance.
func (l *Ledger) Subscribe(fn Observer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observers = append(l.observers, fn)
}

// Balance returns the visible balance. It is re-read from the store so that
// changes made by other instances show up; while the store is unreachable the
// cached value is served.
func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	lock := l.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	balance, err := l.refresh(ctx, userID)
	if err == nil || errors.Is(err, ErrUserNotFound) {
		return balance, err
	}
	if cached, ok := l.cached(userID); ok {
		l.logger.WithField("user_id", userID).WithError(err).Warn("serving cached balance")
		return cached, nil
	}
	return 0, err
}

// Debit removes amount from the user's balance. The store applies the debit
// only if the durable balance still covers it, so a cache that is behind
// another instance can never overspend. If the durable write fails the cached
// balance is restored and ErrPersistence is returned.
func (l *Ledger) Debit(ctx context.Context, userID string, amount int64, reference string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	lock := l.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	l.flushUnsynced(ctx, userID)

	current, err := l.load(ctx, userID)
	if err != nil {
		return 0, err
	}
	if amount > current {
		// Another instance may have credited the user since the cache was filled.
		if fresh, err := l.refresh(ctx, userID); err == nil {
			current = fresh
		}
		if amount > current {
			return current, fmt.Errorf("%w: balance %d, required %d", ErrInsufficientFunds, current, amount)
		}
	}

	l.setCached(userID, current-amount)

	durable, err := l.store.AdjustBalance(ctx, userID, -amount)
	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			visible := l.synced(userID, durable)
			l.logger.WithFields(logrus.Fields{
				"user_id":   userID,
				"amount":    amount,
				"reference": reference,
				"durable":   durable,
			}).Info("debit refused by store, balance spent elsewhere")
			return visible, fmt.Errorf("%w: balance %d, required %d", ErrInsufficientFunds, visible, amount)
		}

		l.setCached(userID, current)
		l.logger.WithFields(logrus.Fields{
			"user_id":   userID,
			"amount":    amount,
			"reference": reference,
		}).WithError(err).Error("debit rolled back after durable write failure")
		if errors.Is(err, ErrUserNotFound) {
			return current, err
		}
		return current, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	next := l.synced(userID, durable)
	l.record(ctx, userID, models.EntryDebit, amount, next, reference)
	l.notify(userID, next)
	return next, nil
}

// Credit adds amount to the user's balance. The cached credit is kept even when
// the durable write fails; that failure is returned as ErrPersistence and the
// credit is written on the user's next mutation.
func (l *Ledger) Credit(ctx context.Context, userID string, amount int64, reference string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	lock := l.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	l.flushUnsynced(ctx, userID)

	current, err := l.load(ctx, userID)
	if err != nil {
		return 0, err
	}

	next := current + amount
	l.setCached(userID, next)

	durable, err := l.store.AdjustBalance(ctx, userID, amount)
	if err != nil {
		l.mu.Lock()
		l.unsynced[userID] += amount
		l.mu.Unlock()

		l.record(ctx, userID, models.EntryCredit, amount, next, reference)
		l.notify(userID, next)
		l.logger.WithFields(logrus.Fields{
			"user_id":   userID,
			"amount":    amount,
			"reference": reference,
		}).WithError(err).Error("credit not persisted, visible balance kept")
		return next, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	next = l.synced(userID, durable)
	l.record(ctx, userID, models.EntryCredit, amount, next, reference)
	l.notify(userID, next)
	return next, nil
}

// flushUnsynced retries credits the store refused earlier. Failures are left
// for the next attempt.
func (l *Ledger) flushUnsynced(ctx context.Context, userID string) {
	l.mu.Lock()
	pending := l.unsynced[userID]
	l.mu.Unlock()
	if pending <= 0 {
		return
	}

	durable, err := l.store.AdjustBalance(ctx, userID, pending)
	if err != nil {
		l.logger.WithField("user_id", userID).WithField("pending", pending).WithError(err).Warn("unpersisted credit still pending")
		return
	}

	l.mu.Lock()
	delete(l.unsynced, userID)
	l.cache[userID] = durable
	l.mu.Unlock()
	l.logger.WithField("user_id", userID).WithField("amount", pending).Info("pending credit persisted")
}

func (l *Ledger) load(ctx context.Context, userID string) (int64, error) {
	if balance, ok := l.cached(userID); ok {
		return balance, nil
	}
	return l.refresh(ctx, userID)
}

// refresh replaces the cached balance with the durable one plus any credit
// still waiting to be persisted.
func (l *Ledger) refresh(ctx context.Context, userID string) (int64, error) {
	balance, err := l.store.ReadBalance(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: read balance: %v", ErrPersistence, err)
	}
	return l.synced(userID, balance), nil
}

// synced caches a balance reported by the store and returns the visible balance.
func (l *Ledger) synced(userID string, durable int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	visible := durable + l.unsynced[userID]
	l.cache[userID] = visible
	return visible
}

func (l *Ledger) cached(userID string) (int64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	balance, ok := l.cache[userID]
	return balance, ok
}

func (l *Ledger) setCached(userID string, balance int64) {
	l.mu.Lock()
	l.cache[userID] = balance
	l.mu.Unlock()
}

func (l *Ledger) userLock(userID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[userID] = lock
	}
	return lock
}

func (l *Ledger) notify(userID string, balance int64) {
	l.mu.Lock()
	observers := append([]Observer(nil), l.observers...)
	l.mu.Unlock()

	for _, fn := range observers {
		fn(userID, balance)
	}
}

func (l *Ledger) record(ctx context.Context, userID string, entryType models.EntryType, amount, balanceAfter int64, reference string) {
	if l.journal == nil {
		return
	}
	entry := models.LedgerEntry{
		UserID:       userID,
		Type:         entryType,
		Amount:       amount,
		BalanceAfter: balanceAfter,
		Reference:    reference,
		CreatedAt:    time.Now(),
	}
	if err := l.journal.Record(ctx, entry); err != nil {
		l.logger.WithField("user_id", userID).WithError(err).Warn("failed to journal ledger entry")
	}
}
