package tryon

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/raushankrgupta/tryon-orchestrator/ledger"
	"github.com/raushankrgupta/tryon-orchestrator/models"
	"github.com/sirupsen/logrus"
)

// Crediter returns units to a user's balance.
type Crediter interface {
	Credit(ctx context.Context, userID string, amount int64, reference string) (int64, error)
}

// RefundGuard claims a task's refund across processes.
type RefundGuard interface {
	// Acquire reports false when the refund was already claimed elsewhere.
	Acquire(ctx context.Context, taskID string) (bool, error)
	Release(ctx context.Context, taskID string) error
}

// CompensationManager reverses the debit of tasks that did not complete.
// Each task id is credited at most once.
type CompensationManager struct {
	ledger  Crediter
	guard   RefundGuard
	logger  logrus.FieldLogger
	metrics *Metrics

	mu       sync.Mutex
	refunded map[string]struct{}
}

// NewCompensationManager creates a manager. guard and metrics may be nil.
func NewCompensationManager(crediter Crediter, guard RefundGuard, metrics *Metrics, logger logrus.FieldLogger) *CompensationManager {
	return &CompensationManager{
		ledger:   crediter,
		guard:    guard,
		logger:   logger,
		metrics:  metrics,
		refunded: make(map[string]struct{}),
	}
}

func refundable(state models.TaskState) bool {
	return state == models.StateDebited || state == models.StateFailed || state == models.StateTimedOut
}

// Refund credits the task's cost back and moves it to Refunded. Repeated calls
// for the same task are no-ops. If the credit could not be made durable the
// task is still marked Refunded and ErrRefundFailed is returned.
func (c *CompensationManager) Refund(ctx context.Context, task *Task) error {
	rec := task.Snapshot()
	log := c.logger.WithFields(logrus.Fields{
		"task_id": rec.ID,
		"user_id": rec.Request.UserID,
		"state":   rec.State,
	})

	if task.Canceled() {
		return ErrCanceled
	}
	if rec.State == models.StateRefunded {
		return nil
	}
	if !refundable(rec.State) {
		return fmt.Errorf("%w: %s", ErrNotRefundable, rec.State)
	}
	if !c.claim(rec.ID) {
		log.Info("refund already issued, skipping")
		return nil
	}

	if c.guard != nil {
		acquired, err := c.guard.Acquire(ctx, rec.ID)
		switch {
		case err != nil:
			log.WithError(err).Warn("refund guard unavailable, relying on local guard")
		case !acquired:
			log.Info("refund already claimed by another instance, skipping")
			task.transition(models.StateRefunded, nil)
			return nil
		}
	}

	reason := string(rec.State)
	balance, err := c.ledger.Credit(ctx, rec.Request.UserID, rec.Request.Cost, "refund:"+rec.ID)
	if err != nil {
		c.metrics.refundFailed()
		if errors.Is(err, ledger.ErrPersistence) {
			// The visible balance already holds the credit; only the durable copy is behind.
			task.transition(models.StateRefunded, nil)
			log.WithError(err).Error("refund credited locally but not persisted")
			return fmt.Errorf("%w: %v", ErrRefundFailed, err)
		}
		c.unclaim(ctx, rec.ID)
		log.WithError(err).Error("refund credit failed")
		return fmt.Errorf("%w: %v", ErrRefundFailed, err)
	}

	task.transition(models.StateRefunded, nil)
	c.metrics.refunded(reason)
	log.WithFields(logrus.Fields{
		"amount":  rec.Request.Cost,
		"balance": balance,
	}).Info("refund issued")
	return nil
}

func (c *CompensationManager) claim(taskID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.refunded[taskID]; ok {
		return false
	}
	c.refunded[taskID] = struct{}{}
	return true
}

func (c *CompensationManager) unclaim(ctx context.Context, taskID string) {
	c.mu.Lock()
	delete(c.refunded, taskID)
	c.mu.Unlock()

	if c.guard != nil {
		if err := c.guard.Release(ctx, taskID); err != nil {
			c.logger.WithError(err).WithField("task_id", taskID).Warn("release refund guard")
		}
	}
}

// Forget drops the in-process claim of a resolved task. The task's own state
// and the RefundGuard still prevent a second credit.
func (c *CompensationManager) Forget(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.refunded, taskID)
}
