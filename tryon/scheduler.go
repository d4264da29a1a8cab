package tryon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/raushankrgupta/tryon-orchestrator/models"
	"github.com/sirupsen/logrus"
)

// StatusChecker queries the provider for the progress of a submitted task.
type StatusChecker interface {
	CheckStatus(ctx context.Context, providerTaskID string) (models.StatusReport, error)
}

// Poll is the state of one polling run. It is a value; Advance returns the next one.
type Poll struct {
	State       models.TaskState
	Attempts    int
	MaxAttempts int
	Media       []string
	Error       string
}

// NewPoll starts a run in Polling with no attempts made.
func NewPoll(maxAttempts int) Poll {
	return Poll{State: models.StatePolling, MaxAttempts: maxAttempts}
}

// Done reports whether the run reached a terminal state.
func (p Poll) Done() bool {
	return p.State != models.StatePolling
}

// Advance applies the result of one status check. A check error leaves the
// run in Polling; only the attempt budget ends it.
func (p Poll) Advance(report models.StatusReport, checkErr error) Poll {
	if p.Done() {
		return p
	}
	p.Attempts++

	if checkErr == nil {
		switch report.Status {
		case models.ProviderCompleted:
			if len(report.ResultMedia) > 0 {
				p.State = models.StateCompleted
				p.Media = append([]string(nil), report.ResultMedia...)
				return p
			}
			p.State = models.StateFailed
			p.Error = "provider returned no result media"
			return p
		case models.ProviderFailed:
			p.State = models.StateFailed
			p.Error = report.Error
			if p.Error == "" {
				p.Error = "provider reported failure"
			}
			return p
		}
	}

	if p.Attempts >= p.MaxAttempts {
		p.State = models.StateTimedOut
	}
	return p
}

// Scheduler drives one task's Poll on a fixed interval. Once Cancel is called
// no further tick acts on the task.
type Scheduler struct {
	checker  StatusChecker
	interval time.Duration
	logger   logrus.FieldLogger

	// OnTick runs after every acted-on tick with the new state and the check error, if any.
	OnTick func(p Poll, checkErr error)

	cancelOnce sync.Once
	cancel     chan struct{}
}

func NewScheduler(checker StatusChecker, interval time.Duration, logger logrus.FieldLogger) *Scheduler {
	return &Scheduler{
		checker:  checker,
		interval: interval,
		logger:   logger,
		cancel:   make(chan struct{}),
	}
}

// Cancel stops the scheduler. It is safe to call more than once.
func (s *Scheduler) Cancel() {
	s.cancelOnce.Do(func() { close(s.cancel) })
}

// Canceled reports whether Cancel was called.
func (s *Scheduler) Canceled() bool {
	select {
	case <-s.cancel:
		return true
	default:
		return false
	}
}

// Tick performs one status check and advances p. A result that arrives after
// cancellation is discarded.
func (s *Scheduler) Tick(ctx context.Context, providerTaskID string, p Poll) (Poll, error) {
	if s.Canceled() {
		return p, ErrCanceled
	}

	report, checkErr := s.checker.CheckStatus(ctx, providerTaskID)
	if s.Canceled() {
		return p, ErrCanceled
	}

	next := p.Advance(report, checkErr)
	if checkErr != nil {
		s.logger.WithError(checkErr).WithFields(logrus.Fields{
			"provider_task_id": providerTaskID,
			"attempt":          next.Attempts,
		}).Warn("status check failed, will retry on next tick")
	}
	if s.OnTick != nil {
		s.OnTick(next, checkErr)
	}
	return next, nil
}

// Run ticks until the poll is terminal, the budget is spent, or the scheduler
// or ctx is canceled.
func (s *Scheduler) Run(ctx context.Context, providerTaskID string, maxAttempts int) (Poll, error) {
	p := NewPoll(maxAttempts)
	if maxAttempts <= 0 {
		return p, fmt.Errorf("%w: attempt budget must be positive", ErrInvalidRequest)
	}

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Cancel()
			return p, fmt.Errorf("%w: %v", ErrCanceled, ctx.Err())
		case <-s.cancel:
			return p, ErrCanceled
		case <-timer.C:
		}

		var err error
		p, err = s.Tick(ctx, providerTaskID, p)
		if err != nil {
			return p, err
		}
		if p.Done() {
			return p, nil
		}
		timer.Reset(s.interval)
	}
}
