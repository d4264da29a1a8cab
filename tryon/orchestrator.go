// Package tryon runs paid asynchronous try-on tasks: it debits the user,
// submits the task to a provider, polls it to a terminal state and then
// either publishes the result or refunds the debit.
package tryon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/raushankrgupta/tryon-orchestrator/ledger"
	"github.com/raushankrgupta/tryon-orchestrator/models"
	"github.com/sirupsen/logrus"
)

// Provider is the personalization backend the orchestrator drives.
type Provider interface {
	Submit(ctx context.Context, req models.TryOnRequest) (string, error)
	StatusChecker
}

// Ledger is the balance authority. Every balance change goes through it.
type Ledger interface {
	Balance(ctx context.Context, userID string) (int64, error)
	Debit(ctx context.Context, userID string, amount int64, reference string) (int64, error)
	Crediter
}

type Config struct {
	Pricing      Pricing
	PollInterval time.Duration
	// Retention is how long a resolved task stays visible to Task. Zero drops it at once.
	Retention time.Duration
}

// Outcome is the resolved form of a task.
type Outcome struct {
	Task     models.TryOnTask
	Preview  *models.PreviewItem
	Refunded bool
}

type Orchestrator struct {
	cfg          Config
	ledger       Ledger
	provider     Provider
	results      *ResultHandler
	compensation *CompensationManager
	notifier     Notifier
	metrics      *Metrics
	logger       logrus.FieldLogger

	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	active map[string]*entry
}

// entry is the registry record of one task.
type entry struct {
	task  *Task
	sched *Scheduler
	done  chan struct{}

	outcome Outcome
	err     error
}

func New(cfg Config, l Ledger, provider Provider, results *ResultHandler, compensation *CompensationManager, notifier Notifier, metrics *Metrics, logger logrus.FieldLogger) *Orchestrator {
	ctx, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:          cfg,
		ledger:       l,
		provider:     provider,
		results:      results,
		compensation: compensation,
		notifier:     notifier,
		metrics:      metrics,
		logger:       logger,
		ctx:          ctx,
		stop:         stop,
		active:       make(map[string]*entry),
	}
}

// Run drives one task end to end and returns once it is resolved.
func (o *Orchestrator) Run(ctx context.Context, req models.TryOnRequest) (Outcome, error) {
	e, err := o.begin(ctx, req)
	if err != nil {
		if e != nil {
			return e.outcome, err
		}
		return Outcome{}, err
	}
	return o.resolve(ctx, e)
}

// Start debits and submits synchronously, then polls in the background.
// Polling outlives ctx; stop it with Handle.Cancel or Shutdown.
func (o *Orchestrator) Start(ctx context.Context, req models.TryOnRequest) (*Handle, error) {
	if o.ctx.Err() != nil {
		return nil, ErrShuttingDown
	}
	e, err := o.begin(ctx, req)
	if err != nil {
		return nil, err
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.resolve(o.ctx, e)
	}()
	return &Handle{o: o, e: e}, nil
}

// Task returns a snapshot of a registered task.
func (o *Orchestrator) Task(id string) (models.TryOnTask, bool) {
	o.mu.Lock()
	e, ok := o.active[id]
	o.mu.Unlock()

	if !ok {
		return models.TryOnTask{}, false
	}
	return e.task.Snapshot(), true
}

// Cancel stops a task. The debit is kept; the task resolves as canceled.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.Lock()
	e, ok := o.active[id]
	o.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	o.cancel(e)
	return nil
}

// Shutdown waits for running tasks. If ctx ends first the remaining ones are
// stopped, refunded and reported as failed.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.stop()
		return nil
	case <-ctx.Done():
		o.stop()
		<-done
		return ctx.Err()
	}
}

func (o *Orchestrator) begin(ctx context.Context, req models.TryOnRequest) (*entry, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	log := o.logger.WithFields(logrus.Fields{
		"user_id":    req.UserID,
		"product_id": req.ProductID,
		"kind":       req.Kind,
	})

	balance, err := o.ledger.Balance(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	if balance < req.Cost {
		log.WithField("balance", balance).Info("try-on rejected, insufficient balance")
		return nil, fmt.Errorf("%w: need %d, have %d", ledger.ErrInsufficientFunds, req.Cost, balance)
	}

	task := newTask(req)
	log = log.WithField("task_id", task.ID())

	if _, err := o.ledger.Debit(ctx, req.UserID, req.Cost, "tryon:"+task.ID()); err != nil {
		log.WithError(err).Warn("debit failed, try-on not submitted")
		return nil, fmt.Errorf("debit: %w", err)
	}
	task.transition(models.StateDebited, nil)

	e := &entry{
		task:  task,
		sched: NewScheduler(o.provider, o.cfg.PollInterval, log),
		done:  make(chan struct{}),
	}
	o.register(e)

	providerTaskID, err := o.provider.Submit(ctx, req)
	if err != nil {
		log.WithError(err).Error("submission failed, refunding")
		return e, o.fail(context.WithoutCancel(ctx), e, "submission_failed", "We could not start your try-on.", fmt.Errorf("%w: %v", ErrSubmission, err))
	}

	if !task.transition(models.StateSubmitted, func(rec *models.TryOnTask) {
		rec.ProviderTaskID = providerTaskID
	}) {
		return e, o.finishCanceled(e, "submitted")
	}

	o.metrics.started(req.Kind)
	o.notify(ctx, task, models.EventStarted, "")
	log.WithField("provider_task_id", providerTaskID).Info("try-on submitted")
	return e, nil
}

func (o *Orchestrator) resolve(ctx context.Context, e *entry) (Outcome, error) {
	task := e.task
	if !task.transition(models.StatePolling, nil) {
		err := o.finishCanceled(e, "polling")
		return e.outcome, err
	}

	rec := task.Snapshot()
	log := o.logger.WithFields(logrus.Fields{
		"task_id":          rec.ID,
		"user_id":          rec.Request.UserID,
		"provider_task_id": rec.ProviderTaskID,
	})

	e.sched.OnTick = func(p Poll, checkErr error) {
		task.recordAttempt(p.Attempts)
		if checkErr != nil {
			o.metrics.statusCheckFailed()
		}
		if !p.Done() {
			o.notify(ctx, task, models.EventProgress, "")
		}
	}

	p, err := e.sched.Run(ctx, rec.ProviderTaskID, o.cfg.Pricing.BudgetFor(rec.Request.Kind))
	if err != nil {
		if !task.Canceled() && o.ctx.Err() != nil {
			err = o.interrupted(e, log)
			return e.outcome, err
		}
		err = o.finishCanceled(e, "polling")
		return e.outcome, err
	}

	// Compensation and publishing must not be cut short by the caller going away.
	ctx = context.WithoutCancel(ctx)

	switch p.State {
	case models.StateCompleted:
		if !task.transition(models.StateCompleted, func(rec *models.TryOnTask) {
			rec.ResultMedia = p.Media
		}) {
			err = o.finishCanceled(e, "completed")
			return e.outcome, err
		}

		item, err := o.results.Publish(ctx, task.Snapshot())
		if err != nil {
			log.WithError(err).Error("try-on completed but result was not published")
			o.notify(ctx, task, models.EventFailed, "Your try-on finished but we could not save the result. Please contact support.")
			o.finish(e, "unpublished", fmt.Errorf("%w: %v", ErrResultNotSaved, err))
			return e.outcome, e.err
		}
		e.outcome.Preview = &item
		o.finish(e, "completed", nil)
		log.WithField("attempts", p.Attempts).Info("try-on completed")
		return e.outcome, nil

	case models.StateFailed:
		task.transition(models.StateFailed, func(rec *models.TryOnTask) {
			rec.ErrorMessage = p.Error
		})
		log.WithField("error_message", p.Error).Warn("provider reported failure, refunding")
		err = o.fail(ctx, e, "failed", p.Error, fmt.Errorf("%w: %s", ErrProviderFailure, p.Error))
		return e.outcome, err

	default:
		task.transition(models.StateTimedOut, nil)
		log.WithField("attempts", p.Attempts).Warn("try-on timed out, refunding")
		err = o.fail(ctx, e, "timed_out", "Your try-on is taking longer than expected.", ErrTimeout)
		return e.outcome, err
	}
}

// fail refunds a task that did not complete and resolves it with cause.
func (o *Orchestrator) fail(ctx context.Context, e *entry, outcome, message string, cause error) error {
	if e.task.Canceled() {
		return o.finishCanceled(e, outcome)
	}

	err := cause
	if refundErr := o.compensation.Refund(ctx, e.task); refundErr != nil {
		if errors.Is(refundErr, ErrCanceled) {
			return o.finishCanceled(e, outcome)
		}
		err = errors.Join(cause, refundErr)
		message = "Your try-on failed and the refund could not be completed. Please contact support."
	}

	o.notify(ctx, e.task, models.EventFailed, message)
	o.finish(e, outcome, err)
	return err
}

// interrupted resolves a task whose polling was stopped by Shutdown. The
// provider result can no longer be collected, so the user is refunded.
func (o *Orchestrator) interrupted(e *entry, log logrus.FieldLogger) error {
	e.task.transition(models.StateFailed, func(rec *models.TryOnTask) {
		rec.ErrorMessage = "service restarted before the try-on finished"
	})
	log.Warn("try-on interrupted by shutdown, refunding")
	return o.fail(context.WithoutCancel(o.ctx), e, "interrupted",
		"We had to stop your try-on before it finished. You have not been charged.", ErrInterrupted)
}

func (o *Orchestrator) finishCanceled(e *entry, stage string) error {
	rec := e.task.Snapshot()
	o.logger.WithFields(logrus.Fields{
		"task_id": rec.ID,
		"user_id": rec.Request.UserID,
		"state":   rec.State,
		"stage":   stage,
		"amount":  rec.Request.Cost,
	}).Warn("try-on canceled after debit, no refund issued; needs reconciliation")
	o.finish(e, "canceled", ErrCanceled)
	return ErrCanceled
}

func (o *Orchestrator) finish(e *entry, outcome string, err error) {
	rec := e.task.Snapshot()
	e.outcome.Task = rec
	e.outcome.Refunded = rec.State == models.StateRefunded
	e.err = err

	o.metrics.finished(rec.Request.Kind, outcome, rec.Attempts)
	o.scheduleRemoval(rec.ID)
	close(e.done)
}

func (o *Orchestrator) cancel(e *entry) {
	e.task.cancel()
	e.sched.Cancel()
}

func (o *Orchestrator) register(e *entry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.active[e.task.ID()] = e
}

func (o *Orchestrator) scheduleRemoval(id string) {
	remove := func() {
		o.mu.Lock()
		delete(o.active, id)
		o.mu.Unlock()

		o.results.Forget(id)
		o.compensation.Forget(id)
	}
	if o.cfg.Retention <= 0 {
		remove()
		return
	}
	time.AfterFunc(o.cfg.Retention, remove)
}

// notify emits an event unless the task was canceled.
func (o *Orchestrator) notify(ctx context.Context, task *Task, eventType models.EventType, message string) {
	if task.Canceled() {
		return
	}
	rec := task.Snapshot()
	event := newEvent(eventType, rec)
	event.Message = message
	event.Refunded = rec.State == models.StateRefunded
	notifySafely(ctx, o.notifier, o.logger, event)
}

// Handle follows a task started with Start.
type Handle struct {
	o *Orchestrator
	e *entry
}

func (h *Handle) TaskID() string {
	return h.e.task.ID()
}

// Done is closed once the task is resolved.
func (h *Handle) Done() <-chan struct{} {
	return h.e.done
}

// Outcome blocks until the task is resolved.
func (h *Handle) Outcome() (Outcome, error) {
	<-h.e.done
	return h.e.outcome, h.e.err
}

// Snapshot returns the task's current record.
func (h *Handle) Snapshot() models.TryOnTask {
	return h.e.task.Snapshot()
}

func (h *Handle) Cancel() {
	h.o.cancel(h.e)
}
