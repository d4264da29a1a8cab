package tryon

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/raushankrgupta/tryon-orchestrator/models"
)

// Task guards one TryOnTask record. Once canceled, every transition is a no-op.
type Task struct {
	mu       sync.Mutex
	rec      models.TryOnTask
	canceled bool
}

func newTask(req models.TryOnRequest) *Task {
	now := time.Now()
	return &Task{rec: models.TryOnTask{
		ID:        uuid.NewString(),
		Request:   req,
		State:     models.StateCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}}
}

// ID returns the local correlation id.
func (t *Task) ID() string {
	return t.rec.ID
}

// Snapshot returns a copy of the record.
func (t *Task) Snapshot() models.TryOnTask {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.rec
	rec.ResultMedia = append([]string(nil), t.rec.ResultMedia...)
	return rec
}

// State returns the current state.
func (t *Task) State() models.TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rec.State
}

// Canceled reports whether the task was canceled.
func (t *Task) Canceled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.canceled
}

// transition moves the task forward. mutate, if set, runs under the lock.
// It reports false when the task is canceled or the move is not allowed.
func (t *Task) transition(next models.TaskState, mutate func(rec *models.TryOnTask)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.canceled || !t.rec.State.CanTransition(next) {
		return false
	}
	t.rec.State = next
	if mutate != nil {
		mutate(&t.rec)
	}
	t.rec.UpdatedAt = time.Now()
	return true
}

// recordAttempt stores the attempt count of the last status check.
func (t *Task) recordAttempt(attempts int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.canceled {
		return false
	}
	t.rec.Attempts = attempts
	t.rec.UpdatedAt = time.Now()
	return true
}

func (t *Task) cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.canceled || t.rec.State.Terminal() {
		return
	}
	t.canceled = true
	t.rec.Canceled = true
	t.rec.UpdatedAt = time.Now()
}
