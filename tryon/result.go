package tryon

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/raushankrgupta/tryon-orchestrator/models"
	"github.com/sirupsen/logrus"
)

// PreviewCollection receives published try-on results and owns them afterwards.
type PreviewCollection interface {
	Append(ctx context.Context, item models.PreviewItem) error
}

// ResultHandler publishes completed tasks to the preview collection, once per task id.
type ResultHandler struct {
	previews  PreviewCollection
	notifier  Notifier
	preferred *regexp.Regexp
	logger    logrus.FieldLogger
	appendEx  failsafe.Executor[any]

	mu        sync.Mutex
	published map[string]struct{}
}

// NewResultHandler compiles preferredPattern; an empty pattern prefers nothing.
func NewResultHandler(previews PreviewCollection, notifier Notifier, preferredPattern string, logger logrus.FieldLogger) (*ResultHandler, error) {
	var preferred *regexp.Regexp
	if preferredPattern != "" {
		re, err := regexp.Compile(preferredPattern)
		if err != nil {
			return nil, fmt.Errorf("compile preferred source pattern: %w", err)
		}
		preferred = re
	}

	retry := retrypolicy.NewBuilder[any]().
		WithMaxRetries(2).
		WithBackoff(50*time.Millisecond, 500*time.Millisecond).
		Build()

	return &ResultHandler{
		previews:  previews,
		notifier:  notifier,
		preferred: preferred,
		logger:    logger,
		appendEx:  failsafe.With[any](retry),
		published: make(map[string]struct{}),
	}, nil
}

// OrderMedia moves preferred-source media ahead of the rest, keeping the
// relative order within each group.
func (h *ResultHandler) OrderMedia(media []string) []string {
	ordered := make([]string, 0, len(media))
	if h.preferred == nil {
		return append(ordered, media...)
	}

	var rest []string
	for _, uri := range media {
		if h.preferred.MatchString(uri) {
			ordered = append(ordered, uri)
		} else {
			rest = append(rest, uri)
		}
	}
	return append(ordered, rest...)
}

// Publish appends a preview item for a completed task and emits the ready
// signal. A second call for the same task id returns ErrAlreadyPublished.
func (h *ResultHandler) Publish(ctx context.Context, task models.TryOnTask) (models.PreviewItem, error) {
	if task.State != models.StateCompleted {
		return models.PreviewItem{}, fmt.Errorf("publish task %s in state %s: only completed tasks are published", task.ID, task.State)
	}
	if !h.claim(task.ID) {
		return models.PreviewItem{}, ErrAlreadyPublished
	}

	item := models.PreviewItem{
		TaskID:    task.ID,
		UserID:    task.Request.UserID,
		ProductID: task.Request.ProductID,
		Kind:      task.Request.Kind,
		Media:     h.OrderMedia(task.ResultMedia),
		Status:    "ready",
		CreatedAt: time.Now(),
	}

	err := h.appendEx.WithContext(ctx).Run(func() error {
		return h.previews.Append(ctx, item)
	})
	if err != nil {
		h.release(task.ID)
		return models.PreviewItem{}, fmt.Errorf("append preview for task %s: %w", task.ID, err)
	}

	event := newEvent(models.EventReady, task)
	event.Media = item.Media
	notifySafely(ctx, h.notifier, h.logger, event)

	h.logger.WithFields(logrus.Fields{
		"task_id":    task.ID,
		"user_id":    task.Request.UserID,
		"product_id": task.Request.ProductID,
		"media":      len(item.Media),
	}).Info("try-on result published")
	return item, nil
}

func (h *ResultHandler) claim(taskID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.published[taskID]; ok {
		return false
	}
	h.published[taskID] = struct{}{}
	return true
}

func (h *ResultHandler) release(taskID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.published, taskID)
}

// Forget drops the claim of a resolved task. Preview stores keep a unique
// task id, so a late duplicate append is still ignored there.
func (h *ResultHandler) Forget(taskID string) {
	h.release(taskID)
}
