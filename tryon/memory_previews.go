package tryon

import (
	"context"
	"sync"

	"github.com/raushankrgupta/tryon-orchestrator/models"
)

// MemoryPreviewCollection keeps previews in memory. Like the Mongo collection
// it holds at most one item per task id.
type MemoryPreviewCollection struct {
	mu    sync.Mutex
	items []models.PreviewItem
}

func (c *MemoryPreviewCollection) Append(_ context.Context, item models.PreviewItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.items {
		if existing.TaskID == item.TaskID {
			return nil
		}
	}
	c.items = append(c.items, item)
	return nil
}

// Items returns a copy of everything appended so far.
func (c *MemoryPreviewCollection) Items() []models.PreviewItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.PreviewItem(nil), c.items...)
}
