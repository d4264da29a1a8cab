package gemini

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Limit concurrency to avoid being blocked by the media host.
const maxConcurrentFetches = 5

// loadAll fetches every ref concurrently. Results keep the order of refs; the
// first failure cancels the rest.
func (p *Provider) loadAll(ctx context.Context, refs []string) ([][]byte, error) {
	images := make([][]byte, len(refs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)

	for i, ref := range refs {
		if ref == "" {
			return nil, fmt.Errorf("media reference %d is empty", i)
		}
		g.Go(func() error {
			data, err := p.load(ctx, ref)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", ref, err)
			}
			images[i] = data
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return images, nil
}
