package orchestrator

import (
	"context"
	"fmt"

	"github.com/JakeFAU/placecrawler/internal/crawler"
)

// Statuses summarizes every stored checkpoint. Unreadable snapshots are
// reported with Error set instead of failing the listing.
func Statuses(ctx context.Context, store crawler.CheckpointStore) ([]crawler.Progress, error) {
	slugs, err := store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	rows := make([]crawler.Progress, 0, len(slugs))
	for _, slug := range slugs {
		state, err := store.Load(ctx, slug)
		if err != nil {
			rows = append(rows, crawler.Progress{Slug: slug, Error: err.Error()})
			continue
		}
		rows = append(rows, crawler.Summarize(state))
	}
	return rows, nil
}
