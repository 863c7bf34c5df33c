package runner

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/sourcegraph/conc/pool"

	"github.com/streamfall/streamfall/internal/events"
	"github.com/streamfall/streamfall/internal/media"
)

// LibraryScanner rebuilds item stubs from the on-disk library tree.
type LibraryScanner interface {
	ScanLibrary(ctx context.Context) ([]*media.Item, error)
}

// Reconcile aligns the store with the library before the pipeline starts.
// Titles on disk but missing from the store are persisted from their path
// stubs and queued so the indexer fills in real metadata; known titles are
// left alone because their stored state already covers the disk. Unfinished
// stored items are not re-queued here, the retry sweep's startup run does
// that.
func (r *Runner) Reconcile(ctx context.Context, scanner LibraryScanner, workers int) error {
	found, err := scanner.ScanLibrary(ctx)
	if err != nil {
		return fmt.Errorf("failed to scan library: %w", err)
	}
	if workers <= 0 {
		workers = 4
	}

	var admitted atomic.Int64
	p := pool.New().WithMaxGoroutines(workers)
	for _, item := range found {
		p.Go(func() {
			if ctx.Err() != nil {
				return
			}
			exists, err := r.store.ExistsByImdbID(ctx, item.ImdbID)
			if err != nil {
				r.logger.Error().Err(err).Str("item", item.LogString()).Msg("Failed to check store during reconcile")
				return
			}
			if exists {
				return
			}

			stored, err := r.store.Upsert(ctx, item)
			if err != nil {
				r.logger.Error().Err(err).Str("item", item.LogString()).Msg("Failed to persist discovered item")
				return
			}
			if r.bus.Add(ctx, events.NewEvent(events.EmitterSymlinkLibrary, stored.ID)) {
				admitted.Add(1)
			}
		})
	}
	p.Wait()

	r.logger.Info().Int("onDisk", len(found)).Int64("admitted", admitted.Load()).Msg("Library reconciliation finished")
	return nil
}
