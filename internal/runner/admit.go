package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/streamfall/streamfall/internal/events"
	"github.com/streamfall/streamfall/internal/media"
	"github.com/streamfall/streamfall/internal/store"
	"github.com/streamfall/streamfall/internal/symlinker"
)

// Submit persists freshly requested items and queues them for indexing.
// Items already known by imdb id are skipped, so content sources can yield
// their whole list on every poll. Returns how many items were admitted to
// the queue.
func (r *Runner) Submit(ctx context.Context, source string, items []*media.Item) (int, error) {
	emitter := emitterForSource(source)
	admitted := 0
	for _, item := range items {
		exists, err := r.store.ExistsByImdbID(ctx, item.ImdbID)
		if err != nil {
			return admitted, fmt.Errorf("failed to check for existing item: %w", err)
		}
		if exists {
			continue
		}

		stored, err := r.store.Upsert(ctx, item)
		if err != nil {
			return admitted, fmt.Errorf("failed to persist requested item: %w", err)
		}
		if r.bus.Add(ctx, events.NewEvent(emitter, stored.ID)) {
			admitted++
			r.logger.Debug().Str("source", source).Str("item", stored.LogString()).Msg("Admitted requested item")
		}
	}
	return admitted, nil
}

func emitterForSource(source string) string {
	switch source {
	case "overseerr":
		return events.EmitterOverseerr
	case "plex_watchlist":
		return events.EmitterPlexWatchlist
	case "listrr":
		return events.EmitterListrr
	case "mdblist":
		return events.EmitterMdblist
	case "trakt":
		return events.EmitterTraktContent
	default:
		return events.EmitterManual
	}
}

// Remove is the shared removal callback for the filesystem watcher and the
// repair sweep. A reference to a whole title drops the stored tree. A
// season or episode reference only resets that node: deleting the rows
// would make the show look complete, resetting leaves it partial so the
// retry sweep sends it back through scraping.
func (r *Runner) Remove(ctx context.Context, ref symlinker.Ref, path string) {
	top, err := r.store.GetByImdbID(ctx, ref.ImdbID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			r.logger.Debug().Str("imdbId", ref.ImdbID).Str("path", path).Msg("Removed path for an unknown item")
			return
		}
		r.logger.Error().Err(err).Str("imdbId", ref.ImdbID).Msg("Failed to look up item for removed path")
		return
	}

	r.bus.Cancel(ctx, top.ID)

	if ref.Season == 0 {
		if err := r.store.Remove(ctx, top.ID); err != nil {
			r.logger.Error().Err(err).Str("item", top.LogString()).Msg("Failed to remove item for deleted path")
			return
		}
		r.logger.Info().Str("item", top.LogString()).Str("path", path).Msg("Library path deleted, removed item")
		return
	}

	node := top.Child(ref.Season)
	if node != nil && ref.Episode > 0 {
		node = node.Child(ref.Episode)
	}
	if node == nil {
		r.logger.Debug().Str("imdbId", ref.ImdbID).Str("path", path).Msg("Removed path maps to no stored node")
		return
	}

	node.Reset(true)
	if _, err := r.store.Upsert(ctx, top); err != nil {
		r.logger.Error().Err(err).Str("item", node.LogString()).Msg("Failed to persist reset after deleted path")
		return
	}
	r.broadcastItem(top)
	r.logger.Info().Str("item", node.LogString()).Str("path", path).Msg("Library path deleted, reset for re-acquisition")
}
