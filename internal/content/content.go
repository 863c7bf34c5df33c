// Package content polls external catalogs for newly requested titles.
//
// Each source turns an upstream listing (Overseerr requests, a Plex
// watchlist, a Listrr or Mdblist list, trakt lists) into bare requested
// items carrying an imdb id, a type and the requester tag. Sources remember
// what they already yielded, so a poll surfaces only additions since the
// last one; dropping duplicates against the library is the caller's job.
package content

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/streamfall/streamfall/internal/config"
	"github.com/streamfall/streamfall/internal/media"
	"github.com/streamfall/streamfall/internal/trakt"
)

// Source is one external catalog, polled on its own interval.
type Source interface {
	// Name is the requester tag stamped on every item the source yields.
	Name() string
	Enabled() bool
	// Validate checks credentials and upstream reachability. A source that
	// fails validation is excluded from scheduling.
	Validate(ctx context.Context) error
	// UpdateInterval is the raw schedule expression from config: a duration,
	// a cron line, or an HH:MM time of day.
	UpdateInterval() string
	// Run returns the titles requested upstream since the previous run.
	Run(ctx context.Context) ([]*media.Item, error)
}

// Resolver translates foreign catalog ids into imdb ids.
type Resolver interface {
	ImdbIDFromTvdb(ctx context.Context, tvdbID string) (string, error)
	ImdbIDFromTmdb(ctx context.Context, tmdbID string) (string, error)
}

// Sources builds every enabled content source. One trakt client backs both
// the trakt list source and the id translation the others need.
func Sources(cfg *config.Config, library Library, logger zerolog.Logger) []Source {
	client := trakt.NewClient(cfg.Content.Trakt.APIKey, logger)

	var sources []Source
	if cfg.Content.Overseerr.Enabled {
		sources = append(sources, NewOverseerr(cfg.Content.Overseerr, library, logger))
	}
	if cfg.Content.PlexWatchlist.Enabled {
		sources = append(sources, NewPlexWatchlist(cfg.Content.PlexWatchlist, client, logger))
	}
	if cfg.Content.Listrr.Enabled {
		sources = append(sources, NewListrr(cfg.Content.Listrr, client, logger))
	}
	if cfg.Content.Mdblist.Enabled {
		sources = append(sources, NewMdblist(cfg.Content.Mdblist, logger))
	}
	if cfg.Content.Trakt.Enabled {
		sources = append(sources, NewTraktLists(cfg.Content.Trakt, client, logger))
	}
	return sources
}

// seenSet remembers imdb ids across polls so a source yields each title
// once per process lifetime. Restarts start fresh; the library check
// downstream absorbs the replay.
type seenSet struct {
	mu  sync.Mutex
	ids map[string]bool
}

func newSeenSet() *seenSet {
	return &seenSet{ids: make(map[string]bool)}
}

// Add records the id and reports whether it was new.
func (s *seenSet) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ids[id] {
		return false
	}
	s.ids[id] = true
	return true
}
