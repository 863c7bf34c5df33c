// Package indexer fills requested items with metadata. Given an item known
// only by imdb id it produces a fully populated movie, or a show with its
// complete season and episode tree, and carries acquisition progress over
// from the incoming copy so re-indexing never loses pipeline state.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/streamfall/streamfall/internal/config"
	"github.com/streamfall/streamfall/internal/media"
	"github.com/streamfall/streamfall/internal/trakt"
)

// Metadata is the slice of the trakt client the indexer consumes.
type Metadata interface {
	Validate(ctx context.Context) error
	CreateItemFromImdbID(ctx context.Context, imdbID string, hint media.Type) (*media.Item, error)
	ShowSeasons(ctx context.Context, imdbID string) ([]trakt.Season, error)
}

// Service is the trakt-backed metadata indexer.
type Service struct {
	client Metadata
	logger zerolog.Logger

	// ids that definitively failed to resolve; retried only on restart.
	mu     sync.Mutex
	failed map[string]bool
}

// NewService creates the indexer.
func NewService(cfg config.TraktIndexerConfig, logger zerolog.Logger) *Service {
	return &Service{
		client: trakt.NewClient(cfg.APIKey, logger),
		logger: logger.With().Str("component", "indexer").Logger(),
		failed: make(map[string]bool),
	}
}

// Enabled reports whether the service can run. The indexer has no required
// credentials; it is always on.
func (s *Service) Enabled() bool {
	return true
}

// Validate checks that the trakt API is reachable.
func (s *Service) Validate(ctx context.Context) error {
	if err := s.client.Validate(ctx); err != nil {
		return fmt.Errorf("trakt API unreachable: %w", err)
	}
	return nil
}

// Run indexes one item. The returned item is a fresh tree built from trakt
// metadata with the incoming item's acquisition progress copied onto it;
// the caller merges it with the stored copy.
func (s *Service) Run(ctx context.Context, item *media.Item) (*media.Item, error) {
	if item.ImdbID == "" {
		return nil, fmt.Errorf("%s has no imdb id to index", item.LogString())
	}

	s.mu.Lock()
	skip := s.failed[item.ImdbID]
	s.mu.Unlock()
	if skip {
		return nil, fmt.Errorf("imdb id %s previously failed to index", item.ImdbID)
	}

	fresh, err := s.client.CreateItemFromImdbID(ctx, item.ImdbID, item.Type)
	if err != nil {
		if errors.Is(err, trakt.ErrNotFound) {
			s.markFailed(item.ImdbID)
		}
		return nil, fmt.Errorf("failed to index %s: %w", item.ImdbID, err)
	}

	switch fresh.Type {
	case media.TypeMovie:
	case media.TypeShow:
		if err := s.addSeasons(ctx, fresh); err != nil {
			return nil, fmt.Errorf("failed to index seasons of %s: %w", item.ImdbID, err)
		}
	default:
		s.markFailed(item.ImdbID)
		return nil, fmt.Errorf("imdb id %s resolved to a %s, expected a movie or show", item.ImdbID, fresh.Type)
	}

	copyTree(item, fresh)

	now := time.Now()
	fresh.IndexedAt = &now
	fresh.PropagateAttributes()

	s.logger.Debug().
		Str("imdb_id", item.ImdbID).
		Str("type", string(fresh.Type)).
		Msg("Indexed item")

	return fresh, nil
}

// addSeasons attaches the full season/episode tree to a freshly indexed
// show. Season 0 (specials) is skipped.
func (s *Service) addSeasons(ctx context.Context, show *media.Item) error {
	seasons, err := s.client.ShowSeasons(ctx, show.ImdbID)
	if err != nil {
		return err
	}

	for _, ts := range seasons {
		if ts.Number == 0 {
			continue
		}

		season := media.NewSeason(show, ts.Number)
		season.Title = ts.Title
		season.AiredAt = ts.AiredAt()

		for _, te := range ts.Episodes {
			episode := media.NewEpisode(season, te.Number)
			episode.Title = te.Title
			episode.AiredAt = te.AiredAt()
			season.AddChild(episode)
		}
		show.AddChild(season)
	}
	return nil
}

// copyTree carries acquisition progress from the incoming copy onto the
// fresh tree, matching seasons and episodes by number. Entries the incoming
// copy has but trakt no longer lists are dropped with it.
//
// Identity travels even when trakt corrects the type (an RSS request enters
// provisionally as a movie and may resolve to a show): the fresh tree keeps
// the stored row so the upsert rewrites it in place instead of leaking a
// duplicate.
func copyTree(from, to *media.Item) {
	anime := from.IsAnime || to.IsAnime
	to.ID = from.ID
	to.RequestedBy = from.RequestedBy
	to.OverseerrID = from.OverseerrID
	if from.RequestedAt != nil {
		to.RequestedAt = from.RequestedAt
	}

	switch {
	case to.Type == media.TypeMovie && from.Type == media.TypeMovie:
		to.CopyProgress(from)

	case to.Type == media.TypeShow && from.Type == media.TypeShow:
		to.CopyProgress(from)
		for _, fromSeason := range from.Children {
			toSeason := to.Child(fromSeason.Number)
			if toSeason == nil {
				continue
			}
			toSeason.CopyProgress(fromSeason)
			for _, fromEpisode := range fromSeason.Children {
				if toEpisode := toSeason.Child(fromEpisode.Number); toEpisode != nil {
					toEpisode.CopyProgress(fromEpisode)
				}
			}
		}
	}

	to.IsAnime = anime
}

func (s *Service) markFailed(imdbID string) {
	s.mu.Lock()
	s.failed[imdbID] = true
	s.mu.Unlock()
}
