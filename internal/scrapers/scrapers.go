// Package scrapers finds torrent streams for media items. Each provider
// implements the Scraper interface; the Service fans an item out to every
// enabled provider, ranks the raw results and merges them into the item's
// stream set.
package scrapers

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/streamfall/streamfall/internal/config"
	"github.com/streamfall/streamfall/internal/media"
)

// ErrRateLimited signals that a provider refused the request because its
// window is exhausted. The dispatcher reschedules the item instead of
// treating this as a failure.
var ErrRateLimited = errors.New("scraper rate limited")

// Candidate is one raw torrent a provider returned, before parsing.
type Candidate struct {
	Infohash string
	RawTitle string
}

// Scraper is a single torrent provider.
type Scraper interface {
	Name() string
	Scrape(ctx context.Context, item *media.Item) ([]Candidate, error)
}

// Blacklist answers whether an infohash has been burned already.
type Blacklist interface {
	IsBlacklisted(infohash string) bool
}

// Service runs every enabled scraper against an item.
type Service struct {
	scrapers []Scraper
	ranker   *Ranker
	hashes   Blacklist
	logger   zerolog.Logger
}

// NewService builds the scraper set from config. Providers with incomplete
// configuration are skipped with a warning rather than failing boot.
func NewService(cfg *config.Config, hashes Blacklist, logger zerolog.Logger) *Service {
	log := logger.With().Str("component", "scrapers").Logger()

	s := &Service{
		ranker: NewRanker(cfg.Scraping.Parser),
		hashes: hashes,
		logger: log,
	}

	if cfg.Scraping.Torrentio.Enabled {
		if sc, err := NewTorrentio(cfg.Scraping.Torrentio, log); err != nil {
			log.Warn().Err(err).Msg("Torrentio disabled")
		} else {
			s.scrapers = append(s.scrapers, sc)
		}
	}
	if cfg.Scraping.Orionoid.Enabled {
		if sc, err := NewOrionoid(cfg.Scraping.Orionoid, log); err != nil {
			log.Warn().Err(err).Msg("Orionoid disabled")
		} else {
			s.scrapers = append(s.scrapers, sc)
		}
	}
	if cfg.Scraping.Jackett.Enabled {
		if sc, err := NewJackett(cfg.Scraping.Jackett, log); err != nil {
			log.Warn().Err(err).Msg("Jackett disabled")
		} else {
			s.scrapers = append(s.scrapers, sc)
		}
	}
	if cfg.Scraping.Mediafusion.Enabled {
		if sc, err := NewMediafusion(cfg.Scraping.Mediafusion, cfg.Downloaders.RealDebrid.APIKey, log); err != nil {
			log.Warn().Err(err).Msg("Mediafusion disabled")
		} else {
			s.scrapers = append(s.scrapers, sc)
		}
	}
	if cfg.Scraping.Comet.Enabled {
		if sc, err := NewComet(cfg.Scraping.Comet, cfg.Downloaders.RealDebrid.APIKey, log); err != nil {
			log.Warn().Err(err).Msg("Comet disabled")
		} else {
			s.scrapers = append(s.scrapers, sc)
		}
	}
	if cfg.Scraping.Torbox.Enabled {
		if sc, err := NewTorbox(cfg.Scraping.Torbox, log); err != nil {
			log.Warn().Err(err).Msg("TorBox disabled")
		} else {
			s.scrapers = append(s.scrapers, sc)
		}
	}

	for _, sc := range s.scrapers {
		log.Debug().Str("scraper", sc.Name()).Msg("scraper enabled")
	}
	return s
}

// Enabled reports whether at least one provider is configured.
func (s *Service) Enabled() bool {
	return len(s.scrapers) > 0
}

// Run scrapes the item with every provider and merges ranked streams into
// it. Shows pass through untouched; they are scraped per season or episode.
// Returns ErrRateLimited when every provider was throttled, so the caller
// can retry the whole item later.
func (s *Service) Run(ctx context.Context, item *media.Item) (*media.Item, error) {
	if item.Type == media.TypeShow {
		return item, nil
	}
	if !item.IsReleased() {
		s.logger.Debug().Str("item", item.LogString()).Msg("not released yet, skipping scrape")
		return item, nil
	}

	merged := make(map[string]*media.Stream)
	limited := 0

	for _, sc := range s.scrapers {
		if err := ctx.Err(); err != nil {
			return item, err
		}

		candidates, err := sc.Scrape(ctx, item)
		switch {
		case errors.Is(err, ErrRateLimited):
			limited++
			s.logger.Debug().Str("scraper", sc.Name()).Str("item", item.LogString()).Msg("rate limited")
			continue
		case err != nil:
			s.logger.Warn().Err(err).Str("scraper", sc.Name()).Str("item", item.LogString()).Msg("scrape failed")
			continue
		}

		ranked := s.ranker.Rank(item, candidates, s.isBlacklisted)
		for hash, stream := range ranked {
			if existing, ok := merged[hash]; !ok || stream.Rank > existing.Rank {
				merged[hash] = stream
			}
		}
		s.logger.Debug().
			Str("scraper", sc.Name()).
			Str("item", item.LogString()).
			Int("candidates", len(candidates)).
			Int("ranked", len(ranked)).
			Msg("scrape finished")
	}

	if limited > 0 && limited == len(s.scrapers) {
		// Nothing was attempted; leave the scrape counters alone.
		return item, ErrRateLimited
	}

	now := time.Now()
	item.ScrapedAt = &now
	item.ScrapedTimes++

	for _, stream := range merged {
		item.AddStream(stream)
	}

	if len(merged) > 0 {
		s.logger.Info().Str("item", item.LogString()).Int("streams", len(merged)).Msg("found streams")
	} else {
		s.logger.Debug().Str("item", item.LogString()).Msg("no streams found")
	}
	return item, nil
}

func (s *Service) isBlacklisted(hash string) bool {
	return s.hashes != nil && s.hashes.IsBlacklisted(hash)
}
