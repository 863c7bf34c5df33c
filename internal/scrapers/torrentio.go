package scrapers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/ratelimit"

	"github.com/streamfall/streamfall/internal/config"
	"github.com/streamfall/streamfall/internal/media"
)

const torrentioDefaultFilter = "sort=qualitysize%7Cqualityfilter=480p,scr,cam,unknown"

// Torrentio scrapes the torrentio stremio addon. The public instance bans
// aggressive clients, so requests are paced to one every five seconds.
type Torrentio struct {
	httpClient *http.Client
	config     config.TorrentioConfig
	limiter    ratelimit.Limiter
	logger     zerolog.Logger
}

// NewTorrentio creates a torrentio scraper.
func NewTorrentio(cfg config.TorrentioConfig, logger zerolog.Logger) (*Torrentio, error) {
	if cfg.URL == "" {
		return nil, errors.New("torrentio URL is not configured")
	}
	if cfg.Filter == "" {
		cfg.Filter = torrentioDefaultFilter
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 30
	}
	return &Torrentio{
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		config:     cfg,
		limiter:    ratelimit.New(1, ratelimit.Per(5*time.Second)),
		logger:     logger.With().Str("scraper", "torrentio").Logger(),
	}, nil
}

// Name returns the provider name.
func (s *Torrentio) Name() string {
	return "torrentio"
}

// Scrape queries the addon for streams matching the item.
func (s *Torrentio) Scrape(ctx context.Context, item *media.Item) ([]Candidate, error) {
	target, ok := stremioTargetFor(item)
	if !ok {
		return nil, nil
	}
	s.limiter.Take()

	reqURL := fmt.Sprintf("%s/%s/stream/%s/%s%s.json",
		strings.TrimRight(s.config.URL, "/"), s.config.Filter,
		target.scrapeType, target.imdbID, target.identifier)

	var response struct {
		Streams []struct {
			InfoHash string `json:"infoHash"`
			Title    string `json:"title"`
		} `json:"streams"`
	}
	if err := getJSON(ctx, s.httpClient, reqURL, nil, &response); err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(response.Streams))
	for _, stream := range response.Streams {
		if stream.InfoHash == "" {
			continue
		}
		// The title's first line is the file name; the rest is seeder
		// and size decoration.
		rawTitle := stream.Title
		if idx := strings.Index(rawTitle, "\n"); idx >= 0 {
			rawTitle = rawTitle[:idx]
		}
		candidates = append(candidates, Candidate{Infohash: stream.InfoHash, RawTitle: rawTitle})
	}
	return candidates, nil
}
