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

// Torbox scrapes the TorBox search API. The search endpoint is open, the
// API key is only attached when configured.
type Torbox struct {
	httpClient *http.Client
	config     config.TorboxConfig
	limiter    ratelimit.Limiter
	logger     zerolog.Logger
}

// NewTorbox creates a TorBox scraper.
func NewTorbox(cfg config.TorboxConfig, logger zerolog.Logger) (*Torbox, error) {
	if cfg.URL == "" {
		return nil, errors.New("torbox URL is not configured")
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 30
	}
	return &Torbox{
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		config:     cfg,
		limiter:    ratelimit.New(1, ratelimit.Per(5*time.Second)),
		logger:     logger.With().Str("scraper", "torbox").Logger(),
	}, nil
}

// Name returns the provider name.
func (s *Torbox) Name() string {
	return "torbox"
}

// Scrape queries TorBox for torrents matching the item's IMDb id.
func (s *Torbox) Scrape(ctx context.Context, item *media.Item) ([]Candidate, error) {
	imdbID := item.Show().ImdbID
	if imdbID == "" {
		return nil, nil
	}
	s.limiter.Take()

	reqURL := fmt.Sprintf("%s/torrents/imdb:%s?metadata=false",
		strings.TrimRight(s.config.URL, "/"), imdbID)
	season, episode := seasonEpisode(item)
	if season > 0 {
		reqURL += fmt.Sprintf("&season=%d", season)
	}
	if episode > 0 {
		reqURL += fmt.Sprintf("&episode=%d", episode)
	}

	var header http.Header
	if s.config.APIKey != "" {
		header = http.Header{"Authorization": []string{"Bearer " + s.config.APIKey}}
	}

	var response struct {
		Success bool `json:"success"`
		Data    struct {
			Torrents []struct {
				Hash     string `json:"hash"`
				RawTitle string `json:"raw_title"`
			} `json:"torrents"`
		} `json:"data"`
	}
	if err := getJSON(ctx, s.httpClient, reqURL, header, &response); err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(response.Data.Torrents))
	for _, torrent := range response.Data.Torrents {
		if torrent.Hash == "" || torrent.RawTitle == "" {
			continue
		}
		candidates = append(candidates, Candidate{Infohash: torrent.Hash, RawTitle: torrent.RawTitle})
	}
	return candidates, nil
}
