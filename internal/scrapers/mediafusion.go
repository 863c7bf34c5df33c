package scrapers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/ratelimit"

	"github.com/streamfall/streamfall/internal/config"
	"github.com/streamfall/streamfall/internal/media"
)

// Mediafusion scrapes a MediaFusion instance. The addon takes its user
// settings as an encrypted blob in the URL path, so the first scrape asks
// the instance to encrypt ours and the result is cached for the lifetime of
// the scraper.
type Mediafusion struct {
	httpClient *http.Client
	config     config.MediafusionConfig
	debridKey  string
	limiter    ratelimit.Limiter
	logger     zerolog.Logger

	mu        sync.Mutex
	encrypted string
}

// NewMediafusion creates a MediaFusion scraper. The debrid key is optional;
// without it the instance reports cache status anonymously.
func NewMediafusion(cfg config.MediafusionConfig, debridKey string, logger zerolog.Logger) (*Mediafusion, error) {
	if cfg.URL == "" {
		return nil, errors.New("mediafusion URL is not configured")
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 30
	}
	return &Mediafusion{
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		config:     cfg,
		debridKey:  debridKey,
		limiter:    ratelimit.New(1, ratelimit.Per(2*time.Second)),
		logger:     logger.With().Str("scraper", "mediafusion").Logger(),
	}, nil
}

// Name returns the provider name.
func (s *Mediafusion) Name() string {
	return "mediafusion"
}

// userData returns the encrypted settings blob, requesting it on first use.
func (s *Mediafusion) userData(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.encrypted != "" {
		return s.encrypted, nil
	}

	var provider interface{}
	if s.debridKey != "" {
		provider = map[string]interface{}{
			"token":                    s.debridKey,
			"service":                  "realdebrid",
			"enable_watchlist_catalogs": false,
		}
	}
	payload := map[string]interface{}{
		"streaming_provider":          provider,
		"selected_catalogs":           []string{},
		"selected_resolutions":        []string{"4K", "2160p", "1440p", "1080p", "720p"},
		"enable_catalogs":             false,
		"max_size":                    "inf",
		"max_streams_per_resolution":  "10",
		"torrent_sorting_priority":    []string{"cached", "resolution", "size", "seeders", "created_at"},
		"show_full_torrent_name":      true,
		"api_password":                nil,
	}

	var response struct {
		Status       string `json:"status"`
		EncryptedStr string `json:"encrypted_str"`
	}
	reqURL := fmt.Sprintf("%s/encrypt-user-data", strings.TrimRight(s.config.URL, "/"))
	if err := postJSON(ctx, s.httpClient, reqURL, payload, &response); err != nil {
		return "", fmt.Errorf("failed to encrypt user data: %w", err)
	}
	if response.EncryptedStr == "" {
		return "", errors.New("mediafusion returned an empty settings blob")
	}
	s.encrypted = response.EncryptedStr
	return s.encrypted, nil
}

// Scrape queries the addon for streams matching the item.
func (s *Mediafusion) Scrape(ctx context.Context, item *media.Item) ([]Candidate, error) {
	target, ok := stremioTargetFor(item)
	if !ok {
		return nil, nil
	}

	userData, err := s.userData(ctx)
	if err != nil {
		return nil, err
	}
	s.limiter.Take()

	reqURL := fmt.Sprintf("%s/%s/stream/%s/%s%s.json",
		strings.TrimRight(s.config.URL, "/"), userData,
		target.scrapeType, target.imdbID, target.identifier)

	var response struct {
		Streams []struct {
			Description string `json:"description"`
			URL         string `json:"url"`
		} `json:"streams"`
	}
	if err := getJSON(ctx, s.httpClient, reqURL, nil, &response); err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(response.Streams))
	for _, stream := range response.Streams {
		_, infohash, ok := strings.Cut(stream.URL, "?info_hash=")
		if !ok || infohash == "" {
			continue
		}
		// The description's first line carries the torrent name behind a
		// folder emoji; the rest is size and seeder decoration.
		rawTitle := stream.Description
		if idx := strings.Index(rawTitle, "\n"); idx >= 0 {
			rawTitle = rawTitle[:idx]
		}
		rawTitle = strings.TrimPrefix(rawTitle, "📂 ")
		if rawTitle == "" {
			continue
		}
		candidates = append(candidates, Candidate{Infohash: infohash, RawTitle: rawTitle})
	}
	return candidates, nil
}
