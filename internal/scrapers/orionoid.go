package scrapers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/ratelimit"

	"github.com/streamfall/streamfall/internal/config"
	"github.com/streamfall/streamfall/internal/media"
)

// orionoidAppKey identifies this project to Orionoid. User keys are scoped
// to the app they were issued for.
const orionoidAppKey = "D3CH6HMX9KD9EMD68RXRCDUNBDJV5HRR"

// Orionoid scrapes the Orionoid stream index. Free accounts get 100 API
// calls per day, so the daily window errs on the side of the free tier.
type Orionoid struct {
	httpClient *http.Client
	config     config.OrionoidConfig
	limiter    ratelimit.Limiter
	daily      *window
	logger     zerolog.Logger
}

// NewOrionoid creates an Orionoid scraper.
func NewOrionoid(cfg config.OrionoidConfig, logger zerolog.Logger) (*Orionoid, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("orionoid API key is not configured")
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 30
	}
	return &Orionoid{
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		config:     cfg,
		limiter:    ratelimit.New(1, ratelimit.Per(time.Second)),
		daily:      newWindow(100, 24*time.Hour),
		logger:     logger.With().Str("scraper", "orionoid").Logger(),
	}, nil
}

// Name returns the provider name.
func (s *Orionoid) Name() string {
	return "orionoid"
}

// Scrape queries Orionoid for torrent streams matching the item.
func (s *Orionoid) Scrape(ctx context.Context, item *media.Item) ([]Candidate, error) {
	imdbID := item.Show().ImdbID
	if imdbID == "" {
		return nil, nil
	}
	if !s.daily.allow() {
		return nil, ErrRateLimited
	}
	s.limiter.Take()

	params := url.Values{}
	params.Set("keyapp", orionoidAppKey)
	params.Set("keyuser", s.config.APIKey)
	params.Set("mode", "stream")
	params.Set("action", "retrieve")
	params.Set("idimdb", strings.TrimPrefix(imdbID, "tt"))
	params.Set("streamtype", "torrent")
	params.Set("filename", "true")
	params.Set("limitcount", "100")
	params.Set("video3d", "false")
	params.Set("sortorder", "descending")
	params.Set("sortvalue", "best")

	if item.Type == media.TypeMovie {
		params.Set("type", "movie")
	} else {
		season, episode := seasonEpisode(item)
		if episode == 0 {
			episode = 1
		}
		params.Set("type", "show")
		params.Set("numberseason", strconv.Itoa(season))
		params.Set("numberepisode", strconv.Itoa(episode))
	}

	reqURL := fmt.Sprintf("https://api.orionoid.com?%s", params.Encode())

	var response struct {
		Result struct {
			Status string `json:"status"`
		} `json:"result"`
		Data struct {
			Streams []struct {
				File struct {
					Hash string `json:"hash"`
					Name string `json:"name"`
				} `json:"file"`
			} `json:"streams"`
		} `json:"data"`
	}
	if err := getJSON(ctx, s.httpClient, reqURL, nil, &response); err != nil {
		return nil, err
	}
	if response.Result.Status != "" && response.Result.Status != "success" {
		return nil, fmt.Errorf("orionoid returned status %q", response.Result.Status)
	}

	candidates := make([]Candidate, 0, len(response.Data.Streams))
	for _, stream := range response.Data.Streams {
		if stream.File.Hash == "" || stream.File.Name == "" {
			continue
		}
		candidates = append(candidates, Candidate{Infohash: stream.File.Hash, RawTitle: stream.File.Name})
	}
	return candidates, nil
}
