package scrapers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/streamfall/streamfall/internal/config"
	"github.com/streamfall/streamfall/internal/downloader"
	"github.com/streamfall/streamfall/internal/media"
)

// Jackett scrapes a Jackett instance through its Torznab aggregate endpoint.
// Jackett fans the query out to every configured indexer, so the call budget
// is shared across all of them and kept behind a configurable window.
type Jackett struct {
	httpClient *http.Client
	config     config.JackettConfig
	window     *window
	logger     zerolog.Logger
}

// NewJackett creates a Jackett scraper.
func NewJackett(cfg config.JackettConfig, logger zerolog.Logger) (*Jackett, error) {
	if cfg.URL == "" {
		return nil, errors.New("jackett URL is not configured")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("jackett API key is not configured")
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 30
	}
	if cfg.MaxCalls <= 0 {
		cfg.MaxCalls = 60
	}
	if cfg.PeriodSeconds <= 0 {
		cfg.PeriodSeconds = 60
	}
	return &Jackett{
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		config:     cfg,
		window:     newWindow(cfg.MaxCalls, time.Duration(cfg.PeriodSeconds)*time.Second),
		logger:     logger.With().Str("scraper", "jackett").Logger(),
	}, nil
}

// Name returns the provider name.
func (s *Jackett) Name() string {
	return "jackett"
}

// Scrape runs a Torznab search for the item across all Jackett indexers.
func (s *Jackett) Scrape(ctx context.Context, item *media.Item) ([]Candidate, error) {
	if !s.window.allow() {
		return nil, ErrRateLimited
	}

	params := url.Values{}
	params.Set("apikey", s.config.APIKey)
	switch item.Type {
	case media.TypeMovie:
		params.Set("cat", "2000")
		params.Set("t", "movie")
		params.Set("q", item.Title)
		if item.Year > 0 {
			params.Set("year", strconv.Itoa(item.Year))
		}
	case media.TypeSeason, media.TypeEpisode:
		show := item.Show()
		if show.Title == "" {
			return nil, nil
		}
		season, episode := seasonEpisode(item)
		params.Set("cat", "5000")
		params.Set("t", "tvsearch")
		params.Set("q", show.Title)
		params.Set("season", strconv.Itoa(season))
		if episode > 0 {
			params.Set("ep", strconv.Itoa(episode))
		}
	default:
		return nil, nil
	}

	reqURL := fmt.Sprintf("%s/api/v2.0/indexers/all/results/torznab?%s",
		strings.TrimRight(s.config.URL, "/"), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse torznab feed: %w", err)
	}

	var candidates []Candidate
	doc.Find("item").Each(func(_ int, sel *goquery.Selection) {
		title := strings.TrimSpace(sel.Find("title").First().Text())
		if title == "" {
			return
		}
		infohash := s.resolveInfohash(ctx, sel)
		if infohash == "" {
			return
		}
		candidates = append(candidates, Candidate{Infohash: infohash, RawTitle: title})
	})
	return candidates, nil
}

// resolveInfohash extracts the result's infohash. Most indexers report it as
// a torznab attribute; the rest carry a magnet url (attribute or enclosure)
// or only a .torrent enclosure, which is downloaded and decoded.
func (s *Jackett) resolveInfohash(ctx context.Context, sel *goquery.Selection) string {
	var infohash, magnetURL string
	sel.Find(`torznab\:attr`).EachWithBreak(func(_ int, attr *goquery.Selection) bool {
		name, _ := attr.Attr("name")
		switch {
		case strings.EqualFold(name, "infohash"):
			infohash, _ = attr.Attr("value")
			return false
		case strings.EqualFold(name, "magneturl"):
			magnetURL, _ = attr.Attr("value")
		}
		return true
	})
	if downloader.ValidInfohash(infohash) {
		return infohash
	}

	enclosure, _ := sel.Find("enclosure").First().Attr("url")
	if magnetURL == "" && strings.HasPrefix(enclosure, "magnet:") {
		magnetURL = enclosure
	}
	if magnetURL != "" {
		if hash, _, err := downloader.ParseMagnet(magnetURL); err == nil {
			return hash
		}
	}

	if enclosure == "" || strings.HasPrefix(enclosure, "magnet:") {
		return ""
	}
	hash, err := s.fetchTorrentHash(ctx, enclosure)
	if err != nil {
		s.logger.Debug().Err(err).Str("url", enclosure).Msg("failed to resolve torrent enclosure")
		return ""
	}
	return hash
}

// fetchTorrentHash downloads a .torrent payload and reduces it to its
// infohash. The fetch goes back through Jackett, so it counts against the
// call window.
func (s *Jackett) fetchTorrentHash(ctx context.Context, torrentURL string) (string, error) {
	if !s.window.allow() {
		return "", ErrRateLimited
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, torrentURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read torrent payload: %w", err)
	}
	hash, _, err := downloader.ParseTorrent(data)
	if err != nil {
		return "", err
	}
	return hash, nil
}
