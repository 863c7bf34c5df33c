package updater

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/streamfall/streamfall/internal/config"
	"github.com/streamfall/streamfall/internal/media"
)

// Plex refreshes the sections of a Plex server, folder by folder.
type Plex struct {
	cfg        config.PlexUpdaterConfig
	httpClient *http.Client
	logger     zerolog.Logger

	mu       sync.Mutex
	sections []plexSection
}

type plexSection struct {
	Key   string `json:"key"`
	Type  string `json:"type"` // "movie" or "show"
	Title string `json:"title"`
}

// NewPlex creates the Plex updater backend.
func NewPlex(cfg config.PlexUpdaterConfig, logger zerolog.Logger) *Plex {
	return &Plex{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger.With().Str("component", "plex_updater").Logger(),
	}
}

func (p *Plex) Name() string { return "plex" }

// Validate authenticates against the server and caches its section list.
func (p *Plex) Validate(ctx context.Context) error {
	if p.cfg.URL == "" || p.cfg.Token == "" {
		return errors.New("plex url and token are required")
	}
	sections, err := p.fetchSections(ctx)
	if err != nil {
		return fmt.Errorf("plex unreachable: %w", err)
	}
	if len(sections) == 0 {
		return errors.New("plex has no library sections")
	}
	return nil
}

// Refresh asks every section of the matching kind to scan the given
// folders. A server without a matching section has nowhere to put the item;
// that is a configuration gap, not an item failure, so it only warns.
func (p *Plex) Refresh(ctx context.Context, folders []string, t media.Type) error {
	sections, err := p.fetchSections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list plex sections: %w", err)
	}

	kind := "movie"
	if t == media.TypeShow {
		kind = "show"
	}

	matched := false
	var lastErr error
	for _, section := range sections {
		if section.Type != kind {
			continue
		}
		matched = true
		for _, folder := range folders {
			if err := p.refreshSection(ctx, section, folder); err != nil {
				lastErr = err
				p.logger.Warn().Err(err).Str("section", section.Title).Str("path", folder).
					Msg("section refresh failed")
			}
		}
	}
	if !matched {
		p.logger.Warn().Str("kind", kind).Msg("no plex section of this kind; nothing refreshed")
		return nil
	}
	return lastErr
}

// Locate looks the item up by its imdb guid so the plex key and guid can be
// stamped once the scan has picked it up.
func (p *Plex) Locate(ctx context.Context, imdbID string, t media.Type) (string, string, bool) {
	sections, err := p.fetchSections(ctx)
	if err != nil {
		return "", "", false
	}

	kind := "movie"
	if t == media.TypeShow {
		kind = "show"
	}
	for _, section := range sections {
		if section.Type != kind {
			continue
		}

		params := url.Values{
			"guid":         {"imdb://" + imdbID},
			"X-Plex-Token": {p.cfg.Token},
		}
		reqURL := fmt.Sprintf("%s/library/sections/%s/all?%s", p.cfg.URL, section.Key, params.Encode())

		var container struct {
			MediaContainer struct {
				Metadata []struct {
					Key  string `json:"key"`
					Guid string `json:"guid"`
				} `json:"Metadata"`
			} `json:"MediaContainer"`
		}
		if err := p.getJSON(ctx, reqURL, &container); err != nil {
			continue
		}
		if len(container.MediaContainer.Metadata) > 0 {
			found := container.MediaContainer.Metadata[0]
			return found.Key, found.Guid, true
		}
	}
	return "", "", false
}

func (p *Plex) refreshSection(ctx context.Context, section plexSection, folder string) error {
	params := url.Values{
		"path":         {folder},
		"X-Plex-Token": {p.cfg.Token},
	}
	reqURL := fmt.Sprintf("%s/library/sections/%s/refresh?%s", p.cfg.URL, section.Key, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// fetchSections returns the cached section list, fetching it on first use.
func (p *Plex) fetchSections(ctx context.Context) ([]plexSection, error) {
	p.mu.Lock()
	cached := p.sections
	p.mu.Unlock()
	if len(cached) > 0 {
		return cached, nil
	}

	reqURL := fmt.Sprintf("%s/library/sections?X-Plex-Token=%s", p.cfg.URL, url.QueryEscape(p.cfg.Token))
	var container struct {
		MediaContainer struct {
			Directory []plexSection `json:"Directory"`
		} `json:"MediaContainer"`
	}
	if err := p.getJSON(ctx, reqURL, &container); err != nil {
		return nil, err
	}

	sections := container.MediaContainer.Directory
	p.mu.Lock()
	p.sections = sections
	p.mu.Unlock()
	return sections, nil
}

func (p *Plex) getJSON(ctx context.Context, reqURL string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
