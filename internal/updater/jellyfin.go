package updater

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/streamfall/streamfall/internal/config"
	"github.com/streamfall/streamfall/internal/media"
)

// Jellyfin triggers a library scan on a Jellyfin server. Jellyfin has no
// per-path refresh worth using, so every announcement is a full scan; the
// server coalesces overlapping ones.
type Jellyfin struct {
	cfg        config.JellyfinUpdaterConfig
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewJellyfin creates the Jellyfin updater backend.
func NewJellyfin(cfg config.JellyfinUpdaterConfig, logger zerolog.Logger) *Jellyfin {
	return &Jellyfin{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger.With().Str("component", "jellyfin_updater").Logger(),
	}
}

func (j *Jellyfin) Name() string { return "jellyfin" }

// Validate checks the url and key against the system info endpoint.
func (j *Jellyfin) Validate(ctx context.Context) error {
	if j.cfg.URL == "" || j.cfg.APIKey == "" {
		return errors.New("jellyfin url and api key are required")
	}
	if err := j.call(ctx, http.MethodGet, "/System/Info"); err != nil {
		return fmt.Errorf("jellyfin unreachable: %w", err)
	}
	return nil
}

// Refresh starts a library scan. The folder list is ignored; the scan
// covers everything.
func (j *Jellyfin) Refresh(ctx context.Context, folders []string, t media.Type) error {
	if err := j.call(ctx, http.MethodPost, "/Library/Refresh"); err != nil {
		return fmt.Errorf("failed to refresh jellyfin library: %w", err)
	}
	return nil
}

func (j *Jellyfin) call(ctx context.Context, method, path string) error {
	reqURL := fmt.Sprintf("%s%s?api_key=%s", j.cfg.URL, path, url.QueryEscape(j.cfg.APIKey))
	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := j.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
