package scrapers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/streamfall/streamfall/internal/media"
)

// stremioTarget is how stremio-style addons (torrentio, comet, mediafusion)
// address an item: an IMDb id plus an optional ":season:episode" suffix.
// Seasons are addressed through their first episode; the addon responds with
// season packs as well as single episodes.
type stremioTarget struct {
	imdbID     string
	identifier string
	scrapeType string
}

func stremioTargetFor(item *media.Item) (stremioTarget, bool) {
	switch item.Type {
	case media.TypeMovie:
		if item.ImdbID == "" {
			return stremioTarget{}, false
		}
		return stremioTarget{imdbID: item.ImdbID, scrapeType: "movie"}, true
	case media.TypeSeason:
		show := item.Show()
		if show.ImdbID == "" {
			return stremioTarget{}, false
		}
		return stremioTarget{
			imdbID:     show.ImdbID,
			identifier: fmt.Sprintf(":%d:1", item.Number),
			scrapeType: "series",
		}, true
	case media.TypeEpisode:
		show := item.Show()
		if show.ImdbID == "" || item.Parent == nil {
			return stremioTarget{}, false
		}
		return stremioTarget{
			imdbID:     show.ImdbID,
			identifier: fmt.Sprintf(":%d:%d", item.Parent.Number, item.Number),
			scrapeType: "series",
		}, true
	}
	return stremioTarget{}, false
}

// seasonEpisode returns the season and episode numbers an item addresses.
// Seasons report (N, 0), episodes (parent N, N), anything else (0, 0).
func seasonEpisode(item *media.Item) (int, int) {
	switch item.Type {
	case media.TypeSeason:
		return item.Number, 0
	case media.TypeEpisode:
		if item.Parent != nil {
			return item.Parent.Number, item.Number
		}
		return 0, item.Number
	}
	return 0, 0
}

// getJSON performs a GET request and decodes the JSON response into result.
// HTTP 429 maps to ErrRateLimited so callers can reschedule instead of fail.
func getJSON(ctx context.Context, client *http.Client, reqURL string, header http.Header, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for key, values := range header {
		for _, value := range values {
			req.Header.Set(key, value)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// postJSON performs a POST request with a JSON body and decodes the JSON
// response into result.
func postJSON(ctx context.Context, client *http.Client, reqURL string, body interface{}, result interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
