// Package realdebrid implements the Real-Debrid REST API client.
package realdebrid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"
	"go.uber.org/ratelimit"

	"github.com/streamfall/streamfall/internal/config"
	"github.com/streamfall/streamfall/internal/downloader/debrid"
)

const (
	defaultBaseURL = "https://api.real-debrid.com/rest/1.0"

	// instantAvailability takes hashes as path segments, so batches stay small.
	availabilityChunkSize = 5

	defaultTorrentListLimit = 1000
)

// Client talks to the Real-Debrid REST API.
type Client struct {
	httpClient *http.Client
	config     config.RealDebridConfig
	limiter    ratelimit.Limiter
	logger     zerolog.Logger
}

var _ debrid.Client = (*Client)(nil)

// NewClient creates a Real-Debrid client from configuration.
func NewClient(cfg config.RealDebridConfig, logger zerolog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("real-debrid API key is required")
	}
	if cfg.URL == "" {
		cfg.URL = defaultBaseURL
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		config:  cfg,
		limiter: ratelimit.New(1),
		logger:  logger.With().Str("component", "realdebrid").Logger(),
	}, nil
}

// Name returns the provider identifier recorded on streams.
func (c *Client) Name() string {
	return "realdebrid"
}

// StrictSeasonCoverage reports that season packs must cover every needed episode.
func (c *Client) StrictSeasonCoverage() bool {
	return true
}

// Validate checks that the API key belongs to a premium account.
func (c *Client) Validate(ctx context.Context) error {
	var user struct {
		Premium    int    `json:"premium"`
		Type       string `json:"type"`
		Expiration string `json:"expiration"`
	}
	if err := c.getJSON(ctx, "/user", &user); err != nil {
		return err
	}
	if user.Premium <= 0 {
		return debrid.ErrNotPremium
	}

	c.logger.Debug().
		Str("type", user.Type).
		Str("expiration", user.Expiration).
		Msg("Real-Debrid account validated")
	return nil
}

// Availability reports the cached file containers for each infohash.
// Hashes are queried in small batches; uncached hashes are omitted.
func (c *Client) Availability(ctx context.Context, infohashes []string) (map[string][]debrid.Container, error) {
	out := make(map[string][]debrid.Container)

	for start := 0; start < len(infohashes); start += availabilityChunkSize {
		end := start + availabilityChunkSize
		if end > len(infohashes) {
			end = len(infohashes)
		}

		endpoint := "/torrents/instantAvailability/" + strings.Join(infohashes[start:end], "/")
		var raw map[string]json.RawMessage
		if err := c.getJSON(ctx, endpoint, &raw); err != nil {
			return nil, fmt.Errorf("instant availability lookup failed: %w", err)
		}

		for hash, entry := range raw {
			if containers := parseContainers(entry); len(containers) > 0 {
				out[strings.ToLower(hash)] = containers
			}
		}
	}

	return out, nil
}

// parseContainers unpacks one instantAvailability entry. Uncached hashes
// arrive as an empty JSON array, cached ones as {"rd": [variants]} where
// each variant maps file id to its metadata.
func parseContainers(entry json.RawMessage) []debrid.Container {
	var wrapper struct {
		RD []map[string]struct {
			Filename string `json:"filename"`
			Filesize int64  `json:"filesize"`
		} `json:"rd"`
	}
	if err := json.Unmarshal(entry, &wrapper); err != nil || len(wrapper.RD) == 0 {
		return nil
	}

	containers := make([]debrid.Container, 0, len(wrapper.RD))
	for _, variant := range wrapper.RD {
		files := make([]debrid.File, 0, len(variant))
		for id, f := range variant {
			files = append(files, debrid.File{
				ID:       id,
				Filename: f.Filename,
				Filesize: f.Filesize,
			})
		}
		sortFilesByID(files)
		containers = append(containers, debrid.Container{Files: files})
	}
	return containers
}

// sortFilesByID keeps container file order stable across map iteration.
// File ids are numeric strings.
func sortFilesByID(files []debrid.File) {
	sort.Slice(files, func(i, j int) bool {
		a, errA := strconv.Atoi(files[i].ID)
		b, errB := strconv.Atoi(files[j].ID)
		if errA != nil || errB != nil {
			return files[i].ID < files[j].ID
		}
		return a < b
	})
}

// AddMagnet submits the infohash as a magnet link and returns the new torrent id.
func (c *Client) AddMagnet(ctx context.Context, infohash string) (string, error) {
	form := url.Values{}
	form.Set("magnet", "magnet:?xt=urn:btih:"+infohash+"&dn=&tr=")

	var result struct {
		ID string `json:"id"`
	}
	if err := c.doRequest(ctx, http.MethodPost, "/torrents/addMagnet", form, &result); err != nil {
		return "", fmt.Errorf("failed to add magnet: %w", err)
	}
	if result.ID == "" {
		return "", fmt.Errorf("add magnet returned no torrent id")
	}
	return result.ID, nil
}

// GetTorrentInfo fetches the torrent's file listing and status.
func (c *Client) GetTorrentInfo(ctx context.Context, id string) (*debrid.TorrentInfo, error) {
	var result struct {
		ID               string `json:"id"`
		Filename         string `json:"filename"`
		OriginalFilename string `json:"original_filename"`
		Hash             string `json:"hash"`
		Status           string `json:"status"`
		Files            []struct {
			ID       int    `json:"id"`
			Path     string `json:"path"`
			Bytes    int64  `json:"bytes"`
			Selected int    `json:"selected"`
		} `json:"files"`
	}
	if err := c.getJSON(ctx, "/torrents/info/"+id, &result); err != nil {
		return nil, err
	}

	info := &debrid.TorrentInfo{
		ID:               result.ID,
		Hash:             strings.ToLower(result.Hash),
		Filename:         result.Filename,
		OriginalFilename: result.OriginalFilename,
		Status:           result.Status,
		Files:            make([]debrid.TorrentFile, 0, len(result.Files)),
	}
	for _, f := range result.Files {
		info.Files = append(info.Files, debrid.TorrentFile{
			ID:       strconv.Itoa(f.ID),
			Path:     f.Path,
			Bytes:    f.Bytes,
			Selected: f.Selected == 1,
		})
	}
	return info, nil
}

// SelectFiles restricts the torrent to the given file ids.
func (c *Client) SelectFiles(ctx context.Context, id string, fileIDs []string) error {
	form := url.Values{}
	form.Set("files", strings.Join(fileIDs, ","))

	if err := c.doRequest(ctx, http.MethodPost, "/torrents/selectFiles/"+id, form, nil); err != nil {
		return fmt.Errorf("failed to select files: %w", err)
	}
	return nil
}

// GetTorrents lists torrents already on the account.
func (c *Client) GetTorrents(ctx context.Context, limit int) ([]debrid.Torrent, error) {
	if limit <= 0 {
		limit = defaultTorrentListLimit
	}

	var result []struct {
		ID       string `json:"id"`
		Hash     string `json:"hash"`
		Filename string `json:"filename"`
		Status   string `json:"status"`
	}
	if err := c.getJSON(ctx, "/torrents?limit="+strconv.Itoa(limit), &result); err != nil {
		return nil, err
	}

	torrents := make([]debrid.Torrent, 0, len(result))
	for _, t := range result {
		torrents = append(torrents, debrid.Torrent{
			ID:       t.ID,
			Hash:     strings.ToLower(t.Hash),
			Filename: t.Filename,
			Status:   t.Status,
		})
	}
	return torrents, nil
}

// getJSON issues a GET with retry on transient failures. Writes are never
// retried because addMagnet is not idempotent.
func (c *Client) getJSON(ctx context.Context, endpoint string, result interface{}) error {
	return retry.Do(
		func() error {
			return c.doRequest(ctx, http.MethodGet, endpoint, nil, result)
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, debrid.ErrUnavailable)
		}),
		retry.LastErrorOnly(true),
	)
}

func (c *Client) doRequest(ctx context.Context, method, endpoint string, form url.Values, result interface{}) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.URL+endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	c.limiter.Take()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", debrid.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return debrid.ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", debrid.ErrNotPremium, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return debrid.ErrRateLimited
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", debrid.ErrUnavailable, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
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
