// Package alldebrid implements the AllDebrid v4 API client.
package alldebrid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
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
	defaultBaseURL = "https://api.alldebrid.com/v4"

	// apiAgent identifies this application; AllDebrid requires it on every call.
	apiAgent = "streamfall"

	availabilityChunkSize = 5
)

// Client talks to the AllDebrid v4 API.
type Client struct {
	httpClient *http.Client
	config     config.AllDebridConfig
	limiter    ratelimit.Limiter
	logger     zerolog.Logger
}

var _ debrid.Client = (*Client)(nil)

// NewClient creates an AllDebrid client from configuration.
func NewClient(cfg config.AllDebridConfig, logger zerolog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("alldebrid API key is required")
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
		logger:  logger.With().Str("component", "alldebrid").Logger(),
	}, nil
}

// Name returns the provider identifier recorded on streams.
func (c *Client) Name() string {
	return "alldebrid"
}

// StrictSeasonCoverage reports that season packs are accepted at half coverage.
func (c *Client) StrictSeasonCoverage() bool {
	return false
}

// Validate checks that the API key belongs to a premium account.
func (c *Client) Validate(ctx context.Context) error {
	var result struct {
		User struct {
			Username     string `json:"username"`
			IsPremium    bool   `json:"isPremium"`
			PremiumUntil int64  `json:"premiumUntil"`
		} `json:"user"`
	}
	if err := c.getJSON(ctx, "/user", nil, &result); err != nil {
		return err
	}
	if !result.User.IsPremium {
		return debrid.ErrNotPremium
	}

	c.logger.Debug().
		Str("username", result.User.Username).
		Time("premiumUntil", time.Unix(result.User.PremiumUntil, 0)).
		Msg("AllDebrid account validated")
	return nil
}

// magnetFile is one node of AllDebrid's nested file listing. Directories
// carry their children under "e".
type magnetFile struct {
	Name    string       `json:"n"`
	Size    int64        `json:"s"`
	Entries []magnetFile `json:"e"`
}

func flattenFiles(entries []magnetFile, out *[]debrid.File) {
	for _, entry := range entries {
		if len(entry.Entries) > 0 {
			flattenFiles(entry.Entries, out)
			continue
		}
		*out = append(*out, debrid.File{
			Filename: entry.Name,
			Filesize: entry.Size,
		})
	}
}

// Availability reports the cached files per infohash. AllDebrid returns a
// single file listing per magnet, so each cached hash maps to one container.
func (c *Client) Availability(ctx context.Context, infohashes []string) (map[string][]debrid.Container, error) {
	out := make(map[string][]debrid.Container)

	for start := 0; start < len(infohashes); start += availabilityChunkSize {
		end := start + availabilityChunkSize
		if end > len(infohashes) {
			end = len(infohashes)
		}

		params := url.Values{}
		for i, hash := range infohashes[start:end] {
			params.Set(fmt.Sprintf("magnets[%d]", i), hash)
		}

		var result struct {
			Magnets []struct {
				Hash    string       `json:"hash"`
				Instant bool         `json:"instant"`
				Files   []magnetFile `json:"files"`
			} `json:"magnets"`
		}
		if err := c.getJSON(ctx, "/magnet/instant", params, &result); err != nil {
			return nil, fmt.Errorf("instant availability lookup failed: %w", err)
		}

		for _, magnet := range result.Magnets {
			if !magnet.Instant {
				continue
			}
			var files []debrid.File
			flattenFiles(magnet.Files, &files)
			if len(files) == 0 {
				continue
			}
			out[strings.ToLower(magnet.Hash)] = []debrid.Container{{Files: files}}
		}
	}

	return out, nil
}

// AddMagnet submits the infohash and returns the new magnet id.
func (c *Client) AddMagnet(ctx context.Context, infohash string) (string, error) {
	params := url.Values{}
	params.Set("magnets[0]", infohash)

	var result struct {
		Magnets []struct {
			ID   int64  `json:"id"`
			Hash string `json:"hash"`
		} `json:"magnets"`
	}
	if err := c.doRequest(ctx, http.MethodPost, "/magnet/upload", params, &result); err != nil {
		return "", fmt.Errorf("failed to upload magnet: %w", err)
	}
	if len(result.Magnets) == 0 || result.Magnets[0].ID == 0 {
		return "", fmt.Errorf("magnet upload returned no id")
	}
	return strconv.FormatInt(result.Magnets[0].ID, 10), nil
}

// GetTorrentInfo fetches the magnet's status and flattened file listing.
func (c *Client) GetTorrentInfo(ctx context.Context, id string) (*debrid.TorrentInfo, error) {
	params := url.Values{}
	params.Set("id", id)

	var result struct {
		Magnets struct {
			ID       int64  `json:"id"`
			Hash     string `json:"hash"`
			Filename string `json:"filename"`
			Status   string `json:"status"`
			Links    []struct {
				Filename string       `json:"filename"`
				Size     int64        `json:"size"`
				Files    []magnetFile `json:"files"`
			} `json:"links"`
		} `json:"magnets"`
	}
	if err := c.getJSON(ctx, "/magnet/status", params, &result); err != nil {
		return nil, err
	}

	info := &debrid.TorrentInfo{
		ID:       strconv.FormatInt(result.Magnets.ID, 10),
		Hash:     strings.ToLower(result.Magnets.Hash),
		Filename: result.Magnets.Filename,
		Status:   result.Magnets.Status,
	}
	for _, link := range result.Magnets.Links {
		var files []debrid.File
		flattenFiles(link.Files, &files)
		if len(files) == 0 {
			files = []debrid.File{{Filename: link.Filename, Filesize: link.Size}}
		}
		for _, f := range files {
			info.Files = append(info.Files, debrid.TorrentFile{
				Path:     f.Filename,
				Bytes:    f.Filesize,
				Selected: true,
			})
		}
	}
	return info, nil
}

// SelectFiles is a no-op: AllDebrid has no per-file selection.
func (c *Client) SelectFiles(ctx context.Context, id string, fileIDs []string) error {
	return nil
}

// GetTorrents lists magnets already on the account. AllDebrid has no limit
// parameter, so the listing is truncated client-side.
func (c *Client) GetTorrents(ctx context.Context, limit int) ([]debrid.Torrent, error) {
	var result struct {
		Magnets []struct {
			ID       int64  `json:"id"`
			Hash     string `json:"hash"`
			Filename string `json:"filename"`
			Status   string `json:"status"`
		} `json:"magnets"`
	}
	if err := c.getJSON(ctx, "/magnet/status", nil, &result); err != nil {
		return nil, err
	}

	torrents := make([]debrid.Torrent, 0, len(result.Magnets))
	for _, m := range result.Magnets {
		if limit > 0 && len(torrents) >= limit {
			break
		}
		torrents = append(torrents, debrid.Torrent{
			ID:       strconv.FormatInt(m.ID, 10),
			Hash:     strings.ToLower(m.Hash),
			Filename: m.Filename,
			Status:   m.Status,
		})
	}
	return torrents, nil
}

// getJSON issues a GET with retry on transient failures.
func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values, result interface{}) error {
	return retry.Do(
		func() error {
			return c.doRequest(ctx, http.MethodGet, endpoint, params, result)
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

// doRequest calls the API and unwraps AllDebrid's response envelope. All
// parameters travel in the query string, as the API expects.
func (c *Client) doRequest(ctx context.Context, method, endpoint string, params url.Values, result interface{}) error {
	values := url.Values{}
	values.Set("agent", apiAgent)
	for key, vals := range params {
		for _, v := range vals {
			values.Add(key, v)
		}
	}

	reqURL := c.config.URL + endpoint + "?" + values.Encode()
	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

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

	var envelope struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if envelope.Status != "success" {
		if strings.HasPrefix(envelope.Error.Code, "AUTH_") {
			return fmt.Errorf("%w: %s", debrid.ErrNotPremium, envelope.Error.Message)
		}
		return fmt.Errorf("alldebrid error %s: %s", envelope.Error.Code, envelope.Error.Message)
	}

	if result == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, result); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}
