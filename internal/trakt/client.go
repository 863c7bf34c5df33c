// Package trakt is the trakt.tv API client shared by the metadata indexer
// and the trakt list content source.
package trakt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/ratelimit"

	"github.com/streamfall/streamfall/internal/media"
)

const (
	baseURL = "https://api.trakt.tv"

	// Public client id used when no api key is configured.
	publicClientID = "0183a05ad97098d87287fe46da4ae286f434f32e8e951caad4cc147c947d79a3"
)

var (
	ErrNotFound    = errors.New("no trakt record for id")
	ErrRateLimited = errors.New("trakt API rate limited")
	ErrAPIError    = errors.New("trakt API error")
)

var userListRe = regexp.MustCompile(`https://trakt\.tv/users/([^/]+)/lists/([^/?\s]+)`)

// Client is a trakt.tv API client. Trakt allows 1000 calls per 5 minutes;
// requests are paced to stay inside that window.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    ratelimit.Limiter
	logger     zerolog.Logger
}

// NewClient creates a trakt client. An empty apiKey falls back to the
// public client id, which covers every read endpoint used here.
func NewClient(apiKey string, logger zerolog.Logger) *Client {
	if apiKey == "" {
		apiKey = publicClientID
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
		limiter:    ratelimit.New(1000, ratelimit.Per(5*time.Minute)),
		logger:     logger.With().Str("component", "trakt").Logger(),
	}
}

// Validate pings a known public list to verify the API is reachable and
// the key is accepted.
func (c *Client) Validate(ctx context.Context) error {
	return c.get(ctx, fmt.Sprintf("%s/lists/2", c.baseURL), nil, nil)
}

// CreateItemFromImdbID resolves an imdb id into a media item with full
// metadata. hint selects among multiple search hits; when nothing matches
// the hint, the first recognizable hit wins.
func (c *Client) CreateItemFromImdbID(ctx context.Context, imdbID string, hint media.Type) (*media.Item, error) {
	endpoint := fmt.Sprintf("%s/search/imdb/%s", c.baseURL, url.PathEscape(imdbID))
	params := url.Values{}
	params.Set("extended", "full")

	var results []entry
	if err := c.get(ctx, endpoint, params, &results); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrNotFound
	}

	var fallback *media.Item
	for _, e := range results {
		rec, t := e.record()
		if rec == nil {
			continue
		}
		if t == hint {
			return ItemFromRecord(t, rec), nil
		}
		if fallback == nil {
			fallback = ItemFromRecord(t, rec)
		}
	}
	if fallback == nil {
		return nil, ErrNotFound
	}
	return fallback, nil
}

// ShowSeasons returns the full season listing for a show, episodes
// included.
func (c *Client) ShowSeasons(ctx context.Context, imdbID string) ([]Season, error) {
	endpoint := fmt.Sprintf("%s/shows/%s/seasons", c.baseURL, url.PathEscape(imdbID))
	params := url.Values{}
	params.Set("extended", "episodes,full")

	var seasons []Season
	if err := c.get(ctx, endpoint, params, &seasons); err != nil {
		return nil, err
	}
	return seasons, nil
}

// Watchlist returns a user's public watchlist as requested items.
func (c *Client) Watchlist(ctx context.Context, user string) ([]*media.Item, error) {
	endpoint := fmt.Sprintf("%s/users/%s/watchlist", c.baseURL, url.PathEscape(user))
	entries, err := c.getPaged(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return itemsFromEntries(entries), nil
}

// Collection returns a user's collected movies and shows.
func (c *Client) Collection(ctx context.Context, user string) ([]*media.Item, error) {
	var items []*media.Item
	for _, mediaType := range []string{"movies", "shows"} {
		endpoint := fmt.Sprintf("%s/users/%s/collection/%s", c.baseURL, url.PathEscape(user), mediaType)
		entries, err := c.getPaged(ctx, endpoint, nil)
		if err != nil {
			return nil, err
		}
		items = append(items, itemsFromEntries(entries)...)
	}
	return items, nil
}

// UserList returns the items of one of a user's lists.
func (c *Client) UserList(ctx context.Context, user, list string) ([]*media.Item, error) {
	endpoint := fmt.Sprintf("%s/users/%s/lists/%s/items", c.baseURL, url.PathEscape(user), url.PathEscape(list))
	entries, err := c.getPaged(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return itemsFromEntries(entries), nil
}

// ImdbIDFromTvdb translates a tvdb id into an imdb id via trakt search.
func (c *Client) ImdbIDFromTvdb(ctx context.Context, tvdbID string) (string, error) {
	return c.imdbIDFromSearch(ctx, "tvdb", tvdbID)
}

// ImdbIDFromTmdb translates a tmdb id into an imdb id via trakt search.
func (c *Client) ImdbIDFromTmdb(ctx context.Context, tmdbID string) (string, error) {
	return c.imdbIDFromSearch(ctx, "tmdb", tmdbID)
}

func (c *Client) imdbIDFromSearch(ctx context.Context, idType, id string) (string, error) {
	endpoint := fmt.Sprintf("%s/search/%s/%s", c.baseURL, idType, url.PathEscape(id))
	var entries []entry
	if err := c.get(ctx, endpoint, nil, &entries); err != nil {
		return "", err
	}
	for _, e := range entries {
		rec, _ := e.record()
		if rec != nil && rec.Ids.Imdb != "" {
			return rec.Ids.Imdb, nil
		}
	}
	return "", ErrNotFound
}

// ExtractUserList pulls the user and list slugs out of a trakt list URL.
func ExtractUserList(rawURL string) (user, list string, ok bool) {
	m := userListRe.FindStringSubmatch(rawURL)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// itemsFromEntries maps list entries onto requested items, dropping
// records without an imdb id. Listed seasons and episodes request their
// show.
func itemsFromEntries(entries []entry) []*media.Item {
	items := make([]*media.Item, 0, len(entries))
	for _, e := range entries {
		rec, t := e.record()
		if t == media.TypeSeason || t == media.TypeEpisode {
			rec, t = e.Show, media.TypeShow
		}
		if rec == nil || rec.Ids.Imdb == "" {
			continue
		}
		items = append(items, ItemFromRecord(t, rec))
	}
	return items
}

// get performs one GET request and decodes the JSON response into result.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, result interface{}) error {
	_, err := c.do(ctx, endpoint, params, result)
	return err
}

// getPaged walks a paginated endpoint, collecting entries until the
// server stops advertising further pages.
func (c *Client) getPaged(ctx context.Context, endpoint string, params url.Values) ([]entry, error) {
	if params == nil {
		params = url.Values{}
	}

	var all []entry
	for page := 1; ; page++ {
		params.Set("page", strconv.Itoa(page))

		var batch []entry
		pageCount, err := c.do(ctx, endpoint, params, &batch)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		all = append(all, batch...)
		if page >= pageCount {
			break
		}
	}
	return all, nil
}

// do performs a GET request and returns the pagination page count header,
// 0 when the endpoint is not paginated.
func (c *Client) do(ctx context.Context, endpoint string, params url.Values, result interface{}) (int, error) {
	reqURL := endpoint
	if len(params) > 0 {
		reqURL = fmt.Sprintf("%s?%s", endpoint, params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("trakt-api-key", c.apiKey)
	req.Header.Set("trakt-api-version", "2")

	c.limiter.Take()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return 0, ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return 0, ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		return 0, fmt.Errorf("%w: status %d", ErrAPIError, resp.StatusCode)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return 0, fmt.Errorf("failed to decode response: %w", err)
		}
	}

	pageCount, _ := strconv.Atoi(resp.Header.Get("X-Pagination-Page-Count"))
	return pageCount, nil
}
