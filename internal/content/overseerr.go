package content

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/streamfall/streamfall/internal/config"
	"github.com/streamfall/streamfall/internal/media"
)

// overseerrTake is the page size for the request listing. Overseerr does
// not cap it, so one call covers the whole backlog.
const overseerrTake = 10000

// Library is the slice of the item store the Overseerr source needs to
// prune requests that were deleted upstream. Remove drops the whole tree.
type Library interface {
	OverseerrLinkedIDs(ctx context.Context) (map[int64]int64, error)
	Remove(ctx context.Context, id int64) error
}

// Overseerr polls an Overseerr instance for approved requests. Unlike the
// list sources it carries no seen-set: the full request backlog is needed
// every poll to notice upstream deletions.
type Overseerr struct {
	cfg        config.OverseerrConfig
	httpClient *http.Client
	library    Library
	logger     zerolog.Logger

	mu       sync.Mutex
	notFound map[string]bool // external ids with no imdb mapping
}

// NewOverseerr creates the Overseerr content source.
func NewOverseerr(cfg config.OverseerrConfig, library Library, logger zerolog.Logger) *Overseerr {
	return &Overseerr{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		library:    library,
		logger:     logger.With().Str("component", "overseerr").Logger(),
		notFound:   make(map[string]bool),
	}
}

func (o *Overseerr) Name() string { return "overseerr" }

func (o *Overseerr) Enabled() bool { return o.cfg.Enabled }

func (o *Overseerr) UpdateInterval() string { return o.cfg.UpdateInterval }

// Validate checks the configured url and api key against the identity
// endpoint.
func (o *Overseerr) Validate(ctx context.Context) error {
	if o.cfg.URL == "" || o.cfg.APIKey == "" {
		return errors.New("overseerr url and api key are required")
	}
	if err := ping(ctx, o.httpClient, o.cfg.URL+"/api/v1/auth/me", o.header()); err != nil {
		return fmt.Errorf("overseerr unreachable: %w", err)
	}
	return nil
}

type overseerrMedia struct {
	MediaType string `json:"mediaType"`
	TmdbID    int64  `json:"tmdbId"`
	TvdbID    int64  `json:"tvdbId"`
	ImdbID    string `json:"imdbId"`
}

type overseerrRequest struct {
	ID    int64          `json:"id"`
	Media overseerrMedia `json:"media"`
}

// Run lists every approved request and yields the ones that resolve to an
// imdb id. With delete_missing set it additionally deletes unresolvable
// requests upstream and removes local items whose request disappeared from
// Overseerr.
func (o *Overseerr) Run(ctx context.Context) ([]*media.Item, error) {
	var page struct {
		Results []overseerrRequest `json:"results"`
	}
	reqURL := fmt.Sprintf("%s/api/v1/request?take=%d&filter=approved&sort=added", o.cfg.URL, overseerrTake)
	if err := getJSON(ctx, o.httpClient, reqURL, o.header(), &page); err != nil {
		return nil, fmt.Errorf("failed to list overseerr requests: %w", err)
	}

	items := make([]*media.Item, 0, len(page.Results))
	upstream := make(map[int64]bool, len(page.Results))
	for _, req := range page.Results {
		upstream[req.ID] = true

		imdbID := req.Media.ImdbID
		if imdbID == "" {
			imdbID = o.resolveImdbID(ctx, req.Media)
		}
		if imdbID == "" {
			if o.cfg.DeleteMissing {
				o.deleteRequest(ctx, req.ID)
			}
			continue
		}

		item := media.NewRequested(typeForOverseerr(req.Media.MediaType), imdbID, o.Name())
		item.OverseerrID = req.ID
		items = append(items, item)
	}

	if o.cfg.DeleteMissing {
		o.prune(ctx, upstream)
	}
	return items, nil
}

// resolveImdbID chases the tmdb/tvdb external ids of a request whose media
// entry carries no imdb id. Misses are remembered so the same id is not
// chased on every poll.
func (o *Overseerr) resolveImdbID(ctx context.Context, m overseerrMedia) string {
	mediaType, key, externalID := "movie", "tmdb", m.TmdbID
	if m.MediaType == "tv" || m.MediaType == "show" {
		mediaType, key, externalID = "tv", "tvdb", m.TvdbID
	}
	if externalID == 0 {
		return ""
	}

	memoKey := fmt.Sprintf("%s-%d", key, externalID)
	o.mu.Lock()
	miss := o.notFound[memoKey]
	o.mu.Unlock()
	if miss {
		return ""
	}

	var detail struct {
		ExternalIds struct {
			ImdbID string `json:"imdbId"`
		} `json:"externalIds"`
	}
	reqURL := fmt.Sprintf("%s/api/v1/%s/%d?language=en", o.cfg.URL, mediaType, externalID)
	if err := getJSON(ctx, o.httpClient, reqURL, o.header(), &detail); err != nil {
		o.logger.Debug().Err(err).Str("id", memoKey).Msg("failed to resolve external id")
		return ""
	}
	if detail.ExternalIds.ImdbID == "" {
		o.mu.Lock()
		o.notFound[memoKey] = true
		o.mu.Unlock()
	}
	return detail.ExternalIds.ImdbID
}

// deleteRequest drops a request Overseerr cannot map to an imdb id, so it
// stops resurfacing on every poll.
func (o *Overseerr) deleteRequest(ctx context.Context, id int64) {
	reqURL := fmt.Sprintf("%s/api/v1/request/%d", o.cfg.URL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, reqURL, nil)
	if err != nil {
		return
	}
	for key, values := range o.header() {
		for _, value := range values {
			req.Header.Set(key, value)
		}
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		o.logger.Warn().Err(err).Int64("request", id).Msg("failed to delete overseerr request")
		return
	}
	resp.Body.Close()
	o.logger.Info().Int64("request", id).Msg("deleted overseerr request with no imdb id")
}

// prune removes local trees whose Overseerr request no longer exists, so a
// request withdrawn upstream takes its library entry with it.
func (o *Overseerr) prune(ctx context.Context, upstream map[int64]bool) {
	linked, err := o.library.OverseerrLinkedIDs(ctx)
	if err != nil {
		o.logger.Warn().Err(err).Msg("failed to list linked overseerr requests")
		return
	}
	for requestID, itemID := range linked {
		if upstream[requestID] {
			continue
		}
		if err := o.library.Remove(ctx, itemID); err != nil {
			o.logger.Warn().Err(err).Int64("item", itemID).Msg("failed to remove item for deleted request")
			continue
		}
		o.logger.Info().Int64("item", itemID).Int64("request", requestID).
			Msg("removed item whose overseerr request was deleted")
	}
}

func (o *Overseerr) header() http.Header {
	return http.Header{"X-Api-Key": []string{o.cfg.APIKey}}
}

func typeForOverseerr(mediaType string) media.Type {
	if mediaType == "tv" || mediaType == "show" {
		return media.TypeShow
	}
	return media.TypeMovie
}
