package content

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/streamfall/streamfall/internal/config"
	"github.com/streamfall/streamfall/internal/media"
)

const (
	listrrAPIURL  = "https://listrr.pro/api"
	listrrSiteURL = "https://listrr.pro/"

	listrrKeyLen    = 64
	listrrListIDLen = 24
)

// Listrr polls listrr.pro movie and show lists.
type Listrr struct {
	cfg        config.ListrrConfig
	httpClient *http.Client
	resolver   Resolver
	logger     zerolog.Logger
	seen       *seenSet

	baseURL string
	siteURL string
}

// NewListrr creates the Listrr content source.
func NewListrr(cfg config.ListrrConfig, resolver Resolver, logger zerolog.Logger) *Listrr {
	return &Listrr{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		resolver:   resolver,
		logger:     logger.With().Str("component", "listrr").Logger(),
		seen:       newSeenSet(),
		baseURL:    listrrAPIURL,
		siteURL:    listrrSiteURL,
	}
}

func (l *Listrr) Name() string { return "listrr" }

func (l *Listrr) Enabled() bool { return l.cfg.Enabled }

func (l *Listrr) UpdateInterval() string { return l.cfg.UpdateInterval }

// Validate checks the key and list id shapes and that the site answers.
// Listrr keys are 64 characters, list ids 24.
func (l *Listrr) Validate(ctx context.Context) error {
	if len(l.cfg.APIKey) != listrrKeyLen {
		return fmt.Errorf("listrr api key must be %d characters", listrrKeyLen)
	}
	if len(l.cfg.MovieLists)+len(l.cfg.ShowLists) == 0 {
		return errors.New("no listrr lists configured")
	}
	for _, lists := range [][]string{l.cfg.MovieLists, l.cfg.ShowLists} {
		for _, id := range lists {
			if len(id) != listrrListIDLen {
				return fmt.Errorf("invalid listrr list id %q", id)
			}
		}
	}
	if err := ping(ctx, l.httpClient, l.siteURL, l.header()); err != nil {
		return fmt.Errorf("listrr unreachable: %w", err)
	}
	return nil
}

// Run walks the configured lists and yields titles not seen before.
func (l *Listrr) Run(ctx context.Context) ([]*media.Item, error) {
	var items []*media.Item
	for imdbID := range l.listIDs(ctx, "Movies", l.cfg.MovieLists) {
		if l.seen.Add(imdbID) {
			items = append(items, media.NewRequested(media.TypeMovie, imdbID, l.Name()))
		}
	}
	for imdbID := range l.listIDs(ctx, "Shows", l.cfg.ShowLists) {
		if l.seen.Add(imdbID) {
			items = append(items, media.NewRequested(media.TypeShow, imdbID, l.Name()))
		}
	}
	return items, nil
}

// listIDs collects the imdb ids of every page of the given lists. Movies
// listed with only a tmdb id are translated through trakt search. A failing
// page abandons that list, not the run.
func (l *Listrr) listIDs(ctx context.Context, contentType string, lists []string) map[string]bool {
	ids := make(map[string]bool)
	for _, listID := range lists {
		if len(listID) != listrrListIDLen {
			continue
		}

		for page, pageCount := 1, 1; page <= pageCount; page++ {
			var result struct {
				Pages int `json:"pages"`
				Items []struct {
					ImdbID string `json:"imDbId"`
					TmdbID int64  `json:"tmDbId"`
				} `json:"items"`
			}
			reqURL := fmt.Sprintf("%s/List/%s/%s/ReleaseDate/Descending/%d", l.baseURL, contentType, listID, page)
			if err := getJSON(ctx, l.httpClient, reqURL, l.header(), &result); err != nil {
				l.logger.Warn().Err(err).Str("list", listID).Int("page", page).Msg("failed to fetch listrr page")
				break
			}
			if result.Pages > 0 {
				pageCount = result.Pages
			}

			for _, item := range result.Items {
				switch {
				case item.ImdbID != "":
					ids[item.ImdbID] = true
				case contentType == "Movies" && item.TmdbID != 0:
					imdbID, err := l.resolver.ImdbIDFromTmdb(ctx, strconv.FormatInt(item.TmdbID, 10))
					if err != nil {
						l.logger.Debug().Err(err).Int64("tmdb", item.TmdbID).Msg("failed to resolve tmdb id")
						continue
					}
					ids[imdbID] = true
				}
			}
		}
	}
	return ids
}

func (l *Listrr) header() http.Header {
	return http.Header{"X-Api-Key": []string{l.cfg.APIKey}}
}
