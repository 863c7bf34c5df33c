package content

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/streamfall/streamfall/internal/config"
	"github.com/streamfall/streamfall/internal/media"
)

const (
	// plexMetadataURL is the discover API serving account watchlists.
	plexMetadataURL = "https://metadata.provider.plex.tv"
	plexAuthURL     = "https://plex.tv/api/v2/user"

	plexClientID = "streamfall"
)

// PlexWatchlist polls a Plex account watchlist plus any configured
// watchlist RSS feeds.
type PlexWatchlist struct {
	cfg        config.PlexWatchlistConfig
	httpClient *http.Client
	resolver   Resolver
	logger     zerolog.Logger
	seen       *seenSet

	metadataURL string
	authURL     string
}

// NewPlexWatchlist creates the Plex watchlist content source.
func NewPlexWatchlist(cfg config.PlexWatchlistConfig, resolver Resolver, logger zerolog.Logger) *PlexWatchlist {
	return &PlexWatchlist{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		resolver:    resolver,
		logger:      logger.With().Str("component", "plex_watchlist").Logger(),
		seen:        newSeenSet(),
		metadataURL: plexMetadataURL,
		authURL:     plexAuthURL,
	}
}

func (p *PlexWatchlist) Name() string { return "plex_watchlist" }

func (p *PlexWatchlist) Enabled() bool { return p.cfg.Enabled }

func (p *PlexWatchlist) UpdateInterval() string { return p.cfg.UpdateInterval }

// Validate authenticates the token against plex.tv and checks every RSS
// feed answers. A feed returning 404 usually means its key was revoked.
func (p *PlexWatchlist) Validate(ctx context.Context) error {
	if p.cfg.Token == "" {
		return errors.New("plex token is required")
	}
	header := http.Header{
		"X-Plex-Token":             []string{p.cfg.Token},
		"X-Plex-Client-Identifier": []string{plexClientID},
	}
	if err := ping(ctx, p.httpClient, p.authURL, header); err != nil {
		return fmt.Errorf("plex account unreachable: %w", err)
	}
	for _, feedURL := range p.cfg.RSS {
		if err := ping(ctx, p.httpClient, feedURL, nil); err != nil {
			return fmt.Errorf("rss feed %s: %w", feedURL, err)
		}
	}
	return nil
}

// Run merges the account watchlist with the RSS feeds and yields titles not
// seen before. A watchlist failure aborts the poll; a single broken feed
// only loses that feed.
func (p *PlexWatchlist) Run(ctx context.Context) ([]*media.Item, error) {
	found := make(map[string]media.Type)
	if err := p.fromWatchlist(ctx, found); err != nil {
		return nil, fmt.Errorf("failed to fetch plex watchlist: %w", err)
	}
	for _, feedURL := range p.cfg.RSS {
		if err := p.fromRSS(ctx, feedURL, found); err != nil {
			p.logger.Warn().Err(err).Str("url", feedURL).Msg("failed to fetch plex rss feed")
		}
	}

	items := make([]*media.Item, 0, len(found))
	for imdbID, t := range found {
		if !p.seen.Add(imdbID) {
			continue
		}
		items = append(items, media.NewRequested(t, imdbID, p.Name()))
	}
	return items, nil
}

// fromWatchlist collects imdb ids from the account watchlist on the plex
// discover API. Entries without an imdb guid are skipped; Plex carries one
// for essentially everything it lists.
func (p *PlexWatchlist) fromWatchlist(ctx context.Context, found map[string]media.Type) error {
	params := url.Values{
		"X-Plex-Token":    {p.cfg.Token},
		"includeFields":   {"title,type,year"},
		"includeElements": {"Guid"},
		"sort":            {"watchlistedAt:desc"},
	}
	reqURL := p.metadataURL + "/library/sections/watchlist/all?" + params.Encode()

	var container struct {
		MediaContainer struct {
			Metadata []struct {
				Title string `json:"title"`
				Type  string `json:"type"`
				Guid  []struct {
					ID string `json:"id"`
				} `json:"Guid"`
			} `json:"Metadata"`
		} `json:"MediaContainer"`
	}
	if err := getJSON(ctx, p.httpClient, reqURL, nil, &container); err != nil {
		return err
	}

	for _, entry := range container.MediaContainer.Metadata {
		imdbID := ""
		for _, guid := range entry.Guid {
			if id, ok := strings.CutPrefix(guid.ID, "imdb://"); ok {
				imdbID = id
				break
			}
		}
		if imdbID == "" {
			p.logger.Debug().Str("title", entry.Title).Msg("watchlist entry without imdb guid")
			continue
		}
		if _, ok := found[imdbID]; !ok {
			found[imdbID] = typeForPlex(entry.Type)
		}
	}
	return nil
}

type rssFeed struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title    string `xml:"title"`
	Category string `xml:"category"`
	GUID     string `xml:"guid"`
}

// fromRSS collects imdb ids from one watchlist feed. Feed guids look like
// "imdb://tt0133093"; entries carrying only a tvdb guid are translated
// through trakt search.
func (p *PlexWatchlist) fromRSS(ctx context.Context, feedURL string, found map[string]media.Type) error {
	var feed rssFeed
	if err := getXML(ctx, p.httpClient, feedURL, &feed); err != nil {
		return err
	}

	for _, item := range feed.Channel.Items {
		guid := item.GUID
		if i := strings.LastIndex(guid, "//"); i >= 0 {
			guid = guid[i+2:]
		}

		imdbID := guid
		if guid == "" {
			p.logger.Debug().Str("title", item.Title).Msg("rss item without guid")
			continue
		}
		if !strings.HasPrefix(guid, "tt") {
			resolved, err := p.resolver.ImdbIDFromTvdb(ctx, guid)
			if err != nil {
				p.logger.Debug().Err(err).Str("guid", item.GUID).Msg("failed to resolve rss guid")
				continue
			}
			imdbID = resolved
		}
		if _, ok := found[imdbID]; !ok {
			found[imdbID] = typeForPlex(item.Category)
		}
	}
	return nil
}

// typeForPlex maps a plex type or feed category onto an item type. Feeds
// sometimes omit the category; such requests enter as movies and the
// indexer corrects them from the trakt record.
func typeForPlex(t string) media.Type {
	switch strings.ToLower(t) {
	case "show", "series", "tv":
		return media.TypeShow
	default:
		return media.TypeMovie
	}
}
