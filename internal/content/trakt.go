package content

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/streamfall/streamfall/internal/config"
	"github.com/streamfall/streamfall/internal/media"
	"github.com/streamfall/streamfall/internal/trakt"
)

// Lists is the slice of the trakt client the list source consumes.
type Lists interface {
	Validate(ctx context.Context) error
	Watchlist(ctx context.Context, user string) ([]*media.Item, error)
	Collection(ctx context.Context, user string) ([]*media.Item, error)
	UserList(ctx context.Context, user, list string) ([]*media.Item, error)
}

// TraktLists polls configured trakt watchlists, collections and user lists.
type TraktLists struct {
	cfg    config.TraktContentConfig
	client Lists
	logger zerolog.Logger
	seen   *seenSet
}

// NewTraktLists creates the trakt list content source.
func NewTraktLists(cfg config.TraktContentConfig, client Lists, logger zerolog.Logger) *TraktLists {
	return &TraktLists{
		cfg:    cfg,
		client: client,
		logger: logger.With().Str("component", "trakt_lists").Logger(),
		seen:   newSeenSet(),
	}
}

func (t *TraktLists) Name() string { return "trakt" }

func (t *TraktLists) Enabled() bool { return t.cfg.Enabled }

func (t *TraktLists) UpdateInterval() string { return t.cfg.UpdateInterval }

// Validate requires at least one configured list and a reachable API.
func (t *TraktLists) Validate(ctx context.Context) error {
	if len(t.cfg.Watchlist)+len(t.cfg.Collection)+len(t.cfg.UserLists) == 0 {
		return errors.New("no trakt lists configured")
	}
	return t.client.Validate(ctx)
}

// Run fetches every configured list and yields titles not seen before. A
// failing list loses that list, not the run; trakt lists overlap often
// enough that the rest still covers most of it.
func (t *TraktLists) Run(ctx context.Context) ([]*media.Item, error) {
	var fetched []*media.Item

	for _, user := range t.cfg.Watchlist {
		items, err := t.client.Watchlist(ctx, user)
		if err != nil {
			t.logger.Warn().Err(err).Str("user", user).Msg("failed to fetch trakt watchlist")
			continue
		}
		fetched = append(fetched, items...)
	}
	for _, user := range t.cfg.Collection {
		items, err := t.client.Collection(ctx, user)
		if err != nil {
			t.logger.Warn().Err(err).Str("user", user).Msg("failed to fetch trakt collection")
			continue
		}
		fetched = append(fetched, items...)
	}
	for _, rawURL := range t.cfg.UserLists {
		user, list, ok := trakt.ExtractUserList(rawURL)
		if !ok {
			t.logger.Warn().Str("url", rawURL).Msg("unrecognized trakt list url")
			continue
		}
		items, err := t.client.UserList(ctx, user, list)
		if err != nil {
			t.logger.Warn().Err(err).Str("user", user).Str("list", list).Msg("failed to fetch trakt list")
			continue
		}
		fetched = append(fetched, items...)
	}

	items := make([]*media.Item, 0, len(fetched))
	for _, item := range fetched {
		if !t.seen.Add(item.ImdbID) {
			continue
		}
		item.RequestedBy = t.Name()
		items = append(items, item)
	}
	return items, nil
}
