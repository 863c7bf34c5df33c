package content

import (
	"context"
	"errors"
	"testing"

	"github.com/streamfall/streamfall/internal/config"
	"github.com/streamfall/streamfall/internal/media"
	"github.com/streamfall/streamfall/internal/testutil"
)

type fakeLists struct {
	watchlists  map[string][]*media.Item
	collections map[string][]*media.Item
	userLists   map[string][]*media.Item
	validated   bool
}

func (f *fakeLists) Validate(ctx context.Context) error {
	f.validated = true
	return nil
}

func (f *fakeLists) Watchlist(ctx context.Context, user string) ([]*media.Item, error) {
	if items, ok := f.watchlists[user]; ok {
		return items, nil
	}
	return nil, errors.New("trakt API error")
}

func (f *fakeLists) Collection(ctx context.Context, user string) ([]*media.Item, error) {
	if items, ok := f.collections[user]; ok {
		return items, nil
	}
	return nil, errors.New("trakt API error")
}

func (f *fakeLists) UserList(ctx context.Context, user, list string) ([]*media.Item, error) {
	if items, ok := f.userLists[user+"/"+list]; ok {
		return items, nil
	}
	return nil, errors.New("trakt API error")
}

func listedItem(t media.Type, imdbID, title string) *media.Item {
	item := media.NewRequested(t, imdbID, "")
	item.Title = title
	return item
}

func TestTraktListsRun(t *testing.T) {
	client := &fakeLists{
		watchlists: map[string][]*media.Item{
			"alice": {
				listedItem(media.TypeMovie, "tt0133093", "The Matrix"),
				listedItem(media.TypeShow, "tt0903747", "Breaking Bad"),
			},
		},
		collections: map[string][]*media.Item{
			"bob": {
				// Already on alice's watchlist, so it must not repeat.
				listedItem(media.TypeMovie, "tt0133093", "The Matrix"),
			},
		},
		userLists: map[string][]*media.Item{
			"carol/best-of": {
				listedItem(media.TypeShow, "tt5753856", "Dark"),
			},
		},
	}
	cfg := config.TraktContentConfig{
		Enabled:    true,
		Watchlist:  []string{"alice"},
		Collection: []string{"bob"},
		UserLists: []string{
			"https://trakt.tv/users/carol/lists/best-of",
			"not a list url",
		},
	}
	src := NewTraktLists(cfg, client, testutil.NopLogger())

	items, err := src.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("got %d items, want 3", len(items))
	}
	for _, item := range items {
		if item.RequestedBy != "trakt" {
			t.Errorf("RequestedBy = %q, want trakt", item.RequestedBy)
		}
	}

	again, err := src.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second run yielded %d items, want 0", len(again))
	}
}

func TestTraktListsBrokenListLosesOnlyThatList(t *testing.T) {
	client := &fakeLists{
		watchlists: map[string][]*media.Item{
			"alice": {listedItem(media.TypeMovie, "tt0133093", "The Matrix")},
		},
	}
	cfg := config.TraktContentConfig{
		Enabled:   true,
		Watchlist: []string{"alice", "nobody"},
	}
	src := NewTraktLists(cfg, client, testutil.NopLogger())

	items, err := src.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(items) != 1 || items[0].ImdbID != "tt0133093" {
		t.Errorf("items = %v, want just tt0133093", items)
	}
}

func TestTraktListsValidate(t *testing.T) {
	client := &fakeLists{}
	src := NewTraktLists(config.TraktContentConfig{Enabled: true}, client, testutil.NopLogger())
	if err := src.Validate(context.Background()); err == nil {
		t.Error("Validate() with no lists should fail")
	}
	if client.validated {
		t.Error("API validated before the config check")
	}

	src.cfg.Watchlist = []string{"alice"}
	if err := src.Validate(context.Background()); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !client.validated {
		t.Error("API not validated")
	}
}
