package content

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"

	"github.com/streamfall/streamfall/internal/config"
	"github.com/streamfall/streamfall/internal/media"
	"github.com/streamfall/streamfall/internal/testutil"
)

type fakeResolver struct {
	tvdb map[string]string
	tmdb map[string]string
}

func (f *fakeResolver) ImdbIDFromTvdb(ctx context.Context, tvdbID string) (string, error) {
	if id, ok := f.tvdb[tvdbID]; ok {
		return id, nil
	}
	return "", errors.New("no trakt record for id")
}

func (f *fakeResolver) ImdbIDFromTmdb(ctx context.Context, tmdbID string) (string, error) {
	if id, ok := f.tmdb[tmdbID]; ok {
		return id, nil
	}
	return "", errors.New("no trakt record for id")
}

func TestPlexWatchlistRun(t *testing.T) {
	metadata := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/library/sections/watchlist/all" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("X-Plex-Token") != "plex-token" {
			t.Errorf("X-Plex-Token = %q", r.URL.Query().Get("X-Plex-Token"))
		}
		fmt.Fprint(w, `{"MediaContainer":{"Metadata":[
			{"title":"The Matrix","type":"movie","Guid":[{"id":"tmdb://603"},{"id":"imdb://tt0133093"}]},
			{"title":"Breaking Bad","type":"show","Guid":[{"id":"imdb://tt0903747"}]},
			{"title":"No Guids","type":"movie"}
		]}}`)
	}))
	defer metadata.Close()

	rss := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<rss><channel>
			<item><title>The 100</title><category>show</category><guid isPermaLink="false">tvdb://268592</guid></item>
			<item><title>Dark</title><category>show</category><guid isPermaLink="false">imdb://tt5753856</guid></item>
			<item><title>The Matrix</title><category>movie</category><guid isPermaLink="false">imdb://tt0133093</guid></item>
			<item><title>Unmapped</title><guid isPermaLink="false">tvdb://999</guid></item>
		</channel></rss>`)
	}))
	defer rss.Close()

	cfg := config.PlexWatchlistConfig{Enabled: true, Token: "plex-token", RSS: []string{rss.URL}}
	resolver := &fakeResolver{tvdb: map[string]string{"268592": "tt2661044"}}
	p := NewPlexWatchlist(cfg, resolver, testutil.NopLogger())
	p.metadataURL = metadata.URL

	items, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got := make(map[string]media.Type, len(items))
	for _, item := range items {
		got[item.ImdbID] = item.Type
		if item.RequestedBy != "plex_watchlist" {
			t.Errorf("RequestedBy = %q, want plex_watchlist", item.RequestedBy)
		}
	}
	want := map[string]media.Type{
		"tt0133093": media.TypeMovie,
		"tt0903747": media.TypeShow,
		"tt2661044": media.TypeShow,
		"tt5753856": media.TypeShow,
	}
	if len(got) != len(want) {
		ids := make([]string, 0, len(got))
		for id := range got {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		t.Fatalf("got %v, want 4 distinct titles", ids)
	}
	for id, typ := range want {
		if got[id] != typ {
			t.Errorf("%s = %s, want %s", id, got[id], typ)
		}
	}

	// Everything was seen, so the next poll yields nothing new.
	again, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second run yielded %d items, want 0", len(again))
	}
}

func TestPlexWatchlistValidate(t *testing.T) {
	auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Plex-Token") != "plex-token" {
			t.Errorf("X-Plex-Token = %q", r.Header.Get("X-Plex-Token"))
		}
		fmt.Fprint(w, `{"username":"someone"}`)
	}))
	defer auth.Close()

	rss := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer rss.Close()

	cfg := config.PlexWatchlistConfig{Enabled: true, Token: "plex-token"}
	p := NewPlexWatchlist(cfg, &fakeResolver{}, testutil.NopLogger())
	p.authURL = auth.URL
	if err := p.Validate(context.Background()); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	p.cfg.RSS = []string{rss.URL}
	if err := p.Validate(context.Background()); err == nil {
		t.Error("Validate() with a 404 feed should fail")
	}

	p.cfg.Token = ""
	if err := p.Validate(context.Background()); err == nil {
		t.Error("Validate() without a token should fail")
	}
}
