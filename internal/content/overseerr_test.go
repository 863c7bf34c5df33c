package content

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/streamfall/streamfall/internal/config"
	"github.com/streamfall/streamfall/internal/media"
	"github.com/streamfall/streamfall/internal/testutil"
)

type fakeLibrary struct {
	mu      sync.Mutex
	linked  map[int64]int64
	removed []int64
}

func (f *fakeLibrary) OverseerrLinkedIDs(ctx context.Context) (map[int64]int64, error) {
	return f.linked, nil
}

func (f *fakeLibrary) Remove(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return nil
}

func newTestOverseerr(serverURL string, deleteMissing bool, lib Library) *Overseerr {
	cfg := config.OverseerrConfig{
		Enabled:       true,
		URL:           serverURL,
		APIKey:        "test-key",
		DeleteMissing: deleteMissing,
	}
	return NewOverseerr(cfg, lib, testutil.NopLogger())
}

func TestOverseerrRun(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "test-key" {
			t.Errorf("X-Api-Key = %q", r.Header.Get("X-Api-Key"))
		}
		switch r.URL.Path {
		case "/api/v1/request":
			if r.URL.Query().Get("filter") != "approved" {
				t.Errorf("filter = %q, want approved", r.URL.Query().Get("filter"))
			}
			fmt.Fprint(w, `{"results":[
				{"id":1,"media":{"mediaType":"movie","tmdbId":603,"imdbId":"tt0133093"}},
				{"id":2,"media":{"mediaType":"tv","tvdbId":268592}}
			]}`)
		case "/api/v1/tv/268592":
			fmt.Fprint(w, `{"externalIds":{"imdbId":"tt2661044"}}`)
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	o := newTestOverseerr(server.URL, false, &fakeLibrary{})
	items, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}

	movie := items[0]
	if movie.ImdbID != "tt0133093" || movie.Type != media.TypeMovie || movie.OverseerrID != 1 {
		t.Errorf("movie = %s/%s request %d, want tt0133093/movie request 1",
			movie.ImdbID, movie.Type, movie.OverseerrID)
	}
	show := items[1]
	if show.ImdbID != "tt2661044" || show.Type != media.TypeShow || show.OverseerrID != 2 {
		t.Errorf("show = %s/%s request %d, want tt2661044/show request 2",
			show.ImdbID, show.Type, show.OverseerrID)
	}
	for _, item := range items {
		if item.RequestedBy != "overseerr" {
			t.Errorf("RequestedBy = %q, want overseerr", item.RequestedBy)
		}
		if item.State() != media.StateRequested {
			t.Errorf("State() = %s, want Requested", item.State())
		}
	}
}

func TestOverseerrResolveMissMemoized(t *testing.T) {
	resolves := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/request":
			fmt.Fprint(w, `{"results":[{"id":3,"media":{"mediaType":"movie","tmdbId":603}}]}`)
		case "/api/v1/movie/603":
			resolves++
			fmt.Fprint(w, `{"externalIds":{}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	o := newTestOverseerr(server.URL, false, &fakeLibrary{})
	for i := 0; i < 2; i++ {
		items, err := o.Run(context.Background())
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if len(items) != 0 {
			t.Errorf("got %d items, want 0", len(items))
		}
	}
	if resolves != 1 {
		t.Errorf("resolved %d times, want 1 (miss memoized)", resolves)
	}
}

func TestOverseerrDeleteMissing(t *testing.T) {
	var deleted []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			deleted = append(deleted, r.URL.Path)
			return
		}
		switch r.URL.Path {
		case "/api/v1/request":
			// Request 5 has no ids to chase at all; request 6 is intact.
			fmt.Fprint(w, `{"results":[
				{"id":5,"media":{"mediaType":"movie"}},
				{"id":6,"media":{"mediaType":"movie","imdbId":"tt0133093"}}
			]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	lib := &fakeLibrary{linked: map[int64]int64{6: 900, 77: 1234}}
	o := newTestOverseerr(server.URL, true, lib)

	items, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}

	if len(deleted) != 1 || deleted[0] != "/api/v1/request/5" {
		t.Errorf("deleted = %v, want [/api/v1/request/5]", deleted)
	}
	// Request 6 is still upstream so item 900 stays; request 77 vanished,
	// taking item 1234 with it.
	if len(lib.removed) != 1 || lib.removed[0] != 1234 {
		t.Errorf("removed = %v, want [1234]", lib.removed)
	}
}

func TestOverseerrValidate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/auth/me" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "test-key" {
			t.Errorf("X-Api-Key = %q", r.Header.Get("X-Api-Key"))
		}
		fmt.Fprint(w, `{"id":1}`)
	}))
	defer server.Close()

	o := newTestOverseerr(server.URL, false, &fakeLibrary{})
	if err := o.Validate(context.Background()); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	unconfigured := newTestOverseerr("", false, &fakeLibrary{})
	unconfigured.cfg.APIKey = ""
	if err := unconfigured.Validate(context.Background()); err == nil {
		t.Error("Validate() with no url/key should fail")
	}
}
