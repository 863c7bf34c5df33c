package updater

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/streamfall/streamfall/internal/config"
	"github.com/streamfall/streamfall/internal/media"
	"github.com/streamfall/streamfall/internal/testutil"
)

type fakeBackend struct {
	name      string
	err       error
	refreshed [][]string
	kinds     []media.Type
}

func (f *fakeBackend) Name() string                       { return f.name }
func (f *fakeBackend) Validate(ctx context.Context) error { return f.err }

func (f *fakeBackend) Refresh(ctx context.Context, folders []string, t media.Type) error {
	if f.err != nil {
		return f.err
	}
	f.refreshed = append(f.refreshed, folders)
	f.kinds = append(f.kinds, t)
	return nil
}

func symlinkedMovie() *media.Item {
	m := testutil.Movie("tt0133093", "The Matrix", 1999)
	m.Symlinked = true
	m.File = "The.Matrix.1999.1080p.mkv"
	m.Folder = "The.Matrix.1999.1080p"
	m.UpdateFolder = "/library/movies/The Matrix (1999) {imdb-tt0133093}"
	return m
}

func TestRunLocalModeMarksLeaves(t *testing.T) {
	s := NewService(config.UpdatersConfig{}, testutil.NopLogger())

	show := testutil.Show("tt0903747", "Breaking Bad", 2008, 2)
	for _, episode := range show.Children[0].Children {
		episode.Symlinked = true
		episode.UpdateFolder = "/library/shows/Breaking Bad (2008) {imdb-tt0903747}/Season 01"
	}

	got, err := s.Run(context.Background(), show)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for _, episode := range got.Children[0].Children {
		if episode.UpdateFolder != "updated" {
			t.Errorf("episode UpdateFolder = %q, want updated", episode.UpdateFolder)
		}
	}
	if got.State() != media.StateCompleted {
		t.Errorf("State() = %s, want Completed", got.State())
	}
}

func TestRunRefreshesDistinctFolders(t *testing.T) {
	backend := &fakeBackend{name: "fake"}
	s := &Service{backends: []Backend{backend}, logger: testutil.NopLogger()}

	show := testutil.Show("tt0903747", "Breaking Bad", 2008, 2, 1)
	seasonOne := "/library/shows/Breaking Bad (2008) {imdb-tt0903747}/Season 01"
	seasonTwo := "/library/shows/Breaking Bad (2008) {imdb-tt0903747}/Season 02"
	for _, episode := range show.Children[0].Children {
		episode.Symlinked = true
		episode.UpdateFolder = seasonOne
	}
	show.Children[1].Children[0].Symlinked = true
	show.Children[1].Children[0].UpdateFolder = seasonTwo

	if _, err := s.Run(context.Background(), show); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(backend.refreshed) != 1 {
		t.Fatalf("refreshed %d times, want 1", len(backend.refreshed))
	}
	folders := backend.refreshed[0]
	if len(folders) != 2 || folders[0] != seasonOne || folders[1] != seasonTwo {
		t.Errorf("folders = %v, want the two season folders once each", folders)
	}
	if backend.kinds[0] != media.TypeShow {
		t.Errorf("kind = %s, want show", backend.kinds[0])
	}
}

func TestRunEveryBackendFailing(t *testing.T) {
	backend := &fakeBackend{name: "fake", err: errors.New("connection refused")}
	s := &Service{backends: []Backend{backend}, logger: testutil.NopLogger()}

	movie := symlinkedMovie()
	if _, err := s.Run(context.Background(), movie); err == nil {
		t.Fatal("Run() should fail when no backend takes the refresh")
	}
	if movie.UpdateFolder == "updated" {
		t.Error("leaf marked updated despite the failure")
	}
	if movie.State() != media.StateSymlinked {
		t.Errorf("State() = %s, want Symlinked", movie.State())
	}
}

func TestRunOneBackendDownStillUpdates(t *testing.T) {
	down := &fakeBackend{name: "down", err: errors.New("connection refused")}
	up := &fakeBackend{name: "up"}
	s := &Service{backends: []Backend{down, up}, logger: testutil.NopLogger()}

	movie := symlinkedMovie()
	if _, err := s.Run(context.Background(), movie); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if movie.UpdateFolder != "updated" {
		t.Errorf("UpdateFolder = %q, want updated", movie.UpdateFolder)
	}
}

func TestRunNothingPending(t *testing.T) {
	backend := &fakeBackend{name: "fake"}
	s := &Service{backends: []Backend{backend}, logger: testutil.NopLogger()}

	movie := symlinkedMovie()
	movie.UpdateFolder = "updated"
	if _, err := s.Run(context.Background(), movie); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(backend.refreshed) != 0 {
		t.Errorf("refreshed %d times, want 0", len(backend.refreshed))
	}
}

func TestPlexRefreshAndLocate(t *testing.T) {
	var refreshedPaths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("X-Plex-Token") != "plex-token" {
			t.Errorf("X-Plex-Token = %q", r.URL.Query().Get("X-Plex-Token"))
		}
		switch r.URL.Path {
		case "/library/sections":
			fmt.Fprint(w, `{"MediaContainer":{"Directory":[
				{"key":"1","type":"show","title":"TV"},
				{"key":"2","type":"movie","title":"Movies"}
			]}}`)
		case "/library/sections/2/refresh":
			refreshedPaths = append(refreshedPaths, r.URL.Query().Get("path"))
		case "/library/sections/2/all":
			if r.URL.Query().Get("guid") != "imdb://tt0133093" {
				t.Errorf("guid = %q", r.URL.Query().Get("guid"))
			}
			fmt.Fprint(w, `{"MediaContainer":{"Metadata":[
				{"key":"/library/metadata/101","guid":"plex://movie/5d776b59ad5437001f79c6f8"}
			]}}`)
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	plex := NewPlex(config.PlexUpdaterConfig{Enabled: true, URL: server.URL, Token: "plex-token"}, testutil.NopLogger())
	s := &Service{backends: []Backend{plex}, logger: testutil.NopLogger()}

	movie := symlinkedMovie()
	folder := movie.UpdateFolder
	got, err := s.Run(context.Background(), movie)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(refreshedPaths) != 1 || refreshedPaths[0] != folder {
		t.Errorf("refreshed = %v, want [%s]", refreshedPaths, folder)
	}
	if got.Key != "/library/metadata/101" {
		t.Errorf("Key = %q, want /library/metadata/101", got.Key)
	}
	if got.Guid != "plex://movie/5d776b59ad5437001f79c6f8" {
		t.Errorf("Guid = %q", got.Guid)
	}
	if got.State() != media.StateCompleted {
		t.Errorf("State() = %s, want Completed", got.State())
	}
}

func TestPlexNoMatchingSection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/library/sections" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"MediaContainer":{"Directory":[{"key":"2","type":"movie","title":"Movies"}]}}`)
	}))
	defer server.Close()

	plex := NewPlex(config.PlexUpdaterConfig{Enabled: true, URL: server.URL, Token: "t"}, testutil.NopLogger())
	err := plex.Refresh(context.Background(), []string{"/library/shows/x"}, media.TypeShow)
	if err != nil {
		t.Fatalf("Refresh() error = %v, want nil for a missing section kind", err)
	}
}

func TestJellyfinRefresh(t *testing.T) {
	var scans int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("api_key") != "jf-key" {
			t.Errorf("api_key = %q", r.URL.Query().Get("api_key"))
		}
		switch r.URL.Path {
		case "/System/Info":
			fmt.Fprint(w, `{"Version":"10.9.0"}`)
		case "/Library/Refresh":
			if r.Method != http.MethodPost {
				t.Errorf("method = %s, want POST", r.Method)
			}
			scans++
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer server.Close()

	jf := NewJellyfin(config.JellyfinUpdaterConfig{Enabled: true, URL: server.URL, APIKey: "jf-key"}, testutil.NopLogger())
	if err := jf.Validate(context.Background()); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if err := jf.Refresh(context.Background(), []string{"/library/movies/x"}, media.TypeMovie); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if scans != 1 {
		t.Errorf("scans = %d, want 1", scans)
	}
}
