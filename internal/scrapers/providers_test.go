package scrapers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/ratelimit"

	"github.com/streamfall/streamfall/internal/config"
	"github.com/streamfall/streamfall/internal/testutil"
)

func TestTorrentioScrapeMovie(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The pipe in the default filter arrives percent encoded.
		if r.URL.Path != "/sort=qualitysize|qualityfilter=480p,scr,cam,unknown/stream/movie/tt0133093.json" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"streams": []map[string]string{
				{"infoHash": hashA, "title": "The.Matrix.1999.1080p.BluRay.x264\n👤 70 💾 2.2 GB ⚙️ ThePirateBay"},
				{"infoHash": "", "title": "no hash"},
			},
		})
	}))
	defer server.Close()

	sc, err := NewTorrentio(config.TorrentioConfig{URL: server.URL, TimeoutSeconds: 5}, testutil.NopLogger())
	if err != nil {
		t.Fatalf("NewTorrentio() error = %v", err)
	}

	candidates, err := sc.Scrape(context.Background(), testutil.Movie("tt0133093", "The Matrix", 1999))
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("Scrape() returned %d candidates, want 1", len(candidates))
	}
	if candidates[0].RawTitle != "The.Matrix.1999.1080p.BluRay.x264" {
		t.Errorf("RawTitle = %q, want the decoration stripped", candidates[0].RawTitle)
	}
	if candidates[0].Infohash != hashA {
		t.Errorf("Infohash = %q, want %q", candidates[0].Infohash, hashA)
	}
}

func TestTorrentioScrapeEpisode(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(map[string]interface{}{"streams": []map[string]string{}})
	}))
	defer server.Close()

	sc, err := NewTorrentio(config.TorrentioConfig{URL: server.URL, Filter: "f", TimeoutSeconds: 5}, testutil.NopLogger())
	if err != nil {
		t.Fatalf("NewTorrentio() error = %v", err)
	}

	show := testutil.Show("tt0903747", "Breaking Bad", 2008, 7, 13)
	episode := show.Children[1].Children[3] // S02E04

	if _, err := sc.Scrape(context.Background(), episode); err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}
	if gotPath != "/f/stream/series/tt0903747:2:4.json" {
		t.Errorf("path = %q, want /f/stream/series/tt0903747:2:4.json", gotPath)
	}
}

func TestTorrentioRateLimitedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	sc, err := NewTorrentio(config.TorrentioConfig{URL: server.URL, TimeoutSeconds: 5}, testutil.NopLogger())
	if err != nil {
		t.Fatalf("NewTorrentio() error = %v", err)
	}

	_, err = sc.Scrape(context.Background(), testutil.Movie("tt0133093", "The Matrix", 1999))
	if err != ErrRateLimited {
		t.Errorf("Scrape() error = %v, want ErrRateLimited", err)
	}
}

func TestJackettScrape(t *testing.T) {
	const feed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:torznab="http://torznab.com/schemas/2015/feed">
 <channel>
  <item>
   <title>Breaking.Bad.S01E02.1080p.BluRay.x264</title>
   <torznab:attr name="seeders" value="12" />
   <torznab:attr name="infohash" value="` + hashA + `" />
  </item>
  <item>
   <title>No.Hash.Release.S01E02.720p.WEB</title>
   <torznab:attr name="seeders" value="3" />
  </item>
 </channel>
</rss>`

	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2.0/indexers/all/results/torznab" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(feed))
	}))
	defer server.Close()

	sc, err := NewJackett(config.JackettConfig{URL: server.URL, APIKey: "key", TimeoutSeconds: 5}, testutil.NopLogger())
	if err != nil {
		t.Fatalf("NewJackett() error = %v", err)
	}

	show := testutil.Show("tt0903747", "Breaking Bad", 2008, 7, 13)
	episode := show.Children[0].Children[1] // S01E02

	candidates, err := sc.Scrape(context.Background(), episode)
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("Scrape() returned %d candidates, want 1", len(candidates))
	}
	if candidates[0].Infohash != hashA {
		t.Errorf("Infohash = %q, want %q", candidates[0].Infohash, hashA)
	}
	for _, want := range []string{"t=tvsearch", "cat=5000", "season=1", "ep=2", "apikey=key"} {
		if !strings.Contains(gotQuery, want) {
			t.Errorf("query %q is missing %q", gotQuery, want)
		}
	}
}

func TestJackettMagnetFallbacks(t *testing.T) {
	const feed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:torznab="http://torznab.com/schemas/2015/feed">
 <channel>
  <item>
   <title>Magnet.Attr.Release.1080p.BluRay.x264</title>
   <torznab:attr name="magneturl" value="magnet:?xt=urn:btih:` + hashA + `&amp;dn=release" />
  </item>
  <item>
   <title>Magnet.Enclosure.Release.1080p.WEB.x265</title>
   <enclosure url="magnet:?xt=urn:btih:` + hashB + `&amp;dn=other" type="application/x-bittorrent" />
  </item>
  <item>
   <title>Bad.Hash.Release.720p</title>
   <torznab:attr name="infohash" value="not-a-hash" />
  </item>
 </channel>
</rss>`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(feed))
	}))
	defer server.Close()

	sc, err := NewJackett(config.JackettConfig{URL: server.URL, APIKey: "key", TimeoutSeconds: 5}, testutil.NopLogger())
	if err != nil {
		t.Fatalf("NewJackett() error = %v", err)
	}

	candidates, err := sc.Scrape(context.Background(), testutil.Movie("tt0133093", "The Matrix", 1999))
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("Scrape() returned %d candidates, want 2", len(candidates))
	}
	if candidates[0].Infohash != hashA {
		t.Errorf("Infohash = %q, want %q", candidates[0].Infohash, hashA)
	}
	if candidates[1].Infohash != hashB {
		t.Errorf("Infohash = %q, want %q", candidates[1].Infohash, hashB)
	}
}

func TestJackettMovieQuery(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`<rss><channel></channel></rss>`))
	}))
	defer server.Close()

	sc, err := NewJackett(config.JackettConfig{URL: server.URL, APIKey: "key", TimeoutSeconds: 5}, testutil.NopLogger())
	if err != nil {
		t.Fatalf("NewJackett() error = %v", err)
	}

	if _, err := sc.Scrape(context.Background(), testutil.Movie("tt0133093", "The Matrix", 1999)); err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}
	for _, want := range []string{"t=movie", "cat=2000", "year=1999"} {
		if !strings.Contains(gotQuery, want) {
			t.Errorf("query %q is missing %q", gotQuery, want)
		}
	}
}

func TestJackettWindowExhausted(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`<rss><channel></channel></rss>`))
	}))
	defer server.Close()

	sc, err := NewJackett(config.JackettConfig{URL: server.URL, APIKey: "key", TimeoutSeconds: 5, MaxCalls: 1, PeriodSeconds: 3600}, testutil.NopLogger())
	if err != nil {
		t.Fatalf("NewJackett() error = %v", err)
	}

	movie := testutil.Movie("tt0133093", "The Matrix", 1999)
	if _, err := sc.Scrape(context.Background(), movie); err != nil {
		t.Fatalf("first Scrape() error = %v", err)
	}
	if _, err := sc.Scrape(context.Background(), movie); err != ErrRateLimited {
		t.Fatalf("second Scrape() error = %v, want ErrRateLimited", err)
	}
	if calls != 1 {
		t.Errorf("server saw %d calls, want 1", calls)
	}
}

func TestOrionoidScrape(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode(map[string]interface{}{
			"result": map[string]string{"status": "success"},
			"data": map[string]interface{}{
				"streams": []map[string]interface{}{
					{"file": map[string]string{"hash": hashA, "name": "The.Matrix.1999.1080p.BluRay.x264"}},
					{"file": map[string]string{"hash": "", "name": "hashless"}},
				},
			},
		})
	}))
	defer server.Close()

	sc, err := NewOrionoid(config.OrionoidConfig{APIKey: "userkey", TimeoutSeconds: 5}, testutil.NopLogger())
	if err != nil {
		t.Fatalf("NewOrionoid() error = %v", err)
	}
	// Route api.orionoid.com to the test server.
	sc.httpClient = &http.Client{Transport: rewriteHost(server)}

	candidates, err := sc.Scrape(context.Background(), testutil.Movie("tt0133093", "The Matrix", 1999))
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("Scrape() returned %d candidates, want 1", len(candidates))
	}
	for _, want := range []string{"idimdb=0133093", "type=movie", "keyuser=userkey", "streamtype=torrent"} {
		if !strings.Contains(gotQuery, want) {
			t.Errorf("query %q is missing %q", gotQuery, want)
		}
	}
}

func TestOrionoidDailyWindow(t *testing.T) {
	sc, err := NewOrionoid(config.OrionoidConfig{APIKey: "userkey", TimeoutSeconds: 5}, testutil.NopLogger())
	if err != nil {
		t.Fatalf("NewOrionoid() error = %v", err)
	}
	sc.daily = newWindow(0, 0)

	_, err = sc.Scrape(context.Background(), testutil.Movie("tt0133093", "The Matrix", 1999))
	if err != ErrRateLimited {
		t.Errorf("Scrape() error = %v, want ErrRateLimited", err)
	}
}

func TestMediafusionScrape(t *testing.T) {
	encryptCalls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/encrypt-user-data":
			encryptCalls++
			var payload map[string]interface{}
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				t.Errorf("bad encrypt payload: %v", err)
			}
			json.NewEncoder(w).Encode(map[string]string{"status": "success", "encrypted_str": "blob"})
		case r.URL.Path == "/blob/stream/movie/tt0133093.json":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"streams": []map[string]string{
					{
						"description": "📂 The.Matrix.1999.1080p.BluRay.x264\n💾 2.2 GB 👤 70",
						"url":         "https://mediafusion.example/streaming?info_hash=" + hashA,
					},
					{"description": "broken", "url": "https://mediafusion.example/streaming"},
				},
			})
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	sc, err := NewMediafusion(config.MediafusionConfig{URL: server.URL, TimeoutSeconds: 5}, "rd-key", testutil.NopLogger())
	if err != nil {
		t.Fatalf("NewMediafusion() error = %v", err)
	}
	sc.limiter = ratelimit.NewUnlimited()

	movie := testutil.Movie("tt0133093", "The Matrix", 1999)
	candidates, err := sc.Scrape(context.Background(), movie)
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("Scrape() returned %d candidates, want 1", len(candidates))
	}
	if candidates[0].RawTitle != "The.Matrix.1999.1080p.BluRay.x264" {
		t.Errorf("RawTitle = %q, want folder emoji and decoration stripped", candidates[0].RawTitle)
	}
	if candidates[0].Infohash != hashA {
		t.Errorf("Infohash = %q, want %q", candidates[0].Infohash, hashA)
	}

	// The encrypted blob is cached across scrapes.
	if _, err := sc.Scrape(context.Background(), movie); err != nil {
		t.Fatalf("second Scrape() error = %v", err)
	}
	if encryptCalls != 1 {
		t.Errorf("encrypt-user-data was called %d times, want 1", encryptCalls)
	}
}

func TestCometScrape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/stream/series/tt0903747:1:2.json") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"streams": []map[string]string{
				{
					"title": "Breaking.Bad.S01E02.1080p.BluRay.x264\n💾 2.1 GB",
					"url":   "https://comet.example/ZW5jb2RlZA/playback/" + hashA + "/file.mkv",
				},
				{"title": "hashless", "url": "https://comet.example/nothing"},
			},
		})
	}))
	defer server.Close()

	sc, err := NewComet(config.CometConfig{URL: server.URL, TimeoutSeconds: 5}, "rd-key", testutil.NopLogger())
	if err != nil {
		t.Fatalf("NewComet() error = %v", err)
	}

	show := testutil.Show("tt0903747", "Breaking Bad", 2008, 7, 13)
	episode := show.Children[0].Children[1]

	candidates, err := sc.Scrape(context.Background(), episode)
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("Scrape() returned %d candidates, want 1", len(candidates))
	}
	if candidates[0].Infohash != hashA {
		t.Errorf("Infohash = %q, want %q", candidates[0].Infohash, hashA)
	}
	if candidates[0].RawTitle != "Breaking.Bad.S01E02.1080p.BluRay.x264" {
		t.Errorf("RawTitle = %q, want first line only", candidates[0].RawTitle)
	}
}

func TestCometRejectedConfig(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"streams": []map[string]string{{"title": "Invalid Comet config.", "url": ""}},
		})
	}))
	defer server.Close()

	sc, err := NewComet(config.CometConfig{URL: server.URL, TimeoutSeconds: 5}, "", testutil.NopLogger())
	if err != nil {
		t.Fatalf("NewComet() error = %v", err)
	}

	_, err = sc.Scrape(context.Background(), testutil.Movie("tt0133093", "The Matrix", 1999))
	if err == nil {
		t.Fatal("Scrape() accepted an invalid settings response")
	}
}

func TestTorboxScrape(t *testing.T) {
	var gotPath, gotQuery, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data": map[string]interface{}{
				"torrents": []map[string]interface{}{
					{"hash": hashA, "raw_title": "Breaking.Bad.S01.1080p.BluRay.x264"},
					{"hash": "", "raw_title": "hashless"},
				},
			},
		})
	}))
	defer server.Close()

	sc, err := NewTorbox(config.TorboxConfig{URL: server.URL, APIKey: "tb-key", TimeoutSeconds: 5}, testutil.NopLogger())
	if err != nil {
		t.Fatalf("NewTorbox() error = %v", err)
	}

	show := testutil.Show("tt0903747", "Breaking Bad", 2008, 7, 13)
	season := show.Children[0]

	candidates, err := sc.Scrape(context.Background(), season)
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("Scrape() returned %d candidates, want 1", len(candidates))
	}
	if gotPath != "/torrents/imdb:tt0903747" {
		t.Errorf("path = %q, want /torrents/imdb:tt0903747", gotPath)
	}
	if !strings.Contains(gotQuery, "season=1") || strings.Contains(gotQuery, "episode=") {
		t.Errorf("query = %q, want season only", gotQuery)
	}
	if gotAuth != "Bearer tb-key" {
		t.Errorf("Authorization = %q, want Bearer tb-key", gotAuth)
	}
}

// rewriteHost redirects every request to the test server, keeping path and
// query intact. Used for providers with a fixed upstream host.
func rewriteHost(server *httptest.Server) http.RoundTripper {
	return roundTripFunc(func(req *http.Request) (*http.Response, error) {
		target := strings.TrimPrefix(server.URL, "http://")
		req.URL.Scheme = "http"
		req.URL.Host = target
		return http.DefaultTransport.RoundTrip(req)
	})
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
