package statemachine

import (
	"fmt"
	"testing"
	"time"

	"github.com/streamfall/streamfall/internal/config"
	"github.com/streamfall/streamfall/internal/events"
	"github.com/streamfall/streamfall/internal/media"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Indexer.Trakt.UpdateInterval = "24h"
	cfg.Scraping.After2 = 0.5
	cfg.Scraping.After5 = 2
	cfg.Scraping.After10 = 24
	return cfg
}

func timeAgo(d time.Duration) *time.Time {
	t := time.Now().Add(-d)
	return &t
}

func indexedMovie() *media.Item {
	now := time.Now()
	return &media.Item{
		ID:          1,
		Type:        media.TypeMovie,
		ImdbID:      "tt0133093",
		Title:       "The Matrix",
		Year:        1999,
		RequestedBy: "overseerr",
		RequestedAt: timeAgo(time.Hour),
		AiredAt:     timeAgo(30 * 24 * time.Hour),
		IndexedAt:   &now,
	}
}

func indexedShow(episodesPerSeason ...int) *media.Item {
	aired := timeAgo(90 * 24 * time.Hour)
	now := time.Now()
	show := &media.Item{
		ID:        10,
		Type:      media.TypeShow,
		ImdbID:    "tt0903747",
		Title:     "Breaking Bad",
		AiredAt:   aired,
		IndexedAt: &now,
	}
	id := show.ID + 1
	for sn, count := range episodesPerSeason {
		season := media.NewSeason(show, sn+1)
		season.ID = id
		id++
		season.AiredAt = aired
		show.AddChild(season)
		for en := 1; en <= count; en++ {
			episode := media.NewEpisode(season, en)
			episode.ID = id
			id++
			episode.Title = fmt.Sprintf("Episode %d", en)
			episode.AiredAt = aired
			season.AddChild(episode)
		}
	}
	return show
}

func complete(item *media.Item) {
	item.Walk(func(n *media.Item) {
		if n.Type == media.TypeMovie || n.Type == media.TypeEpisode {
			n.Key = "plex-key"
		}
	})
}

func TestRequestedMovieGoesToIndexer(t *testing.T) {
	m := New(testConfig())
	item := media.NewRequested(media.TypeMovie, "tt0133093", "user")

	tr := m.Process(nil, events.EmitterManual, item)

	if tr.NextService != events.ServiceIndexer {
		t.Fatalf("NextService = %q, want %q", tr.NextService, events.ServiceIndexer)
	}
	if len(tr.ToSubmit) != 1 || tr.ToSubmit[0] != item {
		t.Fatalf("ToSubmit = %v, want the item itself", tr.ToSubmit)
	}
	if tr.Updated != item {
		t.Fatalf("Updated = %v, want the item itself", tr.Updated)
	}
}

func TestContentEmitterAlwaysIndexes(t *testing.T) {
	m := New(testConfig())
	item := indexedMovie()
	item.IndexedAt = nil

	tr := m.Process(nil, events.EmitterOverseerr, item)

	if tr.NextService != events.ServiceIndexer {
		t.Fatalf("NextService = %q, want %q", tr.NextService, events.ServiceIndexer)
	}
}

func TestReindexGateSkipsFreshItems(t *testing.T) {
	m := New(testConfig())
	existing := indexedMovie()

	tr := m.Process(existing, events.EmitterOverseerr, existing)

	if tr.NextService != "" || len(tr.ToSubmit) != 0 || tr.Updated != nil {
		t.Fatalf("expected no further processing, got %+v", tr)
	}
}

func TestReindexAfterInterval(t *testing.T) {
	m := New(testConfig())
	existing := indexedMovie()
	existing.IndexedAt = timeAgo(48 * time.Hour)

	tr := m.Process(existing, events.EmitterOverseerr, existing)

	if tr.NextService != events.ServiceIndexer {
		t.Fatalf("NextService = %q, want %q", tr.NextService, events.ServiceIndexer)
	}
	if len(tr.ToSubmit) != 1 || tr.ToSubmit[0] != existing {
		t.Fatalf("ToSubmit = %v, want the stored item", tr.ToSubmit)
	}
}

func TestSeasonRequestIndexesWholeShow(t *testing.T) {
	m := New(testConfig())
	show := indexedShow(3)
	show.IndexedAt = timeAgo(48 * time.Hour)
	season := show.Children[0]

	tr := m.Process(season, events.EmitterOverseerr, season)

	if tr.NextService != events.ServiceIndexer {
		t.Fatalf("NextService = %q, want %q", tr.NextService, events.ServiceIndexer)
	}
	if len(tr.ToSubmit) != 1 || tr.ToSubmit[0] != show {
		t.Fatalf("ToSubmit = %v, want the parent show", tr.ToSubmit)
	}
}

func TestIndexedMovieGoesToScraping(t *testing.T) {
	m := New(testConfig())
	item := indexedMovie()

	tr := m.Process(item, events.EmitterStateTransition, item)

	if tr.NextService != events.ServiceScraping {
		t.Fatalf("NextService = %q, want %q", tr.NextService, events.ServiceScraping)
	}
	if len(tr.ToSubmit) != 1 || tr.ToSubmit[0] != item {
		t.Fatalf("ToSubmit = %v, want the item itself", tr.ToSubmit)
	}
}

func TestIndexedMergesIntoStoredCopy(t *testing.T) {
	m := New(testConfig())
	existing := media.NewRequested(media.TypeMovie, "tt0133093", "user")
	existing.ID = 1
	existing.OverseerrID = 42
	fresh := indexedMovie()
	fresh.RequestedBy = ""
	fresh.RequestedAt = nil

	tr := m.Process(existing, events.ServiceIndexer, fresh)

	if tr.Updated != existing {
		t.Fatalf("Updated should be the stored copy, got %v", tr.Updated)
	}
	if existing.Title != "The Matrix" {
		t.Errorf("Title not merged into stored copy: %q", existing.Title)
	}
	if existing.IndexedAt == nil || !existing.IndexedAt.Equal(*fresh.IndexedAt) {
		t.Errorf("IndexedAt not adopted from fresh copy")
	}
	if existing.RequestedBy != "user" || existing.OverseerrID != 42 {
		t.Errorf("merge overwrote request provenance: %q %d", existing.RequestedBy, existing.OverseerrID)
	}
	if tr.NextService != events.ServiceScraping {
		t.Fatalf("NextService = %q, want %q", tr.NextService, events.ServiceScraping)
	}
	if len(tr.ToSubmit) != 1 || tr.ToSubmit[0] != existing {
		t.Fatalf("ToSubmit = %v, want the merged stored copy", tr.ToSubmit)
	}
}

func TestIndexedMergeFillsShowChildren(t *testing.T) {
	m := New(testConfig())
	existing := media.NewRequested(media.TypeShow, "tt0903747", "user")
	existing.ID = 10
	fresh := indexedShow(2, 2)

	tr := m.Process(existing, events.ServiceIndexer, fresh)

	if tr.Updated != existing {
		t.Fatalf("Updated should be the stored copy, got %v", tr.Updated)
	}
	if len(existing.Children) != 2 {
		t.Fatalf("stored show has %d seasons, want 2", len(existing.Children))
	}
	if len(existing.Children[0].Children) != 2 {
		t.Fatalf("stored season has %d episodes, want 2", len(existing.Children[0].Children))
	}
}

func TestIndexedStopsWhenStoredCopyCompleted(t *testing.T) {
	m := New(testConfig())
	existing := indexedMovie()
	complete(existing)
	fresh := indexedMovie()

	tr := m.Process(existing, events.ServiceIndexer, fresh)

	if tr.Updated != existing || tr.NextService != "" || len(tr.ToSubmit) != 0 {
		t.Fatalf("expected processing to stop at completed item, got %+v", tr)
	}
}

func TestScrapeBackoffRequeuesLeaf(t *testing.T) {
	m := New(testConfig())
	item := indexedMovie()
	item.ScrapedAt = timeAgo(time.Second)
	item.ScrapedTimes = 1

	tr := m.Process(item, events.ServiceScraping, item)

	if tr.NextService != "" {
		t.Fatalf("NextService = %q, want re-queue without a service", tr.NextService)
	}
	if len(tr.ToSubmit) != 1 || tr.ToSubmit[0] != item {
		t.Fatalf("ToSubmit = %v, want the item itself", tr.ToSubmit)
	}
	want := item.ScrapedAt.Add(5 * time.Second)
	if !tr.RunAt.Equal(want) {
		t.Fatalf("RunAt = %v, want %v", tr.RunAt, want)
	}
}

func TestScrapeBackoffLadder(t *testing.T) {
	m := New(testConfig())

	tests := []struct {
		name    string
		times   int
		elapsed time.Duration
		want    bool
	}{
		{"first attempt after 10s", 0, 10 * time.Second, true},
		{"second attempt too soon", 1, time.Second, false},
		{"third attempt inside half hour", 2, 20 * time.Minute, false},
		{"third attempt after half hour", 2, 40 * time.Minute, true},
		{"sixth attempt inside two hours", 5, time.Hour, false},
		{"sixth attempt after two hours", 5, 3 * time.Hour, true},
		{"eleventh attempt inside a day", 10, 12 * time.Hour, false},
		{"eleventh attempt after a day", 10, 25 * time.Hour, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := indexedMovie()
			item.ScrapedAt = timeAgo(tt.elapsed)
			item.ScrapedTimes = tt.times
			if got := m.ShouldScrape(item); got != tt.want {
				t.Fatalf("ShouldScrape(times=%d, elapsed=%v) = %v, want %v", tt.times, tt.elapsed, got, tt.want)
			}
		})
	}
}

func TestShouldScrapeNeverBeforeRelease(t *testing.T) {
	m := New(testConfig())
	item := indexedMovie()
	future := time.Now().Add(24 * time.Hour)
	item.AiredAt = &future

	if m.ShouldScrape(item) {
		t.Fatal("unaired item should never be scraped")
	}
}

func TestShouldScrapeTrueWhenNeverScraped(t *testing.T) {
	m := New(testConfig())
	item := indexedMovie()

	if !m.ShouldScrape(item) {
		t.Fatal("released item with no scrape history should be scrapeable")
	}
}

func TestNextScrapeAt(t *testing.T) {
	m := New(testConfig())
	item := indexedMovie()
	item.ScrapedAt = timeAgo(time.Minute)
	item.ScrapedTimes = 2

	want := item.ScrapedAt.Add(30 * time.Minute)
	if got := m.NextScrapeAt(item); !got.Equal(want) {
		t.Fatalf("NextScrapeAt = %v, want %v", got, want)
	}
}

func TestIndexedShowSubmitsItselfFirst(t *testing.T) {
	m := New(testConfig())
	show := indexedShow(2, 2)

	tr := m.Process(show, events.EmitterStateTransition, show)

	if tr.NextService != events.ServiceScraping {
		t.Fatalf("NextService = %q, want %q", tr.NextService, events.ServiceScraping)
	}
	if len(tr.ToSubmit) != 1 || tr.ToSubmit[0] != show {
		t.Fatalf("ToSubmit = %v, want the whole show", tr.ToSubmit)
	}
}

func TestIndexedShowDrillsIntoSeasonsAfterScrape(t *testing.T) {
	m := New(testConfig())
	show := indexedShow(2, 2)

	tr := m.Process(show, events.ServiceScraping, show)

	if tr.NextService != events.ServiceScraping {
		t.Fatalf("NextService = %q, want %q", tr.NextService, events.ServiceScraping)
	}
	if len(tr.ToSubmit) != 2 {
		t.Fatalf("ToSubmit has %d items, want both seasons", len(tr.ToSubmit))
	}
	for i, season := range show.Children {
		if tr.ToSubmit[i] != season {
			t.Errorf("ToSubmit[%d] = %v, want season %d", i, tr.ToSubmit[i], season.Number)
		}
	}
}

func TestBackoffWindowOnWholeSeasonRequeues(t *testing.T) {
	m := New(testConfig())
	show := indexedShow(2)
	season := show.Children[0]
	scrapedAt := timeAgo(time.Minute)
	for _, episode := range season.Children {
		episode.ScrapedAt = scrapedAt
		episode.ScrapedTimes = 3
	}
	season.ScrapedAt = scrapedAt
	season.ScrapedTimes = 3

	tr := m.Process(season, events.ServiceScraping, season)

	if tr.NextService != "" {
		t.Fatalf("NextService = %q, want re-queue without a service", tr.NextService)
	}
	if len(tr.ToSubmit) != 1 || tr.ToSubmit[0] != season {
		t.Fatalf("ToSubmit = %v, want the season itself", tr.ToSubmit)
	}
	want := scrapedAt.Add(30 * time.Minute)
	if !tr.RunAt.Equal(want) {
		t.Fatalf("RunAt = %v, want %v", tr.RunAt, want)
	}
}

func TestPartiallyCompletedSeasonRecursesIntoEpisodes(t *testing.T) {
	m := New(testConfig())
	show := indexedShow(2)
	season := show.Children[0]
	complete(season.Children[0])

	if season.State() != media.StatePartiallyCompleted {
		t.Fatalf("season state = %q, want %q", season.State(), media.StatePartiallyCompleted)
	}

	tr := m.Process(season, events.EmitterStateTransition, season)

	if tr.NextService != "" {
		t.Fatalf("NextService = %q, want none at the recursion level", tr.NextService)
	}
	if len(tr.ToSubmit) != 1 || tr.ToSubmit[0] != season.Children[1] {
		t.Fatalf("ToSubmit = %v, want only the incomplete episode", tr.ToSubmit)
	}
}

func TestPartiallyCompletedShowRecursesOneLevel(t *testing.T) {
	m := New(testConfig())
	show := indexedShow(2, 2)
	complete(show.Children[0])

	tr := m.Process(show, events.EmitterStateTransition, show)

	if len(tr.ToSubmit) != 1 || tr.ToSubmit[0] != show.Children[1] {
		t.Fatalf("ToSubmit = %v, want only the incomplete season", tr.ToSubmit)
	}
}

func TestAcquisitionLadder(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*media.Item)
		state media.State
		next  string
	}{
		{
			"scraped goes to downloader",
			func(i *media.Item) {
				i.AddStream(&media.Stream{Infohash: "c12fe1c06bde254618183a9b2ac5a2e9e0ba7e52", RawTitle: "The.Matrix.1999.1080p", Rank: 100})
			},
			media.StateScraped,
			events.ServiceDownloader,
		},
		{
			"downloaded goes to symlinker",
			func(i *media.Item) {
				i.File = "The.Matrix.1999.1080p.mkv"
				i.Folder = "The.Matrix.1999.1080p"
			},
			media.StateDownloaded,
			events.ServiceSymlinker,
		},
		{
			"symlinked goes to updater",
			func(i *media.Item) {
				i.Symlinked = true
			},
			media.StateSymlinked,
			events.ServiceUpdater,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(testConfig())
			item := indexedMovie()
			tt.setup(item)
			if got := item.State(); got != tt.state {
				t.Fatalf("precondition: state = %q, want %q", got, tt.state)
			}

			tr := m.Process(item, events.EmitterStateTransition, item)

			if tr.NextService != tt.next {
				t.Fatalf("NextService = %q, want %q", tr.NextService, tt.next)
			}
			if len(tr.ToSubmit) != 1 || tr.ToSubmit[0] != item {
				t.Fatalf("ToSubmit = %v, want the item itself", tr.ToSubmit)
			}
		})
	}
}

func TestCompletedStopsWithoutSubtitles(t *testing.T) {
	m := New(testConfig())
	item := indexedMovie()
	complete(item)

	tr := m.Process(item, events.ServiceUpdater, item)

	if tr.NextService != "" || len(tr.ToSubmit) != 0 {
		t.Fatalf("expected completed item to stop, got %+v", tr)
	}
	if tr.Updated != item {
		t.Fatalf("Updated = %v, want the item so its state is persisted", tr.Updated)
	}
}

func TestCompletedGoesToPostProcessing(t *testing.T) {
	cfg := testConfig()
	cfg.Subtitles.Enabled = true
	m := New(cfg)
	item := indexedMovie()
	complete(item)

	tr := m.Process(item, events.ServiceUpdater, item)

	if tr.NextService != events.ServicePostProcessing {
		t.Fatalf("NextService = %q, want %q", tr.NextService, events.ServicePostProcessing)
	}
	if len(tr.ToSubmit) != 1 || tr.ToSubmit[0] != item {
		t.Fatalf("ToSubmit = %v, want the item itself", tr.ToSubmit)
	}
}

func TestCompletedShowPostProcessesEpisodes(t *testing.T) {
	cfg := testConfig()
	cfg.Subtitles.Enabled = true
	m := New(cfg)
	show := indexedShow(2, 2)
	complete(show)

	tr := m.Process(show, events.ServiceUpdater, show)

	if tr.NextService != events.ServicePostProcessing {
		t.Fatalf("NextService = %q, want %q", tr.NextService, events.ServicePostProcessing)
	}
	if len(tr.ToSubmit) != 4 {
		t.Fatalf("ToSubmit has %d items, want every episode", len(tr.ToSubmit))
	}
}

func TestPostProcessingNeverLoops(t *testing.T) {
	cfg := testConfig()
	cfg.Subtitles.Enabled = true
	m := New(cfg)
	item := indexedMovie()
	complete(item)

	tr := m.Process(item, events.ServicePostProcessing, item)

	if tr.NextService != "" || len(tr.ToSubmit) != 0 {
		t.Fatalf("post-processing output must not re-enter post-processing, got %+v", tr)
	}
}

func TestUnreleasedMovieParks(t *testing.T) {
	m := New(testConfig())
	item := indexedMovie()
	future := time.Now().Add(30 * 24 * time.Hour)
	item.AiredAt = &future

	if item.State() != media.StateUnreleased {
		t.Fatalf("precondition: state = %q, want %q", item.State(), media.StateUnreleased)
	}

	tr := m.Process(item, events.EmitterStateTransition, item)

	if tr.NextService != "" || len(tr.ToSubmit) != 0 {
		t.Fatalf("unreleased item should park, got %+v", tr)
	}
	if tr.Updated != item {
		t.Fatalf("Updated = %v, want the item so its state is persisted", tr.Updated)
	}
}
