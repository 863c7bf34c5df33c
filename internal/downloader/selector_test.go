package downloader

import (
	"reflect"
	"testing"

	"github.com/streamfall/streamfall/internal/config"
	"github.com/streamfall/streamfall/internal/downloader/debrid"
	"github.com/streamfall/streamfall/internal/media"
	"github.com/streamfall/streamfall/internal/testutil"
)

const testMB = int64(1) << 20

func defaultSelector() *Selector {
	return NewSelector(config.DownloadersConfig{
		VideoExtensions:      []string{"mkv", "mp4", "avi"},
		MovieFilesizeMBMin:   200,
		MovieFilesizeMBMax:   -1,
		EpisodeFilesizeMBMin: 40,
		EpisodeFilesizeMBMax: -1,
	})
}

func container(files ...debrid.File) debrid.Container {
	return debrid.Container{Files: files}
}

func TestSelectMovie(t *testing.T) {
	movie := testutil.Movie("tt0133093", "The Matrix", 1999)

	c := container(
		debrid.File{ID: "1", Filename: "The.Matrix.1999.1080p.BluRay.x264.mkv", Filesize: 8000 * testMB},
		debrid.File{ID: "2", Filename: "sample.mkv", Filesize: 50 * testMB},
		debrid.File{ID: "3", Filename: "info.nfo", Filesize: 4096},
	)

	match, ok := defaultSelector().Select(movie, []debrid.Container{c}, true)
	if !ok {
		t.Fatal("Select() rejected a cached movie container")
	}
	if len(match.Bindings) != 1 || match.Bindings[0].Item != movie {
		t.Fatalf("Select() bindings = %+v, want one binding to the movie", match.Bindings)
	}
	if got := match.Bindings[0].File; got != "The.Matrix.1999.1080p.BluRay.x264.mkv" {
		t.Errorf("bound file = %q, want the full-size release", got)
	}
}

func TestSelectMovieRejectsEpisodeFiles(t *testing.T) {
	movie := testutil.Movie("tt0133093", "The Matrix", 1999)

	c := container(
		debrid.File{ID: "1", Filename: "Some.Show.S01E01.1080p.mkv", Filesize: 2000 * testMB},
	)
	if _, ok := defaultSelector().Select(movie, []debrid.Container{c}, true); ok {
		t.Fatal("Select() accepted an episode file for a movie")
	}
}

func TestSelectMovieSizeBounds(t *testing.T) {
	movie := testutil.Movie("tt0133093", "The Matrix", 1999)

	c := container(
		debrid.File{ID: "1", Filename: "The.Matrix.1999.1080p.mkv", Filesize: 120 * testMB},
	)
	if _, ok := defaultSelector().Select(movie, []debrid.Container{c}, true); ok {
		t.Fatal("Select() accepted a file under the movie size floor")
	}

	open := NewSelector(config.DownloadersConfig{
		VideoExtensions:    []string{"mkv"},
		MovieFilesizeMBMin: -1,
		MovieFilesizeMBMax: -1,
	})
	if _, ok := open.Select(movie, []debrid.Container{c}, true); !ok {
		t.Fatal("Select() rejected a small file with open bounds")
	}
}

func TestSelectEpisode(t *testing.T) {
	show := testutil.Show("tt0903747", "Breaking Bad", 2008, 7, 13)
	episode := show.Children[1].Child(3) // s2e3

	tests := []struct {
		name string
		file string
		want bool
	}{
		{"exact tag", "Breaking.Bad.S02E03.1080p.mkv", true},
		{"wrong season", "Breaking.Bad.S01E03.1080p.mkv", false},
		{"wrong episode", "Breaking.Bad.S02E04.1080p.mkv", false},
		{"no season tag on multi-season show", "Breaking.Bad.E03.1080p.mkv", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := container(debrid.File{ID: "1", Filename: tt.file, Filesize: 500 * testMB})
			_, ok := defaultSelector().Select(episode, []debrid.Container{c}, true)
			if ok != tt.want {
				t.Errorf("Select(%q) = %v, want %v", tt.file, ok, tt.want)
			}
		})
	}
}

func TestSelectEpisodeSingleSeasonWithoutTag(t *testing.T) {
	show := testutil.Show("tt1475582", "Sherlock", 2010, 3)
	episode := show.Children[0].Child(2)

	c := container(debrid.File{ID: "1", Filename: "Sherlock.E02.1080p.mkv", Filesize: 900 * testMB})
	match, ok := defaultSelector().Select(episode, []debrid.Container{c}, true)
	if !ok {
		t.Fatal("Select() rejected an untagged file for a single-season show")
	}
	if match.Bindings[0].Item != episode {
		t.Errorf("bound item = %s, want %s", match.Bindings[0].Item.LogString(), episode.LogString())
	}
}

func TestSelectSeasonCoverage(t *testing.T) {
	full := []debrid.File{
		{ID: "1", Filename: "Show.S01E01.1080p.mkv", Filesize: 700 * testMB},
		{ID: "2", Filename: "Show.S01E02.1080p.mkv", Filesize: 700 * testMB},
		{ID: "3", Filename: "Show.S01E03.1080p.mkv", Filesize: 700 * testMB},
		{ID: "4", Filename: "Show.S01E04.1080p.mkv", Filesize: 700 * testMB},
	}

	newSeason := func() *media.Item {
		return testutil.Show("tt0000001", "Show", 2020, 4, 6).Children[0]
	}

	t.Run("full pack satisfies strict", func(t *testing.T) {
		season := newSeason()
		match, ok := defaultSelector().Select(season, []debrid.Container{container(full...)}, true)
		if !ok {
			t.Fatal("Select() rejected a complete season pack")
		}
		if len(match.Bindings) != 4 {
			t.Fatalf("bindings = %d, want 4", len(match.Bindings))
		}
		for i, b := range match.Bindings {
			if b.Item.Number != i+1 {
				t.Errorf("binding %d is episode %d, want %d", i, b.Item.Number, i+1)
			}
		}
	})

	t.Run("partial pack fails strict", func(t *testing.T) {
		season := newSeason()
		if _, ok := defaultSelector().Select(season, []debrid.Container{container(full[:3]...)}, true); ok {
			t.Fatal("Select() accepted a partial pack under strict coverage")
		}
	})

	t.Run("partial pack passes half coverage", func(t *testing.T) {
		season := newSeason()
		match, ok := defaultSelector().Select(season, []debrid.Container{container(full[:3]...)}, false)
		if !ok {
			t.Fatal("Select() rejected a pack covering 3 of 4 episodes loosely")
		}
		if len(match.Bindings) != 3 {
			t.Errorf("bindings = %d, want 3", len(match.Bindings))
		}
	})

	t.Run("downloaded episodes leave the needed set", func(t *testing.T) {
		season := newSeason()
		ep4 := season.Child(4)
		ep4.File = "Show.S01E04.mkv"
		ep4.Folder = "Show.S01"

		match, ok := defaultSelector().Select(season, []debrid.Container{container(full[:3]...)}, true)
		if !ok {
			t.Fatal("Select() rejected a pack covering every still-needed episode")
		}
		for _, b := range match.Bindings {
			if b.Item == ep4 {
				t.Error("Select() rebound an episode that already has a file")
			}
		}
	})

	t.Run("nothing needed means no match", func(t *testing.T) {
		season := newSeason()
		for _, ep := range season.Children {
			ep.File = "have.mkv"
			ep.Folder = "have"
		}
		if _, ok := defaultSelector().Select(season, []debrid.Container{container(full...)}, true); ok {
			t.Fatal("Select() accepted a season with nothing left to download")
		}
	})
}

func TestSelectPrefersLargerContainer(t *testing.T) {
	season := testutil.Show("tt0000001", "Show", 2020, 2).Children[0]

	small := container(
		debrid.File{ID: "1", Filename: "Show.S01E01.1080p.mkv", Filesize: 700 * testMB},
	)
	big := container(
		debrid.File{ID: "2", Filename: "Show.S01E01.1080p.mkv", Filesize: 700 * testMB},
		debrid.File{ID: "3", Filename: "Show.S01E02.1080p.mkv", Filesize: 700 * testMB},
	)

	match, ok := defaultSelector().Select(season, []debrid.Container{small, big}, true)
	if !ok {
		t.Fatal("Select() found no container")
	}
	if len(match.Container.Files) != 2 {
		t.Fatalf("Select() chose the %d-file container, want the 2-file one first", len(match.Container.Files))
	}
}

func TestSelectShow(t *testing.T) {
	show := testutil.Show("tt0000002", "Dual", 2021, 2, 2)

	complete := container(
		debrid.File{ID: "1", Filename: "Dual.S01E01.1080p.mkv", Filesize: 700 * testMB},
		debrid.File{ID: "2", Filename: "Dual.S01E02.1080p.mkv", Filesize: 700 * testMB},
		debrid.File{ID: "3", Filename: "Dual.S02E01.1080p.mkv", Filesize: 700 * testMB},
		debrid.File{ID: "4", Filename: "Dual.S02E02.1080p.mkv", Filesize: 700 * testMB},
	)
	match, ok := defaultSelector().Select(show, []debrid.Container{complete}, true)
	if !ok {
		t.Fatal("Select() rejected a complete series pack")
	}
	if len(match.Bindings) != 4 {
		t.Errorf("bindings = %d, want 4", len(match.Bindings))
	}

	oneSeasonOnly := container(
		debrid.File{ID: "1", Filename: "Dual.S01E01.1080p.mkv", Filesize: 700 * testMB},
		debrid.File{ID: "2", Filename: "Dual.S01E02.1080p.mkv", Filesize: 700 * testMB},
	)
	if _, ok := defaultSelector().Select(show, []debrid.Container{oneSeasonOnly}, true); ok {
		t.Fatal("Select() accepted a pack missing a whole released season")
	}
}

func TestMatchSeasonFilenames(t *testing.T) {
	season := testutil.Show("tt0000003", "Pack", 2020, 2, 2).Children[1]

	names := []string{
		"Pack.S01E01.1080p.mkv",
		"Pack.S01E02.1080p.mkv",
		"Pack.S02E01.1080p.mkv",
		"Pack.S02E02.1080p.mkv",
	}
	bindings, ok := defaultSelector().MatchSeasonFilenames(season, names, true)
	if !ok {
		t.Fatal("MatchSeasonFilenames() rejected a covering sibling container")
	}
	if len(bindings) != 2 {
		t.Fatalf("bindings = %d, want 2", len(bindings))
	}
	for _, b := range bindings {
		if b.Item.Parent != season {
			t.Errorf("binding for %s is outside the season", b.Item.LogString())
		}
	}

	if _, ok := defaultSelector().MatchSeasonFilenames(season, names[:2], true); ok {
		t.Fatal("MatchSeasonFilenames() accepted a sibling container without this season's files")
	}
}

func TestParseEpisodes(t *testing.T) {
	tests := []struct {
		name       string
		file       string
		wantSeason int
		wantEps    []int
	}{
		{"plain tag", "Show.S02E03.1080p.WEB.mkv", 2, []int{3}},
		{"chained episodes", "Show.S01E01E02.1080p.mkv", 1, []int{1, 2}},
		{"episode range", "Show.S01E01-E03.1080p.mkv", 1, []int{1, 2, 3}},
		{"cross form", "Show.1x05.HDTV.mkv", 1, []int{5}},
		{"bare episode", "Show.E07.1080p.mkv", 0, []int{7}},
		{"no episodes", "Show.2019.1080p.BluRay.mkv", 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			season, eps := ParseEpisodes(tt.file)
			if season != tt.wantSeason {
				t.Errorf("ParseEpisodes(%q) season = %d, want %d", tt.file, season, tt.wantSeason)
			}
			if !reflect.DeepEqual(eps, tt.wantEps) {
				t.Errorf("ParseEpisodes(%q) episodes = %v, want %v", tt.file, eps, tt.wantEps)
			}
		})
	}
}

func TestSelectionIDs(t *testing.T) {
	c := container(
		debrid.File{ID: "1", Filename: "Show.S01E01.mkv", Filesize: 700 * testMB},
		debrid.File{ID: "2", Filename: "readme.txt", Filesize: 100},
		debrid.File{Filename: "Show.S01E02.mkv", Filesize: 700 * testMB},
	)
	got := defaultSelector().SelectionIDs(c)
	if !reflect.DeepEqual(got, []string{"1"}) {
		t.Errorf("SelectionIDs() = %v, want [1]", got)
	}
}
