package scrapers

import (
	"strings"
	"testing"

	"github.com/moistari/rls"

	"github.com/streamfall/streamfall/internal/config"
	"github.com/streamfall/streamfall/internal/testutil"
)

const (
	hashA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	hashB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func defaultRanker() *Ranker {
	return NewRanker(config.ParserConfig{RepackProper: true})
}

func TestRankMovie(t *testing.T) {
	movie := testutil.Movie("tt0133093", "The Matrix", 1999)

	candidates := []Candidate{
		{Infohash: strings.ToUpper(hashA), RawTitle: "The.Matrix.1999.1080p.BluRay.x264"},
		{Infohash: hashB, RawTitle: "Some.Other.Film.1999.1080p.BluRay.x264"},
		{Infohash: "tooshort", RawTitle: "The.Matrix.1999.1080p.BluRay.x264"},
		{Infohash: "cccccccccccccccccccccccccccccccccccccccc", RawTitle: ""},
	}

	out := defaultRanker().Rank(movie, candidates, nil)
	if len(out) != 1 {
		t.Fatalf("Rank() kept %d streams, want 1", len(out))
	}
	stream, ok := out[hashA]
	if !ok {
		t.Fatalf("Rank() did not keep %s (hashes are normalized to lower case)", hashA)
	}
	if stream.Rank <= 0 {
		t.Errorf("stream.Rank = %d, want > 0", stream.Rank)
	}
}

func TestRankRejectsBannedAndLowQuality(t *testing.T) {
	movie := testutil.Movie("tt0133093", "The Matrix", 1999)

	tests := []struct {
		name string
		raw  string
	}{
		{"cam source", "The.Matrix.1999.1080p.CAM.x264"},
		{"telesync", "The.Matrix.1999.TS.x264"},
		{"480p", "The.Matrix.1999.480p.WEB.x264"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := defaultRanker().Rank(movie, []Candidate{{Infohash: hashA, RawTitle: tt.raw}}, nil)
			if len(out) != 0 {
				t.Errorf("Rank() kept %q, want rejected", tt.raw)
			}
		})
	}
}

func TestRank4KGate(t *testing.T) {
	movie := testutil.Movie("tt0133093", "The Matrix", 1999)
	raw := "The.Matrix.1999.2160p.BluRay.x265"

	out := NewRanker(config.ParserConfig{}).Rank(movie, []Candidate{{Infohash: hashA, RawTitle: raw}}, nil)
	if len(out) != 0 {
		t.Fatal("Rank() kept a 2160p release with include_4k off")
	}

	out = NewRanker(config.ParserConfig{Include4K: true}).Rank(movie, []Candidate{{Infohash: hashA, RawTitle: raw}}, nil)
	if len(out) != 1 {
		t.Fatal("Rank() rejected a 2160p release with include_4k on")
	}
}

func TestRankSkipsBlacklisted(t *testing.T) {
	movie := testutil.Movie("tt0133093", "The Matrix", 1999)
	candidates := []Candidate{{Infohash: hashA, RawTitle: "The.Matrix.1999.1080p.BluRay.x264"}}

	out := defaultRanker().Rank(movie, candidates, func(hash string) bool { return hash == hashA })
	if len(out) != 0 {
		t.Fatal("Rank() kept a blacklisted hash")
	}
}

func TestRankKeepsHigherRankOnDuplicateHash(t *testing.T) {
	movie := testutil.Movie("tt0133093", "The Matrix", 1999)
	candidates := []Candidate{
		{Infohash: hashA, RawTitle: "The.Matrix.1999.720p.WEB.x264"},
		{Infohash: hashA, RawTitle: "The.Matrix.1999.1080p.BluRay.x264"},
	}

	out := defaultRanker().Rank(movie, candidates, nil)
	if len(out) != 1 {
		t.Fatalf("Rank() kept %d streams, want 1", len(out))
	}
	if !strings.Contains(out[hashA].RawTitle, "1080p") {
		t.Errorf("Rank() kept %q, want the 1080p variant", out[hashA].RawTitle)
	}
}

func TestRankEpisode(t *testing.T) {
	show := testutil.Show("tt0903747", "Breaking Bad", 2008, 7, 13)
	episode := show.Children[0].Children[1] // S01E02

	candidates := []Candidate{
		{Infohash: hashA, RawTitle: "Breaking.Bad.S01E02.1080p.BluRay.x264"},
		{Infohash: hashB, RawTitle: "Breaking.Bad.S02E02.1080p.BluRay.x264"},
		{Infohash: "cccccccccccccccccccccccccccccccccccccccc", RawTitle: "Breaking.Bad.S01.1080p.BluRay.x264"},
	}

	out := defaultRanker().Rank(episode, candidates, nil)
	if _, ok := out[hashA]; !ok {
		t.Error("Rank() rejected the matching episode release")
	}
	if _, ok := out[hashB]; ok {
		t.Error("Rank() kept a release for the wrong season")
	}
	if _, ok := out["cccccccccccccccccccccccccccccccccccccccc"]; !ok {
		t.Error("Rank() rejected a season pack that covers the episode")
	}
}

func TestFitsItemSeason(t *testing.T) {
	show := testutil.Show("tt0903747", "Breaking Bad", 2008, 7, 13)
	season := show.Children[0]

	tests := []struct {
		name string
		rel  rls.Release
		want bool
	}{
		{"matching season pack", rls.Release{Series: 1}, true},
		{"wrong season", rls.Release{Series: 2}, false},
		{"single episode", rls.Release{Series: 1, Episode: 2}, false},
		{"untagged pack for multi season show", rls.Release{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fitsItem(tt.rel, season); got != tt.want {
				t.Errorf("fitsItem() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFitsItemSingleSeasonShow(t *testing.T) {
	show := testutil.Show("tt7366338", "Chernobyl", 2019, 5)
	season := show.Children[0]
	episode := season.Children[2]

	// Releases for single-season shows often omit the season tag entirely.
	if !fitsItem(rls.Release{}, season) {
		t.Error("fitsItem() rejected an untagged pack for a single season show")
	}
	if !fitsItem(rls.Release{Episode: 3}, episode) {
		t.Error("fitsItem() rejected an untagged episode for a single season show")
	}
	if fitsItem(rls.Release{Episode: 4}, episode) {
		t.Error("fitsItem() accepted the wrong episode number")
	}
}

func TestFitsItemMovieYearDrift(t *testing.T) {
	movie := testutil.Movie("tt0133093", "The Matrix", 1999)

	if !fitsItem(rls.Release{Year: 2000}, movie) {
		t.Error("fitsItem() rejected a year off by one")
	}
	if fitsItem(rls.Release{Year: 2003}, movie) {
		t.Error("fitsItem() accepted a year off by four")
	}
	if fitsItem(rls.Release{Series: 1, Episode: 2}, movie) {
		t.Error("fitsItem() accepted an episode release for a movie")
	}
}

func TestTitlesMatch(t *testing.T) {
	tests := []struct {
		got  string
		want string
		ok   bool
	}{
		{"The Matrix", "The Matrix", true},
		{"The.Matrix", "The Matrix", true},
		{"The Matrix", "the matrix", true},
		{"The Matrixx", "The Matrix", true}, // small spelling drift
		{"Something Else", "The Matrix", false},
		{"", "The Matrix", false},
	}
	for _, tt := range tests {
		if got := titlesMatch(tt.got, tt.want); got != tt.ok {
			t.Errorf("titlesMatch(%q, %q) = %v, want %v", tt.got, tt.want, got, tt.ok)
		}
	}
}
