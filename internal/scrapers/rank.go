package scrapers

import (
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/moistari/rls"

	"github.com/streamfall/streamfall/internal/config"
	"github.com/streamfall/streamfall/internal/media"
)

// titleSimilarity is the minimum levenshtein ratio between the parsed
// release title and the item's top title for a candidate to count as the
// same content.
const titleSimilarity = 0.85

// Sources that never yield a watchable file.
var bannedSources = map[string]bool{
	"CAM":       true,
	"HDCAM":     true,
	"TS":        true,
	"HDTS":      true,
	"TELESYNC":  true,
	"TC":        true,
	"TELECINE":  true,
	"SCR":       true,
	"SCREENER":  true,
	"WORKPRINT": true,
}

// Ranker parses raw torrent titles, discards garbage and scores the rest.
type Ranker struct {
	highestQuality bool
	include4K      bool
	repackProper   bool
}

// NewRanker builds a Ranker from the parser profile.
func NewRanker(cfg config.ParserConfig) *Ranker {
	return &Ranker{
		highestQuality: cfg.HighestQuality,
		include4K:      cfg.Include4K,
		repackProper:   cfg.RepackProper,
	}
}

// Rank filters and scores candidates for the item. skip rejects infohashes
// before parsing (blacklist lookups); it may be nil. The result maps each
// accepted infohash to its stream, keeping the highest rank on duplicates.
func (r *Ranker) Rank(item *media.Item, candidates []Candidate, skip func(string) bool) map[string]*media.Stream {
	want := item.TopTitle()
	out := make(map[string]*media.Stream)

	for _, c := range candidates {
		hash := strings.ToLower(strings.TrimSpace(c.Infohash))
		if len(hash) != 40 || c.RawTitle == "" {
			continue
		}
		if skip != nil && skip(hash) {
			continue
		}

		rel := rls.ParseString(c.RawTitle)
		if !titlesMatch(rel.Title, want) {
			continue
		}
		if !fitsItem(rel, item) {
			continue
		}
		rank, banned := r.score(c.RawTitle, rel)
		if banned {
			continue
		}

		if existing, ok := out[hash]; !ok || rank > existing.Rank {
			out[hash] = &media.Stream{Infohash: hash, RawTitle: c.RawTitle, Rank: rank}
		}
	}
	return out
}

// titlesMatch compares normalized titles, tolerating punctuation and small
// spelling drift.
func titlesMatch(got, want string) bool {
	a, b := normalizeTitle(got), normalizeTitle(want)
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	distance := fuzzy.LevenshteinDistance(a, b)
	return 1-float64(distance)/float64(longest) >= titleSimilarity
}

func normalizeTitle(s string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// fitsItem rejects releases for the wrong movie year, season or episode.
func fitsItem(rel rls.Release, item *media.Item) bool {
	switch item.Type {
	case media.TypeMovie:
		if rel.Series > 0 || rel.Episode > 0 {
			return false
		}
		if rel.Type == rls.Series || rel.Type == rls.Episode {
			return false
		}
		if item.Year > 0 && rel.Year > 0 {
			diff := rel.Year - item.Year
			if diff < -1 || diff > 1 {
				return false
			}
		}
		return true

	case media.TypeSeason:
		if rel.Episode != 0 {
			return false
		}
		if rel.Series == item.Number {
			return true
		}
		// Complete packs for single-season shows often carry no season tag.
		return rel.Series == 0 && hasSingleSeason(item)

	case media.TypeEpisode:
		season := 0
		if item.Parent != nil {
			season = item.Parent.Number
		}
		if rel.Episode == 0 {
			// A season pack covers the episode.
			return rel.Series > 0 && rel.Series == season
		}
		if rel.Episode != item.Number {
			return false
		}
		if rel.Series == 0 {
			return hasSingleSeason(item)
		}
		return rel.Series == season
	}
	return false
}

func hasSingleSeason(item *media.Item) bool {
	show := item.Show()
	return show != nil && show.Type == media.TypeShow && len(show.Children) == 1
}

// score turns the parsed release into a rank. banned releases are dropped
// outright regardless of everything else.
func (r *Ranker) score(raw string, rel rls.Release) (rank int, banned bool) {
	source := strings.ToUpper(rel.Source)
	if bannedSources[source] {
		return 0, true
	}

	resolution := strings.ToLower(rel.Resolution)
	switch resolution {
	case "480p", "576p", "360p":
		return 0, true
	case "2160p", "4k":
		if !r.include4K {
			return 0, true
		}
		rank += 140
	case "1080p":
		rank += 100
	case "720p":
		rank += 60
	default:
		rank += 30
	}

	switch {
	case strings.Contains(source, "BLURAY"):
		rank += 30
	case strings.Contains(source, "WEB"):
		rank += 20
	case strings.Contains(source, "HDTV"):
		rank += 10
	case strings.Contains(source, "DVD"):
		rank += 5
	}

	upper := strings.ToUpper(raw)
	if r.highestQuality && strings.Contains(upper, "REMUX") {
		rank += 25
	}
	if len(rel.HDR) > 0 {
		rank += 15
	}
	for _, a := range rel.Audio {
		switch {
		case strings.Contains(strings.ToUpper(a), "ATMOS"):
			rank += 10
		case strings.Contains(strings.ToUpper(a), "TRUEHD"):
			rank += 8
		}
	}
	if strings.Contains(upper, "MULTI") || strings.Contains(upper, "DUAL") {
		rank += 4
	}
	if r.repackProper && (strings.Contains(upper, "REPACK") || strings.Contains(upper, "PROPER")) {
		rank += 8
	}
	return rank, false
}
