package downloader

import (
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/moistari/rls"

	"github.com/streamfall/streamfall/internal/config"
	"github.com/streamfall/streamfall/internal/downloader/debrid"
	"github.com/streamfall/streamfall/internal/media"
)

// Binding assigns one container file to a movie or episode.
type Binding struct {
	Item *media.Item
	File string
}

// Match is a container that satisfies an item: the winning container and
// the file each leaf item should bind.
type Match struct {
	Container debrid.Container
	Bindings  []Binding
}

// Filenames lists every file in the winning container, the layout stored
// on the active stream.
func (m Match) Filenames() []string {
	names := make([]string, len(m.Container.Files))
	for i, f := range m.Container.Files {
		names[i] = f.Filename
	}
	return names
}

// neededStates are the episode states that still require a file.
var neededStates = map[media.State]bool{
	media.StateIndexed: true,
	media.StateScraped: true,
	media.StateUnknown: true,
	media.StateFailed:  true,
}

// NeededEpisodes returns the episodes of a season that still need a file,
// keyed by episode number.
func NeededEpisodes(season *media.Item) map[int]*media.Item {
	needed := make(map[int]*media.Item)
	for _, ep := range season.Children {
		if neededStates[ep.State()] {
			needed[ep.Number] = ep
		}
	}
	return needed
}

// Selector tests cached containers against items. It is pure: no network,
// no item mutation. Callers apply the returned bindings.
type Selector struct {
	extensions map[string]bool
	movieMin   int64
	movieMax   int64
	episodeMin int64
	episodeMax int64
}

// NewSelector derives the file filter from the downloader configuration.
// Size bounds are megabytes; a negative bound is open.
func NewSelector(cfg config.DownloadersConfig) *Selector {
	s := &Selector{
		extensions: make(map[string]bool, len(cfg.VideoExtensions)),
		movieMin:   megabytes(cfg.MovieFilesizeMBMin),
		movieMax:   megabytes(cfg.MovieFilesizeMBMax),
		episodeMin: megabytes(cfg.EpisodeFilesizeMBMin),
		episodeMax: megabytes(cfg.EpisodeFilesizeMBMax),
	}
	for _, ext := range cfg.VideoExtensions {
		s.extensions["."+strings.TrimPrefix(strings.ToLower(ext), ".")] = true
	}
	return s
}

func megabytes(v int) int64 {
	if v < 0 {
		return -1
	}
	return int64(v) << 20
}

// Select tests the containers in order of descending file count and returns
// the first that satisfies the item. strict controls season acceptance:
// strict providers must cover every needed episode, loose providers accept
// half coverage.
func (s *Selector) Select(item *media.Item, containers []debrid.Container, strict bool) (Match, bool) {
	ordered := make([]debrid.Container, len(containers))
	copy(ordered, containers)
	sort.SliceStable(ordered, func(i, j int) bool {
		return len(ordered[i].Files) > len(ordered[j].Files)
	})

	for _, container := range ordered {
		var bindings []Binding
		var ok bool
		switch item.Type {
		case media.TypeMovie:
			bindings, ok = s.matchMovie(item, container.Files)
		case media.TypeEpisode:
			bindings, ok = s.matchEpisode(item, container.Files)
		case media.TypeSeason:
			bindings, ok = s.matchSeason(item, container.Files, strict)
		case media.TypeShow:
			bindings, ok = s.matchShow(item, container.Files, strict)
		}
		if ok {
			return Match{Container: container, Bindings: bindings}, true
		}
	}
	return Match{}, false
}

// MatchSeasonFilenames is the name-only season matcher used to test a
// sibling season's already-accepted container, where file sizes are no
// longer known.
func (s *Selector) MatchSeasonFilenames(season *media.Item, names []string, strict bool) ([]Binding, bool) {
	files := make([]debrid.File, len(names))
	for i, name := range names {
		files[i] = debrid.File{Filename: name, Filesize: -1}
	}
	return s.matchSeason(season, files, strict)
}

// SelectionIDs returns the ids of every video file in the container, the
// set the torrent is restricted to. Providers without per-file ids yield
// none; selection is skipped for them.
func (s *Selector) SelectionIDs(c debrid.Container) []string {
	var ids []string
	for _, f := range s.videoFiles(c.Files, -1, -1) {
		if f.ID != "" {
			ids = append(ids, f.ID)
		}
	}
	return ids
}

// matchMovie accepts the largest playable file that parses as a movie.
func (s *Selector) matchMovie(item *media.Item, files []debrid.File) ([]Binding, bool) {
	wanted := s.videoFiles(files, s.movieMin, s.movieMax)
	sort.SliceStable(wanted, func(i, j int) bool {
		return wanted[i].Filesize > wanted[j].Filesize
	})

	for _, f := range wanted {
		rel := rls.ParseString(f.Filename)
		if rel.Series > 0 || rel.Episode > 0 {
			continue
		}
		if rel.Type == rls.Series || rel.Type == rls.Episode {
			continue
		}
		return []Binding{{Item: item, File: f.Filename}}, true
	}
	return nil, false
}

// matchEpisode accepts a file that references the target episode in the
// target season. A file without a season tag counts only when the show has
// a single season.
func (s *Selector) matchEpisode(item *media.Item, files []debrid.File) ([]Binding, bool) {
	season := 0
	if item.Parent != nil {
		season = item.Parent.Number
	}
	oneSeason := hasSingleSeason(item)

	for _, f := range s.videoFiles(files, s.episodeMin, s.episodeMax) {
		fileSeason, episodes := ParseEpisodes(f.Filename)
		if len(episodes) == 0 || !containsInt(episodes, item.Number) {
			continue
		}
		if fileSeason == season || (fileSeason == 0 && oneSeason) {
			return []Binding{{Item: item, File: f.Filename}}, true
		}
	}
	return nil, false
}

// matchSeason maps container files onto the episodes that still need one.
// strict requires the full needed set; loose accepts half coverage.
func (s *Selector) matchSeason(item *media.Item, files []debrid.File, strict bool) ([]Binding, bool) {
	needed := NeededEpisodes(item)
	if len(needed) == 0 {
		return nil, false
	}
	oneSeason := hasSingleSeason(item)

	matched := make(map[int]string, len(needed))
	for _, f := range s.videoFiles(files, s.episodeMin, s.episodeMax) {
		fileSeason, episodes := ParseEpisodes(f.Filename)
		if len(episodes) == 0 {
			continue
		}
		if fileSeason != item.Number && !(fileSeason == 0 && oneSeason) {
			continue
		}
		for _, num := range episodes {
			if _, wanted := needed[num]; !wanted {
				continue
			}
			if _, seen := matched[num]; !seen {
				matched[num] = f.Filename
			}
		}
	}

	if len(matched) == 0 {
		return nil, false
	}
	if strict && len(matched) != len(needed) {
		return nil, false
	}
	if !strict && len(matched) < len(needed)/2 {
		return nil, false
	}

	bindings := make([]Binding, 0, len(matched))
	for num, filename := range matched {
		bindings = append(bindings, Binding{Item: needed[num], File: filename})
	}
	sort.Slice(bindings, func(i, j int) bool {
		return bindings[i].Item.Number < bindings[j].Item.Number
	})
	return bindings, true
}

// matchShow accepts only when one container covers every released season
// that still needs episodes.
func (s *Selector) matchShow(item *media.Item, files []debrid.File, strict bool) ([]Binding, bool) {
	var bindings []Binding
	matchedAny := false
	for _, season := range item.Children {
		if !season.IsReleased() || len(NeededEpisodes(season)) == 0 {
			continue
		}
		seasonBindings, ok := s.matchSeason(season, files, strict)
		if !ok {
			return nil, false
		}
		bindings = append(bindings, seasonBindings...)
		matchedAny = true
	}
	if !matchedAny {
		return nil, false
	}
	return bindings, true
}

// videoFiles keeps files whose extension is configured and whose size sits
// inside the window. Negative bounds are open; a negative file size means
// the size is unknown and passes.
func (s *Selector) videoFiles(files []debrid.File, lo, hi int64) []debrid.File {
	out := make([]debrid.File, 0, len(files))
	for _, f := range files {
		ext := strings.ToLower(filepath.Ext(f.Filename))
		if !s.extensions[ext] {
			continue
		}
		if f.Filesize >= 0 {
			if lo >= 0 && f.Filesize < lo {
				continue
			}
			if hi >= 0 && f.Filesize > hi {
				continue
			}
		}
		out = append(out, f)
	}
	return out
}

func hasSingleSeason(item *media.Item) bool {
	show := item.Show()
	return show.Type == media.TypeShow && len(show.Children) == 1
}

func containsInt(nums []int, n int) bool {
	for _, v := range nums {
		if v == n {
			return true
		}
	}
	return false
}

// Episode tag shapes the rls parse alone does not cover: explicit ranges,
// chained tags behind one season marker, bare episode tags and the 1x05
// form.
var (
	epRangeRe     = regexp.MustCompile(`(?i)e(\d{1,3})[ ._-]?-[ ._-]?e?(\d{1,3})`)
	seasonChainRe = regexp.MustCompile(`(?i)\bs(\d{1,2})((?:[ ._-]?e\d{1,3})+)`)
	epNumRe       = regexp.MustCompile(`(?i)e(\d{1,3})`)
	bareEpRe      = regexp.MustCompile(`(?i)\bep?(?:isode)?[ ._]?(\d{1,3})\b`)
	crossRe       = regexp.MustCompile(`\b(\d{1,2})x(\d{2,3})\b`)
)

// ParseEpisodes pulls the season tag and every episode number a filename
// refers to. Handles "S01E02", chained "S01E01E02", ranges "E01-E03",
// bare "E05" and "1x05" forms; everything else falls back to the rls parse.
func ParseEpisodes(name string) (int, []int) {
	rel := rls.ParseString(name)

	seen := make(map[int]bool)
	var episodes []int
	add := func(n int) {
		if n > 0 && n < 1000 && !seen[n] {
			seen[n] = true
			episodes = append(episodes, n)
		}
	}

	// Ranges first so "E01-E03" yields the middle episodes too.
	for _, m := range epRangeRe.FindAllStringSubmatch(name, -1) {
		lo, _ := strconv.Atoi(m[1])
		hi, _ := strconv.Atoi(m[2])
		if hi < lo || hi-lo > 99 {
			continue
		}
		for n := lo; n <= hi; n++ {
			add(n)
		}
	}
	for _, m := range seasonChainRe.FindAllStringSubmatch(name, -1) {
		for _, tag := range epNumRe.FindAllStringSubmatch(m[2], -1) {
			n, _ := strconv.Atoi(tag[1])
			add(n)
		}
	}
	for _, m := range crossRe.FindAllStringSubmatch(name, -1) {
		n, _ := strconv.Atoi(m[2])
		add(n)
	}
	for _, m := range bareEpRe.FindAllStringSubmatch(name, -1) {
		n, _ := strconv.Atoi(m[1])
		add(n)
	}
	if rel.Episode > 0 {
		add(rel.Episode)
	}
	sort.Ints(episodes)

	season := rel.Series
	if season == 0 {
		if m := seasonChainRe.FindStringSubmatch(name); m != nil {
			season, _ = strconv.Atoi(m[1])
		} else if m := crossRe.FindStringSubmatch(name); m != nil {
			season, _ = strconv.Atoi(m[1])
		}
	}
	return season, episodes
}
