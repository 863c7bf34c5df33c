package symlinker

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/streamfall/streamfall/internal/media"
)

var (
	imdbRe    = regexp.MustCompile(`tt\d+`)
	imdbTagRe = regexp.MustCompile(`\{imdb-(tt\d+)\}`)
	titleRe   = regexp.MustCompile(`^(.+?) \(`)
	yearRe    = regexp.MustCompile(`\((\d{4})\)`)
	epTagRe   = regexp.MustCompile(`(?i)\bs(\d+)e(\d+)(?:-e(\d+))?`)
	numberRe  = regexp.MustCompile(`\d+`)
	seasonRe  = regexp.MustCompile(`^Season (\d+)$`)
)

// ScanLibrary rebuilds item stubs from the on-disk library tree. A stub
// carries what the path encodes — imdb id, title, year, numbers — plus
// the file the link resolves to; the indexer fills in the rest when the
// stub re-enters the pipeline. Episodes a season folder skips over
// become bare placeholders so the gaps get re-acquired.
func (s *Service) ScanLibrary(ctx context.Context) ([]*media.Item, error) {
	if !isDir(s.libraryPath) {
		return nil, fmt.Errorf("library path is not a directory: %s", s.libraryPath)
	}

	roots := []struct {
		dir   string
		shows bool
		anime bool
	}{
		{"movies", false, false},
		{"anime_movies", false, true},
		{"shows", true, false},
		{"anime_shows", true, true},
	}

	var items []*media.Item
	for _, root := range roots {
		if root.anime && !s.cfg.SeparateAnimeDirs {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dir := filepath.Join(s.libraryPath, root.dir)
		if root.shows {
			items = append(items, s.scanShows(dir, root.anime)...)
		} else {
			items = append(items, s.scanMovies(dir, root.anime)...)
		}
	}

	s.logger.Info().Int("items", len(items)).Msg("library scan finished")
	return items, nil
}

func (s *Service) scanMovies(dir string, anime bool) []*media.Item {
	var movies []*media.Item
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || strings.HasSuffix(d.Name(), ".srt") {
			return nil
		}
		imdb, title, year, ok := parseTitleEntry(d.Name())
		if !ok {
			s.logger.Warn().Str("path", p).Msg("cannot parse movie entry, skipping")
			return nil
		}
		movie := stubItem(media.TypeMovie, imdb, title, year, anime)
		markOnDisk(movie, p)
		movies = append(movies, movie)
		return nil
	})
	return movies
}

func (s *Service) scanShows(dir string, anime bool) []*media.Item {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var shows []*media.Item
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		imdb, title, year, ok := parseTitleEntry(entry.Name())
		if !ok {
			s.logger.Warn().Str("path", filepath.Join(dir, entry.Name())).Msg("cannot parse show entry, skipping")
			continue
		}
		show := stubItem(media.TypeShow, imdb, title, year, anime)
		s.scanSeasons(filepath.Join(dir, entry.Name()), show)
		if len(show.Children) > 0 {
			shows = append(shows, show)
		}
	}
	return shows
}

func (s *Service) scanSeasons(showDir string, show *media.Item) {
	entries, err := os.ReadDir(showDir)
	if err != nil {
		return
	}

	seasons := make(map[int]*media.Item)
	maxSeason := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		tag := numberRe.FindString(entry.Name())
		if tag == "" {
			s.logger.Warn().Str("path", filepath.Join(showDir, entry.Name())).Msg("cannot parse season number, skipping")
			continue
		}
		number, _ := strconv.Atoi(tag)
		season := media.NewSeason(show, number)
		s.scanEpisodes(filepath.Join(showDir, entry.Name()), season)
		if len(season.Children) == 0 {
			continue
		}
		seasons[number] = season
		if number > maxSeason {
			maxSeason = number
		}
	}

	for n := 1; n <= maxSeason; n++ {
		season, ok := seasons[n]
		if !ok {
			season = media.NewSeason(show, n)
		}
		show.AddChild(season)
	}
}

func (s *Service) scanEpisodes(seasonDir string, season *media.Item) {
	entries, err := os.ReadDir(seasonDir)
	if err != nil {
		return
	}

	episodes := make(map[int]*media.Item)
	maxEpisode := 0
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ".srt") {
			continue
		}
		m := epTagRe.FindStringSubmatch(entry.Name())
		if m == nil {
			s.logger.Warn().Str("path", filepath.Join(seasonDir, entry.Name())).Msg("cannot parse episode numbers, skipping")
			continue
		}
		lo, _ := strconv.Atoi(m[2])
		hi := lo
		if m[3] != "" {
			hi, _ = strconv.Atoi(m[3])
		}
		if lo == 0 || hi < lo || hi-lo > 99 {
			continue
		}
		// A range-named file credits every episode it spans to the
		// same link.
		for n := lo; n <= hi; n++ {
			if episodes[n] != nil {
				continue
			}
			episode := media.NewEpisode(season, n)
			markOnDisk(episode, filepath.Join(seasonDir, entry.Name()))
			episodes[n] = episode
			if n > maxEpisode {
				maxEpisode = n
			}
		}
	}

	for n := 1; n <= maxEpisode; n++ {
		episode, ok := episodes[n]
		if !ok {
			episode = media.NewEpisode(season, n)
		}
		season.AddChild(episode)
	}
}

// BrokenLinks walks the library for symlinks whose targets no longer
// resolve and returns their paths. The repair sweep feeds them through
// the same removal path the deletion watcher uses.
func (s *Service) BrokenLinks(ctx context.Context) ([]string, error) {
	var broken []string
	err := filepath.WalkDir(s.libraryPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.Type()&fs.ModeSymlink == 0 {
			return nil
		}
		if _, statErr := os.Stat(p); statErr != nil {
			broken = append(broken, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return broken, nil
}

// Ref identifies the item a library path belongs to. Season and Episode
// are zero when the path does not name them.
type Ref struct {
	ImdbID  string
	Season  int
	Episode int
}

// ParseLibraryPath extracts which item a library tree path refers to:
// the imdb id from the title folder, the season from a "Season NN"
// segment, both numbers from an sNNeNN filename tag.
func ParseLibraryPath(libraryPath, p string) (Ref, bool) {
	rel, err := filepath.Rel(libraryPath, p)
	if err != nil {
		return Ref{}, false
	}

	var ref Ref
	for _, segment := range strings.Split(rel, string(filepath.Separator)) {
		if m := imdbTagRe.FindStringSubmatch(segment); m != nil {
			ref.ImdbID = m[1]
			continue
		}
		if m := seasonRe.FindStringSubmatch(segment); m != nil {
			ref.Season, _ = strconv.Atoi(m[1])
			continue
		}
		if m := epTagRe.FindStringSubmatch(segment); m != nil {
			ref.Season, _ = strconv.Atoi(m[1])
			ref.Episode, _ = strconv.Atoi(m[2])
		}
	}
	return ref, ref.ImdbID != ""
}

// stubItem is the skeleton every reverse-constructed entry shares.
func stubItem(t media.Type, imdb, title string, year int, anime bool) *media.Item {
	now := time.Now()
	return &media.Item{
		Type:        t,
		ImdbID:      imdb,
		Title:       title,
		Year:        year,
		IsAnime:     anime,
		RequestedAt: &now,
		RequestedBy: "symlink_library",
	}
}

// markOnDisk stamps a leaf stub with what its link proves: the item is
// symlinked, the library needs no refresh for it, and the bound file is
// whatever the link points at.
func markOnDisk(item *media.Item, linkPath string) {
	item.Symlinked = true
	item.UpdateFolder = "updated"

	target := linkPath
	if resolved, err := os.Readlink(linkPath); err == nil {
		target = resolved
	}
	item.File = filepath.Base(target)
	item.Folder = filepath.Base(filepath.Dir(target))
}

// parseTitleEntry splits a "Title (Year) {imdb-tt123}" style name.
func parseTitleEntry(name string) (imdb, title string, year int, ok bool) {
	imdb = imdbRe.FindString(name)
	m := titleRe.FindStringSubmatch(name)
	if imdb == "" || m == nil {
		return "", "", 0, false
	}
	if y := yearRe.FindStringSubmatch(name); y != nil {
		year, _ = strconv.Atoi(y[1])
	}
	return imdb, m[1], year, true
}
