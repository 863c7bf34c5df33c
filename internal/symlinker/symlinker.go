// Package symlinker materializes downloaded items into the library tree:
// one symlink per movie or episode, named so library indexers can match
// them, pointing at the file inside the rclone mount. It also reads the
// tree back, both to rebuild state at boot and to find links whose
// targets have vanished.
package symlinker

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/streamfall/streamfall/internal/config"
	"github.com/streamfall/streamfall/internal/downloader"
	"github.com/streamfall/streamfall/internal/media"
)

// maxAttempts is the symlink budget per item. Past it the active hash is
// burned and the item goes back to scraping from nothing.
const maxAttempts = 3

// Blacklist burns infohashes whose files never surfaced in the mount.
type Blacklist interface {
	Blacklist(ctx context.Context, infohash string) error
}

// Service creates library symlinks for downloaded items.
type Service struct {
	cfg    config.SymlinkConfig
	hashes Blacklist
	logger zerolog.Logger

	// rclonePath is the effective source root after Zurg detection;
	// libraryPath mirrors the config once validated.
	rclonePath  string
	libraryPath string

	// Wait ladder for files that have not surfaced in the mount yet.
	// Tests shrink these.
	waitFor   time.Duration
	pollEvery time.Duration
	walkAfter time.Duration
}

// NewService builds the symlinker. Validate must run before the first
// item; until then the paths are unverified.
func NewService(cfg config.SymlinkConfig, hashes Blacklist, logger zerolog.Logger) *Service {
	return &Service{
		cfg:         cfg,
		hashes:      hashes,
		logger:      logger.With().Str("component", "symlinker").Logger(),
		rclonePath:  cfg.RclonePath,
		libraryPath: cfg.LibraryPath,
		waitFor:     90 * time.Second,
		pollEvery:   5 * time.Second,
		walkAfter:   30 * time.Second,
	}
}

// Enabled reports whether both roots are configured.
func (s *Service) Enabled() bool {
	return s.cfg.RclonePath != "" && s.cfg.LibraryPath != ""
}

// Validate checks the mount and library roots and prepares the library
// tree. A Zurg mount exposes torrents under __all__, a plain rclone
// mount under torrents; whichever exists becomes the effective source
// root.
func (s *Service) Validate(ctx context.Context) error {
	checks := []struct {
		name string
		path string
	}{
		{"rclone_path", s.cfg.RclonePath},
		{"library_path", s.cfg.LibraryPath},
	}
	for _, c := range checks {
		if c.path == "" || c.path == "." {
			return fmt.Errorf("%s is not set", c.name)
		}
		if !filepath.IsAbs(c.path) {
			return fmt.Errorf("%s is not absolute: %s", c.name, c.path)
		}
		info, err := os.Stat(c.path)
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", c.name, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory: %s", c.name, c.path)
		}
	}

	s.rclonePath = s.cfg.RclonePath
	if all := filepath.Join(s.cfg.RclonePath, "__all__"); isDir(all) {
		s.logger.Debug().Str("path", all).Msg("detected Zurg mount layout")
		s.rclonePath = all
	} else if torrents := filepath.Join(s.cfg.RclonePath, "torrents"); isDir(torrents) {
		s.logger.Debug().Str("path", torrents).Msg("detected standard rclone mount layout")
		s.rclonePath = torrents
	}

	s.libraryPath = s.cfg.LibraryPath
	for _, root := range []string{"movies", "shows", "anime_movies", "anime_shows"} {
		if err := os.MkdirAll(filepath.Join(s.libraryPath, root), 0o755); err != nil {
			return fmt.Errorf("failed to create library folder %s: %w", root, err)
		}
	}

	s.logger.Info().Str("rclone", s.rclonePath).Str("library", s.libraryPath).Msg("symlink roots ready")
	return nil
}

// Run materializes the item. Shows and seasons recurse into their
// episodes; episodes that were never bound to a file are skipped, the
// parent simply does not aggregate past them. Items whose source never
// appears are reset and their hash blacklisted so the next pass
// rescrapes from a clean slate.
func (s *Service) Run(ctx context.Context, item *media.Item) (*media.Item, error) {
	switch item.Type {
	case media.TypeShow, media.TypeSeason:
		var failed error
		for _, child := range item.Children {
			if _, err := s.Run(ctx, child); err != nil {
				failed = err
			}
		}
		return item, failed
	case media.TypeMovie, media.TypeEpisode:
		return item, s.runLeaf(ctx, item)
	}
	return item, nil
}

func (s *Service) runLeaf(ctx context.Context, item *media.Item) error {
	if item.Symlinked {
		s.logger.Debug().Str("item", item.LogString()).Msg("already symlinked")
		return nil
	}
	if item.File == "" || item.Folder == "" {
		s.logger.Debug().Str("item", item.LogString()).Msg("no file bound, nothing to symlink")
		return nil
	}

	if item.SymlinkedTimes >= maxAttempts {
		s.blacklistAndReset(ctx, item)
		return fmt.Errorf("gave up symlinking %s after %d attempts", item.LogString(), maxAttempts)
	}

	folder, err := s.locateSource(ctx, item)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		s.blacklistAndReset(ctx, item)
		return fmt.Errorf("failed to find %s in the mount: %w", item.LogString(), err)
	}
	item.Folder = folder

	item.SymlinkedTimes++
	return s.materialize(item)
}

// locateSource finds the folder under the mount holding the item's file.
// The known folder names are probed first; once those have gone
// unanswered for a while the whole mount is walked, because providers
// occasionally rename a torrent past every name we recorded.
func (s *Service) locateSource(ctx context.Context, item *media.Item) (string, error) {
	if folder, ok := s.probeKnownFolders(item); ok {
		return folder, nil
	}

	deadline := time.Now().Add(s.waitFor)
	walkAt := time.Now().Add(s.walkAfter)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.pollEvery):
		}
		if folder, ok := s.probeKnownFolders(item); ok {
			return folder, nil
		}
		if time.Now().After(walkAt) {
			if folder, ok := s.searchMount(item.File); ok {
				s.logger.Debug().Str("item", item.LogString()).Str("folder", folder).Msg("found file by walking the mount")
				return folder, nil
			}
		}
	}
	return "", fmt.Errorf("file %s did not appear within %s", item.File, s.waitFor)
}

// probeKnownFolders checks the names the torrent may be mounted under.
// Single-file torrents surface as a folder named after the file itself
// in some mounts, hence the file-as-folder probe.
func (s *Service) probeKnownFolders(item *media.Item) (string, bool) {
	for _, folder := range []string{item.Folder, item.AlternativeFolder, item.File} {
		if folder == "" {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.rclonePath, folder, item.File)); err == nil {
			return folder, true
		}
	}
	return "", false
}

// searchMount walks the whole mount for the filename and returns its
// parent folder relative to the mount root.
func (s *Service) searchMount(file string) (string, bool) {
	var found string
	_ = filepath.WalkDir(s.rclonePath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || d.Name() != file {
			return nil
		}
		rel, relErr := filepath.Rel(s.rclonePath, filepath.Dir(p))
		if relErr != nil {
			return nil
		}
		found = rel
		return fs.SkipAll
	})
	return found, found != ""
}

// materialize creates the symlink and stamps the item. Any pre-existing
// entry at the destination is replaced so re-runs converge on the same
// link.
func (s *Service) materialize(item *media.Item) error {
	destDir, err := s.destinationDir(item)
	if err != nil {
		return err
	}
	destination := filepath.Join(destDir, s.destinationName(item))
	source := filepath.Join(s.rclonePath, item.Folder, item.File)

	if _, err := os.Lstat(destination); err == nil {
		if err := os.Remove(destination); err != nil {
			return fmt.Errorf("failed to replace %s: %w", destination, err)
		}
	}
	if err := os.Symlink(source, destination); err != nil {
		return fmt.Errorf("failed to create symlink for %s: %w", item.LogString(), err)
	}
	if target, err := os.Readlink(destination); err != nil || target != source {
		return fmt.Errorf("symlink at %s does not point to %s", destination, source)
	}

	now := time.Now()
	item.Symlinked = true
	item.SymlinkedAt = &now
	item.UpdateFolder = destDir

	s.logger.Info().Str("item", item.LogString()).Str("path", destination).Msg("symlink created")
	return nil
}

// destinationDir computes (and creates) the folder the symlink goes in:
// movies/{Title (Year) {imdb-id}} for movies, shows/{...}/Season NN for
// episodes, with the anime variants when those are kept apart.
func (s *Service) destinationDir(item *media.Item) (string, error) {
	var dir string
	switch item.Type {
	case media.TypeMovie:
		root := "movies"
		if s.cfg.SeparateAnimeDirs && item.IsAnime {
			root = "anime_movies"
		}
		dir = filepath.Join(s.libraryPath, root, imdbFolder(item))

	case media.TypeEpisode:
		show := item.Show()
		root := "shows"
		if s.cfg.SeparateAnimeDirs && show.IsAnime {
			root = "anime_shows"
		}
		season := 0
		if item.Parent != nil {
			season = item.Parent.Number
		}
		dir = filepath.Join(s.libraryPath, root, imdbFolder(show), fmt.Sprintf("Season %02d", season))

	default:
		return "", fmt.Errorf("no destination for %s items", item.Type)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create destination folder: %w", err)
	}
	return dir, nil
}

// destinationName renders the symlink filename, keeping the source
// file's extension. Multi-episode source files get a range tag so
// library indexers credit every episode to the one link.
func (s *Service) destinationName(item *media.Item) string {
	ext := filepath.Ext(item.File)

	if item.Type == media.TypeMovie {
		return fmt.Sprintf("%s (%d) {imdb-%s}%s", sanitize(item.Title), itemYear(item), item.ImdbID, ext)
	}

	show := item.Show()
	season := 0
	if item.Parent != nil {
		season = item.Parent.Number
	}

	tag := fmt.Sprintf("e%02d", item.Number)
	if _, nums := downloader.ParseEpisodes(item.File); len(nums) > 1 && containsInt(nums, item.Number) {
		tag = fmt.Sprintf("e%02d-e%02d", nums[0], nums[len(nums)-1])
	}

	return sanitize(fmt.Sprintf("%s (%d) - s%02d%s - %s", show.Title, itemYear(show), season, tag, item.Title)) + ext
}

// blacklistAndReset burns the active infohash and strips the item back
// to its indexed shape, counters included, forcing a full rescrape.
func (s *Service) blacklistAndReset(ctx context.Context, item *media.Item) {
	if hash := activeHash(item); hash != "" {
		if err := s.hashes.Blacklist(ctx, hash); err != nil {
			s.logger.Warn().Err(err).Str("hash", hash).Msg("failed to persist blacklisted hash")
		}
	}
	item.Reset(true)
	s.logger.Warn().Str("item", item.LogString()).Msg("reset back to scrapable")
}

// activeHash walks up the tree for the bound infohash; episodes bound
// through a season pack carry no stream of their own.
func activeHash(item *media.Item) string {
	for it := item; it != nil; it = it.Parent {
		if it.ActiveStream != nil && it.ActiveStream.Infohash != "" {
			return it.ActiveStream.Infohash
		}
	}
	return ""
}

// imdbFolder renders the per-title folder name shared by movies and
// shows: "Title (Year) {imdb-tt1234567}".
func imdbFolder(item *media.Item) string {
	return fmt.Sprintf("%s (%d) {imdb-%s}", sanitize(item.Title), itemYear(item), item.ImdbID)
}

// sanitize keeps path separators out of name components.
func sanitize(name string) string {
	return strings.ReplaceAll(name, "/", "-")
}

func itemYear(item *media.Item) int {
	if item.Year > 0 {
		return item.Year
	}
	if item.AiredAt != nil {
		return item.AiredAt.Year()
	}
	return 0
}

func containsInt(nums []int, n int) bool {
	for _, v := range nums {
		if v == n {
			return true
		}
	}
	return false
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
