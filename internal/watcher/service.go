package watcher

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/streamfall/streamfall/internal/symlinker"
)

// RemoveFunc strips one deleted library entry from the store. The repair
// sweep shares it, so implementations must tolerate entries that are
// already gone.
type RemoveFunc func(ctx context.Context, ref symlinker.Ref, path string)

// Service turns library tree deletions into item removals. A directory
// deleted together with its contents acts once, on the directory.
type Service struct {
	watcher     *Watcher
	libraryPath string
	remove      RemoveFunc
	logger      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewService builds the deletion watcher over the library root.
func NewService(libraryPath string, remove RemoveFunc, logger zerolog.Logger) (*Service, error) {
	w, err := New(DefaultConfig(), logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		watcher:     w,
		libraryPath: libraryPath,
		remove:      remove,
		logger:      logger.With().Str("component", "watcher").Logger(),
		ctx:         ctx,
		cancel:      cancel,
	}
	w.SetHandler(s.handleEvents)

	return s, nil
}

// Start begins watching the library root.
func (s *Service) Start() error {
	if err := s.watcher.AddPath(s.libraryPath); err != nil {
		return err
	}
	s.watcher.Start()
	s.logger.Info().Str("path", s.libraryPath).Msg("Watching library for deletions")
	return nil
}

// Stop stops the watcher.
func (s *Service) Stop() error {
	s.cancel()
	return s.watcher.Stop()
}

// handleEvents reduces a debounced batch to its root deletions and hands
// each one to the removal callback.
func (s *Service) handleEvents(events []FileEvent) {
	var deleted []string
	for _, event := range events {
		if event.Op == "remove" || event.Op == "rename" {
			deleted = append(deleted, event.Path)
		}
	}
	if len(deleted) == 0 {
		return
	}

	for _, path := range collapse(deleted) {
		ref, ok := symlinker.ParseLibraryPath(s.libraryPath, path)
		if !ok {
			s.logger.Debug().Str("path", path).Msg("Deleted entry does not map to an item")
			continue
		}

		s.logger.Info().
			Str("path", path).
			Str("imdb_id", ref.ImdbID).
			Int("season", ref.Season).
			Int("episode", ref.Episode).
			Msg("Library entry deleted")

		s.remove(s.ctx, ref, path)
	}
}

// collapse drops every path that lives under another path in the set, so
// a directory deleted together with its contents acts once. Sorting
// guarantees ancestors are accepted before their descendants come up.
func collapse(paths []string) []string {
	sort.Strings(paths)

	var roots []string
	for _, path := range paths {
		covered := false
		for _, root := range roots {
			if isSubPath(path, root) {
				covered = true
				break
			}
		}
		if !covered {
			roots = append(roots, path)
		}
	}
	return roots
}
