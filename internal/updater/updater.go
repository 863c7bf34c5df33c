// Package updater tells media servers about freshly placed symlinks so
// their libraries pick the files up.
package updater

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/streamfall/streamfall/internal/config"
	"github.com/streamfall/streamfall/internal/media"
)

// Backend refreshes one media server.
type Backend interface {
	Name() string
	Validate(ctx context.Context) error
	// Refresh asks the server to rescan the given library folders. t is the
	// library kind the folders belong to (movie or show).
	Refresh(ctx context.Context, folders []string, t media.Type) error
}

// locator is implemented by backends that can look an item up after a
// refresh and report the server's key and guid for it.
type locator interface {
	Locate(ctx context.Context, imdbID string, t media.Type) (key, guid string, ok bool)
}

// Service announces new symlinks to every configured backend. With no
// backend configured it degrades to marking items updated, for libraries
// watched by nothing but this process.
type Service struct {
	backends []Backend
	logger   zerolog.Logger
}

// NewService builds the backend set from config.
func NewService(cfg config.UpdatersConfig, logger zerolog.Logger) *Service {
	log := logger.With().Str("component", "updater").Logger()
	s := &Service{logger: log}
	if cfg.Plex.Enabled {
		s.backends = append(s.backends, NewPlex(cfg.Plex, log))
	}
	if cfg.Jellyfin.Enabled {
		s.backends = append(s.backends, NewJellyfin(cfg.Jellyfin, log))
	}
	return s
}

func (s *Service) Enabled() bool { return true }

// Validate pings every configured backend. A failing backend is reported
// but kept: its refreshes keep failing, which leaves the affected items
// Symlinked for the retry sweep until the server comes back.
func (s *Service) Validate(ctx context.Context) error {
	for _, b := range s.backends {
		if err := b.Validate(ctx); err != nil {
			s.logger.Warn().Err(err).Str("updater", b.Name()).Msg("library updater failed validation")
		}
	}
	return nil
}

// Run refreshes the library folders behind every leaf of the item that was
// symlinked but not yet announced, then marks those leaves updated. An
// error means no backend took the refresh and the item must stay Symlinked.
func (s *Service) Run(ctx context.Context, item *media.Item) (*media.Item, error) {
	leaves := pendingLeaves(item)
	if len(leaves) == 0 {
		return item, nil
	}

	if len(s.backends) > 0 {
		folders := distinctFolders(leaves)
		t := libraryType(item)

		refreshed := false
		for _, b := range s.backends {
			if err := b.Refresh(ctx, folders, t); err != nil {
				s.logger.Warn().Err(err).Str("updater", b.Name()).
					Str("item", item.LogString()).Msg("library refresh failed")
				continue
			}
			refreshed = true
		}
		if !refreshed {
			return nil, fmt.Errorf("every library updater failed for %s", item.LogString())
		}
	}

	for _, leaf := range leaves {
		leaf.UpdateFolder = "updated"
	}
	s.locate(ctx, item)

	s.logger.Debug().Str("item", item.LogString()).Int("leaves", len(leaves)).Msg("library updated")
	return item, nil
}

// locate stamps the server's key and guid on the top-level item when a
// backend can already see it. Scans are asynchronous, so a miss here is
// normal and the item completes on update_folder alone.
func (s *Service) locate(ctx context.Context, item *media.Item) {
	top := item.Show()
	if top.Key != "" || top.ImdbID == "" {
		return
	}
	for _, b := range s.backends {
		loc, ok := b.(locator)
		if !ok {
			continue
		}
		if key, guid, found := loc.Locate(ctx, top.ImdbID, libraryType(top)); found {
			top.Key = key
			top.Guid = guid
			return
		}
	}
}

// pendingLeaves collects the movies and episodes under the item that are
// symlinked but whose folder has not been announced yet.
func pendingLeaves(item *media.Item) []*media.Item {
	var leaves []*media.Item
	item.Walk(func(node *media.Item) {
		switch node.Type {
		case media.TypeMovie, media.TypeEpisode:
			if node.Symlinked && node.UpdateFolder != "updated" {
				leaves = append(leaves, node)
			}
		}
	})
	return leaves
}

func distinctFolders(leaves []*media.Item) []string {
	seen := make(map[string]bool, len(leaves))
	var folders []string
	for _, leaf := range leaves {
		if leaf.UpdateFolder == "" || seen[leaf.UpdateFolder] {
			continue
		}
		seen[leaf.UpdateFolder] = true
		folders = append(folders, leaf.UpdateFolder)
	}
	return folders
}

func libraryType(item *media.Item) media.Type {
	if item.Show().Type == media.TypeMovie {
		return media.TypeMovie
	}
	return media.TypeShow
}
