// Package downloader binds scraped streams to cached debrid torrents. The
// selector decides which cached container satisfies an item; the service
// walks the account providers, performs the add/select handshake and
// records outcomes in the hash cache.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/streamfall/streamfall/internal/config"
	"github.com/streamfall/streamfall/internal/downloader/alldebrid"
	"github.com/streamfall/streamfall/internal/downloader/debrid"
	"github.com/streamfall/streamfall/internal/downloader/realdebrid"
	"github.com/streamfall/streamfall/internal/media"
)

// errTorrentMismatch means a torrent on the account does not carry the
// files the selector expected. The hash is burned and the item rescoped.
var errTorrentMismatch = errors.New("torrent does not serve the item")

// HashCache is the slice of the hash cache the downloader needs.
type HashCache interface {
	IsBlacklisted(infohash string) bool
	Blacklist(ctx context.Context, infohash string) error
	IsDownloaded(infohash string) bool
	MarkDownloaded(ctx context.Context, infohash string) error
}

// Service picks a cached torrent for scraped items and binds its files.
type Service struct {
	clients  []debrid.Client
	selector *Selector
	hashes   HashCache
	logger   zerolog.Logger
}

// NewService wires the enabled debrid providers. Providers that fail to
// construct are skipped with a warning rather than failing boot.
func NewService(cfg *config.Config, hashes HashCache, logger zerolog.Logger) *Service {
	log := logger.With().Str("component", "downloader").Logger()

	s := &Service{
		selector: NewSelector(cfg.Downloaders),
		hashes:   hashes,
		logger:   log,
	}

	if cfg.Downloaders.RealDebrid.Enabled {
		if c, err := realdebrid.NewClient(cfg.Downloaders.RealDebrid, log); err != nil {
			log.Warn().Err(err).Msg("Real-Debrid disabled")
		} else {
			s.clients = append(s.clients, c)
		}
	}
	if cfg.Downloaders.AllDebrid.Enabled {
		if c, err := alldebrid.NewClient(cfg.Downloaders.AllDebrid, log); err != nil {
			log.Warn().Err(err).Msg("AllDebrid disabled")
		} else {
			s.clients = append(s.clients, c)
		}
	}

	for _, c := range s.clients {
		log.Debug().Str("provider", c.Name()).Msg("debrid provider enabled")
	}
	return s
}

// Enabled reports whether at least one provider is constructed.
func (s *Service) Enabled() bool {
	return len(s.clients) > 0
}

// Validate checks each provider's credentials and drops the ones that
// fail. An error is returned only when no provider survives.
func (s *Service) Validate(ctx context.Context) error {
	kept := s.clients[:0]
	for _, c := range s.clients {
		if err := c.Validate(ctx); err != nil {
			s.logger.Error().Err(err).Str("provider", c.Name()).Msg("provider validation failed")
			continue
		}
		s.logger.Info().Str("provider", c.Name()).Msg("provider validated")
		kept = append(kept, c)
	}
	s.clients = kept
	if len(kept) == 0 {
		return errors.New("no debrid provider validated")
	}
	return nil
}

// Run binds the item to a cached torrent on the first provider that has
// one. Shows recurse into their seasons; items that already carry a file
// pass through untouched. When availability was checked and nothing
// satisfied the item, its streams are cleared so the next pass rescrapes.
func (s *Service) Run(ctx context.Context, item *media.Item) (*media.Item, error) {
	if len(s.clients) == 0 {
		return item, errors.New("no debrid provider configured")
	}

	switch item.Type {
	case media.TypeShow:
		var failed error
		for _, season := range item.Children {
			if _, err := s.Run(ctx, season); err != nil {
				failed = err
			}
		}
		return item, failed
	case media.TypeMovie, media.TypeSeason, media.TypeEpisode:
	default:
		return item, nil
	}

	if item.File != "" && item.Folder != "" {
		s.logger.Debug().Str("item", item.LogString()).Msg("already has a file, skipping")
		return item, nil
	}

	if item.Type == media.TypeSeason && s.reuseSibling(ctx, item) {
		return item, nil
	}

	if len(item.Streams) == 0 {
		return item, nil
	}
	return item, s.acquire(ctx, item)
}

// acquire walks the providers until one yields a satisfying cached
// torrent. Provider failures are soft: the item keeps its streams and the
// retry sweep tries again later.
func (s *Service) acquire(ctx context.Context, item *media.Item) error {
	hashes := s.candidateHashes(item)
	if len(hashes) == 0 {
		s.logger.Debug().Str("item", item.LogString()).Msg("every stream is blacklisted")
		item.ClearStreams()
		return nil
	}

	s.logger.Debug().Str("item", item.LogString()).Int("hashes", len(hashes)).Msg("checking cached availability")

	var lastErr error
	checked := false
	for _, client := range s.clients {
		avail, err := client.Availability(ctx, hashes)
		if err != nil {
			lastErr = fmt.Errorf("failed to check availability on %s: %w", client.Name(), err)
			s.logger.Warn().Err(err).Str("provider", client.Name()).Str("item", item.LogString()).Msg("availability check failed")
			continue
		}
		checked = true

		bound, err := s.bindFirstMatch(ctx, client, item, hashes, avail)
		if err != nil {
			return err
		}
		if bound {
			return nil
		}
	}

	if !checked {
		return lastErr
	}

	s.logger.Debug().Str("item", item.LogString()).Int("hashes", len(hashes)).Msg("no wanted cached streams found")
	item.ClearStreams()
	return nil
}

// bindFirstMatch tests each hash's containers in rank order and completes
// the download for the first satisfying one. Cached hashes whose containers
// cannot serve the item are blacklisted so no later pass rechecks them.
func (s *Service) bindFirstMatch(ctx context.Context, client debrid.Client, item *media.Item, hashes []string, avail map[string][]debrid.Container) (bool, error) {
	strict := client.StrictSeasonCoverage()

	for _, hash := range hashes {
		// An earlier provider in this same pass may have burned the hash.
		if s.hashes.IsBlacklisted(hash) {
			continue
		}
		containers := avail[hash]
		if len(containers) == 0 {
			continue
		}

		match, ok := s.selector.Select(item, containers, strict)
		if !ok {
			s.blacklist(ctx, hash)
			continue
		}

		item.ActiveStream = &media.ActiveStream{Infohash: hash, Files: match.Filenames()}
		for _, b := range match.Bindings {
			b.Item.File = b.File
		}

		if err := s.download(ctx, client, item, match); err != nil {
			s.blacklist(ctx, hash)
			for _, b := range match.Bindings {
				b.Item.File = ""
			}
			item.ClearStreams()
			return false, fmt.Errorf("failed to download %s on %s: %w", hash, client.Name(), err)
		}

		s.logger.Info().
			Str("provider", client.Name()).
			Str("item", item.LogString()).
			Str("hash", hash).
			Msg("bound cached torrent")
		return true, nil
	}
	return false, nil
}

// download runs the add/select handshake for the active stream, or adopts
// a torrent already on the account.
func (s *Service) download(ctx context.Context, client debrid.Client, item *media.Item, match Match) error {
	hash := item.ActiveStream.Infohash

	if s.hashes.IsDownloaded(hash) && item.ActiveStream.TorrentID != "" {
		s.logger.Debug().Str("item", item.LogString()).Str("hash", hash).Msg("already downloaded")
		return nil
	}

	adopted, err := s.adoptExisting(ctx, client, item)
	if err != nil {
		return err
	}
	if adopted {
		return nil
	}

	id, err := client.AddMagnet(ctx, hash)
	if err != nil {
		return fmt.Errorf("failed to add magnet: %w", err)
	}
	item.ActiveStream.TorrentID = id

	info, err := client.GetTorrentInfo(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to fetch torrent info: %w", err)
	}
	if !torrentCarriesFiles(info, match.Bindings) {
		return errTorrentMismatch
	}
	s.applyTorrentInfo(item, info)

	if ids := s.selector.SelectionIDs(match.Container); len(ids) > 0 {
		if err := client.SelectFiles(ctx, id, ids); err != nil {
			return fmt.Errorf("failed to select files: %w", err)
		}
	}

	if err := s.hashes.MarkDownloaded(ctx, hash); err != nil {
		s.logger.Warn().Err(err).Str("hash", hash).Msg("failed to persist downloaded hash")
	}
	return nil
}

// adoptExisting reuses a torrent the account already holds for the active
// hash. A listing failure is soft; a content mismatch burns the hash.
func (s *Service) adoptExisting(ctx context.Context, client debrid.Client, item *media.Item) (bool, error) {
	hash := item.ActiveStream.Infohash

	torrents, err := client.GetTorrents(ctx, 1000)
	if err != nil {
		s.logger.Warn().Err(err).Str("provider", client.Name()).Msg("failed to list account torrents")
		return false, nil
	}

	var found *debrid.Torrent
	for i := range torrents {
		if strings.EqualFold(torrents[i].Hash, hash) {
			found = &torrents[i]
			break
		}
	}
	if found == nil {
		return false, nil
	}
	if item.ActiveStream.TorrentID != "" {
		return true, nil
	}

	info, err := client.GetTorrentInfo(ctx, found.ID)
	if err != nil {
		return false, fmt.Errorf("failed to fetch existing torrent info: %w", err)
	}
	if !torrentServesItem(info, item) {
		return false, errTorrentMismatch
	}

	item.ActiveStream.TorrentID = found.ID
	s.applyTorrentInfo(item, info)
	if err := s.hashes.MarkDownloaded(ctx, hash); err != nil {
		s.logger.Warn().Err(err).Str("hash", hash).Msg("failed to persist downloaded hash")
	}
	s.logger.Info().Str("item", item.LogString()).Str("hash", hash).Msg("adopted existing torrent")
	return true, nil
}

// reuseSibling rebinds a season to a sibling season's container when that
// container already covers every needed episode, avoiding a duplicate
// torrent on the account. Only fully-covering containers are reused.
func (s *Service) reuseSibling(ctx context.Context, season *media.Item) bool {
	if season.Parent == nil {
		return false
	}
	for _, sibling := range season.Parent.Children {
		if sibling == season || sibling.ActiveStream == nil {
			continue
		}
		if sibling.ActiveStream.TorrentID == "" || len(sibling.ActiveStream.Files) == 0 {
			continue
		}
		if s.hashes.IsBlacklisted(sibling.ActiveStream.Infohash) {
			continue
		}

		bindings, ok := s.selector.MatchSeasonFilenames(season, sibling.ActiveStream.Files, true)
		if !ok {
			continue
		}

		stream := *sibling.ActiveStream
		season.ActiveStream = &stream
		for _, b := range bindings {
			b.Item.File = b.File
		}
		if season.Folder == "" {
			season.Folder = sibling.Folder
			season.AlternativeFolder = sibling.AlternativeFolder
		}
		s.fanOutFolders(season)

		if err := s.hashes.MarkDownloaded(ctx, stream.Infohash); err != nil {
			s.logger.Warn().Err(err).Str("hash", stream.Infohash).Msg("failed to persist downloaded hash")
		}
		s.logger.Info().
			Str("item", season.LogString()).
			Str("sibling", sibling.LogString()).
			Str("hash", stream.Infohash).
			Msg("reused sibling season container")
		return true
	}
	return false
}

// candidateHashes returns the item's stream hashes, highest rank first,
// with blacklisted ones dropped.
func (s *Service) candidateHashes(item *media.Item) []string {
	streams := make([]*media.Stream, 0, len(item.Streams))
	for _, st := range item.Streams {
		if s.hashes.IsBlacklisted(st.Infohash) {
			continue
		}
		streams = append(streams, st)
	}
	sort.SliceStable(streams, func(i, j int) bool {
		return streams[i].Rank > streams[j].Rank
	})

	hashes := make([]string, len(streams))
	for i, st := range streams {
		hashes[i] = st.Infohash
	}
	return hashes
}

// applyTorrentInfo stamps the torrent's folder names onto the item and its
// bound episodes. The debrid mount exposes the torrent under its filename,
// sometimes under the original filename, so both are kept.
func (s *Service) applyTorrentInfo(item *media.Item, info *debrid.TorrentInfo) {
	item.ActiveStream.Filename = info.Filename
	item.ActiveStream.AlternativeFilename = info.OriginalFilename

	if item.Folder == "" || item.AlternativeFolder == "" {
		item.Folder = info.Filename
		item.AlternativeFolder = info.OriginalFilename
	}
	s.fanOutFolders(item)
}

// fanOutFolders copies a season's folder onto episodes that got a file
// bound but no folder yet.
func (s *Service) fanOutFolders(item *media.Item) {
	if item.Type != media.TypeSeason || item.Folder == "" {
		return
	}
	for _, ep := range item.Children {
		if ep.File != "" && ep.Folder == "" {
			ep.Folder = item.Folder
			ep.AlternativeFolder = item.AlternativeFolder
		}
	}
}

func (s *Service) blacklist(ctx context.Context, hash string) {
	if err := s.hashes.Blacklist(ctx, hash); err != nil {
		s.logger.Warn().Err(err).Str("hash", hash).Msg("failed to persist blacklisted hash")
	}
}

// torrentCarriesFiles confirms the matched filenames exist in the torrent
// before selection; availability snapshots can be stale.
func torrentCarriesFiles(info *debrid.TorrentInfo, bindings []Binding) bool {
	names := make(map[string]bool, len(info.Files))
	for _, f := range info.Files {
		names[strings.ToLower(path.Base(f.Path))] = true
	}
	for _, b := range bindings {
		if !names[strings.ToLower(path.Base(b.File))] {
			return false
		}
	}
	return true
}

// torrentServesItem verifies a torrent already on the account against the
// item: a selected file of plausible size for movies, the right episode
// numbers for episodes, at least half the season's episodes for seasons.
func torrentServesItem(info *debrid.TorrentInfo, item *media.Item) bool {
	const movieMinBytes = 200 << 20

	switch item.Type {
	case media.TypeMovie:
		for _, f := range info.Files {
			if f.Selected && f.Bytes > movieMinBytes {
				return true
			}
		}
		return false

	case media.TypeEpisode:
		season := 0
		if item.Parent != nil {
			season = item.Parent.Number
		}
		oneSeason := hasSingleSeason(item)
		for _, f := range info.Files {
			if !f.Selected {
				continue
			}
			fileSeason, episodes := ParseEpisodes(path.Base(f.Path))
			if !containsInt(episodes, item.Number) {
				continue
			}
			if fileSeason == season || (fileSeason == 0 && oneSeason) {
				return true
			}
		}
		return false

	case media.TypeSeason:
		oneSeason := hasSingleSeason(item)
		matched := make(map[int]bool)
		for _, f := range info.Files {
			if !f.Selected {
				continue
			}
			fileSeason, episodes := ParseEpisodes(path.Base(f.Path))
			if fileSeason != item.Number && !(fileSeason == 0 && oneSeason) {
				continue
			}
			for _, num := range episodes {
				matched[num] = true
			}
		}
		return len(matched) >= len(item.Children)/2 && len(matched) > 0
	}
	return false
}
