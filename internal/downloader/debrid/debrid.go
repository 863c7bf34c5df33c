// Package debrid defines the provider-neutral types and the client
// interface shared by the debrid service integrations.
package debrid

import (
	"context"
	"errors"
)

// Common errors returned by debrid clients.
var (
	// ErrNotFound indicates the requested torrent does not exist on the account.
	ErrNotFound = errors.New("torrent not found")

	// ErrNotPremium indicates the account has no active premium subscription.
	ErrNotPremium = errors.New("account is not premium")

	// ErrRateLimited indicates the provider rejected the call with a 429.
	ErrRateLimited = errors.New("provider rate limited")

	// ErrUnavailable indicates a transient provider failure worth retrying.
	ErrUnavailable = errors.New("provider unavailable")
)

// File is a single entry inside a cached container. ID carries the
// provider's file identifier where the provider supports per-file
// selection; providers without selection leave it empty.
type File struct {
	ID       string
	Filename string
	Filesize int64
}

// Container is one grouping of files reported as instantly available
// for an infohash. Real-Debrid reports several variants per hash,
// AllDebrid at most one.
type Container struct {
	Files []File
}

// TorrentFile is one file of a torrent already on the account.
type TorrentFile struct {
	ID       string
	Path     string
	Bytes    int64
	Selected bool
}

// TorrentInfo is the detailed view of a torrent on the account.
type TorrentInfo struct {
	ID               string
	Hash             string
	Filename         string
	OriginalFilename string
	Status           string
	Files            []TorrentFile
}

// Torrent is one row of the account's torrent listing.
type Torrent struct {
	ID       string
	Hash     string
	Filename string
	Status   string
}

// Client is a debrid provider account. Implementations are safe for
// concurrent use.
type Client interface {
	// Name identifies the provider in logs and stream records.
	Name() string

	// Validate confirms the credentials belong to a usable premium account.
	Validate(ctx context.Context) error

	// Availability reports the cached containers per infohash. Hashes with
	// no cached torrent are absent from the result. Keys are lowercased.
	Availability(ctx context.Context, infohashes []string) (map[string][]Container, error)

	// AddMagnet submits the infohash as a magnet link and returns the
	// provider's torrent id.
	AddMagnet(ctx context.Context, infohash string) (string, error)

	// GetTorrentInfo fetches the torrent's file listing and status.
	GetTorrentInfo(ctx context.Context, id string) (*TorrentInfo, error)

	// SelectFiles restricts the torrent to the given file ids. Providers
	// without per-file selection return nil without a call.
	SelectFiles(ctx context.Context, id string, fileIDs []string) error

	// GetTorrents lists torrents already on the account, newest first.
	GetTorrents(ctx context.Context, limit int) ([]Torrent, error)

	// StrictSeasonCoverage reports whether season packs must cover every
	// needed episode. Providers returning false accept half coverage.
	StrictSeasonCoverage() bool
}
