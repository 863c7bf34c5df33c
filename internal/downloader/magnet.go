package downloader

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/anacrolix/torrent/metainfo"
)

var infohashRe = regexp.MustCompile(`^[0-9a-fA-F]{40}$`)

// ValidInfohash reports whether s is a bare 40-hex BitTorrent v1 infohash.
func ValidInfohash(s string) bool {
	return infohashRe.MatchString(s)
}

// MagnetURI builds the minimal magnet link debrid services accept for a
// bare infohash.
func MagnetURI(infohash string) string {
	return fmt.Sprintf("magnet:?xt=urn:btih:%s&dn=&tr=", strings.ToLower(infohash))
}

// ParseMagnet extracts the lowercase hex infohash and display name from a
// magnet link. Base32-encoded infohashes are converted to hex.
func ParseMagnet(uri string) (infohash, name string, err error) {
	m, err := metainfo.ParseMagnetUri(uri)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse magnet link: %w", err)
	}
	return strings.ToLower(m.InfoHash.HexString()), m.DisplayName, nil
}

// ParseTorrent extracts the infohash and name from raw .torrent bytes.
// Indexers that return a torrent file instead of a magnet link are reduced
// to an infohash this way.
func ParseTorrent(data []byte) (infohash, name string, err error) {
	mi, err := metainfo.Load(bytes.NewReader(data))
	if err != nil {
		return "", "", fmt.Errorf("failed to decode torrent file: %w", err)
	}
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return "", "", fmt.Errorf("failed to decode torrent info: %w", err)
	}
	return strings.ToLower(mi.HashInfoBytes().HexString()), info.Name, nil
}
