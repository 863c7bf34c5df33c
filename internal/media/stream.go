package media

import "strings"

// Stream is a candidate torrent for an item, keyed in Item.Streams by its
// infohash.
type Stream struct {
	Infohash string `json:"infohash"`
	RawTitle string `json:"rawTitle"`
	Rank     int    `json:"rank"`
	FetchOK  bool   `json:"fetchOk"`
}

// ActiveStream is the torrent chosen for an item, carrying the id the
// debrid service assigned and the file layout selected from the container.
type ActiveStream struct {
	Infohash            string   `json:"infohash,omitempty"`
	TorrentID           string   `json:"torrentId,omitempty"`
	Filename            string   `json:"filename,omitempty"`
	AlternativeFilename string   `json:"alternativeFilename,omitempty"`
	Files               []string `json:"files,omitempty"`
}

// AddStream merges a candidate into the item's stream map. Infohashes are
// normalized to lowercase; existing entries keep their rank unless the new
// rank is higher.
func (i *Item) AddStream(s *Stream) {
	if s == nil || s.Infohash == "" {
		return
	}
	s.Infohash = strings.ToLower(s.Infohash)
	if i.Streams == nil {
		i.Streams = make(map[string]*Stream)
	}
	if existing, ok := i.Streams[s.Infohash]; ok {
		if s.Rank > existing.Rank {
			existing.Rank = s.Rank
			existing.RawTitle = s.RawTitle
		}
		return
	}
	i.Streams[s.Infohash] = s
}

// ClearStreams drops every candidate and the active stream, returning the
// item to its pre-scrape attribute shape.
func (i *Item) ClearStreams() {
	i.Streams = nil
	i.ActiveStream = nil
}

// Reset clears everything a download or symlink pass set, forcing the next
// cycle to rescrape from nothing. With resetTimes the scrape and symlink
// counters are zeroed as well, as happens after the three-attempt symlink
// budget is exhausted. Blacklisting the active hash is the caller's job.
func (i *Item) Reset(resetTimes bool) {
	i.File = ""
	i.Folder = ""
	i.AlternativeFolder = ""
	i.Symlinked = false
	i.SymlinkedAt = nil
	i.Key = ""
	i.Guid = ""
	i.UpdateFolder = ""
	i.ClearStreams()
	if resetTimes {
		i.ScrapedTimes = 0
		i.SymlinkedTimes = 0
	}
	for _, c := range i.Children {
		c.Reset(resetTimes)
	}
}
