package media

import (
	"fmt"
	"time"
)

// Type discriminates the item variants.
type Type string

const (
	TypeMovie   Type = "movie"
	TypeShow    Type = "show"
	TypeSeason  Type = "season"
	TypeEpisode Type = "episode"
)

// Item is the polymorphic media entity. Shows own Seasons, Seasons own
// Episodes, Movies stand alone. Children are owned exclusively; the Parent
// pointer is a weak back-reference and never serialized.
type Item struct {
	ID       int64 `json:"id"`
	Type     Type  `json:"type"`
	ParentID int64 `json:"parentId,omitempty"`
	Number   int   `json:"number,omitempty"` // season or episode number

	ImdbID string `json:"imdbId,omitempty"`
	TmdbID string `json:"tmdbId,omitempty"`
	TvdbID string `json:"tvdbId,omitempty"`

	Title    string     `json:"title,omitempty"`
	Year     int        `json:"year,omitempty"`
	AiredAt  *time.Time `json:"airedAt,omitempty"`
	Genres   []string   `json:"genres,omitempty"`
	Language string     `json:"language,omitempty"`
	Country  string     `json:"country,omitempty"`
	Network  string     `json:"network,omitempty"`
	IsAnime  bool       `json:"isAnime,omitempty"`

	RequestedAt *time.Time `json:"requestedAt,omitempty"`
	RequestedBy string     `json:"requestedBy,omitempty"`
	OverseerrID int64      `json:"overseerrId,omitempty"`

	IndexedAt      *time.Time `json:"indexedAt,omitempty"`
	ScrapedAt      *time.Time `json:"scrapedAt,omitempty"`
	ScrapedTimes   int        `json:"scrapedTimes,omitempty"`
	Symlinked      bool       `json:"symlinked,omitempty"`
	SymlinkedAt    *time.Time `json:"symlinkedAt,omitempty"`
	SymlinkedTimes int        `json:"symlinkedTimes,omitempty"`

	Streams      map[string]*Stream `json:"streams,omitempty"` // keyed by infohash
	ActiveStream *ActiveStream      `json:"activeStream,omitempty"`

	File              string `json:"file,omitempty"`
	Folder            string `json:"folder,omitempty"`
	AlternativeFolder string `json:"alternativeFolder,omitempty"`

	Key          string `json:"key,omitempty"`
	Guid         string `json:"guid,omitempty"`
	UpdateFolder string `json:"updateFolder,omitempty"`

	LastState State `json:"lastState,omitempty"`

	Children []*Item `json:"children,omitempty"`
	Parent   *Item   `json:"-"`
}

// NewRequested creates a bare movie or show known only by imdb id, as
// produced by content sources before indexing.
func NewRequested(t Type, imdbID, requestedBy string) *Item {
	now := time.Now()
	return &Item{
		Type:        t,
		ImdbID:      imdbID,
		RequestedAt: &now,
		RequestedBy: requestedBy,
	}
}

// NewSeason creates a season under the given show.
func NewSeason(show *Item, number int) *Item {
	s := &Item{
		Type:        TypeSeason,
		Number:      number,
		ImdbID:      show.ImdbID,
		RequestedAt: show.RequestedAt,
		RequestedBy: show.RequestedBy,
		IsAnime:     show.IsAnime,
		Parent:      show,
	}
	return s
}

// NewEpisode creates an episode under the given season.
func NewEpisode(season *Item, number int) *Item {
	e := &Item{
		Type:        TypeEpisode,
		Number:      number,
		ImdbID:      season.ImdbID,
		RequestedAt: season.RequestedAt,
		RequestedBy: season.RequestedBy,
		IsAnime:     season.IsAnime,
		Parent:      season,
	}
	return e
}

// AddChild appends a season to a show or an episode to a season, fixing
// the parent pointer.
func (i *Item) AddChild(child *Item) {
	child.Parent = i
	if i.ID != 0 {
		child.ParentID = i.ID
	}
	i.Children = append(i.Children, child)
}

// Child returns the season or episode with the given number, or nil.
func (i *Item) Child(number int) *Item {
	for _, c := range i.Children {
		if c.Number == number {
			return c
		}
	}
	return nil
}

// Show returns the root show for a season or episode, or the item itself.
func (i *Item) Show() *Item {
	node := i
	for node.Parent != nil {
		node = node.Parent
	}
	return node
}

// TopTitle returns the title candidates are matched against: the show title
// for seasons and episodes, the item's own title otherwise.
func (i *Item) TopTitle() string {
	return i.Show().Title
}

// IsReleased reports whether the air date exists and is in the past.
func (i *Item) IsReleased() bool {
	return i.AiredAt != nil && i.AiredAt.Before(time.Now())
}

// LogString renders the item for log lines: movie and show titles verbatim,
// seasons as "Title S01" and episodes as "Title S01E02".
func (i *Item) LogString() string {
	switch i.Type {
	case TypeSeason:
		return fmt.Sprintf("%s S%02d", i.TopTitle(), i.Number)
	case TypeEpisode:
		season := 0
		if i.Parent != nil {
			season = i.Parent.Number
		}
		return fmt.Sprintf("%s S%02dE%02d", i.TopTitle(), season, i.Number)
	default:
		if i.Title != "" {
			return i.Title
		}
		return i.ImdbID
	}
}

// Clone deep-copies the tree the item belongs to and returns the copy of
// the item itself. The copy shares no mutable state with the original:
// children, parent pointers, streams, the active stream and every time
// pointer are duplicated. The runner hands each worker its own clone so
// sibling jobs never touch shared nodes.
func (i *Item) Clone() *Item {
	var match *Item
	i.Show().cloneNode(nil, i, &match)
	return match
}

func (i *Item) cloneNode(parent *Item, target *Item, match **Item) *Item {
	dup := *i
	dup.Parent = parent
	dup.AiredAt = copyTime(i.AiredAt)
	dup.RequestedAt = copyTime(i.RequestedAt)
	dup.IndexedAt = copyTime(i.IndexedAt)
	dup.ScrapedAt = copyTime(i.ScrapedAt)
	dup.SymlinkedAt = copyTime(i.SymlinkedAt)
	if i.Genres != nil {
		dup.Genres = append([]string(nil), i.Genres...)
	}
	if i.Streams != nil {
		dup.Streams = make(map[string]*Stream, len(i.Streams))
		for hash, stream := range i.Streams {
			copied := *stream
			dup.Streams[hash] = &copied
		}
	}
	if i.ActiveStream != nil {
		active := *i.ActiveStream
		active.Files = append([]string(nil), i.ActiveStream.Files...)
		dup.ActiveStream = &active
	}
	if i.Children != nil {
		dup.Children = make([]*Item, len(i.Children))
		for n, child := range i.Children {
			dup.Children[n] = child.cloneNode(&dup, target, match)
		}
	}
	if i == target {
		*match = &dup
	}
	return &dup
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Walk visits the item and every descendant, depth first.
func (i *Item) Walk(fn func(*Item)) {
	fn(i)
	for _, c := range i.Children {
		c.Walk(fn)
	}
}

// TreeIDs returns the ids of the item and all descendants that have been
// persisted (non-zero id).
func (i *Item) TreeIDs() []int64 {
	var ids []int64
	i.Walk(func(node *Item) {
		if node.ID != 0 {
			ids = append(ids, node.ID)
		}
	})
	return ids
}

// FillInMissingChildren adds any season/episode present in other but absent
// here, preserving existing children untouched.
func (i *Item) FillInMissingChildren(other *Item) {
	for _, incoming := range other.Children {
		existing := i.Child(incoming.Number)
		if existing == nil {
			i.AddChild(incoming)
			continue
		}
		existing.FillInMissingChildren(incoming)
	}
}

// CopyMissingAttributes fills metadata attributes from other for any
// attribute absent on the item. Acquisition progress fields are never
// touched.
func (i *Item) CopyMissingAttributes(other *Item) {
	if i.Title == "" {
		i.Title = other.Title
	}
	if i.Year == 0 {
		i.Year = other.Year
	}
	if i.AiredAt == nil {
		i.AiredAt = other.AiredAt
	}
	if len(i.Genres) == 0 {
		i.Genres = other.Genres
	}
	if i.Language == "" {
		i.Language = other.Language
	}
	if i.Country == "" {
		i.Country = other.Country
	}
	if i.Network == "" {
		i.Network = other.Network
	}
	if i.TmdbID == "" {
		i.TmdbID = other.TmdbID
	}
	if i.TvdbID == "" {
		i.TvdbID = other.TvdbID
	}
	if !i.IsAnime {
		i.IsAnime = other.IsAnime
	}
	if i.RequestedBy == "" {
		i.RequestedBy = other.RequestedBy
	}
	if i.RequestedAt == nil {
		i.RequestedAt = other.RequestedAt
	}
	if i.OverseerrID == 0 {
		i.OverseerrID = other.OverseerrID
	}
}

// CopyProgress carries acquisition state from other onto the item. Used when
// a fresh metadata copy replaces a stored item so progress is not lost.
func (i *Item) CopyProgress(other *Item) {
	i.ID = other.ID
	i.ParentID = other.ParentID
	i.RequestedAt = other.RequestedAt
	i.RequestedBy = other.RequestedBy
	i.OverseerrID = other.OverseerrID
	i.ScrapedAt = other.ScrapedAt
	i.ScrapedTimes = other.ScrapedTimes
	i.Symlinked = other.Symlinked
	i.SymlinkedAt = other.SymlinkedAt
	i.SymlinkedTimes = other.SymlinkedTimes
	i.File = other.File
	i.Folder = other.Folder
	i.AlternativeFolder = other.AlternativeFolder
	i.Key = other.Key
	i.Guid = other.Guid
	i.UpdateFolder = other.UpdateFolder
	if len(other.Streams) > 0 {
		i.Streams = other.Streams
	}
	if other.ActiveStream != nil {
		i.ActiveStream = other.ActiveStream
	}
}

// PropagateAttributes pushes show-level metadata down to seasons and
// episodes: genres, language, country, network and the anime flag.
func (i *Item) PropagateAttributes() {
	for _, c := range i.Children {
		if len(c.Genres) == 0 {
			c.Genres = i.Genres
		}
		if c.Language == "" {
			c.Language = i.Language
		}
		if c.Country == "" {
			c.Country = i.Country
		}
		if c.Network == "" {
			c.Network = i.Network
		}
		c.IsAnime = i.IsAnime
		c.PropagateAttributes()
	}
}
