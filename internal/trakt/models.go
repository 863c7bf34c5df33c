package trakt

import (
	"strconv"
	"time"

	"github.com/streamfall/streamfall/internal/media"
)

// IDs is the identifier block trakt attaches to every record.
type IDs struct {
	Trakt int    `json:"trakt"`
	Slug  string `json:"slug"`
	Imdb  string `json:"imdb"`
	Tvdb  int    `json:"tvdb"`
	Tmdb  int    `json:"tmdb"`
}

// Record is the common movie/show payload shape. Movies carry a release
// date, shows an air timestamp; extended=full fills the rest.
type Record struct {
	Title      string   `json:"title"`
	Year       int      `json:"year"`
	Ids        IDs      `json:"ids"`
	Status     string   `json:"status"`
	Released   string   `json:"released"`
	FirstAired string   `json:"first_aired"`
	Genres     []string `json:"genres"`
	Network    string   `json:"network"`
	Country    string   `json:"country"`
	Language   string   `json:"language"`
	Number     int      `json:"number"`
}

// Season is one element of the seasons listing, episodes included when
// requested with extended=episodes.
type Season struct {
	Number     int       `json:"number"`
	Title      string    `json:"title"`
	Ids        IDs       `json:"ids"`
	FirstAired string    `json:"first_aired"`
	Episodes   []Episode `json:"episodes"`
}

// AiredAt parses the season's first-aired timestamp, nil when unaired.
func (s Season) AiredAt() *time.Time {
	return parseAirTime(s.FirstAired)
}

// Episode is one element of a season's episode listing.
type Episode struct {
	Season     int    `json:"season"`
	Number     int    `json:"number"`
	Title      string `json:"title"`
	Ids        IDs    `json:"ids"`
	FirstAired string `json:"first_aired"`
}

// AiredAt parses the episode's first-aired timestamp, nil when unaired.
func (e Episode) AiredAt() *time.Time {
	return parseAirTime(e.FirstAired)
}

// entry wraps search and list results: a type discriminator plus one
// populated payload. Collection listings omit the discriminator.
type entry struct {
	Type    string  `json:"type"`
	Movie   *Record `json:"movie"`
	Show    *Record `json:"show"`
	Season  *Record `json:"season"`
	Episode *Record `json:"episode"`
}

// record returns the populated payload and its type. Episode search hits
// carry the show payload too, so the discriminator wins when present.
func (e entry) record() (*Record, media.Type) {
	if e.Type != "" {
		switch e.Type {
		case "movie":
			return e.Movie, media.TypeMovie
		case "show":
			return e.Show, media.TypeShow
		case "season":
			return e.Season, media.TypeSeason
		case "episode":
			return e.Episode, media.TypeEpisode
		}
		return nil, ""
	}
	switch {
	case e.Movie != nil:
		return e.Movie, media.TypeMovie
	case e.Show != nil:
		return e.Show, media.TypeShow
	}
	return nil, ""
}

// ItemFromRecord maps one trakt payload onto a media item.
func ItemFromRecord(t media.Type, rec *Record) *media.Item {
	now := time.Now()
	item := &media.Item{
		Type:        t,
		Title:       rec.Title,
		Year:        rec.Year,
		Number:      rec.Number,
		ImdbID:      rec.Ids.Imdb,
		Genres:      rec.Genres,
		Network:     rec.Network,
		Country:     rec.Country,
		Language:    rec.Language,
		RequestedAt: &now,
	}
	if rec.Ids.Tvdb > 0 {
		item.TvdbID = strconv.Itoa(rec.Ids.Tvdb)
	}
	if rec.Ids.Tmdb > 0 {
		item.TmdbID = strconv.Itoa(rec.Ids.Tmdb)
	}
	if t == media.TypeMovie {
		item.AiredAt = parseDate(rec.Released)
	} else {
		item.AiredAt = parseAirTime(rec.FirstAired)
	}
	item.IsAnime = isAnime(rec.Genres, rec.Country, rec.Language)
	return item
}

// isAnime applies the genre heuristic: an explicit anime genre, or
// animation produced in Japan or Korea.
func isAnime(genres []string, country, language string) bool {
	animation := false
	for _, genre := range genres {
		switch genre {
		case "anime":
			return true
		case "animation":
			animation = true
		}
	}
	return animation && (country == "jp" || country == "kr" || language == "ja")
}

// parseAirTime parses the timestamp form trakt uses for shows, seasons
// and episodes.
func parseAirTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}

// parseDate parses the plain date form trakt uses for movie releases.
func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}
