// Package statemachine holds the decision table that drives items through
// the pipeline. Given the stored copy of an item, the service that just
// emitted it, and the emitted item itself, Process answers three questions:
// which version of the item to persist, which service handles it next, and
// which items (the item itself or its children) to hand to that service.
package statemachine

import (
	"time"

	"github.com/streamfall/streamfall/internal/config"
	"github.com/streamfall/streamfall/internal/events"
	"github.com/streamfall/streamfall/internal/media"
)

// Transition is the outcome of one pass through the decision table.
// A NextService of "" with a non-empty ToSubmit means the items should be
// re-queued as plain state-transition events; RunAt defers that re-queue.
type Transition struct {
	Updated     *media.Item
	NextService string
	ToSubmit    []*media.Item
	RunAt       time.Time
}

// Emitters whose items enter the pipeline at the indexing stage.
var contentEmitters = map[string]bool{
	events.EmitterOverseerr:      true,
	events.EmitterPlexWatchlist:  true,
	events.EmitterListrr:         true,
	events.EmitterMdblist:        true,
	events.EmitterTraktContent:   true,
	events.EmitterSymlinkLibrary: true,
}

// Machine evaluates the decision table. It carries no mutable state; the
// thresholds are snapshotted from config at construction.
type Machine struct {
	subtitles  bool
	indexEvery time.Duration
	after2     time.Duration
	after5     time.Duration
	after10    time.Duration
}

// New builds a Machine from the loaded configuration.
func New(cfg *config.Config) *Machine {
	every, err := time.ParseDuration(cfg.Indexer.Trakt.UpdateInterval)
	if err != nil || every <= 0 {
		every = 24 * time.Hour
	}
	return &Machine{
		subtitles:  cfg.Subtitles.Enabled,
		indexEvery: every,
		after2:     time.Duration(cfg.Scraping.After2 * float64(time.Hour)),
		after5:     time.Duration(cfg.Scraping.After5 * float64(time.Hour)),
		after10:    time.Duration(cfg.Scraping.After10 * float64(time.Hour)),
	}
}

// Process runs one item through the decision table. existing is the store's
// current copy and may be nil; item is the copy the emitter produced. The
// two are often the same object when the event was dispatched straight from
// the queue. First matching row wins.
func (m *Machine) Process(existing *media.Item, emitter string, item *media.Item) Transition {
	state := item.State()

	switch {
	case contentEmitters[emitter] || state == media.StateRequested:
		target, stored := item, existing
		if item.Type == media.TypeSeason && item.Parent != nil {
			// Seasons are indexed through their show.
			target = item.Parent
			if stored != nil {
				stored = stored.Parent
			}
		}
		if stored != nil && !m.shouldReindex(stored) {
			return Transition{}
		}
		return Transition{Updated: item, NextService: events.ServiceIndexer, ToSubmit: []*media.Item{target}}

	case state == media.StateUnknown || state == media.StatePartiallyCompleted:
		tr := Transition{Updated: item}
		for _, child := range item.Children {
			if child.State() == media.StateCompleted {
				continue
			}
			sub := m.Process(child, emitter, child)
			tr.ToSubmit = append(tr.ToSubmit, sub.ToSubmit...)
		}
		return tr

	case state == media.StateIndexed:
		return m.processIndexed(existing, emitter, item)

	case state == media.StateScraped:
		return Transition{Updated: item, NextService: events.ServiceDownloader, ToSubmit: []*media.Item{item}}

	case state == media.StateDownloaded:
		return Transition{Updated: item, NextService: events.ServiceSymlinker, ToSubmit: []*media.Item{item}}

	case state == media.StateSymlinked:
		return Transition{Updated: item, NextService: events.ServiceUpdater, ToSubmit: []*media.Item{item}}

	case state == media.StateCompleted:
		if emitter == events.ServicePostProcessing || !m.subtitles {
			return Transition{Updated: item}
		}
		tr := Transition{Updated: item, NextService: events.ServicePostProcessing}
		switch item.Type {
		case media.TypeMovie, media.TypeEpisode:
			tr.ToSubmit = []*media.Item{item}
		case media.TypeShow:
			for _, season := range item.Children {
				for _, episode := range season.Children {
					if episode.State() == media.StateCompleted {
						tr.ToSubmit = append(tr.ToSubmit, episode)
					}
				}
			}
		case media.TypeSeason:
			for _, episode := range item.Children {
				if episode.State() == media.StateCompleted {
					tr.ToSubmit = append(tr.ToSubmit, episode)
				}
			}
		}
		if len(tr.ToSubmit) == 0 {
			return Transition{Updated: item}
		}
		return tr
	}

	// Failed and Unreleased items park here until a sweep or a fresh request
	// picks them back up.
	return Transition{Updated: item}
}

// processIndexed handles items that have metadata but no streams yet.
func (m *Machine) processIndexed(existing *media.Item, emitter string, item *media.Item) Transition {
	if existing != nil {
		if existing.State() == media.StateCompleted {
			return Transition{Updated: existing}
		}
		if existing.IndexedAt == nil {
			// The indexer produced a fresh copy for an item we already
			// track. Merge it into the stored one and carry that forward.
			if item.Type == media.TypeShow || item.Type == media.TypeSeason {
				existing.FillInMissingChildren(item)
			}
			existing.CopyMissingAttributes(item)
			existing.IndexedAt = item.IndexedAt
			item = existing
		}
	}

	tr := Transition{Updated: item, NextService: events.ServiceScraping}

	if emitter != events.ServiceScraping && m.ShouldScrape(item) {
		tr.ToSubmit = []*media.Item{item}
		return tr
	}

	switch item.Type {
	case media.TypeShow, media.TypeSeason:
		var earliest time.Time
		for _, child := range item.Children {
			if child.State() == media.StateCompleted {
				continue
			}
			if m.ShouldScrape(child) {
				tr.ToSubmit = append(tr.ToSubmit, child)
				continue
			}
			if child.IsReleased() {
				if at := m.NextScrapeAt(child); earliest.IsZero() || at.Before(earliest) {
					earliest = at
				}
			}
		}
		if len(tr.ToSubmit) == 0 && !earliest.IsZero() {
			// Every child is inside its backoff window; come back when the
			// first one is due.
			return Transition{Updated: item, ToSubmit: []*media.Item{item}, RunAt: earliest}
		}
	default:
		// An indexed movie or episode is released by definition, so the
		// gate can only have failed on scrape backoff. Re-queue for the
		// instant the window opens.
		return Transition{Updated: item, ToSubmit: []*media.Item{item}, RunAt: m.NextScrapeAt(item)}
	}
	return tr
}

// ShouldScrape reports whether the item is released and far enough past its
// last scrape attempt to try again.
func (m *Machine) ShouldScrape(item *media.Item) bool {
	if !item.IsReleased() {
		return false
	}
	if item.ScrapedAt == nil {
		return true
	}
	return time.Since(*item.ScrapedAt) > m.scrapeBackoff(item)
}

// NextScrapeAt returns the instant the item's scrape window reopens.
func (m *Machine) NextScrapeAt(item *media.Item) time.Time {
	if item.ScrapedAt == nil {
		return time.Now()
	}
	return item.ScrapedAt.Add(m.scrapeBackoff(item))
}

// scrapeBackoff returns the wait between scrape attempts. The first two
// retries are near-immediate; after that the ladder stretches to hours.
func (m *Machine) scrapeBackoff(item *media.Item) time.Duration {
	switch {
	case item.ScrapedTimes < 2:
		return 5 * time.Second
	case item.ScrapedTimes < 5:
		return m.after2
	case item.ScrapedTimes < 10:
		return m.after5
	default:
		return m.after10
	}
}

// shouldReindex reports whether the item's metadata is missing or stale.
func (m *Machine) shouldReindex(item *media.Item) bool {
	if item.IndexedAt == nil || item.Title == "" {
		return true
	}
	return time.Since(*item.IndexedAt) > m.indexEvery
}
