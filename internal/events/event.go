// Package events coordinates all work in the pipeline: a de-duplicating
// queue of item events dispatched to bounded per-service worker pools. At
// most one event per item tree is queued or running at any time.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Service and sentinel emitter names. Services consume events through their
// worker pool; sentinels only ever emit.
const (
	ServiceIndexer        = "TraktIndexer"
	ServiceScraping       = "Scraping"
	ServiceDownloader     = "Downloader"
	ServiceSymlinker      = "Symlinker"
	ServiceUpdater        = "Updater"
	ServicePostProcessing = "PostProcessing"

	EmitterManual          = "Manual"
	EmitterRetryLibrary    = "RetryLibrary"
	EmitterSymlinkLibrary  = "SymlinkLibrary"
	EmitterStateTransition = "StateTransition"

	EmitterOverseerr     = "Overseerr"
	EmitterPlexWatchlist = "PlexWatchlist"
	EmitterListrr        = "Listrr"
	EmitterMdblist       = "Mdblist"
	EmitterTraktContent  = "TraktContent"
)

// Event is one unit of pipeline work: run whatever the state transition
// decides next for the item. RunAt defers execution; the event sits in the
// queue until the instant is reached.
type Event struct {
	ID      uuid.UUID `json:"id"`
	Emitter string    `json:"emitter"`
	ItemID  int64     `json:"itemId"`
	RunAt   time.Time `json:"runAt"`
}

// NewEvent creates an immediately runnable event for the item.
func NewEvent(emitter string, itemID int64) Event {
	return Event{
		ID:      uuid.New(),
		Emitter: emitter,
		ItemID:  itemID,
		RunAt:   time.Now(),
	}
}

// NewDelayedEvent creates an event that becomes runnable at runAt.
func NewDelayedEvent(emitter string, itemID int64, runAt time.Time) Event {
	ev := NewEvent(emitter, itemID)
	ev.RunAt = runAt
	return ev
}
