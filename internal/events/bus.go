package events

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/streamfall/streamfall/internal/store"
)

// ErrClosed is returned by Next after Close.
var ErrClosed = errors.New("event bus closed")

// Broadcaster pushes bus activity to connected dashboard clients.
type Broadcaster interface {
	Broadcast(msgType string, payload interface{})
}

type runningJob struct {
	event  Event
	cancel context.CancelFunc
}

// Bus holds the queued and running events. Admission refuses any event whose
// item shares a tree with an already queued or running event, so a show and
// one of its seasons can never be worked on in parallel.
type Bus struct {
	store  *store.Store
	logger zerolog.Logger
	hub    Broadcaster

	mu      sync.Mutex
	queued  []Event
	running map[uuid.UUID]runningJob
	closed  bool
	wake    chan struct{}
}

// NewBus creates an empty bus backed by the store for tree lookups. hub may
// be nil.
func NewBus(st *store.Store, logger zerolog.Logger, hub Broadcaster) *Bus {
	return &Bus{
		store:   st,
		logger:  logger.With().Str("component", "events").Logger(),
		hub:     hub,
		running: make(map[uuid.UUID]runningJob),
		wake:    make(chan struct{}, 1),
	}
}

// Add queues the event unless its item tree already has an event queued or
// running. Returns whether the event was admitted; rejection is silent apart
// from a debug line.
func (b *Bus) Add(ctx context.Context, ev Event) bool {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.RunAt.IsZero() {
		ev.RunAt = time.Now()
	}

	family, err := b.store.FamilyIDs(ctx, ev.ItemID)
	if err != nil {
		family = []int64{ev.ItemID}
	}
	famSet := make(map[int64]struct{}, len(family))
	for _, id := range family {
		famSet[id] = struct{}{}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	for _, queued := range b.queued {
		if _, ok := famSet[queued.ItemID]; ok {
			b.mu.Unlock()
			b.logger.Debug().Int64("itemId", ev.ItemID).Str("emitter", ev.Emitter).
				Msg("Item tree already queued, skipping")
			return false
		}
	}
	for _, job := range b.running {
		if _, ok := famSet[job.event.ItemID]; ok {
			b.mu.Unlock()
			b.logger.Debug().Int64("itemId", ev.ItemID).Str("emitter", ev.Emitter).
				Msg("Item tree already running, skipping")
			return false
		}
	}

	// Insert after any event with the same instant so ties dispatch in
	// arrival order.
	pos := sort.Search(len(b.queued), func(i int) bool {
		return b.queued[i].RunAt.After(ev.RunAt)
	})
	b.queued = append(b.queued, Event{})
	copy(b.queued[pos+1:], b.queued[pos:])
	b.queued[pos] = ev
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}

	b.broadcast("event.queued", ev)
	return true
}

// Next blocks until the earliest queued event is due, pops it and records it
// as running. The caller owns the running entry and must eventually call
// Finish (or replace it via MarkRunning before finishing).
func (b *Bus) Next(ctx context.Context) (Event, error) {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return Event{}, ErrClosed
		}

		var wait time.Duration = -1
		if len(b.queued) > 0 {
			now := time.Now()
			if !b.queued[0].RunAt.After(now) {
				ev := b.queued[0]
				b.queued = b.queued[1:]
				b.running[ev.ID] = runningJob{event: ev}
				b.mu.Unlock()
				b.broadcast("event.running", ev)
				return ev, nil
			}
			wait = b.queued[0].RunAt.Sub(now)
		}
		b.mu.Unlock()

		var due <-chan time.Time
		var timer *time.Timer
		if wait >= 0 {
			timer = time.NewTimer(wait)
			due = timer.C
		}
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return Event{}, ctx.Err()
		case <-b.wake:
		case <-due:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// MarkRunning records a follow-up job as running. cancel may be nil. Callers
// add the follow-up before finishing the event it replaces, so the item tree
// never appears idle in between.
func (b *Bus) MarkRunning(ev Event, cancel context.CancelFunc) {
	b.mu.Lock()
	b.running[ev.ID] = runningJob{event: ev, cancel: cancel}
	b.mu.Unlock()
	b.broadcast("event.running", ev)
}

// Finish removes the event from the running set.
func (b *Bus) Finish(ev Event) {
	b.mu.Lock()
	delete(b.running, ev.ID)
	b.mu.Unlock()
	b.broadcast("event.finished", ev)
}

// Cancel drops every queued event in the item's tree and cancels the
// contexts of running ones. Running jobs finish their current blocking call
// before observing the cancellation; their results are discarded by the job
// wrapper.
func (b *Bus) Cancel(ctx context.Context, itemID int64) {
	family, err := b.store.FamilyIDs(ctx, itemID)
	if err != nil {
		family = []int64{itemID}
	}
	famSet := make(map[int64]struct{}, len(family))
	for _, id := range family {
		famSet[id] = struct{}{}
	}

	b.mu.Lock()
	kept := b.queued[:0]
	for _, ev := range b.queued {
		if _, ok := famSet[ev.ItemID]; !ok {
			kept = append(kept, ev)
		}
	}
	b.queued = kept

	var cancels []context.CancelFunc
	for id, job := range b.running {
		if _, ok := famSet[job.event.ItemID]; ok {
			if job.cancel != nil {
				cancels = append(cancels, job.cancel)
			}
			delete(b.running, id)
		}
	}
	b.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if len(cancels) > 0 || len(famSet) > 0 {
		b.logger.Debug().Int64("itemId", itemID).Msg("Cancelled jobs for item tree")
	}
}

// Queued returns a snapshot of the queued events in dispatch order.
func (b *Bus) Queued() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.queued))
	copy(out, b.queued)
	return out
}

// Running returns a snapshot of the running events.
func (b *Bus) Running() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, 0, len(b.running))
	for _, job := range b.running {
		out = append(out, job.event)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunAt.Before(out[j].RunAt) })
	return out
}

// Close stops dispatch. Queued events are dropped; running jobs keep their
// contexts.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.queued = nil
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Bus) broadcast(msgType string, ev Event) {
	if b.hub != nil {
		b.hub.Broadcast(msgType, ev)
	}
}
