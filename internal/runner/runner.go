// Package runner drives the acquisition pipeline. It pulls due events off
// the bus, runs them through the state decision table, and hands whatever
// the table picks to the next service's worker pool. Service results come
// back through the same path, so every hop between lifecycle states passes
// the table exactly once.
package runner

import (
	"context"
	"errors"
	"sort"

	"github.com/rs/zerolog"

	"github.com/streamfall/streamfall/internal/events"
	"github.com/streamfall/streamfall/internal/media"
	"github.com/streamfall/streamfall/internal/statemachine"
	"github.com/streamfall/streamfall/internal/store"
)

// Service is one pipeline stage: indexer, scrapers, downloader, symlinker
// or updater. Run takes the item picked by the decision table and returns
// the item to feed back through it.
type Service interface {
	Enabled() bool
	Run(ctx context.Context, item *media.Item) (*media.Item, error)
}

// validator is implemented by services that check their configuration
// against the outside world before the pipeline starts.
type validator interface {
	Validate(ctx context.Context) error
}

// ServiceStatus describes one registered service for the API.
type ServiceStatus struct {
	Name        string `json:"name"`
	Enabled     bool   `json:"enabled"`
	Initialized bool   `json:"initialized"`
	Error       string `json:"error,omitempty"`
}

type serviceEntry struct {
	svc         Service
	enabled     bool
	initialized bool
	lastErr     string
}

// Runner owns the dispatch loop and the service registry.
type Runner struct {
	store    *store.Store
	bus      *events.Bus
	pools    *events.Pools
	machine  *statemachine.Machine
	hub      events.Broadcaster
	logger   zerolog.Logger
	services map[string]*serviceEntry
	ready    bool
}

// New creates a runner over the shared pipeline infrastructure. hub may be
// nil.
func New(st *store.Store, bus *events.Bus, pools *events.Pools, machine *statemachine.Machine, hub events.Broadcaster, logger zerolog.Logger) *Runner {
	return &Runner{
		store:    st,
		bus:      bus,
		pools:    pools,
		machine:  machine,
		hub:      hub,
		logger:   logger.With().Str("component", "runner").Logger(),
		services: make(map[string]*serviceEntry),
	}
}

// RegisterService attaches a service behind the bus emitter name the
// decision table routes to.
func (r *Runner) RegisterService(name string, svc Service) {
	r.services[name] = &serviceEntry{svc: svc}
}

// ValidateServices probes every registered service and marks the ones that
// pass. Failing services stay registered but get no work; their items park
// until a restart with fixed settings. Returns whether the pipeline can do
// useful work at all.
func (r *Runner) ValidateServices(ctx context.Context) bool {
	for name, entry := range r.services {
		entry.enabled = entry.svc.Enabled()
		if !entry.enabled {
			r.logger.Info().Str("service", name).Msg("Service disabled")
			continue
		}
		if v, ok := entry.svc.(validator); ok {
			if err := v.Validate(ctx); err != nil {
				entry.lastErr = err.Error()
				r.logger.Warn().Err(err).Str("service", name).Msg("Service failed validation")
				continue
			}
		}
		entry.initialized = true
	}

	r.ready = r.available(events.ServiceScraping) && r.available(events.ServiceDownloader)
	if !r.ready {
		r.logger.Error().Msg("No working scraper or downloader; the pipeline cannot acquire anything until settings change")
	}
	return r.ready
}

// Ready reports whether the pipeline has at least one working scraper and
// downloader.
func (r *Runner) Ready() bool { return r.ready }

func (r *Runner) available(name string) bool {
	entry, ok := r.services[name]
	return ok && entry.enabled && entry.initialized
}

// ServiceStatuses lists every registered service with its validation
// outcome, sorted by name.
func (r *Runner) ServiceStatuses() []ServiceStatus {
	statuses := make([]ServiceStatus, 0, len(r.services))
	for name, entry := range r.services {
		statuses = append(statuses, ServiceStatus{
			Name:        name,
			Enabled:     entry.enabled,
			Initialized: entry.initialized,
			Error:       entry.lastErr,
		})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

// Run consumes the bus until ctx is cancelled or the bus closes. Service
// failures never stop the loop; the affected item keeps its state and the
// retry sweep finds it later. Without a working scraper and downloader the
// loop refuses to consume at all, so nothing is half-processed.
func (r *Runner) Run(ctx context.Context) error {
	if !r.ready {
		<-ctx.Done()
		return nil
	}

	for {
		ev, err := r.bus.Next(ctx)
		if err != nil {
			if errors.Is(err, events.ErrClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		r.dispatch(ctx, ev)
	}
}

// dispatch loads the stored tree behind a queued event and advances it.
func (r *Runner) dispatch(ctx context.Context, ev events.Event) {
	existing, err := r.store.Get(ctx, ev.ItemID)
	if err != nil {
		r.bus.Finish(ev)
		if errors.Is(err, store.ErrNotFound) {
			r.logger.Debug().Int64("itemId", ev.ItemID).Msg("Event for a removed item, dropping")
			return
		}
		r.logger.Error().Err(err).Int64("itemId", ev.ItemID).Msg("Failed to load item for event")
		return
	}
	r.advance(ctx, ev, existing, ev.Emitter, existing)
}

// advance runs one pass of the decision table and acts on the outcome:
// persist the update, then hand the picked items to the next
// service's pool, or re-queue them when no service is due yet. The
// triggering event is finished last on the submit path so the item tree
// never looks idle in between.
func (r *Runner) advance(ctx context.Context, ev events.Event, existing *media.Item, emitter string, item *media.Item) {
	tr := r.machine.Process(existing, emitter, item)

	if tr.Updated != nil {
		// Persist only the updated node's subtree. Sibling nodes may belong
		// to jobs still running, and writing a snapshot of them here would
		// clobber whatever those jobs persist themselves.
		stored, err := r.store.Upsert(ctx, tr.Updated)
		if err != nil {
			r.logger.Error().Err(err).Str("item", tr.Updated.LogString()).Msg("Failed to persist item")
			r.bus.Finish(ev)
			return
		}
		r.broadcastItem(stored)
	}

	if tr.NextService == "" {
		r.bus.Finish(ev)
		for _, sub := range tr.ToSubmit {
			r.bus.Add(ctx, events.NewDelayedEvent(events.EmitterStateTransition, sub.ID, tr.RunAt))
		}
		return
	}

	entry, ok := r.services[tr.NextService]
	if !ok || !entry.enabled || !entry.initialized {
		r.bus.Finish(ev)
		r.logger.Warn().Str("service", tr.NextService).Str("item", item.LogString()).
			Msg("Next service unavailable; item parked for the retry sweep")
		return
	}

	for _, sub := range tr.ToSubmit {
		r.submitJob(ctx, entry.svc, tr.NextService, sub)
	}
	r.bus.Finish(ev)
}

// submitJob registers a running event for the item and queues the service
// pass on the service's pool. The job gets a private clone of the item's
// tree: siblings picked in the same decision pass run concurrently, and a
// shared tree would have every worker reading nodes another one mutates.
func (r *Runner) submitJob(ctx context.Context, svc Service, name string, item *media.Item) {
	jobCtx, cancel := context.WithCancel(ctx)
	ev := events.NewEvent(name, item.ID)
	job := item.Clone()
	r.bus.MarkRunning(ev, cancel)
	r.pools.Submit(name, func() {
		defer cancel()
		r.runService(jobCtx, svc, name, ev, job)
	})
}

// runService executes one service pass and feeds the result back through
// the decision table.
func (r *Runner) runService(ctx context.Context, svc Service, name string, ev events.Event, item *media.Item) {
	result, err := svc.Run(ctx, item)
	if ctx.Err() != nil {
		// Cancelled mid-run; whatever came back is stale.
		r.bus.Finish(ev)
		return
	}
	if err != nil {
		r.logger.Warn().Err(err).Str("service", name).Str("item", item.LogString()).Msg("Service run failed")
		r.bus.Finish(ev)
		return
	}
	if result == nil {
		r.bus.Finish(ev)
		return
	}

	existing, err := r.store.Get(ctx, ev.ItemID)
	if err != nil {
		r.bus.Finish(ev)
		if errors.Is(err, store.ErrNotFound) {
			// Deleted while the service ran; the deletion wins.
			return
		}
		r.logger.Error().Err(err).Int64("itemId", ev.ItemID).Msg("Failed to reload item after service run")
		return
	}
	r.advance(ctx, ev, existing, name, result)
}

func (r *Runner) broadcastItem(item *media.Item) {
	if r.hub == nil {
		return
	}
	top := item.Show()
	r.hub.Broadcast("item.updated", map[string]interface{}{
		"id":    top.ID,
		"state": top.State(),
		"title": top.Title,
	})
}
