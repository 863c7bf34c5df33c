package tasks

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/streamfall/streamfall/internal/events"
	"github.com/streamfall/streamfall/internal/scheduler"
)

const RetrySweepTaskID = "retry-sweep"

// retryBatchSize bounds how many item ids are held in memory per fetch.
const retryBatchSize = 1000

// RetryStore is the slice of the item store the retry sweep needs.
type RetryStore interface {
	IterRetryIDs(ctx context.Context, batchSize int, fn func(ids []int64) error) error
}

// Admitter queues pipeline events.
type Admitter interface {
	Add(ctx context.Context, ev events.Event) bool
}

// RetrySweepTask re-admits every unfinished item to the event bus. Items
// parked by a failed service run, a media server that was down, or a
// restart mid-pipeline all resume from whatever state they derive.
type RetrySweepTask struct {
	store  RetryStore
	bus    Admitter
	logger zerolog.Logger
}

// NewRetrySweepTask creates a new retry sweep task.
func NewRetrySweepTask(st RetryStore, bus Admitter, logger zerolog.Logger) *RetrySweepTask {
	return &RetrySweepTask{
		store:  st,
		bus:    bus,
		logger: logger.With().Str("task", "retry-sweep").Logger(),
	}
}

// Run streams unfinished item ids in batches and queues an event for each.
// The bus drops ids whose tree is already queued or running, so a sweep
// never doubles up in-flight work.
func (t *RetrySweepTask) Run(ctx context.Context) error {
	admitted := 0
	seen := 0
	err := t.store.IterRetryIDs(ctx, retryBatchSize, func(ids []int64) error {
		for _, id := range ids {
			seen++
			if t.bus.Add(ctx, events.NewEvent(events.EmitterRetryLibrary, id)) {
				admitted++
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if seen > 0 {
		t.logger.Info().Int("unfinished", seen).Int("admitted", admitted).Msg("Retry sweep completed")
	}
	return nil
}

// RegisterRetrySweepTask registers the retry sweep with the scheduler. The
// startup run doubles as boot re-admission: everything the store holds in a
// non-terminal state re-enters the pipeline.
func RegisterRetrySweepTask(sched *scheduler.Scheduler, st RetryStore, bus Admitter, logger zerolog.Logger) error {
	task := NewRetrySweepTask(st, bus, logger)

	return sched.RegisterTask(scheduler.TaskConfig{
		ID:          RetrySweepTaskID,
		Name:        "Retry Sweep",
		Description: "Re-admits unfinished items to the event bus",
		Schedule:    "10m",
		RunOnStart:  true,
		Func:        task.Run,
	})
}
