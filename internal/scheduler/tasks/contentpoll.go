package tasks

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/streamfall/streamfall/internal/content"
	"github.com/streamfall/streamfall/internal/media"
	"github.com/streamfall/streamfall/internal/scheduler"
)

// SubmitFunc admits freshly requested items into the pipeline: persist the
// new ones, queue an event for each, and report how many got in.
type SubmitFunc func(ctx context.Context, source string, items []*media.Item) (int, error)

// ContentPollTask polls one content source and submits what it yields.
type ContentPollTask struct {
	source content.Source
	submit SubmitFunc
	logger zerolog.Logger
}

// NewContentPollTask creates a poll task for one source.
func NewContentPollTask(source content.Source, submit SubmitFunc, logger zerolog.Logger) *ContentPollTask {
	return &ContentPollTask{
		source: source,
		submit: submit,
		logger: logger.With().Str("task", "content-"+source.Name()).Logger(),
	}
}

// Run polls the source once.
func (t *ContentPollTask) Run(ctx context.Context) error {
	items, err := t.source.Run(ctx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	admitted, err := t.submit(ctx, t.source.Name(), items)
	if err != nil {
		return err
	}
	t.logger.Info().Int("yielded", len(items)).Int("admitted", admitted).Msg("Content poll completed")
	return nil
}

// RegisterContentPollTasks validates each source and schedules a poll task
// for the ones that pass. A source that fails validation or carries no
// usable interval is reported and left out; the rest still run. Returns
// how many sources were scheduled.
func RegisterContentPollTasks(ctx context.Context, sched *scheduler.Scheduler, sources []content.Source, submit SubmitFunc, logger zerolog.Logger) int {
	log := logger.With().Str("component", "content").Logger()

	scheduled := 0
	for _, source := range sources {
		if err := source.Validate(ctx); err != nil {
			log.Warn().Err(err).Str("source", source.Name()).Msg("Content source failed validation, not scheduling")
			continue
		}

		interval := source.UpdateInterval()
		if interval == "" {
			log.Warn().Str("source", source.Name()).Msg("Content source has no update interval, not scheduling")
			continue
		}

		task := NewContentPollTask(source, submit, log)
		err := sched.RegisterTask(scheduler.TaskConfig{
			ID:          "content-" + source.Name(),
			Name:        "Content: " + source.Name(),
			Description: "Polls " + source.Name() + " for newly requested titles",
			Schedule:    interval,
			RunOnStart:  true,
			Func:        task.Run,
		})
		if err != nil {
			log.Warn().Err(err).Str("source", source.Name()).Msg("Failed to schedule content source")
			continue
		}
		scheduled++
	}
	return scheduled
}
