package tasks

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/streamfall/streamfall/internal/config"
	"github.com/streamfall/streamfall/internal/scheduler"
	"github.com/streamfall/streamfall/internal/symlinker"
	"github.com/streamfall/streamfall/internal/watcher"
)

const RepairSweepTaskID = "repair-sweep"

// LinkChecker is the slice of the symlinker the repair sweep needs.
type LinkChecker interface {
	BrokenLinks(ctx context.Context) ([]string, error)
}

// RepairSweepTask walks the library for symlinks whose targets no longer
// resolve, usually because the mount dropped files, and feeds each through
// the deletion watcher's removal path. The retry sweep then re-acquires
// whatever the removal reset.
type RepairSweepTask struct {
	links       LinkChecker
	libraryPath string
	remove      watcher.RemoveFunc
	logger      zerolog.Logger
}

// NewRepairSweepTask creates a new repair sweep task.
func NewRepairSweepTask(links LinkChecker, libraryPath string, remove watcher.RemoveFunc, logger zerolog.Logger) *RepairSweepTask {
	return &RepairSweepTask{
		links:       links,
		libraryPath: libraryPath,
		remove:      remove,
		logger:      logger.With().Str("task", "repair-sweep").Logger(),
	}
}

// Run finds broken symlinks and removes the items behind them.
func (t *RepairSweepTask) Run(ctx context.Context) error {
	broken, err := t.links.BrokenLinks(ctx)
	if err != nil {
		return err
	}

	repaired := 0
	for _, path := range broken {
		ref, ok := symlinker.ParseLibraryPath(t.libraryPath, path)
		if !ok {
			t.logger.Debug().Str("path", path).Msg("Broken link outside the library naming scheme, skipping")
			continue
		}
		t.remove(ctx, ref, path)
		repaired++
	}

	if repaired > 0 {
		t.logger.Info().Int("broken", len(broken)).Int("repaired", repaired).Msg("Repair sweep completed")
	}
	return nil
}

// RegisterRepairSweepTask registers the repair sweep at the configured
// interval. An interval of zero disables the sweep.
func RegisterRepairSweepTask(sched *scheduler.Scheduler, cfg config.SymlinkConfig, links LinkChecker, remove watcher.RemoveFunc, logger zerolog.Logger) error {
	if cfg.RepairIntervalHours <= 0 {
		logger.Info().Msg("Symlink repair sweep disabled")
		return nil
	}

	task := NewRepairSweepTask(links, cfg.LibraryPath, remove, logger)
	interval := time.Duration(cfg.RepairIntervalHours * float64(time.Hour))

	return sched.RegisterTask(scheduler.TaskConfig{
		ID:          RepairSweepTaskID,
		Name:        "Symlink Repair Sweep",
		Description: "Removes library entries whose symlink targets are gone",
		Schedule:    interval.String(),
		RunOnStart:  true,
		Func:        task.Run,
	})
}
