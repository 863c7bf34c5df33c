package tasks

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/streamfall/streamfall/internal/config"
	"github.com/streamfall/streamfall/internal/logger"
	"github.com/streamfall/streamfall/internal/scheduler"
)

const LogCleanupTaskID = "log-cleanup"

// LogCleanupTask removes log files the rotator no longer tracks once they
// age past the configured retention.
type LogCleanupTask struct {
	dir    string
	maxAge time.Duration
	logger zerolog.Logger
}

// NewLogCleanupTask creates a new log cleanup task.
func NewLogCleanupTask(dir string, maxAge time.Duration, log zerolog.Logger) *LogCleanupTask {
	return &LogCleanupTask{
		dir:    dir,
		maxAge: maxAge,
		logger: log.With().Str("task", "log-cleanup").Logger(),
	}
}

// Run sweeps the log directory.
func (t *LogCleanupTask) Run(ctx context.Context) error {
	removed, err := logger.CleanStale(t.dir, t.maxAge)
	if err != nil {
		return err
	}
	if removed > 0 {
		t.logger.Info().Int("removed", removed).Msg("Removed stale log files")
	}
	return nil
}

// RegisterLogCleanupTask registers the hourly log sweep with the scheduler.
// A logging config without a file path has nothing to clean, so nothing is
// registered.
func RegisterLogCleanupTask(sched *scheduler.Scheduler, cfg config.LoggingConfig, log zerolog.Logger) error {
	if cfg.Path == "" {
		return nil
	}

	maxAgeDays := cfg.MaxAgeDays
	if maxAgeDays <= 0 {
		maxAgeDays = 30
	}
	task := NewLogCleanupTask(cfg.Path, time.Duration(maxAgeDays)*24*time.Hour, log)

	return sched.RegisterTask(scheduler.TaskConfig{
		ID:          LogCleanupTaskID,
		Name:        "Log Cleanup",
		Description: "Removes stale log files past the retention age",
		Schedule:    "1h",
		RunOnStart:  true,
		Func:        task.Run,
	})
}
