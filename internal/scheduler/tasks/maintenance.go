package tasks

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/streamfall/streamfall/internal/scheduler"
)

const MaintenanceTaskID = "db-maintenance"

// Maintainer is the slice of the database manager the maintenance task needs.
type Maintainer interface {
	Checkpoint(ctx context.Context) error
	Vacuum(ctx context.Context) error
	Analyze(ctx context.Context) error
}

// MaintenanceTask compacts the database and refreshes the query planner
// statistics. Item trees churn constantly (every upsert rewrites a tree),
// so without this sqlite files only ever grow.
type MaintenanceTask struct {
	db     Maintainer
	logger zerolog.Logger
}

// NewMaintenanceTask creates a new database maintenance task.
func NewMaintenanceTask(db Maintainer, logger zerolog.Logger) *MaintenanceTask {
	return &MaintenanceTask{
		db:     db,
		logger: logger.With().Str("task", "db-maintenance").Logger(),
	}
}

// Run checkpoints the WAL, then vacuums and analyzes the database. The
// checkpoint comes first so vacuum rewrites a caught-up main file instead
// of leaving the week's churn sitting in the -wal.
func (t *MaintenanceTask) Run(ctx context.Context) error {
	if err := t.db.Checkpoint(ctx); err != nil {
		return err
	}
	if err := t.db.Vacuum(ctx); err != nil {
		return err
	}
	if err := t.db.Analyze(ctx); err != nil {
		return err
	}
	t.logger.Debug().Msg("Database maintenance completed")
	return nil
}

// RegisterMaintenanceTask registers daily database maintenance with the
// scheduler.
func RegisterMaintenanceTask(sched *scheduler.Scheduler, db Maintainer, logger zerolog.Logger) error {
	task := NewMaintenanceTask(db, logger)

	return sched.RegisterTask(scheduler.TaskConfig{
		ID:          MaintenanceTaskID,
		Name:        "Database Maintenance",
		Description: "Vacuums the database and refreshes planner statistics",
		Schedule:    "24h",
		RunOnStart:  true,
		Func:        task.Run,
	})
}
