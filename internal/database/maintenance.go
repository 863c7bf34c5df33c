package database

import (
	"context"
	"fmt"
)

// Vacuum rebuilds the database file, reclaiming space left behind by
// deleted item trees. Runs outside any transaction per SQLite rules.
func (db *DB) Vacuum(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}
	return nil
}

// Analyze refreshes the query planner statistics.
func (db *DB) Analyze(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, "ANALYZE"); err != nil {
		return fmt.Errorf("failed to analyze database: %w", err)
	}
	return nil
}

// Checkpoint forces a WAL checkpoint so the main database file catches up
// before backups or vacuuming.
func (db *DB) Checkpoint(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("failed to checkpoint database: %w", err)
	}
	return nil
}
