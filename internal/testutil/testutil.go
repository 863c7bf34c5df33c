// Package testutil provides testing utilities for integration tests.
package testutil

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/streamfall/streamfall/internal/database"
	"github.com/streamfall/streamfall/internal/media"
)

// TestDB wraps a test database connection.
type TestDB struct {
	DB     *database.DB
	Conn   *sql.DB
	Path   string
	Logger zerolog.Logger
}

// NewTestDB creates a new test database in a temp directory.
// It runs migrations and returns a ready-to-use database.
// The caller should defer Close() to clean up.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "streamfall_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")

	logger := zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.DebugLevel)

	db, err := database.New(dbPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create database: %v", err)
	}

	if err := db.Migrate(); err != nil {
		db.Close()
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return &TestDB{
		DB:     db,
		Conn:   db.Conn(),
		Path:   tmpDir,
		Logger: logger,
	}
}

// Close closes the database and removes the temp directory.
func (tdb *TestDB) Close() {
	if tdb.DB != nil {
		tdb.DB.Close()
	}
	if tdb.Path != "" {
		os.RemoveAll(tdb.Path)
	}
}

// NewTestLogger creates a test logger that outputs to t.Log.
func NewTestLogger(t *testing.T) zerolog.Logger {
	t.Helper()
	return zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.DebugLevel)
}

// NopLogger returns a no-op logger for tests that don't need output.
func NopLogger() zerolog.Logger {
	return zerolog.Nop()
}

// Movie builds a released, requested movie for tests.
func Movie(imdbID, title string, year int) *media.Item {
	aired := time.Date(year, 3, 1, 0, 0, 0, 0, time.UTC)
	m := media.NewRequested(media.TypeMovie, imdbID, "manual")
	m.Title = title
	m.Year = year
	m.AiredAt = &aired
	return m
}

// Show builds a released show with the given episode counts per season,
// seasons numbered from 1.
func Show(imdbID, title string, year int, episodesPerSeason ...int) *media.Item {
	aired := time.Date(year, 3, 1, 0, 0, 0, 0, time.UTC)
	show := media.NewRequested(media.TypeShow, imdbID, "manual")
	show.Title = title
	show.Year = year
	show.AiredAt = &aired
	for s, count := range episodesPerSeason {
		season := media.NewSeason(show, s+1)
		season.AiredAt = &aired
		show.AddChild(season)
		for e := 1; e <= count; e++ {
			ep := media.NewEpisode(season, e)
			ep.Title = "Episode"
			ep.AiredAt = &aired
			season.AddChild(ep)
		}
	}
	return show
}

// TimePtr returns a pointer to a time.
func TimePtr(t time.Time) *time.Time {
	return &t
}

// StringPtr returns a pointer to a string.
func StringPtr(s string) *string {
	return &s
}

// IntPtr returns a pointer to an int.
func IntPtr(i int) *int {
	return &i
}

// Int64Ptr returns a pointer to an int64.
func Int64Ptr(i int64) *int64 {
	return &i
}

// BoolPtr returns a pointer to a bool.
func BoolPtr(b bool) *bool {
	return &b
}
