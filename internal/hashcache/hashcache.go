// Package hashcache tracks per-infohash download outcomes. A blacklisted hash
// is never offered to any item again; a downloaded hash lets the downloader
// skip the debrid handshake when the active stream is already bound.
package hashcache

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Cache is the persistent hash cache with a write-through in-memory copy, so
// the hot checks on the scrape and download paths never touch the database.
type Cache struct {
	db     *sql.DB
	logger zerolog.Logger

	mu          sync.RWMutex
	blacklisted map[string]struct{}
	downloaded  map[string]struct{}
}

// New loads the stored hash sets and returns a ready cache.
func New(ctx context.Context, db *sql.DB, logger zerolog.Logger) (*Cache, error) {
	c := &Cache{
		db:          db,
		logger:      logger.With().Str("component", "hashcache").Logger(),
		blacklisted: make(map[string]struct{}),
		downloaded:  make(map[string]struct{}),
	}

	rows, err := db.QueryContext(ctx,
		`SELECT infohash, blacklisted, downloaded FROM hash_cache`)
	if err != nil {
		return nil, fmt.Errorf("failed to load hash cache: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var hash string
		var blacklisted, downloaded bool
		if err := rows.Scan(&hash, &blacklisted, &downloaded); err != nil {
			return nil, fmt.Errorf("failed to scan hash cache row: %w", err)
		}
		if blacklisted {
			c.blacklisted[hash] = struct{}{}
		}
		if downloaded {
			c.downloaded[hash] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate hash cache: %w", err)
	}

	c.logger.Debug().
		Int("blacklisted", len(c.blacklisted)).
		Int("downloaded", len(c.downloaded)).
		Msg("Loaded hash cache")
	return c, nil
}

// IsBlacklisted reports whether the hash has been ruled out.
func (c *Cache) IsBlacklisted(hash string) bool {
	hash = strings.ToLower(hash)
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.blacklisted[hash]
	return ok
}

// Blacklist marks the hash as permanently unusable.
func (c *Cache) Blacklist(ctx context.Context, hash string) error {
	hash = strings.ToLower(hash)
	if hash == "" {
		return nil
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO hash_cache (infohash, blacklisted) VALUES (?, 1)
		ON CONFLICT(infohash) DO UPDATE SET blacklisted = 1, updated_at = CURRENT_TIMESTAMP`,
		hash)
	if err != nil {
		return fmt.Errorf("failed to blacklist hash: %w", err)
	}

	c.mu.Lock()
	c.blacklisted[hash] = struct{}{}
	c.mu.Unlock()

	c.logger.Debug().Str("infohash", hash).Msg("Blacklisted hash")
	return nil
}

// IsDownloaded reports whether the hash has completed a debrid handshake
// before.
func (c *Cache) IsDownloaded(hash string) bool {
	hash = strings.ToLower(hash)
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.downloaded[hash]
	return ok
}

// MarkDownloaded records a completed debrid handshake for the hash.
func (c *Cache) MarkDownloaded(ctx context.Context, hash string) error {
	hash = strings.ToLower(hash)
	if hash == "" {
		return nil
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO hash_cache (infohash, downloaded) VALUES (?, 1)
		ON CONFLICT(infohash) DO UPDATE SET downloaded = 1, updated_at = CURRENT_TIMESTAMP`,
		hash)
	if err != nil {
		return fmt.Errorf("failed to mark hash downloaded: %w", err)
	}

	c.mu.Lock()
	c.downloaded[hash] = struct{}{}
	c.mu.Unlock()
	return nil
}
