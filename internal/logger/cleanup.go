package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CleanStale removes log files under dir that have not been written to for
// maxAge. The rotator prunes its own backups on rotation, but files it no
// longer tracks (renamed bases, leftovers from crashed runs) accumulate
// until someone sweeps them. The active file is always freshly written, so
// the age check never touches it. Returns the number of files removed.
func CleanStale(dir string, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read log directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	var lastErr error
	for _, entry := range entries {
		if entry.IsDir() || !isLogFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			lastErr = err
			continue
		}
		removed++
	}
	return removed, lastErr
}

// isLogFile matches the rotator's naming: the active "name.log", timestamped
// backups "name-2006-01-02T15-04-05.000.log", and compressed ".log.gz".
func isLogFile(name string) bool {
	return strings.HasSuffix(name, ".log") || strings.HasSuffix(name, ".log.gz")
}
