package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"fleet-console-backend/config"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweeper drops idle upload sessions.
type Sweeper interface {
	SweepIdle() int
}

// CleanupExpiredFiles removes regular files in dir older than ttl and
// returns how many were deleted.
func CleanupExpiredFiles(dir string, ttl time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("error reading files directory: %v", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if time.Since(info.ModTime()) <= ttl {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			config.Logger.Warn("Error deleting expired file", zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}

// StartScheduledCleanup sweeps idle sessions every minute and deletes report
// files older than fileTTL every day at 1 AM. The caller stops the returned
// scheduler on shutdown.
func StartScheduledCleanup(sessions Sweeper, fileTTL time.Duration) (*cron.Cron, error) {
	c := cron.New()

	if _, err := c.AddFunc("@every 1m", func() {
		sessions.SweepIdle()
	}); err != nil {
		return nil, fmt.Errorf("failed to schedule session sweep: %w", err)
	}

	if _, err := c.AddFunc("0 1 * * *", func() {
		removed, err := CleanupExpiredFiles(ReportDir, fileTTL)
		if err != nil {
			config.Logger.Error("Report cleanup failed", zap.Error(err))
			return
		}
		config.Logger.Info("Report cleanup finished", zap.Int("removed", removed))
	}); err != nil {
		return nil, fmt.Errorf("failed to schedule report cleanup: %w", err)
	}

	c.Start()
	return c, nil
}
