package engine

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/robfig/cron/v3"
)

// Logger is global since we will need it everywhere
var Logger = slog.Default()

// TempFilePrefix starts the name of every upload stored in the temp folder
const TempFilePrefix = "upload_"

// InitializeSchedules starts the sweeper that removes stale uploads, debug dumps and old history
func (serverHandler *ServerHandler) InitializeSchedules() *cron.Cron {
	interval := serverHandler.ServerConfig.SweepInterval
	if interval <= 0 {
		interval = 10
	}

	// Run the sweep immediately at startup in a goroutine
	Logger.Info("Running sweep job at startup")
	go serverHandler.sweepJobFunc()

	c := cron.New()
	var sweepJob cron.Job
	sweepJob = cron.FuncJob(serverHandler.sweepJobFunc)
	sweepJob = cron.NewChain(cron.SkipIfStillRunning(cron.DefaultLogger)).Then(sweepJob) //ensure we don't kick off another if old one is still running
	if _, err := c.AddJob(fmt.Sprintf("@every %dm", interval), sweepJob); err != nil {
		Logger.Error("Unable to schedule sweep job", "error", err)
	}
	Logger.Info("Adding sweep job scheduler", "interval_minutes", interval)
	c.Start()
	return c
}

func (serverHandler *ServerHandler) sweepJobFunc() {
	defer func() {
		if r := recover(); r != nil {
			Logger.Error("Panic recovered in sweep job", "panic", r)
		}
	}()

	cfg := serverHandler.ServerConfig
	now := time.Now()
	maxAge := time.Duration(cfg.TempMaxAge) * time.Minute
	if maxAge <= 0 {
		maxAge = time.Hour
	}

	if removed, err := SweepTempFiles(cfg.TempPath, maxAge, now); err != nil {
		Logger.Warn("Temp sweep failed", "path", cfg.TempPath, "error", err)
	} else if removed > 0 {
		Logger.Info("Removed stale uploads", "count", removed)
	}

	if removed, err := SweepDebugDumps(cfg.DebugPath, maxAge, now); err != nil {
		Logger.Warn("Debug dump sweep failed", "path", cfg.DebugPath, "error", err)
	} else if removed > 0 {
		Logger.Info("Removed stale debug dumps", "count", removed)
	}

	if cfg.HistoryRetention > 0 && serverHandler.DB != nil {
		deleted, err := serverHandler.DB.DeleteOldExtractions(time.Duration(cfg.HistoryRetention) * 24 * time.Hour)
		if err != nil {
			Logger.Error("Unable to delete old extractions", "error", err)
		} else if deleted > 0 {
			Logger.Info("Deleted old extractions", "count", deleted)
		}
	}
}

// SweepTempFiles removes uploads left behind in dir for longer than maxAge
func SweepTempFiles(dir string, maxAge time.Duration, now time.Time) (int, error) {
	return sweep(dir, maxAge, now, func(entry os.DirEntry) bool {
		return !entry.IsDir() && strings.HasPrefix(entry.Name(), TempFilePrefix)
	})
}

// SweepDebugDumps removes per request dump folders older than maxAge
func SweepDebugDumps(dir string, maxAge time.Duration, now time.Time) (int, error) {
	return sweep(dir, maxAge, now, func(entry os.DirEntry) bool {
		if !entry.IsDir() {
			return false
		}
		_, err := ulid.ParseStrict(entry.Name())
		return err == nil
	})
}

func sweep(dir string, maxAge time.Duration, now time.Time, match func(os.DirEntry) bool) (int, error) {
	if dir == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		if !match(entry) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < maxAge {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			Logger.Warn("Unable to remove stale entry", "path", path, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}
