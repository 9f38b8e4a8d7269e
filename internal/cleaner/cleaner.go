// Package cleaner expires old unpublished posts across the database, the
// batch log, the similarity index and the media tree.
package cleaner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"channel-relay/internal/filex"
	"channel-relay/internal/models"

	"github.com/robfig/cron/v3"
)

// LastRunKey is the settings key holding the time of the last completed run.
const LastRunKey = "retention.last_run"

const minInterval = 24 * time.Hour

type Store interface {
	ExpiredUnpublished(ctx context.Context, cutoff time.Time) ([]models.Post, error)
	SweepExpired(ctx context.Context, cutoff time.Time) (int64, error)
	PruneBatchLog(cutoff time.Time) (int, error)
	Setting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Report says what one run removed.
type Report struct {
	Cutoff  time.Time
	Posts   int64
	Files   int
	Batches int
	Dirs    int
}

type Cleaner struct {
	store     Store
	schedule  cron.Schedule
	retention time.Duration
	mediaRoot string
	log       *slog.Logger
}

// New parses expr as a standard five-field cron expression.
func New(store Store, expr string, retention time.Duration, mediaRoot string, log *slog.Logger) (*Cleaner, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parse retention schedule %q: %w", expr, err)
	}
	return &Cleaner{
		store:     store,
		schedule:  schedule,
		retention: retention,
		mediaRoot: mediaRoot,
		log:       log,
	}, nil
}

// Due reports whether a run should happen at now: never ran before, or the
// last run is at least 24h old and the schedule has fired since.
func (c *Cleaner) Due(ctx context.Context, now time.Time) (bool, error) {
	last, ok, err := c.lastRun(ctx)
	if err != nil || !ok {
		return !ok, err
	}
	if now.Sub(last) < minInterval {
		return false, nil
	}
	return !now.Before(c.schedule.Next(last)), nil
}

func (c *Cleaner) lastRun(ctx context.Context) (time.Time, bool, error) {
	v, ok, err := c.store.Setting(ctx, LastRunKey)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	last, err := time.Parse(time.RFC3339, v)
	if err != nil {
		c.log.Warn("ignoring unreadable last retention run", "value", v, "error", err)
		return time.Time{}, false, nil
	}
	return last, true, nil
}

// Run expires everything older than the retention window. Rows are deleted
// before their files, so a crash in between leaves orphaned files that the
// media tree walk picks up on a later run. A failing step is logged and the
// remaining steps still run.
func (c *Cleaner) Run(ctx context.Context, now time.Time) (Report, error) {
	now = now.UTC()
	cutoff := now.Add(-c.retention)
	rep := Report{Cutoff: cutoff}
	var errs []error

	c.log.Info("retention sweep started", "cutoff", cutoff.Format(time.RFC3339))

	expired, err := c.store.ExpiredUnpublished(ctx, cutoff)
	if err != nil {
		errs = append(errs, err)
	}
	var paths []string
	for _, p := range expired {
		paths = append(paths, p.MediaPaths()...)
	}

	if err == nil {
		rep.Posts, err = c.store.SweepExpired(ctx, cutoff)
		if err != nil {
			errs = append(errs, err)
			paths = nil
		}
	}

	if len(paths) > 0 {
		rep.Files, err = filex.RemoveFiles(paths)
		if err != nil {
			errs = append(errs, err)
		}
		for _, p := range paths {
			if err := filex.PruneEmptyParents(p, c.mediaRoot); err != nil {
				errs = append(errs, err)
			}
		}
	}

	rep.Batches, err = c.store.PruneBatchLog(cutoff)
	if err != nil {
		errs = append(errs, fmt.Errorf("prune batch log: %w", err))
	}

	rep.Dirs, err = c.sweepMediaTree(cutoff)
	if err != nil {
		errs = append(errs, err)
	}

	if err := c.store.SetSetting(ctx, LastRunKey, now.Format(time.RFC3339)); err != nil {
		errs = append(errs, err)
	}

	c.log.Info("retention sweep finished",
		"posts", rep.Posts, "files", rep.Files, "batches", rep.Batches, "dirs", rep.Dirs)
	return rep, errors.Join(errs...)
}

// sweepMediaTree removes leaf directories under <root>/<channel>/ that are
// older than cutoff, then channel directories left empty. A leaf named
// YYYY-MM-DD is aged by its name, a numeric (post id) leaf by its mtime.
// Anything else is left alone.
func (c *Cleaner) sweepMediaTree(cutoff time.Time) (int, error) {
	channels, err := os.ReadDir(c.mediaRoot)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read media root: %w", err)
	}

	var (
		removed int
		errs    []error
	)
	for _, ch := range channels {
		if !ch.IsDir() {
			continue
		}
		chDir := filepath.Join(c.mediaRoot, ch.Name())

		leaves, err := os.ReadDir(chDir)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, leaf := range leaves {
			if !leaf.IsDir() {
				continue
			}
			age, ok := leafTime(leaf)
			if !ok || !age.Before(cutoff) {
				continue
			}
			path := filepath.Join(chDir, leaf.Name())
			if err := os.RemoveAll(path); err != nil {
				errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
				continue
			}
			removed++
			c.log.Debug("removed media dir", "path", path)
		}

		if empty, err := filex.IsEmptyDir(chDir); err == nil && empty {
			if err := os.Remove(chDir); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return removed, errors.Join(errs...)
}

func leafTime(leaf os.DirEntry) (time.Time, bool) {
	if t, err := time.Parse(time.DateOnly, leaf.Name()); err == nil {
		return t, true
	}
	if _, err := strconv.ParseInt(leaf.Name(), 10, 64); err != nil {
		return time.Time{}, false
	}
	info, err := leaf.Info()
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}
