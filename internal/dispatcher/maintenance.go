package dispatcher

import (
	"context"
	"time"
)

const (
	maintenanceHour = 3 // 03:00 local

	archiveCompletedAfter = 30 * 24 * time.Hour
	archiveFailedAfter    = 7 * 24 * time.Hour
	purgeFailuresAfter    = 90 * 24 * time.Hour
)

// maintenanceLoop runs the daily cleanup at 03:00 local time.
func (d *Dispatcher) maintenanceLoop(ctx context.Context) {
	defer d.wg.Done()

	for {
		wait := time.Until(nextMaintenanceRun(time.Now()))
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
			d.runMaintenance(ctx)
		}
	}
}

// nextMaintenanceRun returns the next 03:00 local strictly after now.
func nextMaintenanceRun(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), maintenanceHour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// runMaintenance purges expired sessions, archives old terminal posts
// and trims the failure log. Each task logs and proceeds on error so a
// single failure never blocks the rest.
func (d *Dispatcher) runMaintenance(ctx context.Context) {
	now := time.Now().UTC()
	d.logger.Info("running daily maintenance")

	if n, err := d.store.PurgeExpired(ctx); err != nil {
		d.logger.Error("failed to purge expired sessions", "error", err)
	} else if n > 0 {
		d.logger.Info("purged expired sessions", "count", n)
	}

	if n, err := d.repo.ArchiveCompleted(ctx, now.Add(-archiveCompletedAfter)); err != nil {
		d.logger.Error("failed to archive completed posts", "error", err)
	} else if n > 0 {
		d.logger.Info("archived completed posts", "count", n)
	}

	if n, err := d.repo.ArchiveFailed(ctx, now.Add(-archiveFailedAfter)); err != nil {
		d.logger.Error("failed to archive failed posts", "error", err)
	} else if n > 0 {
		d.logger.Info("archived failed posts", "count", n)
	}

	if n, err := d.failures.PurgeOlderThan(ctx, now.Add(-purgeFailuresAfter)); err != nil {
		d.logger.Error("failed to purge old failure records", "error", err)
	} else if n > 0 {
		d.logger.Info("purged old failure records", "count", n)
	}

	if d.stateSweeper != nil {
		if n := d.stateSweeper.SweepStates(); n > 0 {
			d.logger.Info("swept expired oauth states", "count", n)
		}
	}
}
