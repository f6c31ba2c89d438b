// Package stats derives daily per-fleet usage figures from the traffic
// totals the registry collects across panel servers.
package stats

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Store persists usage snapshots and daily summaries.
type Store interface {
	UserSnapshotMap(ctx context.Context, day string) (map[uuid.UUID]int64, error)
	UpsertUserSnapshots(ctx context.Context, day string, totals map[uuid.UUID]int64) error
	UpsertDailyUsage(ctx context.Context, day string, activeUsers int, totalBytes int64) error
}

// Fleet supplies the cross-server traffic totals.
type Fleet interface {
	CollectUserTotals(ctx context.Context) (map[uuid.UUID]int64, error)
}

const dayFormat = "2006-01-02"

// snapshotOffset delays the midnight run slightly so the snapshot lands
// after the day boundary everywhere in the fleet.
const snapshotOffset = 5 * time.Minute

const retryDelay = 5 * time.Second

// Collector snapshots fleet totals at the start of each day and derives
// the previous day's consumption as the delta between snapshots.
type Collector struct {
	store Store
	fleet Fleet
	log   *slog.Logger
	loc   *time.Location
}

// New creates a collector. A nil location defaults to time.Local.
func New(store Store, fleet Fleet, logger *slog.Logger, loc *time.Location) *Collector {
	if loc == nil {
		loc = time.Local
	}
	return &Collector{store: store, fleet: fleet, log: logger, loc: loc}
}

// CollectDailyUsage takes (or reuses) the snapshot for the given day and
// upserts the previous day's usage summary. Panel counters only grow
// between resets, so negative deltas are treated as no consumption.
func (c *Collector) CollectDailyUsage(ctx context.Context, day time.Time) error {
	snapDay := day.In(c.loc).Format(dayFormat)
	prevDay := day.In(c.loc).AddDate(0, 0, -1).Format(dayFormat)

	current, err := c.store.UserSnapshotMap(ctx, snapDay)
	if err != nil {
		return err
	}
	if len(current) == 0 {
		current, err = c.fleet.CollectUserTotals(ctx)
		if err != nil {
			return err
		}
		if err := c.store.UpsertUserSnapshots(ctx, snapDay, current); err != nil {
			return err
		}
	}

	prev, err := c.store.UserSnapshotMap(ctx, prevDay)
	if err != nil {
		return err
	}

	var totalBytes int64
	activeUsers := 0
	for id, cur := range current {
		delta := cur - prev[id]
		if delta > 0 {
			activeUsers++
			totalBytes += delta
		}
	}
	return c.store.UpsertDailyUsage(ctx, prevDay, activeUsers, totalBytes)
}

// Run sleeps until shortly past each local midnight, then collects that
// day's snapshot. Failures are logged and retried after a short delay.
func (c *Collector) Run(ctx context.Context) {
	for {
		now := time.Now().In(c.loc)
		target := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, c.loc).Add(snapshotOffset)
		if !now.Before(target) {
			target = target.AddDate(0, 0, 1)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(target.Sub(now)):
		}

		if err := c.CollectDailyUsage(ctx, time.Now().In(c.loc)); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Error("daily usage collection failed", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryDelay):
			}
		}
	}
}
