// Package retention implements the retention scheduler: it fires
// once per calendar day at a configured wall-clock time and trims
// bars older than the retention horizon.
package retention

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Store is the subset of store.Store the scheduler needs.
type Store interface {
	DeleteOlderThan(ctx context.Context, cutoffMs int64) (int64, error)
}

// Scheduler runs the daily retention job. Failures are logged; the job
// is rescheduled for the next day regardless.
type Scheduler struct {
	store      Store
	retainDays int
	runAt      string // "HH:MM"
	loc        *time.Location
	logger     *zap.Logger
}

func New(store Store, retainDays int, runAt, timezone string, logger *zap.Logger) (*Scheduler, error) {
	loc := time.Local
	if timezone != "" && timezone != "Local" {
		var err error
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("retention: invalid timezone %q: %w", timezone, err)
		}
	}
	return &Scheduler{store: store, retainDays: retainDays, runAt: runAt, loc: loc, logger: logger}, nil
}

// Run blocks, firing the retention job once per calendar day at the
// configured wall-clock time, until ctx is cancelled. A shutdown waits
// for the in-flight delete to finish rather than cancelling it
// mid-transaction.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		next := s.nextRun(time.Now().In(s.loc))
		wait := time.Until(next)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		s.runOnce(context.Background())
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	cutoff := time.Now().In(s.loc).AddDate(0, 0, -s.retainDays).UnixMilli()
	count, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("retention: delete failed", zap.Error(err))
		return
	}
	s.logger.Info("retention: trimmed old bars", zap.Int64("deleted", count), zap.Int64("cutoff_ms", cutoff))
}

// nextRun returns the next occurrence of the configured HH:MM wall
// clock strictly after now.
func (s *Scheduler) nextRun(now time.Time) time.Time {
	hour, minute := 2, 0
	fmt.Sscanf(s.runAt, "%d:%d", &hour, &minute)

	candidate := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, s.loc)
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}
