package retention

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

type countingStore struct {
	cutoffs []int64
	deleted int64
	err     error
}

func (c *countingStore) DeleteOlderThan(_ context.Context, cutoffMs int64) (int64, error) {
	c.cutoffs = append(c.cutoffs, cutoffMs)
	return c.deleted, c.err
}

func TestNextRun(t *testing.T) {
	t.Parallel()

	s, err := New(&countingStore{}, 30, "02:00", "UTC", zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	utc := time.UTC

	// Before today's 02:00: fires today.
	now := time.Date(2026, 3, 14, 1, 15, 0, 0, utc)
	next := s.nextRun(now)
	want := time.Date(2026, 3, 14, 2, 0, 0, 0, utc)
	if !next.Equal(want) {
		t.Fatalf("nextRun=%s want %s", next, want)
	}

	// After today's 02:00: fires tomorrow.
	now = time.Date(2026, 3, 14, 2, 0, 1, 0, utc)
	next = s.nextRun(now)
	want = time.Date(2026, 3, 15, 2, 0, 0, 0, utc)
	if !next.Equal(want) {
		t.Fatalf("nextRun=%s want %s", next, want)
	}

	// Exactly at 02:00 counts as passed.
	now = time.Date(2026, 3, 14, 2, 0, 0, 0, utc)
	next = s.nextRun(now)
	if !next.Equal(want) {
		t.Fatalf("nextRun=%s want %s", next, want)
	}
}

func TestNextRunCustomTime(t *testing.T) {
	t.Parallel()

	s, err := New(&countingStore{}, 30, "23:45", "UTC", zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	next := s.nextRun(now)
	want := time.Date(2026, 3, 14, 23, 45, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("nextRun=%s want %s", next, want)
	}
}

func TestRunOnceComputesRetentionCutoff(t *testing.T) {
	t.Parallel()

	st := &countingStore{deleted: 42}
	s, err := New(st, 30, "02:00", "UTC", zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	before := time.Now().AddDate(0, 0, -30).UnixMilli()
	s.runOnce(context.Background())
	after := time.Now().AddDate(0, 0, -30).UnixMilli()

	if len(st.cutoffs) != 1 {
		t.Fatalf("deletes=%d want 1", len(st.cutoffs))
	}
	if st.cutoffs[0] < before || st.cutoffs[0] > after {
		t.Fatalf("cutoff %d outside [%d,%d]", st.cutoffs[0], before, after)
	}
}

func TestInvalidTimezoneRejected(t *testing.T) {
	t.Parallel()

	if _, err := New(&countingStore{}, 30, "02:00", "Mars/Olympus", zap.NewNop()); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}
