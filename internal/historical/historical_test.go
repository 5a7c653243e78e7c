package historical

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"go.uber.org/zap"

	"candlecache/internal/config"
	"candlecache/internal/model"
)

// nowTest is an arbitrary minute-aligned "current" instant.
const nowTest = int64(28_000_000) * model.BarIntervalMs

// testConfig mirrors the loader's defaults without reading a file.
func testConfig() config.HistoricalConfig {
	return config.HistoricalConfig{
		CompletenessThreshold:        0.95,
		RelaxedCompletenessThreshold: 0.80,
		RelaxedTailGapRatio:          0.10,
		DefaultLimit:                 100,
		ChunkSize:                    config.Duration(24 * time.Hour),
	}
}

// fakeStore keeps bars for a single pair in a map keyed by timestamp.
type fakeStore struct {
	bars map[int64]model.Bar
}

func newFakeStore() *fakeStore {
	return &fakeStore{bars: make(map[int64]model.Bar)}
}

func (f *fakeStore) sorted() []int64 {
	keys := make([]int64, 0, len(f.bars))
	for ts := range f.bars {
		keys = append(keys, ts)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (f *fakeStore) Scan(_ context.Context, pair model.Pair, fromMs, toMs *int64, limit int) ([]model.Bar, error) {
	var out []model.Bar
	for _, ts := range f.sorted() {
		if fromMs != nil && ts < *fromMs {
			continue
		}
		if toMs != nil && ts > *toMs {
			continue
		}
		out = append(out, f.bars[ts])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) Latest(_ context.Context, pair model.Pair) (model.Bar, bool, error) {
	keys := f.sorted()
	if len(keys) == 0 {
		return model.Bar{}, false, nil
	}
	return f.bars[keys[len(keys)-1]], true, nil
}

func (f *fakeStore) UpsertBatch(_ context.Context, bars []model.Bar) error {
	for _, b := range bars {
		f.bars[b.TimestampMs] = b
	}
	return nil
}

func (f *fakeStore) fill(fromMs, toMs int64) {
	for ts := fromMs; ts <= toMs; ts += model.BarIntervalMs {
		f.bars[ts] = model.Bar{Pair: "BTC-USDT", TimestampMs: ts, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 1, VolumeQuote: 1, Confirm: 1}
	}
}

// fakeExchange records fetch calls and serves one-minute bars from
// since up to its horizon, optionally failing specific calls.
type fakeExchange struct {
	horizon int64
	calls   []int64
	failOn  map[int]error // by 0-based call index
}

func (f *fakeExchange) FetchOHLCV(_ context.Context, pairAPI, interval string, sinceMs *int64, limit int, useCache bool) ([]model.Bar, error) {
	idx := len(f.calls)
	since := int64(0)
	if sinceMs != nil {
		since = *sinceMs
	}
	f.calls = append(f.calls, since)

	if useCache {
		return nil, errors.New("backfill must bypass the cache")
	}
	if err, ok := f.failOn[idx]; ok {
		return nil, err
	}

	var out []model.Bar
	for ts := since; ts <= f.horizon; ts += model.BarIntervalMs {
		out = append(out, model.Bar{TimestampMs: ts, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 1, VolumeQuote: 1})
	}
	return out, nil
}

func newService(st *fakeStore, ex *fakeExchange) *Service {
	s := New(st, ex, testConfig(), nil, zap.NewNop())
	s.nowFunc = func() int64 { return nowTest }
	return s
}

func TestPlanWindow(t *testing.T) {
	t.Parallel()

	s := newService(newFakeStore(), &fakeExchange{})

	since := int64(123_456 * 60_000)
	start, end := s.planWindow(60, 10, &since)
	if start != since || end != nowTest {
		t.Fatalf("since window: [%d,%d]", start, end)
	}

	// limit of 3 one-hour buckets plus a one-interval buffer.
	start, end = s.planWindow(60, 3, nil)
	wantStart := nowTest - 3*3_600_000 - 3_600_000
	if start != wantStart || end != nowTest {
		t.Fatalf("limit window: [%d,%d], want [%d,%d]", start, end, wantStart, nowTest)
	}

	// No limit: the configured default of 100 applies.
	start, _ = s.planWindow(1, 0, nil)
	if start != nowTest-100*60_000-60_000 {
		t.Fatalf("default window start=%d", start)
	}
}

func TestIsCompleteThresholds(t *testing.T) {
	t.Parallel()

	start := nowTest - 100*model.BarIntervalMs
	end := nowTest

	// 96/100 bars: passes under either threshold.
	st := newFakeStore()
	st.fill(start, start+95*model.BarIntervalMs)
	s := newService(st, &fakeExchange{})
	complete, err := s.isComplete(context.Background(), "BTC-USDT", start, end)
	if err != nil {
		t.Fatal(err)
	}
	if !complete {
		t.Fatal("96% coverage should be complete")
	}

	// 86/100 bars, tail gap of 5 minutes (5% of the window): the
	// relaxed 0.80 threshold applies.
	st = newFakeStore()
	st.fill(start, start+84*model.BarIntervalMs)
	st.bars[end-5*model.BarIntervalMs] = model.Bar{Pair: "BTC-USDT", TimestampMs: end - 5*model.BarIntervalMs, Open: 1, High: 2, Low: 0.5, Close: 1, Confirm: 1}
	s = newService(st, &fakeExchange{})
	complete, err = s.isComplete(context.Background(), "BTC-USDT", start, end)
	if err != nil {
		t.Fatal(err)
	}
	if !complete {
		t.Fatal("86 bars with a 5% tail gap should pass the relaxed threshold")
	}

	// 50/100 bars is incomplete under either threshold.
	st = newFakeStore()
	st.fill(start, start+49*model.BarIntervalMs)
	s = newService(st, &fakeExchange{})
	complete, err = s.isComplete(context.Background(), "BTC-USDT", start, end)
	if err != nil {
		t.Fatal(err)
	}
	if complete {
		t.Fatal("50% coverage must not be complete")
	}
}

func TestIsCompleteEmptyWindow(t *testing.T) {
	t.Parallel()

	s := newService(newFakeStore(), &fakeExchange{})
	complete, err := s.isComplete(context.Background(), "BTC-USDT", nowTest, nowTest)
	if err != nil {
		t.Fatal(err)
	}
	if !complete {
		t.Fatal("an empty window is trivially complete")
	}
}

func TestQueryColdBackfill(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	ex := &fakeExchange{horizon: nowTest}
	s := newService(st, ex)

	bars, err := s.Query(context.Background(), "BTC-USDT", "1h", 3, nil)
	if err != nil {
		t.Fatal(err)
	}

	// The 4h window fits in one 24h chunk, fetched from the window
	// start.
	if len(ex.calls) != 1 {
		t.Fatalf("fetch calls=%d want 1", len(ex.calls))
	}
	wantSince := nowTest - 4*3_600_000
	if ex.calls[0] != wantSince {
		t.Fatalf("fetch since=%d want %d", ex.calls[0], wantSince)
	}

	if len(bars) != 3 {
		t.Fatalf("got %d aggregates, want 3", len(bars))
	}
	for _, b := range bars {
		if !b.IsValid() {
			t.Fatalf("invalid aggregate %+v", b)
		}
	}

	// Backfilled bars are written confirmed.
	for _, b := range st.bars {
		if b.Confirm != 1 {
			t.Fatalf("backfilled bar at %d not confirmed", b.TimestampMs)
		}
		if b.Pair != "BTC-USDT" {
			t.Fatalf("backfilled bar has pair %q", b.Pair)
		}
	}
}

func TestBackfillResumesAfterLatest(t *testing.T) {
	t.Parallel()

	start := nowTest - 30*model.BarIntervalMs
	latest := nowTest - 10*model.BarIntervalMs

	st := newFakeStore()
	st.fill(start, latest)
	ex := &fakeExchange{horizon: nowTest}
	s := newService(st, ex)

	since := start
	if _, err := s.Query(context.Background(), "BTC-USDT", "5m", 6, &since); err != nil {
		t.Fatal(err)
	}

	if len(ex.calls) != 1 {
		t.Fatalf("fetch calls=%d want 1", len(ex.calls))
	}
	if ex.calls[0] != latest+model.BarIntervalMs {
		t.Fatalf("resume from %d, want %d", ex.calls[0], latest+model.BarIntervalMs)
	}
}

func TestBackfillSkipsWhenNothingMissing(t *testing.T) {
	t.Parallel()

	// The store's newest bar sits exactly at the window end, but
	// coverage is sparse: backfill would resume past the end and must
	// skip without fetching.
	st := newFakeStore()
	st.bars[nowTest] = model.Bar{Pair: "BTC-USDT", TimestampMs: nowTest, Open: 1, High: 1, Low: 1, Close: 1, Confirm: 1}
	ex := &fakeExchange{horizon: nowTest}
	s := newService(st, ex)

	since := nowTest - 60*model.BarIntervalMs
	if _, err := s.Query(context.Background(), "BTC-USDT", "1m", 0, &since); err != nil {
		t.Fatal(err)
	}
	if len(ex.calls) != 0 {
		t.Fatalf("fetch calls=%d want 0", len(ex.calls))
	}
}

func TestBackfillChunkFailureContinues(t *testing.T) {
	t.Parallel()

	const dayMs = 24 * 60 * 60 * 1000

	st := newFakeStore()
	ex := &fakeExchange{
		horizon: nowTest,
		failOn:  map[int]error{1: errors.New("exchange down")},
	}
	s := newService(st, ex)

	since := nowTest - 3*dayMs
	if _, err := s.Query(context.Background(), "BTC-USDT", "1d", 0, &since); err != nil {
		t.Fatal(err)
	}

	// Three full daily chunks are walked, plus a one-minute chunk for
	// the inclusive window end; the second one failed and was skipped,
	// so its minutes are absent from the store.
	if len(ex.calls) < 3 {
		t.Fatalf("fetch calls=%d want >=3", len(ex.calls))
	}
	failedStart := ex.calls[1]
	if _, ok := st.bars[failedStart]; ok {
		t.Fatal("failed chunk should not have written bars")
	}
	if _, ok := st.bars[ex.calls[0]]; !ok {
		t.Fatal("first chunk should have written bars")
	}
	if _, ok := st.bars[ex.calls[2]]; !ok {
		t.Fatal("third chunk should have written bars")
	}
}

func TestBackfillIdempotence(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	ex := &fakeExchange{horizon: nowTest}
	s := newService(st, ex)

	since := nowTest - 120*model.BarIntervalMs
	if _, err := s.Query(context.Background(), "BTC-USDT", "1m", 0, &since); err != nil {
		t.Fatal(err)
	}
	first := make(map[int64]model.Bar, len(st.bars))
	for ts, b := range st.bars {
		first[ts] = b
	}

	s.backfill(context.Background(), "BTC-USDT", since, nowTest)

	if len(st.bars) != len(first) {
		t.Fatalf("second run changed store size: %d -> %d", len(first), len(st.bars))
	}
	for ts, b := range first {
		if st.bars[ts] != b {
			t.Fatalf("second run changed bar at %d", ts)
		}
	}
}
