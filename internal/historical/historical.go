// Package historical implements the core query algorithm: plan the
// time window, measure coverage against the store, backfill what is
// missing in chunks, then aggregate to the requested interval.
package historical

import (
	"context"
	"time"

	"go.uber.org/zap"

	"candlecache/internal/aggregator"
	"candlecache/internal/config"
	"candlecache/internal/model"
)

func nowMs() int64 { return time.Now().UnixMilli() }

// Store is the subset of store.Store the historical service reads and
// writes.
type Store interface {
	Scan(ctx context.Context, pair model.Pair, fromMs, toMs *int64, limit int) ([]model.Bar, error)
	Latest(ctx context.Context, pair model.Pair) (model.Bar, bool, error)
	UpsertBatch(ctx context.Context, bars []model.Bar) error
}

// ExchangeClient is the subset of exchange.Client the backfill path
// needs.
type ExchangeClient interface {
	FetchOHLCV(ctx context.Context, pairAPI, intervalExchange string, sinceMs *int64, limit int, useCache bool) ([]model.Bar, error)
}

// Metrics is the slice of the metrics registry the backfill walk
// reports chunk outcomes to. A nil Metrics disables reporting.
type Metrics interface {
	RecordBackfillChunk(pair, outcome string)
	RecordBarsIngested(pair, source string, count int)
}

// Service orchestrates historical reads: plan the window, measure
// coverage against the store, backfill if incomplete, and aggregate.
type Service struct {
	store    Store
	exchange ExchangeClient
	cfg      config.HistoricalConfig
	metrics  Metrics
	logger   *zap.Logger
	nowFunc  func() int64
}

func New(store Store, exchangeClient ExchangeClient, cfg config.HistoricalConfig, m Metrics, logger *zap.Logger) *Service {
	return &Service{
		store:    store,
		exchange: exchangeClient,
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
		nowFunc:  nowMs,
	}
}

// Query runs the full algorithm for pair/interval with the given
// optional limit and sinceMs, and returns the aggregated bars.
func (s *Service) Query(ctx context.Context, pair model.Pair, interval string, limit int, sinceMs *int64) ([]model.Bar, error) {
	minutes, err := model.ParseInterval(interval)
	if err != nil {
		return nil, err
	}

	start, end := s.planWindow(minutes, limit, sinceMs)

	complete, err := s.isComplete(ctx, pair, start, end)
	if err != nil {
		return nil, err
	}
	if !complete {
		s.backfill(ctx, pair, start, end)
	}

	return aggregator.Aggregate(ctx, s.store, pair, interval, &start, &end, limit)
}

// planWindow picks the query's time window. If sinceMs is
// supplied, [sinceMs, now] is used outright. Otherwise, with limit,
// the window covers limit buckets plus a one-interval buffer so edge
// buckets have data to aggregate from. Absent both, limit defaults to
// the configured default (100).
func (s *Service) planWindow(intervalMinutes, limit int, sinceMs *int64) (start, end int64) {
	now := s.nowFunc()
	end = now

	if sinceMs != nil {
		return *sinceMs, end
	}

	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	windowMs := int64(intervalMinutes) * 60_000
	start = now - int64(limit)*windowMs - windowMs
	return start, end
}

// isComplete measures coverage of the window. The completeness ratio
// actual/expected governs whether backfill runs,
// with a relaxed threshold when the only missing region is a small
// tail beyond the store's latest bar.
func (s *Service) isComplete(ctx context.Context, pair model.Pair, start, end int64) (bool, error) {
	expected := (end - start) / model.BarIntervalMs
	if expected <= 0 {
		return true, nil
	}

	bars, err := s.store.Scan(ctx, pair, &start, &end, 0)
	if err != nil {
		return false, err
	}
	actual := int64(len(bars))

	latest, ok, err := s.store.Latest(ctx, pair)
	if err != nil {
		return false, err
	}

	threshold := s.cfg.CompletenessThreshold
	if ok && latest.TimestampMs >= start && latest.TimestampMs < end {
		tailMs := end - latest.TimestampMs
		windowMs := end - start
		if windowMs > 0 && float64(tailMs)/float64(windowMs) <= s.cfg.RelaxedTailGapRatio {
			threshold = s.cfg.RelaxedCompletenessThreshold
		}
	}

	return float64(actual)/float64(expected) >= threshold, nil
}

// backfill walks [resumeFrom, end] in chunkSize-sized chunks, fetching,
// filtering and batch-upserting each. A chunk failure is logged and
// skipped; the walk never surfaces an error to the caller, so a read
// after a partial backfill is simply less complete.
func (s *Service) backfill(ctx context.Context, pair model.Pair, start, end int64) {
	resumeFrom := start
	if latest, ok, err := s.store.Latest(ctx, pair); err == nil && ok && latest.TimestampMs <= end {
		if latest.TimestampMs+model.BarIntervalMs > resumeFrom {
			resumeFrom = latest.TimestampMs + model.BarIntervalMs
		}
	}
	if resumeFrom > end {
		return
	}

	chunkMs := s.cfg.ChunkSize.Std().Milliseconds()
	if chunkMs <= 0 {
		chunkMs = (24 * 60 * 60) * 1000
	}

	chunkStart := resumeFrom
	for chunkStart <= end {
		select {
		case <-ctx.Done():
			return
		default:
		}

		chunkEnd := chunkStart + chunkMs - model.BarIntervalMs
		if chunkEnd > end {
			chunkEnd = end
		}

		if err := s.backfillChunk(ctx, pair, chunkStart, chunkEnd); err != nil {
			s.logger.Warn("historical: backfill chunk failed, skipping",
				zap.String("pair", string(pair)), zap.Int64("chunk_start", chunkStart), zap.Error(err))
			if s.metrics != nil {
				s.metrics.RecordBackfillChunk(string(pair), "failed")
			}
		} else if s.metrics != nil {
			s.metrics.RecordBackfillChunk(string(pair), "ok")
		}

		chunkStart = chunkEnd + model.BarIntervalMs
	}
}

// backfillChunk is one atomic unit of the walk: fetch since chunkStart
// with caching disabled, filter to [chunkStart, chunkEnd], tag
// confirm=1, and batch-upsert.
func (s *Service) backfillChunk(ctx context.Context, pair model.Pair, chunkStart, chunkEnd int64) error {
	since := chunkStart
	bars, err := s.exchange.FetchOHLCV(ctx, pair.APIForm(), "1m", &since, 0, false)
	if err != nil {
		return err
	}

	filtered := make([]model.Bar, 0, len(bars))
	for _, b := range bars {
		if b.TimestampMs < chunkStart || b.TimestampMs > chunkEnd {
			continue
		}
		b.Pair = pair
		b.Confirm = 1
		filtered = append(filtered, b)
	}
	if len(filtered) == 0 {
		return nil
	}
	if err := s.store.UpsertBatch(ctx, filtered); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.RecordBarsIngested(string(pair), "backfill", len(filtered))
	}
	return nil
}
