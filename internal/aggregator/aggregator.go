// Package aggregator folds contiguous one-minute bars into bars of a
// coarser target interval. It is a pure function over []model.Bar;
// it has no I/O of its own and is fed by the candle store.
package aggregator

import (
	"context"

	"candlecache/internal/model"
)

// Source is the read-only slice of the candle store the aggregator
// needs: a window scan and a latest-bar lookup, kept as an interface so
// pure-function tests can supply a fake.
type Source interface {
	Scan(ctx context.Context, pair model.Pair, fromMs, toMs *int64, limit int) ([]model.Bar, error)
	Latest(ctx context.Context, pair model.Pair) (model.Bar, bool, error)
}

// Aggregate implements the bucketing rule from the derivation rule in
// the data model: bucket = timestamp_ms / W_ms, open = first.open,
// close = last.close, high = max(high), low = min(low), volume =
// sum(volume), volume_quote = sum(volume_quote).
//
// If interval is "1m" the raw one-minute bars are returned unchanged
// (identity at the storage granularity). Otherwise the full window is
// read, one-minute bars are grouped into buckets, and if limit > 0 only
// the most recent `limit` aggregated bars are returned.
func Aggregate(ctx context.Context, src Source, pair model.Pair, interval string, fromMs, toMs *int64, limit int) ([]model.Bar, error) {
	minutes, err := model.ParseInterval(interval)
	if err != nil {
		return nil, err
	}

	if minutes == 1 {
		return src.Scan(ctx, pair, fromMs, toMs, limit)
	}

	bars, err := src.Scan(ctx, pair, fromMs, toMs, 0)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, nil
	}

	windowMs := int64(minutes) * 60_000
	out := bucketize(bars, pair, windowMs)

	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// bucketize groups ascending one-minute bars by bucket = ts / windowMs
// and emits one aggregated bar per bucket, in ascending bucket order.
func bucketize(bars []model.Bar, pair model.Pair, windowMs int64) []model.Bar {
	var out []model.Bar

	var group []model.Bar
	currentBucket := bars[0].TimestampMs / windowMs

	flush := func() {
		if len(group) == 0 {
			return
		}
		out = append(out, aggregateGroup(group, pair, currentBucket*windowMs))
		group = group[:0]
	}

	for _, b := range bars {
		bucket := b.TimestampMs / windowMs
		if bucket != currentBucket {
			flush()
			currentBucket = bucket
		}
		group = append(group, b)
	}
	flush()

	return out
}

// aggregateGroup folds one bucket's one-minute bars into a single bar
// at bucketStartMs, per the OHLC composition law: open = first.open
// (by ascending timestamp), close = last.close, high = max(high),
// low = min(low), volumes summed.
func aggregateGroup(group []model.Bar, pair model.Pair, bucketStartMs int64) model.Bar {
	agg := model.Bar{
		Pair:        pair,
		TimestampMs: bucketStartMs,
		Open:        group[0].Open,
		High:        group[0].High,
		Low:         group[0].Low,
		Close:       group[len(group)-1].Close,
		Confirm:     1,
	}
	for _, b := range group {
		if b.High > agg.High {
			agg.High = b.High
		}
		if b.Low < agg.Low {
			agg.Low = b.Low
		}
		agg.Volume += b.Volume
		agg.VolumeQuote += b.VolumeQuote
	}
	return agg
}

// Latest computes a start time from the store's latest bar for pair and
// calls Aggregate over [latest.ts - limit*W_ms, latest.ts] with that
// limit.
func Latest(ctx context.Context, src Source, pair model.Pair, interval string, limit int) ([]model.Bar, error) {
	latest, ok, err := src.Latest(ctx, pair)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	minutes, err := model.ParseInterval(interval)
	if err != nil {
		return nil, err
	}
	windowMs := int64(minutes) * 60_000

	start := latest.TimestampMs - int64(limit)*windowMs
	end := latest.TimestampMs
	return Aggregate(ctx, src, pair, interval, &start, &end, limit)
}
