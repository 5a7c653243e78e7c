package store

import (
	"context"
	"database/sql"
	"fmt"

	"candlecache/internal/errs"
	"candlecache/internal/model"
)

const upsertSQL = `
INSERT INTO candle_data
	(coin_pair, timestamp, open, high, low, close, volume, volume_quote, confirm)
VALUES
	($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (coin_pair, timestamp) DO UPDATE SET
	open = excluded.open,
	high = excluded.high,
	low = excluded.low,
	close = excluded.close,
	volume = excluded.volume,
	volume_quote = excluded.volume_quote,
	confirm = excluded.confirm
`

// UpsertBar inserts or overwrites a bar keyed by (pair, timestamp_ms).
// Identical keys overwrite OHLCV fields; both the stream collector
// and the backfill path depend on this conflict resolution.
func (s *Store) UpsertBar(ctx context.Context, bar model.Bar) error {
	_, err := s.db.ExecContext(ctx, upsertSQL,
		string(bar.Pair), bar.TimestampMs, bar.Open, bar.High, bar.Low, bar.Close,
		bar.Volume, bar.VolumeQuote, bar.Confirm,
	)
	if err != nil {
		return errs.Storage("UpsertBar", err)
	}
	return nil
}

// UpsertBatch writes all bars in a single transaction. Conflicts within
// the batch resolve to last-wins in the order given, matching multiple
// ON CONFLICT applications against the same row inside one transaction.
func (s *Store) UpsertBatch(ctx context.Context, bars []model.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Storage("UpsertBatch:begin", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		return errs.Storage("UpsertBatch:prepare", err)
	}
	defer stmt.Close()

	for _, bar := range bars {
		if _, err := stmt.ExecContext(ctx,
			string(bar.Pair), bar.TimestampMs, bar.Open, bar.High, bar.Low, bar.Close,
			bar.Volume, bar.VolumeQuote, bar.Confirm,
		); err != nil {
			return errs.Storage("UpsertBatch:exec", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errs.Storage("UpsertBatch:commit", err)
	}
	return nil
}

// Scan returns bars for pair in [fromMs, toMs] inclusive, ascending by
// timestamp. A nil fromMs/toMs leaves that bound open. limit, if > 0,
// caps the result to the first `limit` rows in ascending order.
func (s *Store) Scan(ctx context.Context, pair model.Pair, fromMs, toMs *int64, limit int) ([]model.Bar, error) {
	query := `SELECT coin_pair, timestamp, open, high, low, close, volume, volume_quote, confirm
	          FROM candle_data WHERE coin_pair = $1`
	args := []any{string(pair)}

	if fromMs != nil {
		args = append(args, *fromMs)
		query += fmt.Sprintf(" AND timestamp >= $%d", len(args))
	}
	if toMs != nil {
		args = append(args, *toMs)
		query += fmt.Sprintf(" AND timestamp <= $%d", len(args))
	}
	query += " ORDER BY timestamp ASC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Storage("Scan", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var b model.Bar
		var pairStr string
		if err := rows.Scan(&pairStr, &b.TimestampMs, &b.Open, &b.High, &b.Low, &b.Close,
			&b.Volume, &b.VolumeQuote, &b.Confirm); err != nil {
			return nil, errs.Storage("Scan:row", err)
		}
		b.Pair = model.Pair(pairStr)
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Storage("Scan:rows", err)
	}
	return bars, nil
}

// Latest returns the bar with the maximum timestamp for pair, or
// (model.Bar{}, false, nil) if the pair has no bars.
func (s *Store) Latest(ctx context.Context, pair model.Pair) (model.Bar, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT coin_pair, timestamp, open, high, low, close, volume, volume_quote, confirm
		FROM candle_data WHERE coin_pair = $1
		ORDER BY timestamp DESC LIMIT 1
	`, string(pair))

	var b model.Bar
	var pairStr string
	if err := row.Scan(&pairStr, &b.TimestampMs, &b.Open, &b.High, &b.Low, &b.Close,
		&b.Volume, &b.VolumeQuote, &b.Confirm); err != nil {
		if err == sql.ErrNoRows {
			return model.Bar{}, false, nil
		}
		return model.Bar{}, false, errs.Storage("Latest", err)
	}
	b.Pair = model.Pair(pairStr)
	return b, true, nil
}

// Stats returns count/min/max timestamp for pair.
func (s *Store) Stats(ctx context.Context, pair model.Pair) (model.Stats, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(MIN(timestamp), 0), COALESCE(MAX(timestamp), 0)
		FROM candle_data WHERE coin_pair = $1
	`, string(pair))

	var stats model.Stats
	if err := row.Scan(&stats.Count, &stats.MinTsMs, &stats.MaxTsMs); err != nil {
		return model.Stats{}, errs.Storage("Stats", err)
	}
	stats.HasBars = stats.Count > 0
	return stats, nil
}

// DeleteOlderThan deletes every bar across all pairs with timestamp <
// cutoffMs and returns the count removed.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoffMs int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM candle_data WHERE timestamp < $1`, cutoffMs)
	if err != nil {
		return 0, errs.Storage("DeleteOlderThan", err)
	}
	return res.RowsAffected()
}

// DeleteOnDay deletes bars whose timestamp falls in [startMs, endMs).
// The caller supplies the calendar-day boundary already resolved to
// its chosen timezone.
func (s *Store) DeleteOnDay(ctx context.Context, startMs, endMs int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM candle_data WHERE timestamp >= $1 AND timestamp < $2
	`, startMs, endMs)
	if err != nil {
		return 0, errs.Storage("DeleteOnDay", err)
	}
	return res.RowsAffected()
}
