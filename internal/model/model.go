// Package model holds the core domain types shared across the candle
// store, exchange client, aggregator and boundary layers.
package model

import (
	"fmt"
	"strconv"
	"strings"
)

// BarIntervalMs is the storage granularity: one minute, in milliseconds.
const BarIntervalMs int64 = 60_000

// Pair is a trading pair in canonical storage form BASE-QUOTE.
type Pair string

// ParsePair accepts either BASE-QUOTE or BASE/QUOTE and returns the
// canonical BASE-QUOTE form.
func ParsePair(raw string) (Pair, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	sep := "-"
	if strings.Contains(s, "/") {
		sep = "/"
	} else if !strings.Contains(s, "-") {
		return "", fmt.Errorf("malformed pair %q: expected BASE-QUOTE or BASE/QUOTE", raw)
	}
	parts := strings.SplitN(s, sep, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("malformed pair %q: expected BASE-QUOTE or BASE/QUOTE", raw)
	}
	return Pair(parts[0] + "-" + parts[1]), nil
}

// String returns the canonical BASE-QUOTE form.
func (p Pair) String() string { return string(p) }

// APIForm returns the exchange-facing BASE/QUOTE form.
func (p Pair) APIForm() string { return strings.Replace(string(p), "-", "/", 1) }

// Interval is a symbolic candle duration, e.g. "1m", "4h", "1d".
type Interval string

// SupportedIntervals is the closed set of intervals the boundary accepts.
var SupportedIntervals = map[Interval]bool{
	"1m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "2h": true, "4h": true, "6h": true, "12h": true,
	"1d": true, "1w": true,
}

// ParseInterval parses the m/min, h/hour, d/day, w/week suffix grammar
// and returns the interval's length in minutes.
func ParseInterval(interval string) (minutes int, err error) {
	s := strings.ToLower(strings.TrimSpace(interval))

	tryParse := func(suffix string, multiplier int) (int, bool) {
		if !strings.HasSuffix(s, suffix) {
			return 0, false
		}
		numPart := strings.TrimSuffix(s, suffix)
		n, convErr := strconv.Atoi(numPart)
		if convErr != nil || n <= 0 {
			return 0, false
		}
		return n * multiplier, true
	}

	// Longer suffixes must be tried before their single-letter prefixes.
	if n, ok := tryParse("min", 1); ok {
		return n, nil
	}
	if n, ok := tryParse("hour", 60); ok {
		return n, nil
	}
	if n, ok := tryParse("day", 60*24); ok {
		return n, nil
	}
	if n, ok := tryParse("week", 60*24*7); ok {
		return n, nil
	}
	if n, ok := tryParse("m", 1); ok {
		return n, nil
	}
	if n, ok := tryParse("h", 60); ok {
		return n, nil
	}
	if n, ok := tryParse("d", 60*24); ok {
		return n, nil
	}
	if n, ok := tryParse("w", 60*24*7); ok {
		return n, nil
	}
	return 0, fmt.Errorf("unsupported interval: %q", interval)
}

// WindowMs returns the interval's length in milliseconds.
func WindowMs(interval string) (int64, error) {
	minutes, err := ParseInterval(interval)
	if err != nil {
		return 0, err
	}
	return int64(minutes) * 60_000, nil
}

// Bar is a one-minute OHLCV candle keyed by (pair, timestamp_ms).
type Bar struct {
	Pair        Pair
	TimestampMs int64
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
	VolumeQuote float64
	Confirm     int

	// VolumeQuoteEstimated is set when VolumeQuote was derived from Volume
	// because the exchange payload carried no explicit quote-volume field.
	// Base and quote volume are not the same thing, so the substitution is
	// flagged rather than silent.
	VolumeQuoteEstimated bool
}

// IsValid reports whether the bar satisfies the storage invariants:
// low <= min(open,close) <= max(open,close) <= high, volumes >= 0, and
// the timestamp is aligned to a one-minute boundary.
func (b Bar) IsValid() bool {
	if b.TimestampMs%BarIntervalMs != 0 {
		return false
	}
	if b.Volume < 0 || b.VolumeQuote < 0 {
		return false
	}
	lo, hi := b.Open, b.Close
	if lo > hi {
		lo, hi = hi, lo
	}
	return b.Low <= lo && hi <= b.High && b.Low <= b.High
}

// WatchedPair is a row in the watch list that the stream collector
// consults to decide which pairs to subscribe to.
type WatchedPair struct {
	ID        int64
	Pair      Pair
	Enabled   bool
	CreatedAt int64 // epoch ms, UTC
	UpdatedAt int64
}

// Stats summarizes the stored bars for one pair.
type Stats struct {
	Count   int64
	MinTsMs int64
	MaxTsMs int64
	HasBars bool
}
