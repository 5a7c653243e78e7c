// Package collector implements the stream collector: it maintains a
// stable set of subscribed pairs, drives the exchange client's
// streaming connection, and writes confirmed one-minute bars into the
// candle store.
package collector

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"candlecache/internal/exchange"
	"candlecache/internal/model"
)

// Stream is the subset of exchange.Stream the collector drives.
type Stream interface {
	Subscribe(channel, pair string, cb exchange.OnMessage) error
	Unsubscribe(channel, pair string) error
	Run(ctx context.Context)
}

// Store is the subset of store.Store the collector writes to.
type Store interface {
	UpsertBar(ctx context.Context, bar model.Bar) error
	List(ctx context.Context, enabledOnly bool) ([]model.WatchedPair, error)
	AddOrEnable(ctx context.Context, pair model.Pair, enabled bool) error
	Remove(ctx context.Context, pair model.Pair) error
}

// Metrics is the slice of the metrics registry the collector reports
// ingestion to. A nil Metrics disables reporting.
type Metrics interface {
	RecordBarsIngested(pair, source string, count int)
	SetWatchedPairs(count int)
}

const channel1m = "candle1m"

// Collector owns the watch list and subscription lifecycle.
type Collector struct {
	stream  Stream
	store   Store
	metrics Metrics
	logger  *zap.Logger

	mu      sync.Mutex
	watched map[model.Pair]bool
}

func New(stream Stream, store Store, m Metrics, logger *zap.Logger) *Collector {
	return &Collector{
		stream:  stream,
		store:   store,
		metrics: m,
		logger:  logger,
		watched: make(map[model.Pair]bool),
	}
}

// Start reads the enabled watched pairs and pre-registers a
// candle1m:<pair> subscription for each before the underlying
// connection is run. The caller runs Run in its own
// goroutine/supervisor task afterward.
func (c *Collector) Start(ctx context.Context) error {
	pairs, err := c.store.List(ctx, true)
	if err != nil {
		return err
	}

	c.mu.Lock()
	for _, wp := range pairs {
		c.watched[wp.Pair] = true
	}
	c.mu.Unlock()

	for _, wp := range pairs {
		if err := c.subscribe(wp.Pair); err != nil {
			c.logger.Warn("collector: initial subscribe failed", zap.String("pair", string(wp.Pair)), zap.Error(err))
		}
	}
	c.reportWatched()
	return nil
}

func (c *Collector) reportWatched() {
	if c.metrics == nil {
		return
	}
	c.mu.Lock()
	n := len(c.watched)
	c.mu.Unlock()
	c.metrics.SetWatchedPairs(n)
}

// Run drives the underlying streaming connection. It blocks until ctx
// is cancelled.
func (c *Collector) Run(ctx context.Context) {
	c.stream.Run(ctx)
}

func (c *Collector) subscribe(pair model.Pair) error {
	return c.stream.Subscribe(channel1m, pair.APIForm(), func(apiPair string, data [][]string) {
		c.onCandleMessage(pair, data)
	})
}

// onCandleMessage parses confirmed rows from a candle1m payload and
// upserts them; in-progress bars (confirm == 0) are dropped. Only
// exchange-closed bars ever reach the store from the streaming path.
func (c *Collector) onCandleMessage(pair model.Pair, data [][]string) {
	for _, row := range data {
		bar, ok := parseCandleRow(pair, row)
		if !ok {
			continue
		}
		if bar.Confirm != 1 {
			continue
		}
		if err := c.store.UpsertBar(context.Background(), bar); err != nil {
			c.logger.Error("collector: upsert failed", zap.String("pair", string(pair)), zap.Error(err))
			continue
		}
		if c.metrics != nil {
			c.metrics.RecordBarsIngested(string(pair), "stream", 1)
		}
	}
}

func parseCandleRow(pair model.Pair, row []string) (model.Bar, bool) {
	if len(row) < 6 {
		return model.Bar{}, false
	}
	ts, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return model.Bar{}, false
	}
	open, e1 := strconv.ParseFloat(row[1], 64)
	high, e2 := strconv.ParseFloat(row[2], 64)
	low, e3 := strconv.ParseFloat(row[3], 64)
	closeP, e4 := strconv.ParseFloat(row[4], 64)
	volume, e5 := strconv.ParseFloat(row[5], 64)
	if e1 != nil || e2 != nil || e3 != nil || e4 != nil || e5 != nil {
		return model.Bar{}, false
	}

	bar := model.Bar{
		Pair: pair, TimestampMs: ts, Open: open, High: high, Low: low, Close: closeP, Volume: volume,
	}
	if len(row) > 7 {
		if vq, err := strconv.ParseFloat(row[7], 64); err == nil {
			bar.VolumeQuote = vq
		} else {
			bar.VolumeQuote = volume
			bar.VolumeQuoteEstimated = true
		}
	} else {
		bar.VolumeQuote = volume
		bar.VolumeQuoteEstimated = true
	}
	if len(row) > 8 {
		if confirm, err := strconv.Atoi(row[8]); err == nil {
			bar.Confirm = confirm
		}
	} else {
		bar.Confirm = 1
	}
	return bar, true
}

// Add starts watching pair: updates the watch list then issues a
// targeted subscribe. Adding an already-subscribed pair is a no-op. On
// subscribe failure the watch-list change is rolled back.
func (c *Collector) Add(ctx context.Context, pair model.Pair) error {
	c.mu.Lock()
	if c.watched[pair] {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.store.AddOrEnable(ctx, pair, true); err != nil {
		return err
	}

	if err := c.subscribe(pair); err != nil {
		// Roll back: the store write succeeded but the subscribe
		// didn't, so the local in-memory view must not record it as
		// watched, and the persisted row is removed to match.
		_ = c.store.Remove(ctx, pair)
		return err
	}

	c.mu.Lock()
	c.watched[pair] = true
	c.mu.Unlock()
	c.reportWatched()
	return nil
}

// Remove stops watching pair. Removing an unknown pair is a no-op.
func (c *Collector) Remove(ctx context.Context, pair model.Pair) error {
	c.mu.Lock()
	if !c.watched[pair] {
		c.mu.Unlock()
		return nil
	}
	delete(c.watched, pair)
	c.mu.Unlock()

	if err := c.stream.Unsubscribe(channel1m, pair.APIForm()); err != nil {
		c.logger.Warn("collector: unsubscribe failed", zap.String("pair", string(pair)), zap.Error(err))
	}
	c.reportWatched()
	return c.store.Remove(ctx, pair)
}

// Watching reports the currently watched pairs, for diagnostics.
func (c *Collector) Watching() []model.Pair {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Pair, 0, len(c.watched))
	for p := range c.watched {
		out = append(out, p)
	}
	return out
}

// ChannelPairKey is exported for tests asserting on dispatch-table keys.
func ChannelPairKey(pair model.Pair) string {
	return channel1m + ":" + strings.Replace(string(pair), "-", "/", 1)
}
