// Package exchange talks to the upstream exchange: historical
// OHLCV fetch with paging, retry and an optional TTL cache, and a
// persistent streaming subscription with reconnect.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"candlecache/internal/cache"
	"candlecache/internal/config"
	"candlecache/internal/errs"
	"candlecache/internal/model"
	"candlecache/internal/retry"
)

// pageThreshold is the minimum page size below which the historical
// paging loop concludes it has reached the front of history.
const pageThreshold = 100

// Client is the historical-fetch half of the exchange client.
// Retry/backoff is unified into one retry.Policy; the HTTP call
// itself is wrapped in a circuit breaker so a
// persistently failing upstream stops accepting new attempts instead
// of retrying into an outage forever.
type Client struct {
	cfg        config.ExchangeConfig
	httpClient *http.Client
	retryer    retry.Policy
	breaker    *gobreaker.CircuitBreaker[[]byte]
	cache      *cache.RequestCache
	cacheCfg   config.CacheConfig
	logger     *zap.Logger
}

func NewClient(cfg config.ExchangeConfig, cacheCfg config.CacheConfig, reqCache *cache.RequestCache, logger *zap.Logger) *Client {
	settings := gobreaker.Settings{
		Name:        "exchange-client",
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && (counts.ConsecutiveFailures >= 5 || failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("exchange client circuit breaker state change",
				zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		retryer:    retry.New(cfg.MaxRetries, time.Second),
		breaker:    gobreaker.NewCircuitBreaker[[]byte](settings),
		cache:      reqCache,
		cacheCfg:   cacheCfg,
		logger:     logger,
	}
}

// FetchOHLCV pulls one-minute (or other exchange-granularity) bars for
// pairAPI. When sinceMs is non-nil it pages forward from that instant
// until a page returns fewer than pageThreshold bars or zero. When
// sinceMs is nil it makes one call bounded by limit (default 100, max
// 1000). useCache gates the optional TTL cache; the backfill path
// always passes useCache=false.
func (c *Client) FetchOHLCV(ctx context.Context, pairAPI, intervalExchange string, sinceMs *int64, limit int, useCache bool) ([]model.Bar, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	if useCache && c.cacheCfg.Enabled && c.cache != nil {
		key := cache.Fingerprint(c.cfg.Type, pairAPI, intervalExchange, sinceMs, limit)
		if cached, err := c.cache.Get(ctx, key); err == nil {
			return cached, nil
		}
	}

	var bars []model.Bar
	var err error
	if sinceMs != nil {
		bars, err = c.fetchPaged(ctx, pairAPI, intervalExchange, *sinceMs)
	} else {
		bars, err = c.fetchOne(ctx, pairAPI, intervalExchange, nil, limit)
	}
	if err != nil {
		return nil, err
	}

	if useCache && c.cacheCfg.Enabled && c.cache != nil {
		key := cache.Fingerprint(c.cfg.Type, pairAPI, intervalExchange, sinceMs, limit)
		ttl := cache.TTLFor(intervalExchange, c.cacheCfg.TTL1m.Std(), c.cacheCfg.TTL5m.Std(), c.cacheCfg.TTLDefault.Std())
		if err := c.cache.Set(ctx, key, bars, ttl); err != nil {
			c.logger.Warn("request cache set failed", zap.Error(err))
		}
	}
	return bars, nil
}

// fetchPaged repeatedly requests the next page after the previous
// page's last timestamp until a page returns fewer than pageThreshold
// bars or zero bars, matching the original service's since-based loop.
func (c *Client) fetchPaged(ctx context.Context, pairAPI, intervalExchange string, sinceMs int64) ([]model.Bar, error) {
	var all []model.Bar
	cursor := sinceMs

	for {
		page, err := c.fetchOne(ctx, pairAPI, intervalExchange, &cursor, 1000)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}

		all = append(all, page...)
		cursor = page[len(page)-1].TimestampMs + model.BarIntervalMs

		if len(page) < pageThreshold {
			break
		}

		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
			return all, ctx.Err()
		}
	}
	return all, nil
}

// fetchOne performs one retried, circuit-broken HTTP GET and parses the
// candle rows into ascending-order bars.
func (c *Client) fetchOne(ctx context.Context, pairAPI, intervalExchange string, afterMs *int64, limit int) ([]model.Bar, error) {
	var body []byte

	op := func() error {
		req, err := c.buildRequest(ctx, pairAPI, intervalExchange, afterMs, limit)
		if err != nil {
			return errs.Permanent("FetchOHLCV:build", err)
		}

		result, err := c.breaker.Execute(func() ([]byte, error) {
			resp, err := c.httpClient.Do(req)
			if err != nil {
				return nil, errs.Transient("FetchOHLCV:do", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return nil, errs.Transient("FetchOHLCV:status", fmt.Errorf("status %d", resp.StatusCode))
			}
			if resp.StatusCode >= 400 {
				return nil, errs.Permanent("FetchOHLCV:status", fmt.Errorf("status %d", resp.StatusCode))
			}

			buf, err := io.ReadAll(resp.Body)
			if err != nil {
				return nil, errs.Transient("FetchOHLCV:read", err)
			}
			return buf, nil
		})
		if err != nil {
			return err
		}
		body = result
		return nil
	}

	if err := c.retryer.Do(ctx, op); err != nil {
		return nil, err
	}

	return parseCandleResponse(body, pairAPI)
}

func (c *Client) buildRequest(ctx context.Context, pairAPI, intervalExchange string, afterMs *int64, limit int) (*http.Request, error) {
	u, err := url.Parse(c.cfg.RESTBaseURL)
	if err != nil {
		return nil, fmt.Errorf("bad rest_base_url: %w", err)
	}
	u.Path = "/api/v5/market/candles"

	q := u.Query()
	q.Set("instId", pairAPI)
	q.Set("bar", intervalExchange)
	q.Set("limit", strconv.Itoa(limit))
	if afterMs != nil {
		q.Set("after", strconv.FormatInt(*afterMs, 10))
	}
	u.RawQuery = q.Encode()

	return http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
}

func parseCandleResponse(body []byte, pairAPI string) ([]model.Bar, error) {
	var resp candleResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errs.Permanent("parseCandleResponse", err)
	}
	if resp.Code != "" && resp.Code != "0" {
		return nil, errs.Permanent("parseCandleResponse", fmt.Errorf("exchange error %s: %s", resp.Code, resp.Msg))
	}

	bars := make([]model.Bar, 0, len(resp.Data))
	for _, row := range resp.Data {
		bar, err := parseRow(row)
		if err != nil {
			continue // malformed row: skip rather than fail the whole page
		}
		bars = append(bars, bar)
	}

	// Exchange candle endpoints return newest-first; the core always
	// wants ascending order.
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars, nil
}

// parseRow parses [ts, open, high, low, close, vol, volCcy, volCcyQuote, confirm].
// A missing quote-volume field is flagged via VolumeQuoteEstimated
// rather than silently substituted.
func parseRow(row []string) (model.Bar, error) {
	if len(row) < 6 {
		return model.Bar{}, fmt.Errorf("short candle row: %v", row)
	}

	ts, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return model.Bar{}, err
	}
	open, err := strconv.ParseFloat(row[1], 64)
	if err != nil {
		return model.Bar{}, err
	}
	high, err := strconv.ParseFloat(row[2], 64)
	if err != nil {
		return model.Bar{}, err
	}
	low, err := strconv.ParseFloat(row[3], 64)
	if err != nil {
		return model.Bar{}, err
	}
	closeP, err := strconv.ParseFloat(row[4], 64)
	if err != nil {
		return model.Bar{}, err
	}
	volume, err := strconv.ParseFloat(row[5], 64)
	if err != nil {
		return model.Bar{}, err
	}

	bar := model.Bar{
		TimestampMs: ts,
		Open:        open,
		High:        high,
		Low:         low,
		Close:       closeP,
		Volume:      volume,
		Confirm:     1,
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
	}

	return bar, nil
}
