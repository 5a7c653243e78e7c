package httpapi

import (
	"net/http"

	"candlecache/internal/errs"
	"candlecache/internal/model"
)

// handleCandlestickHistorical serves GET /candlestick/historical:
// interval, coinpair (BASE/QUOTE), limit?∈[1,1000], since? (ms).
func (s *Server) handleCandlestickHistorical(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	interval, ierr := validateInterval(q.Get("interval"))
	if ierr != nil {
		writeAPIError(w, ierr)
		return
	}

	rawPair := q.Get("coinpair")
	pair, err := model.ParsePair(rawPair)
	if err != nil {
		writeAPIError(w, badRequest(err.Error()))
		return
	}

	limit, lerr := validateLimit(q.Get("limit"), 0)
	if lerr != nil {
		writeAPIError(w, lerr)
		return
	}

	var sinceMs *int64
	if raw := q.Get("since"); raw != "" {
		v, err := parseInt64(raw)
		if err != nil || v < 0 {
			writeAPIError(w, badRequest("since must be a non-negative integer"))
			return
		}
		sinceMs = &v
	}

	bars, err := s.historical.Query(r.Context(), pair, interval, limit, sinceMs)
	if err != nil {
		s.writeCoreError(w, err)
		return
	}

	echo := historicalRequestEcho{Interval: interval, CoinPair: rawPair, Limit: limit}
	if sinceMs != nil {
		echo.Since = *sinceMs
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    toBarsJSON(bars),
		"count":   len(bars),
		"request": echo,
		"source":  "database",
	})
}

// handleDataCandles serves GET /data/candles: coin_pair (BASE-QUOTE),
// interval, limit?, start_time?, end_time?.
func (s *Server) handleDataCandles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	interval, ierr := validateInterval(q.Get("interval"))
	if ierr != nil {
		writeAPIError(w, ierr)
		return
	}

	pair, err := model.ParsePair(q.Get("coin_pair"))
	if err != nil {
		writeAPIError(w, badRequest(err.Error()))
		return
	}

	limit, lerr := validateLimit(q.Get("limit"), 0)
	if lerr != nil {
		writeAPIError(w, lerr)
		return
	}

	var sinceMs *int64
	if raw := q.Get("start_time"); raw != "" {
		v, err := parseInt64(raw)
		if err != nil || v < 0 {
			writeAPIError(w, badRequest("start_time must be a non-negative integer"))
			return
		}
		sinceMs = &v
	}
	// end_time narrows the window after the core call: the historical
	// service's own window planning always extends to "now", so an
	// explicit end_time here is applied as a post-filter on the result.
	var endMs *int64
	if raw := q.Get("end_time"); raw != "" {
		v, err := parseInt64(raw)
		if err != nil || v < 0 {
			writeAPIError(w, badRequest("end_time must be a non-negative integer"))
			return
		}
		endMs = &v
	}

	bars, err := s.historical.Query(r.Context(), pair, interval, limit, sinceMs)
	if err != nil {
		s.writeCoreError(w, err)
		return
	}
	if endMs != nil {
		bars = filterUpTo(bars, *endMs)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"code":    0,
		"message": "success",
		"data": map[string]any{
			"coin_pair": pair.String(),
			"interval":  interval,
			"count":     len(bars),
			"candles":   toBarsJSON(bars),
		},
	})
}

func filterUpTo(bars []model.Bar, endMs int64) []model.Bar {
	out := bars[:0:0]
	for _, b := range bars {
		if b.TimestampMs <= endMs {
			out = append(out, b)
		}
	}
	return out
}

// handleDataStats serves GET /data/stats: coin_pair.
func (s *Server) handleDataStats(w http.ResponseWriter, r *http.Request) {
	pair, err := model.ParsePair(r.URL.Query().Get("coin_pair"))
	if err != nil {
		writeAPIError(w, badRequest(err.Error()))
		return
	}

	stats, err := s.store.Stats(r.Context(), pair)
	if err != nil {
		s.writeCoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"code": 0,
		"data": map[string]any{
			"coin_pair":      pair.String(),
			"total_count":    stats.Count,
			"min_timestamp":  stats.MinTsMs,
			"max_timestamp":  stats.MaxTsMs,
			"has_data":       stats.HasBars,
		},
	})
}

// handleListWatchPairs serves GET /data/watch-pairs.
func (s *Server) handleListWatchPairs(w http.ResponseWriter, r *http.Request) {
	pairs, err := s.store.List(r.Context(), false)
	if err != nil {
		s.writeCoreError(w, err)
		return
	}

	out := make([]map[string]any, 0, len(pairs))
	for _, wp := range pairs {
		stats, err := s.store.Stats(r.Context(), wp.Pair)
		if err != nil {
			s.writeCoreError(w, err)
			return
		}
		entry := map[string]any{
			"coin_pair":  wp.Pair.String(),
			"enabled":    wp.Enabled,
			"data_count": stats.Count,
			"first_data": stats.MinTsMs,
			"last_data":  stats.MaxTsMs,
		}
		if stats.HasBars {
			entry["first_data_formatted"] = formatTimestamp(stats.MinTsMs)
			entry["last_data_formatted"] = formatTimestamp(stats.MaxTsMs)
		}
		out = append(out, entry)
	}

	writeJSON(w, http.StatusOK, map[string]any{"code": 0, "pairs": out})
}

// handleAddWatchPair serves POST /data/watch-pairs: coin_pair, enabled?.
func (s *Server) handleAddWatchPair(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CoinPair string `json:"coin_pair"`
		Enabled  *bool  `json:"enabled"`
	}
	if err := decodeJSONOrForm(r, &body); err != nil {
		writeAPIError(w, badRequest(err.Error()))
		return
	}

	pair, err := model.ParsePair(body.CoinPair)
	if err != nil {
		writeAPIError(w, badRequest(err.Error()))
		return
	}
	enabled := true
	if body.Enabled != nil {
		enabled = *body.Enabled
	}

	if err := s.collector.Add(r.Context(), pair); err != nil {
		s.writeCoreError(w, err)
		return
	}
	if !enabled {
		if err := s.store.SetEnabled(r.Context(), pair, false); err != nil {
			s.writeCoreError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"code": 0,
		"data": map[string]any{"coin_pair": pair.String(), "enabled": enabled},
	})
}

// handleRemoveWatchPair serves DELETE /data/watch-pairs: coin_pair.
func (s *Server) handleRemoveWatchPair(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("coin_pair")
	if raw == "" {
		var body struct {
			CoinPair string `json:"coin_pair"`
		}
		_ = decodeJSONOrForm(r, &body)
		raw = body.CoinPair
	}

	pair, err := model.ParsePair(raw)
	if err != nil {
		writeAPIError(w, badRequest(err.Error()))
		return
	}

	if err := s.collector.Remove(r.Context(), pair); err != nil {
		s.writeCoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"code": 0,
		"data": map[string]any{"coin_pair": pair.String()},
	})
}

// handleToggleWatchPair serves PUT /data/watch-pairs/toggle: coin_pair,
// enabled.
func (s *Server) handleToggleWatchPair(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CoinPair string `json:"coin_pair"`
		Enabled  bool   `json:"enabled"`
	}
	if err := decodeJSONOrForm(r, &body); err != nil {
		writeAPIError(w, badRequest(err.Error()))
		return
	}

	pair, err := model.ParsePair(body.CoinPair)
	if err != nil {
		writeAPIError(w, badRequest(err.Error()))
		return
	}

	if err := s.store.SetEnabled(r.Context(), pair, body.Enabled); err != nil {
		s.writeCoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"code": 0,
		"data": map[string]any{"coin_pair": pair.String(), "enabled": body.Enabled},
	})
}

// writeCoreError surfaces a core-layer error as 500-class unless it
// was itself tagged as a validation error.
func (s *Server) writeCoreError(w http.ResponseWriter, err error) {
	if errs.KindOf(err) == errs.KindValidation {
		writeAPIError(w, badRequest(err.Error()))
		return
	}
	s.logger.Error("core error", zapErr(err))
	writeAPIError(w, serverError("internal error"))
}
