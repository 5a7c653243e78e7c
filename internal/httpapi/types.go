package httpapi

import "candlecache/internal/model"

// barJSON is the wire shape for a bar in every response: timestamp in
// ms, OHLCV, and an optional quote volume.
type barJSON struct {
	Timestamp   int64   `json:"timestamp"`
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	Volume      float64 `json:"volume"`
	VolumeQuote float64 `json:"volume_quote,omitempty"`
}

func toBarJSON(b model.Bar) barJSON {
	return barJSON{
		Timestamp:   b.TimestampMs,
		Open:        b.Open,
		High:        b.High,
		Low:         b.Low,
		Close:       b.Close,
		Volume:      b.Volume,
		VolumeQuote: b.VolumeQuote,
	}
}

func toBarsJSON(bars []model.Bar) []barJSON {
	out := make([]barJSON, len(bars))
	for i, b := range bars {
		out[i] = toBarJSON(b)
	}
	return out
}

// historicalRequestEcho mirrors the `request` echo field of
// /candlestick/historical's success response.
type historicalRequestEcho struct {
	Interval string `json:"interval"`
	CoinPair string `json:"coinpair"`
	Limit    int    `json:"limit,omitempty"`
	Since    int64  `json:"since,omitempty"`
}
