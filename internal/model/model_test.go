package model

import "testing"

func TestParsePair(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    Pair
		wantErr bool
	}{
		{"BTC-USDT", "BTC-USDT", false},
		{"BTC/USDT", "BTC-USDT", false},
		{"btc/usdt", "BTC-USDT", false},
		{" eth-usdt ", "ETH-USDT", false},
		{"BTCUSDT", "", true},
		{"BTC-", "", true},
		{"-USDT", "", true},
		{"", "", true},
	}

	for _, tc := range cases {
		got, err := ParsePair(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParsePair(%q): expected error, got %q", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParsePair(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParsePair(%q)=%q want %q", tc.in, got, tc.want)
		}
	}
}

func TestPairAPIForm(t *testing.T) {
	t.Parallel()

	if got := Pair("BTC-USDT").APIForm(); got != "BTC/USDT" {
		t.Fatalf("APIForm()=%q want BTC/USDT", got)
	}
}

func TestParseInterval(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"1m", 1, false},
		{"5m", 5, false},
		{"15min", 15, false},
		{"1h", 60, false},
		{"4hour", 240, false},
		{"1d", 1440, false},
		{"2day", 2880, false},
		{"1w", 10080, false},
		{"1week", 10080, false},
		{"1M", 1, false}, // lowercased before parsing
		{"", 0, true},
		{"xyz", 0, true},
		{"0m", 0, true},
		{"-5m", 0, true},
		{"m", 0, true},
	}

	for _, tc := range cases {
		got, err := ParseInterval(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseInterval(%q): expected error, got %d", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseInterval(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseInterval(%q)=%d want %d", tc.in, got, tc.want)
		}
	}
}

func TestWindowMs(t *testing.T) {
	t.Parallel()

	got, err := WindowMs("5m")
	if err != nil {
		t.Fatal(err)
	}
	if got != 5*60_000 {
		t.Fatalf("WindowMs(5m)=%d want %d", got, 5*60_000)
	}
}

func TestBarIsValid(t *testing.T) {
	t.Parallel()

	valid := Bar{TimestampMs: 120_000, Open: 10, High: 12, Low: 9, Close: 11, Volume: 1, VolumeQuote: 10}
	if !valid.IsValid() {
		t.Fatal("expected valid bar")
	}

	cases := []struct {
		name string
		bar  Bar
	}{
		{"unaligned timestamp", Bar{TimestampMs: 120_001, Open: 10, High: 12, Low: 9, Close: 11}},
		{"high below open", Bar{TimestampMs: 0, Open: 13, High: 12, Low: 9, Close: 11}},
		{"low above close", Bar{TimestampMs: 0, Open: 10, High: 12, Low: 10.5, Close: 10.2}},
		{"negative volume", Bar{TimestampMs: 0, Open: 10, High: 12, Low: 9, Close: 11, Volume: -1}},
		{"negative quote volume", Bar{TimestampMs: 0, Open: 10, High: 12, Low: 9, Close: 11, VolumeQuote: -1}},
	}
	for _, tc := range cases {
		if tc.bar.IsValid() {
			t.Fatalf("%s: expected invalid", tc.name)
		}
	}
}
