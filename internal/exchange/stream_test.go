package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func wsAddr(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// TestRunResubscribesOnReconnect drives a real WebSocket server that
// drops the first connection right after the initial subscribe, then
// asserts the client re-issues the full subscription set on the second
// connection before any data flows.
func TestRunResubscribesOnReconnect(t *testing.T) {
	frames := make(chan subscribeMessage, 16)
	var connCount int32

	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := atomic.AddInt32(&connCount, 1)
		defer conn.Close()
		for {
			_, body, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg subscribeMessage
			if json.Unmarshal(body, &msg) == nil && msg.Op == "subscribe" {
				frames <- msg
				if n == 1 {
					return // drop the first connection to force a reconnect
				}
			}
		}
	}))
	defer srv.Close()

	s := NewStream(wsAddr(srv), zap.NewNop())
	noop := func(string, [][]string) {}
	if err := s.Subscribe("candle1m", "BTC/USDT", noop); err != nil {
		t.Fatal(err)
	}
	if err := s.Subscribe("candle1m", "ETH/USDT", noop); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	defer func() {
		cancel()
		// The upgraded connections are hijacked, so CloseClientConnections
		// does not reach them; the cancel above is what makes Run close
		// its own connection and return.
		srv.CloseClientConnections()
		s.Stop()
	}()

	// Both the initial connection and the reconnection must carry the
	// full set of channel:pair subscriptions.
	for i := 0; i < 2; i++ {
		select {
		case msg := <-frames:
			pairs := make([]string, 0, len(msg.Args))
			for _, a := range msg.Args {
				if a.Channel != "candle1m" {
					t.Fatalf("connection %d: unexpected channel %q", i+1, a.Channel)
				}
				pairs = append(pairs, a.InstID)
			}
			sort.Strings(pairs)
			if len(pairs) != 2 || pairs[0] != "BTC/USDT" || pairs[1] != "ETH/USDT" {
				t.Fatalf("connection %d: subscribed pairs %v", i+1, pairs)
			}
		case <-time.After(15 * time.Second):
			t.Fatalf("timed out waiting for subscribe frame %d", i+1)
		}
	}
}

func TestDispatchRoutesByChannelPair(t *testing.T) {
	t.Parallel()

	s := NewStream("ws://unused", zap.NewNop())

	var gotPair string
	var gotRows [][]string
	err := s.Subscribe("candle1m", "BTC/USDT", func(pair string, data [][]string) {
		gotPair = pair
		gotRows = data
	})
	if err != nil {
		t.Fatal(err)
	}

	s.dispatch([]byte(`{"arg":{"channel":"candle1m","instId":"BTC/USDT"},"data":[["60000","1","2","0.5","1.5","10","0","15","1"]]}`))

	if gotPair != "BTC/USDT" || len(gotRows) != 1 {
		t.Fatalf("dispatch: pair=%q rows=%d", gotPair, len(gotRows))
	}

	// Data for an unknown channel:pair is dropped, not misrouted.
	gotPair = ""
	s.dispatch([]byte(`{"arg":{"channel":"candle1m","instId":"ETH/USDT"},"data":[["60000","1","2","0.5","1.5","10"]]}`))
	if gotPair != "" {
		t.Fatal("unknown subscription must not be delivered")
	}
}

func TestDispatchIgnoresSubscriptionEvents(t *testing.T) {
	t.Parallel()

	s := NewStream("ws://unused", zap.NewNop())
	delivered := false
	if err := s.Subscribe("candle1m", "BTC/USDT", func(string, [][]string) { delivered = true }); err != nil {
		t.Fatal(err)
	}

	s.dispatch([]byte(`{"event":"subscribe","arg":{"channel":"candle1m","instId":"BTC/USDT"}}`))
	s.dispatch([]byte(`{"event":"error","code":"60012","msg":"invalid request"}`))
	s.dispatch([]byte(`not json`))

	if delivered {
		t.Fatal("control messages must not reach data callbacks")
	}
}

func TestDispatchForwardsRawDataMessages(t *testing.T) {
	t.Parallel()

	s := NewStream("ws://unused", zap.NewNop())
	var forwarded [][]byte
	s.SetForward(func(body []byte) { forwarded = append(forwarded, body) })

	// Forwarding happens for data messages even without a matching
	// subscription; control events are not forwarded.
	s.dispatch([]byte(`{"arg":{"channel":"tickers","instId":"BTC/USDT"},"data":[["1"]]}`))
	s.dispatch([]byte(`{"event":"subscribe","arg":{"channel":"tickers","instId":"BTC/USDT"}}`))

	if len(forwarded) != 1 {
		t.Fatalf("forwarded %d messages, want 1", len(forwarded))
	}
}

func TestUnsubscribeUnknownIsNoOp(t *testing.T) {
	t.Parallel()

	s := NewStream("ws://unused", zap.NewNop())
	if err := s.Unsubscribe("candle1m", "BTC/USDT"); err != nil {
		t.Fatal(err)
	}
}
