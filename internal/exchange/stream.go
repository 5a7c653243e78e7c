package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// pingInterval/pongWait implement the connection watchdog: ping at a
// fixed cadence, reconnect if no pong (or any read) arrives within the
// wait window.
const (
	pingInterval   = 20 * time.Second
	pongWait       = 10 * time.Second
	reconnectDelay = 3 * time.Second
	writeWait      = 5 * time.Second
)

// OnMessage is invoked for each data message routed to a channel:pair
// subscription.
type OnMessage func(pair string, data [][]string)

// StreamMetrics is the slice of the metrics registry the stream
// reports connection health to.
type StreamMetrics interface {
	SetStreamConnected(exchange string, connected bool)
	RecordStreamReconnect(exchange string)
}

// subscription is one entry of the pending-subscription map, keyed by
// "channel:pair".
type subscription struct {
	channel string
	pair    string
	cb      OnMessage
}

// Stream is the streaming half of the exchange client: one persistent
// connection, a subscription table mutated by the caller's goroutine
// or under mu when the reconnect loop re-subscribes, a reconnect loop,
// and a ping watchdog.
type Stream struct {
	wsURL  string
	logger *zap.Logger

	mu   sync.Mutex
	subs map[string]subscription

	conn   *websocket.Conn
	connMu sync.Mutex

	forward  func([]byte)
	metrics  StreamMetrics
	exchange string
	connects int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewStream builds a Stream for the given WebSocket URL. It does not
// connect until Run is called.
func NewStream(wsURL string, logger *zap.Logger) *Stream {
	return &Stream{
		wsURL:  wsURL,
		logger: logger,
		subs:   make(map[string]subscription),
	}
}

// SetForward installs a hook invoked with the raw payload of every
// data message, before per-subscription routing. The ticker fan-out
// uses it to mirror the feed to WebSocket subscribers. Must be set
// before Run.
func (s *Stream) SetForward(fn func([]byte)) { s.forward = fn }

// SetMetrics installs the connection-health metrics sink. Must be set
// before Run.
func (s *Stream) SetMetrics(m StreamMetrics, exchange string) {
	s.metrics = m
	s.exchange = exchange
}

func key(channel, pair string) string { return channel + ":" + pair }

// Subscribe registers a callback for channel:pair and, if currently
// connected, sends the subscribe frame immediately. On a fresh
// connection, Run re-issues every registered subscription.
func (s *Stream) Subscribe(channel, pair string, cb OnMessage) error {
	s.mu.Lock()
	s.subs[key(channel, pair)] = subscription{channel: channel, pair: pair, cb: cb}
	s.mu.Unlock()

	return s.sendSubscribe(subscribeMessage{
		Op:   "subscribe",
		Args: []subscribeArg{{Channel: channel, InstID: pair}},
	})
}

// Unsubscribe removes channel:pair from the table and sends an
// unsubscribe frame if connected. Unsubscribing an unknown pair is a
// no-op, matching the stream collector's idempotency requirement.
func (s *Stream) Unsubscribe(channel, pair string) error {
	s.mu.Lock()
	_, existed := s.subs[key(channel, pair)]
	delete(s.subs, key(channel, pair))
	s.mu.Unlock()

	if !existed {
		return nil
	}
	return s.sendSubscribe(subscribeMessage{
		Op:   "unsubscribe",
		Args: []subscribeArg{{Channel: channel, InstID: pair}},
	})
}

func (s *Stream) sendSubscribe(msg subscribeMessage) error {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		// Not connected yet; Run's (re)connect will re-issue every
		// entry in s.subs, which already reflects this call.
		return nil
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, body)
}

// Run drives the connect/read/reconnect loop until ctx is cancelled.
// It blocks; callers run it in its own goroutine.
func (s *Stream) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.connectAndServe(ctx); err != nil {
			s.logger.Warn("stream connection closed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// Stop cancels the run loop and waits for it to exit.
func (s *Stream) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

func (s *Stream) connectAndServe(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	s.connects++
	if s.metrics != nil {
		s.metrics.SetStreamConnected(s.exchange, true)
		if s.connects > 1 {
			s.metrics.RecordStreamReconnect(s.exchange)
		}
	}

	defer func() {
		s.connMu.Lock()
		s.conn = nil
		s.connMu.Unlock()
		conn.Close()
		if s.metrics != nil {
			s.metrics.SetStreamConnected(s.exchange, false)
		}
	}()

	conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		return nil
	})

	if err := s.resubscribeAll(); err != nil {
		return fmt.Errorf("resubscribe: %w", err)
	}

	stopPing := make(chan struct{})
	defer close(stopPing)
	go s.pingLoop(conn, stopPing)

	// Close the connection when ctx is cancelled so a blocked read
	// returns and Run can exit.
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stopPing:
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		_, body, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		s.dispatch(body)
	}
}

// resubscribeAll re-issues every currently registered subscription in
// one subscribe frame. The table itself is the source of truth; no
// grouping by callback identity is needed.
func (s *Stream) resubscribeAll() error {
	s.mu.Lock()
	args := make([]subscribeArg, 0, len(s.subs))
	for _, sub := range s.subs {
		args = append(args, subscribeArg{Channel: sub.channel, InstID: sub.pair})
	}
	s.mu.Unlock()

	if len(args) == 0 {
		return nil
	}
	return s.sendSubscribe(subscribeMessage{Op: "subscribe", Args: args})
}

func (s *Stream) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch routes one wire message. Subscription-event messages
// (event == "subscribe"/"unsubscribe"/"error") are logged and not
// delivered; data messages are routed to the matching callback by
// channel:pair.
func (s *Stream) dispatch(body []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return
	}

	if env.Event != "" {
		if env.Event == "error" {
			s.logger.Warn("stream subscription error", zap.String("msg", env.Msg), zap.String("code", env.Code))
		} else {
			s.logger.Debug("stream subscription event", zap.String("event", env.Event))
		}
		return
	}
	if env.Arg.Channel == "" || len(env.Data) == 0 {
		return
	}

	if s.forward != nil {
		s.forward(body)
	}

	s.mu.Lock()
	sub, ok := s.subs[key(env.Arg.Channel, env.Arg.InstID)]
	s.mu.Unlock()
	if !ok {
		return
	}
	sub.cb(env.Arg.InstID, env.Data)
}
