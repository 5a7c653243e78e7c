package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"candlecache/pkg/broadcaster"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Ticker is the live ticker fan-out: it emits one {event:"connected"}
// message on accept, then forwards whatever the exchange-facing feed
// publishes to every subscriber.
type Ticker struct {
	broadcaster *broadcaster.Broadcaster
	logger      *zap.Logger
}

func NewTicker(logger *zap.Logger) *Ticker {
	return &Ticker{
		broadcaster: broadcaster.New(logger),
		logger:      logger,
	}
}

// Forward publishes an exchange-forwarded message to every connected
// subscriber. The streaming connection calls this for each data
// message it receives.
func (t *Ticker) Forward(data []byte) {
	t.broadcaster.Publish(data)
}

// Subscribers reports how many clients are currently connected.
func (t *Ticker) Subscribers() int {
	return t.broadcaster.ClientCount()
}

// HandleWS upgrades the connection and registers it with the
// broadcaster until the client disconnects.
func (t *Ticker) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	connected, _ := json.Marshal(map[string]any{
		"event": "connected",
		"ts":    time.Now().UnixMilli(),
	})
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, connected); err != nil {
		conn.Close()
		return
	}

	t.broadcaster.Register(conn)

	// Drain and discard client frames (the channel is server push
	// only); exit on close or error, which unregisters the client.
	go func() {
		defer t.broadcaster.Unregister(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
