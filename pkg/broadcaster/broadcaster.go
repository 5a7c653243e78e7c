// Package broadcaster fans exchange-forwarded ticker messages out to
// every connected WebSocket subscriber. Each client gets a buffered
// send queue; a client that cannot keep up is dropped rather than
// allowed to stall the hub.
package broadcaster

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	clientQueueSize = 256
	writeTimeout    = 5 * time.Second
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Broadcaster is the fan-out hub. Publish never blocks: messages to a
// full client queue are discarded and the client is closed.
type Broadcaster struct {
	logger *zap.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]*client
}

func New(logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		logger:  logger.Named("broadcaster"),
		clients: make(map[*websocket.Conn]*client),
	}
}

// Register starts a writer goroutine for conn and includes it in
// subsequent Publish calls.
func (b *Broadcaster) Register(conn *websocket.Conn) {
	c := &client{conn: conn, send: make(chan []byte, clientQueueSize)}

	b.mu.Lock()
	b.clients[conn] = c
	n := len(b.clients)
	b.mu.Unlock()

	b.logger.Info("ticker client connected",
		zap.String("remote", conn.RemoteAddr().String()), zap.Int("clients", n))

	go b.writeLoop(c)
}

// Unregister removes conn and closes it. Unregistering an unknown
// connection is a no-op.
func (b *Broadcaster) Unregister(conn *websocket.Conn) {
	b.mu.Lock()
	c, ok := b.clients[conn]
	if ok {
		delete(b.clients, conn)
	}
	n := len(b.clients)
	b.mu.Unlock()

	if !ok {
		return
	}
	close(c.send)
	b.logger.Info("ticker client disconnected",
		zap.String("remote", conn.RemoteAddr().String()), zap.Int("clients", n))
}

// Publish enqueues message for every connected client. Clients whose
// queue is full are dropped.
func (b *Broadcaster) Publish(message []byte) {
	b.mu.Lock()
	var slow []*websocket.Conn
	for conn, c := range b.clients {
		select {
		case c.send <- message:
		default:
			slow = append(slow, conn)
		}
	}
	b.mu.Unlock()

	for _, conn := range slow {
		b.logger.Warn("dropping slow ticker client",
			zap.String("remote", conn.RemoteAddr().String()))
		b.Unregister(conn)
	}
}

// ClientCount reports the number of connected subscribers.
func (b *Broadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

func (b *Broadcaster) writeLoop(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			b.Unregister(c.conn)
			// Drain whatever Publish already queued so it can close
			// the channel without blocking.
			for range c.send {
			}
			return
		}
	}
}
