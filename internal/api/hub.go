package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/processor"
)

const (
	// clientBuffer is how many UI messages a browser may fall behind before
	// messages are dropped for it.
	clientBuffer = 32
	writeTimeout = 5 * time.Second
	// Commands are small; frames only flow server to client.
	readLimit = 64 * 1024
)

// Hub fans UI messages out to every connected websocket client and feeds
// client messages back to the processor as commands.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool

	// OnConnect runs after a client joins, typically to replay the UI
	// state. OnMessage handles each decoded client message.
	OnConnect func(ctx context.Context)
	OnMessage func(ctx context.Context, m processor.Message) error

	// OriginPatterns is passed to websocket.Accept. Empty allows same-origin
	// only.
	OriginPatterns []string
}

type client struct {
	send chan []byte
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// Broadcast queues m for every client. It never blocks: a client whose
// buffer is full misses the message.
func (h *Hub) Broadcast(m processor.Message) {
	b, err := json.Marshal(m)
	if err != nil {
		log.Printf("[ws] failed to encode UI message: %v", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// ServeHTTP upgrades the request and runs the client until either side
// goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.OriginPatterns})
	if err != nil {
		log.Printf("[ws] accept failed: %v", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(readLimit)

	c := &client{send: make(chan []byte, clientBuffer)}
	if !h.add(c) {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer h.remove(c)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go h.readLoop(ctx, cancel, conn)

	if h.OnConnect != nil {
		go h.OnConnect(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-c.send:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, b)
			wcancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *Hub) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	defer cancel()
	for {
		_, b, err := conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway &&
				!errors.Is(err, context.Canceled) {
				log.Printf("[ws] read failed: %v", err)
			}
			return
		}
		var m processor.Message
		if err := json.Unmarshal(b, &m); err != nil {
			log.Printf("[ws] ignoring malformed message %q: %v", b, err)
			continue
		}
		if h.OnMessage == nil {
			continue
		}
		if err := h.OnMessage(ctx, m); err != nil {
			log.Printf("[ws] command %v failed: %v", m, err)
		}
	}
}
