package game

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/sirupsen/logrus"
)

const (
	clientSendBuffer = 64
	writeDeadline    = 10 * time.Second
)

// Conn is the transport the hub writes to. *websocket.Conn satisfies it;
// tests substitute fakes.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is one connected subscriber and its table interest set. Each
// client drains its own send channel through a single writer goroutine,
// which keeps per-table event order intact for that subscriber. A full
// buffer drops the frame: delivery is best-effort and clients reconcile
// by polling table state after a gap.
type Client struct {
	conn   Conn
	wallet string
	send   chan []byte

	mu   sync.Mutex
	subs map[string]struct{}
}

func (c *Client) writePump() {
	for data := range c.send {
		if d, ok := c.conn.(interface{ SetWriteDeadline(time.Time) error }); ok {
			d.SetWriteDeadline(time.Now().Add(writeDeadline))
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			logrus.Warnf("[WS] Write error for %s: %v", c.wallet, err)
			return
		}
	}
}

func (c *Client) subscribed(tableID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[tableID]
	return ok
}

// Hub fans domain events out to subscribed connections. It owns the full
// client registry; there is no ambient global state. The server creates
// one hub at start and hands it to whoever publishes.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	broadcast  chan frame
	register   chan *Client
	unregister chan *Client
}

type frame struct {
	tableID string
	global  bool
	data    []byte
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan frame, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run dispatches frames in publish order. Single dispatch goroutine plus
// per-client writer preserves per-table ordering for each subscriber.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			go client.writePump()
			logrus.Infof("[WS] Client connected: %s (Total: %d)", client.wallet, total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				client.conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			logrus.Infof("[WS] Client disconnected: %s (Total: %d)", client.wallet, total)

		case f := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				if !f.global && !client.subscribed(f.tableID) {
					continue
				}
				select {
				case client.send <- f.data:
				default:
					// Backpressured subscriber; drop rather than block.
					logrus.Warnf("[WS] Send buffer full for %s, dropping frame", client.wallet)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// PublishToTable delivers the event to every connected subscriber of the
// table, in publish order. Send failures are per-subscriber and never
// fail the publishing transition.
func (h *Hub) PublishToTable(tableID string, ev Event) {
	data, err := encodeEvent(tableID, ev)
	if err != nil {
		logrus.Errorf("[WS] Marshal error: %v", err)
		return
	}
	h.enqueue(frame{tableID: tableID, data: data})
}

// PublishGlobal delivers to every connected client regardless of
// subscriptions. Used for events whose target table a client cannot have
// subscribed to yet, like table_created.
func (h *Hub) PublishGlobal(ev Event) {
	data, err := encodeEvent(ev.meta().TableID, ev)
	if err != nil {
		logrus.Errorf("[WS] Marshal error: %v", err)
		return
	}
	h.enqueue(frame{global: true, data: data})
}

func (h *Hub) enqueue(f frame) {
	select {
	case h.broadcast <- f:
	default:
		logrus.Warn("[WS] Broadcast channel full, dropping message")
	}
}

func encodeEvent(tableID string, ev Event) ([]byte, error) {
	m := ev.meta()
	m.Event = ev.EventName()
	if m.TableID == "" {
		m.TableID = tableID
	}
	m.Timestamp = time.Now().UnixMilli()
	return json.Marshal(ev)
}

// Subscribe adds the table to the connection's interest set. Idempotent.
func (h *Hub) Subscribe(c *Client, tableID string) {
	c.mu.Lock()
	c.subs[tableID] = struct{}{}
	c.mu.Unlock()
}

// Unsubscribe removes the table from the connection's interest set.
// Idempotent; unknown tables are a no-op.
func (h *Hub) Unsubscribe(c *Client, tableID string) {
	c.mu.Lock()
	delete(c.subs, tableID)
	c.mu.Unlock()
}

// RegisterConn wraps a connection into a Client and registers it.
func (h *Hub) RegisterConn(conn Conn, wallet string) *Client {
	client := &Client{
		conn:   conn,
		wallet: wallet,
		send:   make(chan []byte, clientSendBuffer),
		subs:   make(map[string]struct{}),
	}
	h.register <- client
	return client
}

// UnregisterClient drops the client and its entire interest set.
func (h *Hub) UnregisterClient(c *Client) {
	h.unregister <- c
}

// SendTo writes one event directly to a single client, bypassing the
// subscription filter (subscribe acks, error frames).
func (h *Hub) SendTo(c *Client, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logrus.Errorf("[WS] Send marshal error: %v", err)
		return
	}
	select {
	case c.send <- data:
	default:
		logrus.Warnf("[WS] Send buffer full for %s, dropping frame", c.wallet)
	}
}

// ClientCount reports connected clients, for the health endpoint.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
