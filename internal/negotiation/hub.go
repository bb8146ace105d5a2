package negotiation

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbd888/krishiconnect/internal/logging"
	"github.com/mbd888/krishiconnect/internal/metrics"
)

// normalCloseCodes are WebSocket close codes that indicate an expected disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser clients
		}
		host := r.Host
		return origin == "http://"+host || origin == "https://"+host
	},
}

const (
	// MaxClients is the maximum number of concurrent WebSocket connections.
	MaxClients = 10000

	readLimit    = 16 * 1024
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

// Sender identifies the user behind a connection.
type Sender struct {
	ContractID string
	UserID     string
	Role       string
}

// ChatFunc handles a chat line read from a client.
type ChatFunc func(ctx context.Context, from Sender, req ChatRequest) error

// Client is one WebSocket connection in a contract room.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	sender Sender

	// ctx outlives the upgrade request and ends when the client leaves or
	// the hub stops. Chat writes run under it.
	ctx    context.Context
	cancel context.CancelFunc
}

// Hub manages contract rooms. Events are delivered only to clients in the
// room of the event's contract.
type Hub struct {
	rooms      map[string]map[*Client]bool
	broadcast  chan *Event
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *slog.Logger
	done       chan struct{} // closed when Run exits
	maxClients int
	clients    int
	onChat     ChatFunc

	totalEvents  atomic.Int64
	totalClients atomic.Int64
	peakClients  atomic.Int64
}

// NewHub creates a new room hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		broadcast:  make(chan *Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		done:       make(chan struct{}),
		maxClients: MaxClients,
	}
}

// OnChat installs the handler for chat lines read from clients. Call before Run.
func (h *Hub) OnChat(fn ChatFunc) {
	h.onChat = fn
}

// Run starts the hub's main loop.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("negotiation hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("negotiation hub shutting down, closing client connections")
			h.mu.Lock()
			for id, room := range h.rooms {
				for client := range room {
					close(client.send) // writePump sends CloseMessage on closed channel
				}
				delete(h.rooms, id)
			}
			h.clients = 0
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(0)
			metrics.ActiveNegotiationRooms.Set(0)
			h.logger.Info("negotiation hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			room, ok := h.rooms[client.sender.ContractID]
			if !ok {
				room = make(map[*Client]bool)
				h.rooms[client.sender.ContractID] = room
			}
			room[client] = true
			h.clients++
			h.totalClients.Add(1)
			if current := int64(h.clients); current > h.peakClients.Load() {
				h.peakClients.Store(current)
			}
			n, rooms := h.clients, len(h.rooms)
			h.mu.Unlock()
			h.gauge(n, rooms)
			h.logger.Info("client joined room", "contractId", client.sender.ContractID, "userId", client.sender.UserID, "total", n)

		case client := <-h.unregister:
			h.mu.Lock()
			h.drop(client)
			n, rooms := h.clients, len(h.rooms)
			h.mu.Unlock()
			h.gauge(n, rooms)
			h.logger.Info("client left room", "contractId", client.sender.ContractID, "total", n)

		case event := <-h.broadcast:
			h.totalEvents.Add(1)
			data := serialize(event)
			h.mu.RLock()
			var slow []*Client
			for client := range h.rooms[event.ContractID] {
				select {
				case client.send <- data:
				default:
					slow = append(slow, client)
				}
			}
			h.mu.RUnlock()
			if len(slow) > 0 {
				h.mu.Lock()
				for _, client := range slow {
					h.drop(client)
				}
				n, rooms := h.clients, len(h.rooms)
				h.mu.Unlock()
				h.gauge(n, rooms)
			}
		}
	}
}

// drop removes a client and its room if empty. Caller holds h.mu.
func (h *Hub) drop(client *Client) {
	room, ok := h.rooms[client.sender.ContractID]
	if !ok || !room[client] {
		return
	}
	delete(room, client)
	close(client.send)
	h.clients--
	if len(room) == 0 {
		delete(h.rooms, client.sender.ContractID)
	}
}

func (h *Hub) gauge(clients, rooms int) {
	metrics.ActiveWebSocketClients.Set(float64(clients))
	metrics.ActiveNegotiationRooms.Set(float64(rooms))
}

func serialize(event *Event) []byte {
	data, _ := json.Marshal(event)
	return data
}

// Broadcast queues an event for the clients of its contract room.
func (h *Hub) Broadcast(event *Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("broadcast channel full, dropping event", "contractId", event.ContractID, "type", event.Type)
	}
}

// RoomSize returns the number of clients connected to a contract room.
func (h *Hub) RoomSize(contractID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[contractID])
}

// Stats returns hub statistics
func (h *Hub) Stats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return map[string]interface{}{
		"connectedClients": h.clients,
		"activeRooms":      len(h.rooms),
		"totalEvents":      h.totalEvents.Load(),
		"totalClients":     h.totalClients.Load(),
		"peakClients":      h.peakClients.Load(),
	}
}

// Serve upgrades the request to a WebSocket and joins the sender's room.
// Authorization happens before this call.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, from Sender) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	h.mu.RLock()
	n := h.clients
	h.mu.RUnlock()
	if n >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(logging.WithUserID(context.WithoutCancel(r.Context()), from.UserID))
	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		sender: from,
		ctx:    ctx,
		cancel: cancel,
	}

	select {
	case h.register <- client:
	case <-h.done:
		cancel()
		_ = conn.Close()
		return
	}

	go func() {
		select {
		case <-h.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	go client.writePump()
	go client.readPump()
}

// readPump reads chat lines from the client.
func (c *Client) readPump() {
	defer func() {
		c.cancel()
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Warn("websocket read error",
					"contractId", c.sender.ContractID,
					"userId", c.sender.UserID,
					"request_id", logging.RequestID(c.ctx),
					"error", err)
			}
			break
		}

		var req ChatRequest
		if err := json.Unmarshal(message, &req); err != nil {
			c.reply(&Event{Type: EventError, ContractID: c.sender.ContractID, Message: "invalid message", Timestamp: time.Now().UTC()})
			continue
		}
		if c.hub.onChat == nil {
			continue
		}
		if err := c.hub.onChat(c.ctx, c.sender, req); err != nil {
			c.reply(&Event{Type: EventError, ContractID: c.sender.ContractID, Message: err.Error(), Timestamp: time.Now().UTC()})
		}
	}
}

// reply sends an event to this client only. Dropped if the buffer is full.
func (c *Client) reply(e *Event) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.rooms[c.sender.ContractID][c] {
		return
	}
	select {
	case c.send <- serialize(e):
	default:
	}
}

// writePump writes messages to the WebSocket.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Warn("websocket write error", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}
