// Package ws streams committed ledger events to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/marginpool/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256

	// replayBatch is how many stream entries one catch-up read fetches.
	replayBatch = 200
)

// allEvents subscribes a client to every event name.
const allEvents = "*"

// upgrader configures the WebSocket upgrade parameters.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origins are enforced by the CORS and auth middleware in front.
		return true
	},
}

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool // subscribed event names or name prefixes
	mu   sync.RWMutex
}

// subscribeMsg is the JSON message a client sends to change the event
// names it receives, e.g. {"action":"subscribe","events":["position_*"]}.
type subscribeMsg struct {
	Action string   `json:"action"` // "subscribe" or "unsubscribe"
	Events []string `json:"events"`
}

// envelope is every frame the hub writes.
type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Hub manages a set of connected WebSocket clients and fans committed
// events out to the clients subscribed to them. Events arrive either
// in-process (the hub is an event sink) or from the Redis event channel.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	done       chan struct{}
	sequence   func() uint64
	backlog    domain.SignalBus
	stream     string
	mu         sync.RWMutex
	logger     *slog.Logger
	mode       string
	startedAt  time.Time
}

// broadcastMsg carries a frame along with its event name so the hub can
// route it only to clients subscribed to that name.
type broadcastMsg struct {
	name string
	data []byte
}

// Config captures runtime metadata used in the status frame sent to
// WebSocket clients on connect.
type Config struct {
	Mode      string
	StartedAt time.Time
	// Sequence reports the last committed event number.
	Sequence func() uint64
	// Backlog and Stream locate the retained event stream that ?since=
	// replays from. Without them resuming clients only get live events.
	Backlog domain.SignalBus
	Stream  string
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *slog.Logger, cfg Config) *Hub {
	mode := strings.TrimSpace(strings.ToLower(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		sequence:   cfg.Sequence,
		backlog:    cfg.Backlog,
		stream:     cfg.Stream,
		logger:     logger.With(slog.String("component", "ws")),
		mode:       mode,
		startedAt:  startedAt,
	}
}

// Name implements domain.EventSink.
func (h *Hub) Name() string { return "ws" }

// HandleEvents implements domain.EventSink. It never blocks the ledger: when
// the broadcast queue is full the batch is dropped for every client.
func (h *Hub) HandleEvents(_ context.Context, records []domain.EventRecord) error {
	for _, rec := range records {
		h.enqueue(rec)
	}
	return nil
}

func (h *Hub) enqueue(rec domain.EventRecord) {
	data, err := json.Marshal(envelope{Type: "event", Payload: rec})
	if err != nil {
		h.logger.Error("ws: marshal event", slog.String("error", err.Error()))
		return
	}
	select {
	case h.broadcast <- broadcastMsg{name: rec.Name, data: data}:
	default:
		h.logger.Warn("ws: broadcast queue full, dropping event",
			slog.Uint64("seq", rec.Seq),
			slog.String("event", rec.Name),
		)
	}
}

// Follow subscribes to the event channel of the signal bus and forwards
// every record to the hub's clients until ctx is cancelled. Replicas that
// do not own the ledger use it to serve the stream.
func (h *Hub) Follow(ctx context.Context, bus domain.SignalBus, channel string) error {
	msgCh, err := bus.Subscribe(ctx, channel)
	if err != nil {
		return err
	}
	h.logger.Info("ws: following event channel", slog.String("channel", channel))

	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: event channel closed", slog.String("channel", channel))
				return nil
			}
			var rec domain.EventRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				h.logger.Warn("ws: undecodable event",
					slog.String("channel", channel),
					slog.String("error", err.Error()),
				)
				continue
			}
			h.enqueue(rec)
		}
	}
}

// Run starts the hub's main event loop. It should be called in a goroutine.
// It handles client registration, unregistration, and message broadcasting.
// The loop exits when the provided context is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("ws: client connected",
				slog.Int("total_clients", h.clientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected",
				slog.Int("total_clients", h.clientCount()),
			)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if c.isSubscribed(msg.name) {
					select {
					case c.send <- msg.data:
					default:
						// Client's send buffer is full; drop the message.
						h.logger.Warn("ws: dropping message for slow client")
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub. ?events=a,b narrows the initial subscription and
// ?since=N replays retained events after sequence N before live ones.
// Frames around the resume point may repeat; seq is authoritative.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	var since uint64
	resume := false
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid since", http.StatusBadRequest)
			return
		}
		since, resume = n, true
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool),
	}
	if names := r.URL.Query().Get("events"); names != "" {
		for _, n := range strings.Split(names, ",") {
			if n = strings.TrimSpace(n); n != "" {
				c.subs[n] = true
			}
		}
	} else {
		c.subs[allEvents] = true
	}

	// Live events queue in c.send while the greeting is written directly.
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	if err := c.greet(r.Context(), since, resume); err != nil {
		h.logger.Warn("ws: greeting failed", slog.String("error", err.Error()))
	}

	go c.writePump()
	go c.readPump()
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads messages from the WebSocket connection. It handles
// subscription management requests (JSON text frames) from the client.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var sub subscribeMsg
		if jsonErr := json.Unmarshal(message, &sub); jsonErr == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

// handleSubscription processes subscribe/unsubscribe requests from the client.
func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, name := range msg.Events {
			c.subs[name] = true
		}
	case "unsubscribe":
		for _, name := range msg.Events {
			delete(c.subs, name)
		}
	}
}

// greet writes the status frame, then the replay when the client resumes.
// It runs before the write pump starts, so it owns the connection.
func (c *client) greet(ctx context.Context, since uint64, resume bool) error {
	uptime := int64(time.Since(c.hub.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}
	var seq uint64
	if c.hub.sequence != nil {
		seq = c.hub.sequence()
	}
	status, err := json.Marshal(envelope{
		Type: "status",
		Payload: map[string]any{
			"mode":           c.hub.mode,
			"uptime_seconds": uptime,
			"sequence":       seq,
		},
	})
	if err != nil {
		return err
	}
	if err := c.write(status); err != nil {
		return err
	}
	if !resume || c.hub.backlog == nil {
		return nil
	}
	return c.replay(ctx, since)
}

// replay writes retained events with seq above since, oldest first.
func (c *client) replay(ctx context.Context, since uint64) error {
	lastID := "0"
	sent := 0
	for {
		msgs, err := c.hub.backlog.StreamRead(ctx, c.hub.stream, lastID, replayBatch)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			var rec domain.EventRecord
			if err := json.Unmarshal(m.Payload, &rec); err != nil {
				continue
			}
			if rec.Seq <= since || !c.isSubscribed(rec.Name) {
				continue
			}
			data, err := json.Marshal(envelope{Type: "event", Payload: rec})
			if err != nil {
				continue
			}
			if err := c.write(data); err != nil {
				return err
			}
			sent++
		}
		if len(msgs) < replayBatch {
			c.hub.logger.Debug("ws: replayed events",
				slog.Uint64("since", since),
				slog.Int("count", sent),
			)
			return nil
		}
		lastID = msgs[len(msgs)-1].ID
	}
}

func (c *client) write(data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// isSubscribed checks whether the client is subscribed to the given event.
func (c *client) isSubscribed(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.subs[name] {
		return true
	}

	// Wildcard match: "position_*" matches "position_closed"; "*" matches all.
	for sub := range c.subs {
		if strings.HasSuffix(sub, "*") && strings.HasPrefix(name, strings.TrimSuffix(sub, "*")) {
			return true
		}
	}

	return false
}

// writePump pumps messages from the hub to the WebSocket connection as
// text frames, with periodic ping frames for keepalive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
