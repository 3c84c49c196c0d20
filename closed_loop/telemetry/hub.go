package telemetry

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"diffdrive-core/closed_loop/calval"
	control "diffdrive-core/closed_loop/drive_control"
	"diffdrive-core/closed_loop/hal"
	"diffdrive-core/utils"
)

const (
	writeWait   = time.Second
	clientQueue = 32
)

// Message is the envelope of everything the hub sends.
type Message struct {
	Type string `json:"type"` // odom, status, event
	Data any    `json:"data"`
}

// Action is a request sent by a browser, e.g. {"action":"abort"}.
type Action struct {
	Action string `json:"action"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub streams telemetry to websocket clients. Slow clients drop messages
// rather than stall the control loop.
type Hub struct {
	log      *utils.Logger
	clock    hal.Clock
	upgrader websocket.Upgrader

	mu       sync.Mutex
	clients  map[*wsClient]struct{}
	onAction func(Action)
	odom     throttle
	status   throttle
}

func NewHub(clock hal.Clock, log *utils.Logger, periodMs uint32) *Hub {
	return &Hub{
		log:   log,
		clock: clock,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: map[*wsClient]struct{}{},
		odom:    throttle{periodMs: periodMs},
		status:  throttle{periodMs: periodMs},
	}
}

// OnAction registers the handler for client requests. It runs on the
// client's reader goroutine.
func (h *Hub) OnAction(fn func(Action)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onAction = fn
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade: %v", err)
		return
	}
	c := &wsClient{conn: conn, send: make(chan []byte, clientQueue)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.log.Info("websocket client %s connected", r.RemoteAddr)

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) readLoop(c *wsClient) {
	defer h.remove(c)
	for {
		var a Action
		if err := c.conn.ReadJSON(&a); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn("websocket read: %v", err)
			}
			return
		}
		h.mu.Lock()
		fn := h.onAction
		h.mu.Unlock()
		if fn != nil {
			fn(a)
		}
	}
}

func (h *Hub) writeLoop(c *wsClient) {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.log.Warn("websocket write: %v", err)
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast queues a message for every client.
func (h *Hub) Broadcast(typ string, v any) {
	b, err := json.Marshal(Message{Type: typ, Data: v})
	if err != nil {
		h.log.Error("websocket marshal %s: %v", typ, err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			h.log.Debug("websocket client queue full, dropping %s", typ)
		}
	}
}

func (h *Hub) PublishOdometry(s control.OdomState) {
	h.mu.Lock()
	ok := h.odom.ready(h.clock.Millis())
	h.mu.Unlock()
	if ok {
		h.Broadcast("odom", s)
	}
}

func (h *Hub) PublishStatus(s control.Status) {
	h.mu.Lock()
	ok := h.status.ready(h.clock.Millis())
	h.mu.Unlock()
	if ok {
		h.Broadcast("status", s)
	}
}

func (h *Hub) Observe(e calval.Event) { h.Broadcast("event", e) }

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
