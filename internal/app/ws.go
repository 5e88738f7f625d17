package app

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ShapeBot/internal/core"
	"ShapeBot/internal/link"
	"ShapeBot/internal/model"
	"ShapeBot/internal/util"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// Message is one websocket frame: either an inbound link event or a field snapshot.
type Message struct {
	Type    string              `json:"type"` // "event" or "field"
	Event   *model.InboundEvent `json:"event,omitempty"`
	Heights []float64           `json:"heights,omitempty"`
}

// Hub fans inbound events and periodic field snapshots out to websocket clients.
type Hub struct {
	sys      *core.System
	interval time.Duration
	log      *util.Logger

	events chan model.InboundEvent

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	cancel  func()
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewHub creates a hub sending a field snapshot every interval.
func NewHub(sys *core.System, interval time.Duration) *Hub {
	return &Hub{
		sys:      sys,
		interval: interval,
		log:      util.NewLogger("app").With("ws"),
		events:   make(chan model.InboundEvent, 64),
		clients:  map[*websocket.Conn]bool{},
	}
}

// Start subscribes to both links and begins broadcasting.
func (h *Hub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stop != nil {
		return
	}
	h.stop = make(chan struct{})
	h.cancel = h.sys.Subscribe(link.ListenerFunc(func(ev model.InboundEvent) {
		select {
		case h.events <- ev:
		default:
		}
	}))

	stop := h.stop
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case ev := <-h.events:
				h.broadcast(Message{Type: "event", Event: &ev})
			case <-ticker.C:
				if h.Clients() > 0 {
					h.broadcast(Message{Type: "field", Heights: h.sys.Display.Engine.Snapshot()})
				}
			}
		}
	}()
}

// Stop ends broadcasting and closes every client.
func (h *Hub) Stop() {
	h.mu.Lock()
	stop, cancel := h.stop, h.cancel
	h.stop, h.cancel = nil, nil
	h.mu.Unlock()
	if stop == nil {
		return
	}
	cancel()
	close(stop)
	h.wg.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if err := c.Close(); err != nil {
			h.log.Debugf("close client: %v", err)
		}
		delete(h.clients, c)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS upgrades HTTP to websocket and registers the client for broadcasts.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("upgrade failed: %v", err)
		return
	}
	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()
	h.log.Infof("client %s connected", r.RemoteAddr)

	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.clients, conn)
			h.mu.Unlock()
			if err := conn.Close(); err != nil {
				h.log.Debugf("failed to close websocket: %v", err)
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// broadcast sends msg to all connected clients, dropping those that fail.
func (h *Hub) broadcast(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if err := c.SetWriteDeadline(time.Now().Add(time.Second)); err != nil {
			h.log.Debugf("set write deadline: %v", err)
		}
		if err := c.WriteJSON(msg); err != nil {
			h.log.Warnf("dropping client: %v", err)
			delete(h.clients, c)
			_ = c.Close()
		}
	}
}
