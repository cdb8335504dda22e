// Package livereload keeps the registry of connected browsers and pushes
// reload notifications to them over WebSocket.
package livereload

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/zsprackett/devserve/internal/debounce"
	"github.com/zsprackett/devserve/internal/events"
)

// ErrClosed is returned by Register once the hub has been closed.
var ErrClosed = errors.New("livereload: hub closed")

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Sender delivers one message to one client.
type Sender interface {
	Send(msg events.Message) error
	Close() error
}

// Client is a registered live-reload connection.
type Client struct {
	ID          uuid.UUID
	RemoteAddr  string
	ConnectedAt time.Time

	sender Sender
	stop   func()
}

// HubConfig configures a Hub.
type HubConfig struct {
	// Wait is the per-client debounce window. Zero sends immediately.
	Wait   time.Duration
	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Hub is the client registry and broadcaster.
type Hub struct {
	cfg HubConfig

	mu      sync.Mutex
	clients []*Client
	closed  bool
}

// NewHub returns an empty hub.
func NewHub(cfg HubConfig) *Hub {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Hub{cfg: cfg}
}

// Register acknowledges raw with a connected message and adds it to the
// registry. The ack bypasses the debounce window.
func (h *Hub) Register(raw Sender, remoteAddr string) (*Client, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	if err := raw.Send(events.Connected); err != nil {
		return nil, err
	}

	c := &Client{
		ID:          uuid.New(),
		RemoteAddr:  remoteAddr,
		ConnectedAt: h.cfg.Clock.Now(),
		sender:      raw,
		stop:        func() {},
	}
	if h.cfg.Wait > 0 {
		d := newDebouncedSender(raw, h.cfg.Clock, h.cfg.Wait, h.cfg.Logger.With("client", c.ID.String()))
		c.sender = d
		c.stop = d.stop
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		c.stop()
		return nil, ErrClosed
	}
	h.clients = append(h.clients, c)
	return c, nil
}

// Unregister removes c and cancels any pending debounced send for it.
func (h *Hub) Unregister(c *Client) {
	if c == nil {
		return
	}
	c.stop()

	h.mu.Lock()
	defer h.mu.Unlock()
	kept := h.clients[:0:0]
	for _, other := range h.clients {
		if other != c {
			kept = append(kept, other)
		}
	}
	h.clients = kept
}

// Broadcast sends msg to every registered client and returns the number of
// clients it was handed to. Failed sends are logged and skipped.
func (h *Hub) Broadcast(msg events.Message) int {
	h.mu.Lock()
	snapshot := make([]*Client, len(h.clients))
	copy(snapshot, h.clients)
	h.mu.Unlock()

	n := 0
	for _, c := range snapshot {
		if c == nil {
			continue
		}
		if err := c.sender.Send(msg); err != nil {
			h.cfg.Logger.Warn("livereload: send failed", "client", c.ID.String(), "err", err)
			continue
		}
		n++
	}
	return n
}

// Len returns the number of registered clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Clients returns a copy of the registry in registration order.
func (h *Hub) Clients() []*Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Client, len(h.clients))
	copy(out, h.clients)
	return out
}

// Close stops pending timers and closes every connection. Register fails
// afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := h.clients
	h.clients = nil
	h.mu.Unlock()

	for _, c := range clients {
		c.stop()
		c.sender.Close()
	}
}

// ServeHTTP upgrades the request and holds the connection until the browser
// goes away. Anything the browser sends is discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.cfg.Logger.Debug("livereload: upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.Close()

	c, err := h.Register(&connSender{conn: conn}, r.RemoteAddr)
	if err != nil {
		h.cfg.Logger.Debug("livereload: register failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer h.Unregister(c)
	h.cfg.Logger.Debug("livereload: client connected", "client", c.ID.String(), "remote", c.RemoteAddr)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.cfg.Logger.Debug("livereload: client disconnected", "client", c.ID.String())
}

// connSender writes text frames to a gorilla connection. gorilla allows one
// concurrent writer, so writes are serialized.
type connSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *connSender) Send(msg events.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (s *connSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
		time.Now().Add(time.Second))
	return s.conn.Close()
}

// debouncedSender holds the latest message for a client and sends it once
// the window has been quiet.
type debouncedSender struct {
	raw Sender
	d   *debounce.Debouncer[events.Message]
}

func newDebouncedSender(raw Sender, clock clockwork.Clock, wait time.Duration, logger *slog.Logger) *debouncedSender {
	ds := &debouncedSender{raw: raw}
	ds.d = debounce.New(clock, wait, func(msg events.Message) {
		if err := raw.Send(msg); err != nil {
			logger.Warn("livereload: delayed send failed", "err", err)
		}
	})
	return ds
}

// Send queues msg, replacing any message still waiting.
func (s *debouncedSender) Send(msg events.Message) error {
	s.d.Call(msg)
	return nil
}

func (s *debouncedSender) Close() error {
	s.d.Stop()
	return s.raw.Close()
}

func (s *debouncedSender) stop() { s.d.Stop() }
