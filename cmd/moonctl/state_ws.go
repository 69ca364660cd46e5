package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"moonlander/internal/engine"
	"moonlander/internal/logging"
)

// ============================================================================
// State WebSocket: hub + per-client pumps + broadcaster
// ============================================================================
//
//   - A Hub tracks connected WebSocket clients.
//   - Each client has its own write pump so one slow client doesn't block others.
//   - A broadcaster loop reads reducer-emitted broadcasts and fans out.
//
// ControllerState stays daemon-owned: the initial snapshot on connect goes
// through the event loop (RequestStateSnapshot). Slow clients are disconnected
// when their send buffer fills.
//
// Messages are JSON text frames with an envelope: {type, ts, data}.
// The first message on connect is "state_init".
// ============================================================================

// Outbound message types.
const (
	wsTypeStateInit        = "state_init"
	wsTypeSelectionChanged = "selection_changed"
	wsTypeTargetChanged    = "target_changed"
	wsTypeCommandSent      = "command_sent"
	wsTypeDeliveryFailed   = "delivery_failed"
)

// wsMessageSnapshot is the JSON `data` payload for "state_init".
type wsMessageSnapshot struct {
	Selected     engine.Engine   `json:"selected"`
	Target       engine.Target   `json:"target"`
	Engaged      []engine.Engine `json:"engaged"`
	Sent         uint64          `json:"sent"`
	Failed       uint64          `json:"failed"`
	LastDelivery *wsDelivery     `json:"last_delivery,omitempty"`
}

// wsDelivery is the JSON `data` payload for "command_sent" and "delivery_failed".
type wsDelivery struct {
	ID        string        `json:"id"`
	Engine    engine.Engine `json:"engine"`
	Phase     string        `json:"phase"`
	Code      string        `json:"code"`
	Target    engine.Target `json:"target"`
	ElapsedMS int64         `json:"elapsed_ms,omitempty"`
	Error     string        `json:"error,omitempty"`
}

type wsSelectionChangedData struct {
	Engine engine.Engine `json:"engine"`
}

type wsTargetChangedData struct {
	Target engine.Target `json:"target"`
}

// wsOutboundEvent is a pre-typed, externally-consumable state event.
type wsOutboundEvent struct {
	Type string
	Data any
	At   time.Time // zero means "now"
}

// envelope is the wire format envelope for WS messages.
type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

func marshalEnvelope(ev wsOutboundEvent) ([]byte, error) {
	ts := ev.At
	if ts.IsZero() {
		ts = time.Now()
	}
	ts = ts.UTC()
	return json.Marshal(envelope{Type: ev.Type, Ts: &ts, Data: ev.Data})
}

// ============================================================================
// Hub
// ============================================================================

type Hub struct {
	logger *slog.Logger

	// Buffered broadcast channel for already-serialized JSON frames.
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	clients map[*Client]struct{}

	sendBuf int
}

type HubConfig struct {
	// SendBuf is the per-client outbound queue size. If zero, 32.
	SendBuf int

	// BroadcastBuf is the hub inbound broadcast queue size. If zero, 128.
	BroadcastBuf int
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	sendBuf := cfg.SendBuf
	if sendBuf <= 0 {
		sendBuf = 32
	}
	bcastBuf := cfg.BroadcastBuf
	if bcastBuf <= 0 {
		bcastBuf = 128
	}

	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, bcastBuf),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		clients:    make(map[*Client]struct{}),
		sendBuf:    sendBuf,
	}
}

// Run processes hub events until ctx is canceled.
// It disconnects all clients on shutdown.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Debug("ws hub starting")

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("ws hub stopping (context canceled)")
			h.closeAllClients()
			return

		case c := <-h.register:
			h.mu.Lock()
			if c.closed {
				// Unregistered before the registration was processed.
				h.mu.Unlock()
				continue
			}
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws client registered", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.removeClient(c, "unregister")

		case msg := <-h.broadcast:
			// Collect slow clients first, then remove them after we unlock.
			var slow []*Client

			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()

			for _, c := range slow {
				h.removeClient(c, "slow_client")
			}
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.closeSend()
		delete(h.clients, c)
	}
}

func (h *Hub) removeClient(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	// Closing send signals writePump to exit.
	c.closeSend()
	n := len(h.clients)
	h.mu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close()
	}
	if ok {
		h.logger.Info("ws client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
	}
}

// enqueue queues msg for one client without blocking and reports whether it
// was queued. It returns false for a client that is already gone, and
// disconnects a client whose queue is full.
func (h *Hub) enqueue(c *Client, msg []byte) bool {
	h.mu.Lock()
	if c.closed {
		h.mu.Unlock()
		return false
	}
	select {
	case c.send <- msg:
		h.mu.Unlock()
		return true
	default:
	}
	h.mu.Unlock()

	h.removeClient(c, "slow_client")
	return false
}

// BroadcastBytes enqueues a pre-serialized JSON WS frame for broadcast.
// It never blocks; if the hub queue is full it drops the message.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws hub broadcast queue full, dropping message", "bytes", len(msg))
	}
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	hub *Hub

	conn *websocket.Conn
	send chan []byte

	// send is only closed under hub.mu; closed is guarded by it too.
	closeOnce sync.Once
	closed    bool

	remoteAddr string
	logger     *slog.Logger
}

// NewClient creates a client with a buffered send channel.
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	sendBuf := 32
	if hub != nil && hub.sendBuf > 0 {
		sendBuf = hub.sendBuf
	}
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBuf),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() {
		c.closed = true
		close(c.send)
	})
}

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// closeStatus extracts a websocket close code / text when possible.
func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

func (c *Client) logExit(pump string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	if code, text, ok := closeStatus(err); ok {
		c.logger.Debug("ws "+pump+" exiting (close)", "remote_addr", c.remoteAddr, "code", code, "reason", text)
		return
	}
	c.logger.Debug("ws "+pump+" exiting", "remote_addr", c.remoteAddr, logging.ErrAttr(err))
}

// writePump writes messages from the send queue to the websocket.
// It exits on write error or when send is closed.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed: hub is disconnecting us.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logExit("writePump", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("writePump", err)
				return
			}
		}
	}
}

// readPump reads and discards incoming messages to detect disconnects and handle control frames.
// It exits on read error, then unregisters the client.
func (c *Client) readPump() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logExit("readPump", err)
			if c.hub != nil {
				c.hub.unregister <- c
			}
			return
		}
	}
}

// ============================================================================
// HTTP Handler
// ============================================================================

type StateServer struct {
	logger *slog.Logger
	hub    *Hub

	// Initial snapshot requests go through the daemon loop.
	events chan<- Event
}

// NewStateServer constructs the WS state server. Start Hub().Run(ctx) and
// RunBroadcaster alongside it.
func NewStateServer(logger *slog.Logger, events chan<- Event, cfg HubConfig) *StateServer {
	return &StateServer{
		logger: logger,
		hub:    NewHub(logger, cfg),
		events: events,
	}
}

func (s *StateServer) Hub() *Hub { return s.hub }

// Register registers the WS handler on the provided mux.
func (s *StateServer) Register(mux *http.ServeMux, path string) {
	if mux == nil {
		return
	}
	mux.HandleFunc(path, s.handleStateWS)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStateWS upgrades and registers a client, then sends state_init.
func (s *StateServer) handleStateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", logging.ErrAttr(err))
		return
	}

	client := NewClient(s.hub, conn, r.RemoteAddr, s.logger)

	// Register first so no broadcast after the snapshot is missed.
	s.hub.register <- client

	// Pump lifetime is tied to the connection, not to r.Context(), which
	// net/http cancels when this handler returns.
	go client.writePump()
	go client.readPump()

	if s.events == nil {
		return
	}

	reply := make(chan StateSnapshot, 1)
	if !postEvent(s.events, RequestStateSnapshot{Reply: reply}) {
		s.logger.Warn("ws snapshot request dropped (event queue full)", "remote_addr", r.RemoteAddr)
		return
	}

	waitCtx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	select {
	case <-waitCtx.Done():
		if !errors.Is(waitCtx.Err(), context.Canceled) {
			s.logger.Warn("ws snapshot request failed", logging.ErrAttr(waitCtx.Err()))
		}

	case snap := <-reply:
		initMsg, err := marshalEnvelope(wsOutboundEvent{Type: wsTypeStateInit, Data: snapshotPayload(snap)})
		if err != nil {
			s.logger.Warn("ws snapshot marshal failed", logging.ErrAttr(err))
			return
		}
		if !s.hub.enqueue(client, initMsg) {
			s.logger.Debug("ws state_init not delivered, client gone", "remote_addr", r.RemoteAddr)
		}
	}
}

func snapshotPayload(snap StateSnapshot) wsMessageSnapshot {
	p := wsMessageSnapshot{
		Selected: snap.Selected,
		Target:   snap.Target,
		Engaged:  snap.Engaged,
		Sent:     snap.Sent,
		Failed:   snap.Failed,
	}
	if d := snap.LastDelivery; d != nil {
		p.LastDelivery = &wsDelivery{
			ID:     d.JobID.String(),
			Engine: d.Engine,
			Phase:  d.Phase.String(),
			Code:   d.Code.String(),
			Target: d.Target,
			Error:  d.Err,
		}
	}
	return p
}

// ============================================================================
// Broadcaster
// ============================================================================

// RunBroadcaster reads reducer-emitted StateBroadcast events, marshals them and
// broadcasts them to all hub clients. Intended to run as a single goroutine.
func RunBroadcaster(ctx context.Context, hub *Hub, src <-chan StateBroadcast, logger *slog.Logger) {
	if hub == nil || src == nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return

		case b, ok := <-src:
			if !ok {
				logger.Debug("ws broadcaster stopping (source ended)")
				return
			}

			ev, ok := convertBroadcast(b)
			if !ok {
				continue
			}

			msg, err := marshalEnvelope(ev)
			if err != nil {
				logger.Warn("ws broadcaster marshal failed", "type", ev.Type, logging.ErrAttr(err))
				continue
			}

			hub.BroadcastBytes(msg)
		}
	}
}

func convertBroadcast(b StateBroadcast) (wsOutboundEvent, bool) {
	switch ev := b.(type) {
	case BroadcastSelectionChanged:
		return wsOutboundEvent{
			Type: wsTypeSelectionChanged,
			Data: wsSelectionChangedData{Engine: ev.Engine},
			At:   ev.At,
		}, true

	case BroadcastTargetChanged:
		return wsOutboundEvent{
			Type: wsTypeTargetChanged,
			Data: wsTargetChangedData{Target: ev.Target},
			At:   ev.At,
		}, true

	case BroadcastCommandSent:
		return wsOutboundEvent{
			Type: wsTypeCommandSent,
			Data: wsDelivery{
				ID:        ev.JobID.String(),
				Engine:    ev.Engine,
				Phase:     ev.Phase.String(),
				Code:      ev.Code.String(),
				Target:    ev.Target,
				ElapsedMS: ev.Elapsed.Milliseconds(),
			},
			At: ev.At,
		}, true

	case BroadcastDeliveryFailed:
		return wsOutboundEvent{
			Type: wsTypeDeliveryFailed,
			Data: wsDelivery{
				ID:     ev.JobID.String(),
				Engine: ev.Engine,
				Phase:  ev.Phase.String(),
				Code:   ev.Code.String(),
				Target: ev.Target,
				Error:  ev.Error,
			},
			At: ev.At,
		}, true

	default:
		return wsOutboundEvent{}, false
	}
}
