package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/colonyforge/hiveforge/pkg/event"
)

// allStreams is the subscription wildcard: every appended event on
// every stream.
const allStreams = "*"

// ClientMessage is what a dashboard client sends over the socket.
type ClientMessage struct {
	Type     string `json:"type"` // "subscribe" | "unsubscribe"
	StreamID string `json:"stream_id"`
}

// ActivityMessage is what the server pushes for each applied event.
type ActivityMessage struct {
	Type     string       `json:"type"` // "event"
	StreamID string       `json:"stream_id"`
	Event    *event.Event `json:"event"`
}

// ConnectionManager manages WebSocket connections and per-stream
// subscriptions. One instance per process. It implements
// sink.Broadcaster, so the activity sink can fan applied events out to
// live subscribers.
type ConnectionManager struct {
	writeTimeout time.Duration

	mu          sync.RWMutex
	connections map[string]*wsConnection
	// streams maps stream ID (or "*") → set of connection IDs.
	streams map[string]map[string]bool
}

// wsConnection is a single client.
//
// subscriptions is only touched from the goroutine that owns the
// connection (the read loop and its deferred cleanup), so it needs no
// lock of its own.
type wsConnection struct {
	id            string
	conn          *websocket.Conn
	subscriptions map[string]bool
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewConnectionManager builds an empty manager. writeTimeout bounds
// each send; a client that cannot keep up is dropped, not buffered.
func NewConnectionManager(writeTimeout time.Duration) *ConnectionManager {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &ConnectionManager{
		writeTimeout: writeTimeout,
		connections:  make(map[string]*wsConnection),
		streams:      make(map[string]map[string]bool),
	}
}

// HandleConnection owns the lifecycle of one WebSocket connection.
// Blocks until the connection closes.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &wsConnection{
		id:            uuid.New().String(),
		conn:          conn,
		subscriptions: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}

	m.register(c)
	defer m.unregister(c)

	m.sendJSON(c, map[string]string{
		"type":          "connection.established",
		"connection_id": c.id,
	})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid WebSocket message", "connection_id", c.id, "error", err)
			continue
		}
		m.handleClientMessage(c, &msg)
	}
}

func (m *ConnectionManager) handleClientMessage(c *wsConnection, msg *ClientMessage) {
	switch msg.Type {
	case "subscribe":
		if msg.StreamID == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "stream_id is required"})
			return
		}
		m.subscribe(c, msg.StreamID)
		m.sendJSON(c, map[string]string{
			"type":      "subscription.confirmed",
			"stream_id": msg.StreamID,
		})
	case "unsubscribe":
		m.unsubscribe(c, msg.StreamID)
		m.sendJSON(c, map[string]string{
			"type":      "unsubscription.confirmed",
			"stream_id": msg.StreamID,
		})
	default:
		m.sendJSON(c, map[string]string{"type": "error", "message": "unknown message type"})
	}
}

// BroadcastEvent pushes an applied event to every connection subscribed
// to its stream or to the wildcard. Implements sink.Broadcaster.
func (m *ConnectionManager) BroadcastEvent(streamID string, e *event.Event) {
	payload, err := json.Marshal(ActivityMessage{Type: "event", StreamID: streamID, Event: e})
	if err != nil {
		slog.Error("Failed to marshal activity message", "error", err)
		return
	}

	m.mu.RLock()
	var targets []*wsConnection
	seen := make(map[string]bool)
	for _, channel := range []string{streamID, allStreams} {
		for connID := range m.streams[channel] {
			if seen[connID] {
				continue
			}
			if c, ok := m.connections[connID]; ok {
				targets = append(targets, c)
				seen[connID] = true
			}
		}
	}
	m.mu.RUnlock()

	for _, c := range targets {
		if err := m.sendRaw(c, payload); err != nil {
			// Slow or gone; drop the client rather than queue.
			slog.Debug("Dropping slow WebSocket client", "connection_id", c.id, "error", err)
			c.cancel()
		}
	}
}

// ActiveConnections reports the number of live connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// CloseAll cancels every connection; used during shutdown.
func (m *ConnectionManager) CloseAll() {
	m.mu.RLock()
	conns := make([]*wsConnection, 0, len(m.connections))
	for _, c := range m.connections {
		conns = append(conns, c)
	}
	m.mu.RUnlock()
	for _, c := range conns {
		c.cancel()
		_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

func (m *ConnectionManager) subscribe(c *wsConnection, streamID string) {
	c.subscriptions[streamID] = true
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.streams[streamID] == nil {
		m.streams[streamID] = make(map[string]bool)
	}
	m.streams[streamID][c.id] = true
}

func (m *ConnectionManager) unsubscribe(c *wsConnection, streamID string) {
	delete(c.subscriptions, streamID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.streams[streamID]; ok {
		delete(subs, c.id)
		if len(subs) == 0 {
			delete(m.streams, streamID)
		}
	}
}

func (m *ConnectionManager) register(c *wsConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.id] = c
}

func (m *ConnectionManager) unregister(c *wsConnection) {
	c.cancel()
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.connections, c.id)
	for streamID := range c.subscriptions {
		if subs, ok := m.streams[streamID]; ok {
			delete(subs, c.id)
			if len(subs) == 0 {
				delete(m.streams, streamID)
			}
		}
	}
}

func (m *ConnectionManager) sendJSON(c *wsConnection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to marshal WebSocket message", "error", err)
		return
	}
	if err := m.sendRaw(c, data); err != nil {
		slog.Debug("WebSocket send failed", "connection_id", c.id, "error", err)
		c.cancel()
	}
}

func (m *ConnectionManager) sendRaw(c *wsConnection, data []byte) error {
	ctx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}
