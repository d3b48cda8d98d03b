package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"bootlicense/internal/infrastructure"
)

// Message types pushed to the UI
const (
	TypeConnection        = "connection"
	TypeLicenseTransition = "license:transition"
)

const broadcastQueue = 64

// ErrHubStopped is returned by Start once the hub has been stopped
var ErrHubStopped = errors.New("websocket hub already stopped")

// Message is the envelope of every frame sent to clients
type Message struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
	TraceID   string    `json:"trace_id,omitempty"`
}

// Hub maintains the set of active clients and broadcasts messages to them.
// Only Run touches the client set.
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	quit       chan struct{}
	done       chan struct{}

	mu      sync.RWMutex
	running bool
	stopped bool
	count   int

	welcome func() any
	metrics *Metrics
	logger  *slog.Logger

	messagesSent    atomic.Int64
	messagesDropped atomic.Int64
}

// HubOption configures a Hub
type HubOption func(*Hub)

// WithWelcome sets the data sent in the connection message of new clients
func WithWelcome(fn func() any) HubOption {
	return func(h *Hub) { h.welcome = fn }
}

// WithMetrics records hub activity on m
func WithMetrics(m *Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// NewHub creates a new Hub instance
func NewHub(logger *slog.Logger, opts ...HubOption) *Hub {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}

	h := &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, broadcastQueue),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger.With(slog.String("component", "websocket.hub")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start starts the hub loop. It is a no-op when already running.
func (h *Hub) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return ErrHubStopped
	}
	if h.running {
		return nil
	}
	h.running = true
	go h.run()
	return nil
}

// Stop closes every client and waits for the hub loop to exit
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.stopped = true
	h.mu.Unlock()

	close(h.quit)
	<-h.done
}

func (h *Hub) run() {
	defer close(h.done)

	for {
		select {
		case <-h.quit:
			for client := range h.clients {
				h.drop(client)
			}
			h.logger.Info("Hub shut down")
			return

		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.setCount()
			h.metrics.recordConnect(client.ctx())

			h.logger.InfoContext(client.ctx(), "Client registered",
				slog.Int("total_clients", len(h.clients)),
				slog.String("client_id", client.id),
				slog.String("remote_addr", client.remoteAddr))
			h.greet(client)

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				h.logger.InfoContext(client.ctx(), "Client unregistered",
					slog.Int("total_clients", len(h.clients)),
					slog.String("client_id", client.id),
					slog.Duration("connection_duration", time.Since(client.connectedAt)))
			}

		case message := <-h.broadcast:
			failed := 0
			for client := range h.clients {
				select {
				case client.send <- message:
					h.messagesSent.Add(1)
				default:
					// Slow consumer
					failed++
					h.drop(client)
				}
			}
			h.metrics.recordBroadcast(context.Background(), len(h.clients), failed)
			if failed > 0 {
				h.logger.Warn("Disconnected clients with full send buffers", slog.Int("count", failed))
			}
		}
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.send)
	h.setCount()
	h.metrics.recordDisconnect(client.ctx(), time.Since(client.connectedAt))
}

func (h *Hub) setCount() {
	h.mu.Lock()
	h.count = len(h.clients)
	h.mu.Unlock()
}

func (h *Hub) greet(client *Client) {
	var data any = map[string]any{"status": "connected", "client_id": client.id}
	if h.welcome != nil {
		data = map[string]any{"status": "connected", "client_id": client.id, "license": h.welcome()}
	}

	msg, err := encode(TypeConnection, data, client.traceID)
	if err != nil {
		h.logger.Error("Error marshaling connection message", slog.String("error", err.Error()))
		return
	}
	select {
	case client.send <- msg:
	default:
		h.logger.Warn("Failed to send connection message, client buffer full",
			slog.String("client_id", client.id))
	}
}

func encode(messageType string, data any, traceID string) ([]byte, error) {
	return json.Marshal(Message{
		Type:      messageType,
		Data:      data,
		Timestamp: time.Now().UTC(),
		TraceID:   traceID,
	})
}

// Broadcast queues a message for every client. It never blocks: when the
// queue is full the message is dropped and counted.
func (h *Hub) Broadcast(messageType string, data any, traceID string) {
	msg, err := encode(messageType, data, traceID)
	if err != nil {
		h.logger.Error("Error marshaling message",
			slog.String("error", err.Error()),
			slog.String("message_type", messageType))
		return
	}

	select {
	case h.broadcast <- msg:
	case <-h.quit:
	default:
		h.messagesDropped.Add(1)
		h.metrics.recordDropped(context.Background())
		h.logger.Warn("Broadcast queue full, message dropped", slog.String("message_type", messageType))
	}
}

// Register adds a client. It returns false once the hub is stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.quit:
		return false
	}
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Stats returns counters for the health endpoint
func (h *Hub) Stats() map[string]any {
	return map[string]any{
		"active_clients":   h.ClientCount(),
		"messages_sent":    h.messagesSent.Load(),
		"messages_dropped": h.messagesDropped.Load(),
	}
}
