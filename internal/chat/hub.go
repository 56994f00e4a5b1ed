package chat

import (
	"log/slog"
	"sync"

	"github.com/omochice/framechat/pkg/protocol"
)

// Client represents a connected peer with a transport-agnostic connection.
type Client struct {
	ID       string
	Conn     Conn
	Outgoing chan protocol.Frame
}

// Hub tracks connected peers and fans frames out to them.
// TCP and WebSocket peers share a single Hub instance.
type Hub struct {
	clients map[*Client]bool
	mu      sync.RWMutex
	logger  *slog.Logger
}

// NewHub creates a new Hub. A nil logger means slog.Default().
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*Client]bool),
		logger:  logger,
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = true
}

// Unregister removes a client from the hub. Once it returns, Broadcast no
// longer sends to client.Outgoing.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, client)
}

// ClientCount returns number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues f for every client except sender and returns how many
// accepted it. A client whose queue is full misses the frame.
func (h *Hub) Broadcast(f protocol.Frame, sender *Client) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for client := range h.clients {
		if client == sender {
			continue
		}
		select {
		case client.Outgoing <- f:
			delivered++
		default:
			h.logger.Warn("Client queue full, dropping frame", "client", client.ID, "type", f.Type.String())
		}
	}
	return delivered
}

// CloseAll closes every registered client's connection.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		client.Conn.Close()
	}
}
