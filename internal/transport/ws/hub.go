// Package ws is the websocket transport: it upgrades admitted connect
// attempts, pumps messages between clients and the dispatcher, and
// implements the delivery collaborator used by fan-out and the reaper.
package ws

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fanoutlabs/gateway/internal/service"
)

// Hub indexes live connections by connection id. It implements
// service.Deliverer; the id space is process-local, matching the
// session registry entries this gateway instance committed.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *zap.Logger
}

// NewHub creates a new connection hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger,
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
}

func (h *Hub) unregister(connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, connectionID)
}

func (h *Hub) lookup(connectionID string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[connectionID]
	return c, ok
}

// Len returns the number of registered connections
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// PostToConnection implements service.Deliverer. A connection that was
// never registered here, or already tore down, reports service.ErrGone.
func (h *Hub) PostToConnection(ctx context.Context, connectionID string, payload []byte) error {
	c, ok := h.lookup(connectionID)
	if !ok {
		return service.ErrGone
	}

	select {
	case c.send <- payload:
		return nil
	default:
		return fmt.Errorf("send buffer full for connection %s", connectionID)
	}
}

// ForceClose implements service.Deliverer. Closing an unknown or
// already-closed connection is a no-op.
func (h *Hub) ForceClose(ctx context.Context, connectionID string) error {
	c, ok := h.lookup(connectionID)
	if !ok {
		return nil
	}

	h.logger.Debug("Force closing connection",
		zap.String("connection_id", connectionID))
	c.close()
	return nil
}
