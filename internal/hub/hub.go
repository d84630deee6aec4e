// Package hub holds the live websocket connections of this server instance.
package hub

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jason-s-yu/dinomemo/internal/broadcast"
	"github.com/sirupsen/logrus"
)

// Hub maps connection ids to websocket connections and delivers messages to them.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*websocket.Conn
	logger *logrus.Logger
}

func New(logger *logrus.Logger) *Hub {
	return &Hub{
		conns:  make(map[string]*websocket.Conn),
		logger: logger,
	}
}

// Add stores c under a fresh connection id and returns the id.
func (h *Hub) Add(c *websocket.Conn) string {
	id := uuid.NewString()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[id] = c
	return id
}

// Remove forgets a connection. Unknown ids are ignored.
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, id)
}

// Len returns the number of live connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Send writes data as a text message. A connection that is unknown here or
// whose socket is closed yields broadcast.ErrConnectionGone.
func (h *Hub) Send(ctx context.Context, connectionID string, data []byte) error {
	h.mu.RLock()
	c, ok := h.conns[connectionID]
	h.mu.RUnlock()
	if !ok {
		return broadcast.ErrConnectionGone
	}

	err := c.Write(ctx, websocket.MessageText, data)
	if err == nil {
		return nil
	}
	if isClosed(err) {
		h.Remove(connectionID)
		return errors.Join(broadcast.ErrConnectionGone, err)
	}
	return err
}

func isClosed(err error) bool {
	return websocket.CloseStatus(err) != -1 ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF)
}
