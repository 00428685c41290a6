package ws

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fanoutlabs/gateway/internal/model"
	"github.com/fanoutlabs/gateway/internal/service"
)

// Client is one live websocket connection bound to a (tenant, session)
// pair. The flood guard is a transport-level token bucket protecting this
// process; the tenant-wide message quota is enforced by the dispatcher
// against the shared counter store.
type Client struct {
	id        string
	auth      *model.AuthContext
	conn      *websocket.Conn
	send      chan []byte
	guard     *rate.Limiter
	closeOnce sync.Once
	logger    *zap.Logger
}

func newClient(id string, conn *websocket.Conn, auth *model.AuthContext, srv *Server) *Client {
	conn.SetReadLimit(srv.cfg.MaxMessageSize)
	return &Client{
		id:    id,
		auth:  auth,
		conn:  conn,
		send:  make(chan []byte, srv.cfg.SendBufferSize),
		guard: rate.NewLimiter(rate.Limit(srv.cfg.MessagesPerSecond), srv.cfg.MessageBurst),
		logger: srv.logger.With(
			zap.String("tenant_id", auth.TenantID),
			zap.String("session_id", auth.SessionID),
		),
	}
}

// ID returns the connection id assigned at admission time
func (c *Client) ID() string {
	return c.id
}

// close tears the connection down exactly once. The read pump notices the
// closed socket and runs the shared teardown path.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"), deadline)
		_ = c.conn.Close()
	})
}

// closeWithFault signals a server fault to the peer before closing
func (c *Client) closeWithFault() {
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "server fault"), deadline)
		_ = c.conn.Close()
	})
}

// readPump reads inbound messages and hands each one to the dispatcher.
// It owns teardown: when the loop exits for any reason the connection is
// deregistered from both the hub and the session registry.
func (c *Client) readPump(srv *Server) {
	defer srv.teardown(c)

	if err := c.conn.SetReadDeadline(time.Now().Add(srv.cfg.PongTimeout)); err != nil {
		c.logger.Warn("Failed to set read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(srv.cfg.PongTimeout))
	})

	for {
		_, body, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				c.logger.Warn("Unexpected websocket close",
					zap.String("connection_id", c.id),
					zap.Error(err))
			}
			return
		}

		if !c.guard.Allow() {
			c.logger.Debug("Flood guard dropped message",
				zap.String("connection_id", c.id))
			continue
		}

		msg := &model.InboundMessage{
			TenantID:          c.auth.TenantID,
			SessionID:         c.auth.SessionID,
			ConnectionID:      c.id,
			RequestID:         uuid.NewString(),
			Body:              body,
			MessagesPerMinute: c.auth.MessagesPerMinute,
			SessionTTLSeconds: c.auth.SessionTTLSeconds,
		}

		result, err := srv.dispatcher.Dispatch(context.Background(), msg)
		if err != nil {
			c.logger.Error("Dispatch fault",
				zap.String("connection_id", c.id),
				zap.Error(err))
			srv.metrics.MessageFaults.Inc()
			c.closeWithFault()
			return
		}

		switch result {
		case service.DispatchThrottled:
			srv.metrics.MessagesThrottled.Inc()
		default:
			srv.metrics.MessagesDispatched.Inc()
		}
	}
}

// writePump drains the send channel and keeps the connection alive
func (c *Client) writePump(srv *Server) {
	ticker := time.NewTicker(srv.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(srv.cfg.WriteTimeout)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(srv.cfg.WriteTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
