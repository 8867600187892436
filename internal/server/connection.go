package server

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Connection is one client's WebSocket. Frames queued with Hub.Send are
// written by writePump; inbound frames are read by readPump and handed to
// the hub's FrameHandler.
type Connection struct {
	id        string
	addr      string
	conn      *websocket.Conn
	send      chan []byte
	hub       *Hub
	limiter   *rateLimiter
	state     atomic.Int32
	closeOnce sync.Once
}

func newConnection(id string, ws *websocket.Conn, hub *Hub, addr string) *Connection {
	if ws != nil {
		ws.SetReadLimit(hub.cfg.MaxMessageSize)
	}
	return &Connection{
		id:      id,
		addr:    addr,
		conn:    ws,
		send:    make(chan []byte, hub.cfg.SendBufferSize),
		hub:     hub,
		limiter: newRateLimiter(hub.cfg.RateLimit),
	}
}

// ID returns the connection's opaque identifier.
func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) State() ConnState {
	return ConnState(c.state.Load())
}

// Close starts an orderly shutdown of the connection. It is idempotent and
// the hub's disconnect callback runs exactly once.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.state.CompareAndSwap(int32(StateOpen), int32(StateClosing))
		c.hub.unregisterConn(c)
	})
	return nil
}

func (c *Connection) setupReadConnection() {
	log := c.hub.log
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Warn("ws.read_deadline_failed", "conn", c.id, "err", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			log.Warn("ws.read_deadline_failed", "conn", c.id, "err", err)
		}
		return nil
	})
}

// logReadError records why the read loop stopped.
func (c *Connection) logReadError(err error) {
	log := c.hub.log
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		log.Warn("ws.frame_too_large", "conn", c.id, "limit", c.hub.cfg.MaxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		log.Info("ws.client_disconnected", "conn", c.id, "err", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		log.Info("ws.connection_closed", "conn", c.id, "err", err)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		log.Warn("ws.unexpected_close", "conn", c.id, "err", err)
	default:
		log.Warn("ws.read_error", "conn", c.id, "err", err)
	}
}

func (c *Connection) readPump(ctx context.Context) {
	defer func() {
		_ = c.Close()
	}()

	c.setupReadConnection()

	for {
		messageType, frame, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.limiter.allow() {
			c.hub.metrics.FrameDropped("rate_limited")
			c.hub.log.Warn("frame.rate_limited", "conn", c.id,
				"burst", c.hub.cfg.RateLimit.Burst, "interval", c.hub.cfg.RateLimit.RefillInterval)
			continue
		}

		c.hub.handler.Route(ctx, c, messageType == websocket.BinaryMessage, frame)
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
		_ = c.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !c.writeFrame(frame, ok) {
				return
			}
		case <-ticker.C:
			if !c.writePing() {
				return
			}
		}
	}
}

// writeFrame writes one queued frame as its own text message. A closed
// queue sends the close frame and stops the pump.
func (c *Connection) writeFrame(frame []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.hub.log.Warn("ws.write_deadline_failed", "conn", c.id, "err", err)
		return false
	}

	if !ok {
		err := c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if err != nil && !isExpectedCloseError(err) {
			c.hub.log.Debug("ws.close_write_failed", "conn", c.id, "err", err)
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		if !isExpectedCloseError(err) {
			c.hub.log.Warn("ws.write_failed", "conn", c.id, "err", err)
		}
		return false
	}
	return true
}

func (c *Connection) writePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.hub.log.Warn("ws.write_deadline_failed", "conn", c.id, "err", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.hub.log.Debug("ws.ping_failed", "conn", c.id, "err", err)
		return false
	}
	return true
}

func (c *Connection) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.hub.log.Debug("ws.close_failed", "conn", c.id, "err", err)
	}
}
