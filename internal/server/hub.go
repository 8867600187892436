package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jaevor/go-nanoid"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/metrics"
)

// connIDLength is the length of generated connection ids.
const connIDLength = 21

// FrameHandler receives every inbound frame and the final disconnect of
// each connection.
type FrameHandler interface {
	Route(ctx context.Context, peer chat.Peer, binary bool, frame []byte)
	Disconnect(connID string)
}

type noopHandler struct{}

func (noopHandler) Route(context.Context, chat.Peer, bool, []byte) {}
func (noopHandler) Disconnect(string)                              {}

// Hub owns every open Connection. It assigns identities, runs the pumps
// and delivers frames by connection id.
type Hub struct {
	cfg        Config
	conns      map[string]*Connection
	register   chan *Connection
	unregister chan *Connection
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	newID      func() string
	handler    FrameHandler
	log        *slog.Logger
	metrics    *metrics.Metrics
}

// NewHub creates a Hub. Call SetHandler before Run to receive frames.
func NewHub(cfg Config, logger *slog.Logger, m *metrics.Metrics) (*Hub, error) {
	cfg.Sanitize(logger)
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	newID, err := nanoid.Standard(connIDLength)
	if err != nil {
		return nil, fmt.Errorf("id generator: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:        cfg,
		conns:      make(map[string]*Connection),
		register:   make(chan *Connection),
		unregister: make(chan *Connection),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		newID:      newID,
		handler:    noopHandler{},
		log:        logger,
		metrics:    m,
	}, nil
}

// SetHandler installs the frame handler. It must be called before Run.
func (h *Hub) SetHandler(handler FrameHandler) {
	if handler == nil {
		handler = noopHandler{}
	}
	h.handler = handler
}

// Accept registers ws under a fresh id and starts its pumps.
func (h *Hub) Accept(ws *websocket.Conn, addr string) (*Connection, error) {
	c := newConnection(h.newID(), ws, h, addr)
	select {
	case h.register <- c:
		return c, nil
	case <-h.ctx.Done():
		return nil, ErrHubStopped
	}
}

// Send enqueues frame for connID without blocking.
func (h *Hub) Send(connID string, frame []byte) error {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	c, ok := h.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}
	if c.State() != StateOpen {
		return ErrConnectionClosed
	}

	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Count returns the number of registered connections.
func (h *Hub) Count() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.conns)
}

// Run starts the hub's main event loop. It returns once Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownConnections()
			return

		case c := <-h.register:
			h.mutex.Lock()
			h.conns[c.id] = c
			count := len(h.conns)
			h.mutex.Unlock()

			h.metrics.ConnectionOpened()
			h.log.Info("conn.registered", "conn", c.id, "addr", c.addr, "connections", count)

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				c.writePump()
			}()
			go func() {
				defer h.wg.Done()
				c.readPump(h.ctx)
			}()

		case c := <-h.unregister:
			h.remove(c)
		}
	}
}

func (h *Hub) unregisterConn(c *Connection) {
	select {
	case h.unregister <- c:
	case <-h.done:
		h.remove(c)
	}
}

// remove drops c from the hub, closes its queue and notifies the handler.
// The queue is closed under the write lock so Send never races it.
func (h *Hub) remove(c *Connection) {
	h.mutex.Lock()
	if _, ok := h.conns[c.id]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.conns, c.id)
	c.state.Store(int32(StateClosed))
	close(c.send)
	count := len(h.conns)
	h.mutex.Unlock()

	h.handler.Disconnect(c.id)
	h.metrics.ConnectionClosed()
	h.log.Info("conn.unregistered", "conn", c.id, "addr", c.addr, "connections", count)
}

// shutdownConnections sends a going-away close frame to every connection
// and closes the socket. The pumps then unregister each one.
func (h *Hub) shutdownConnections() {
	h.mutex.RLock()
	conns := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mutex.RUnlock()

	h.log.Info("hub.closing_connections", "connections", len(conns))

	deadline := time.Now().Add(writeWait)
	for _, c := range conns {
		if c.conn == nil {
			continue
		}
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		if err := c.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil && !isExpectedCloseError(err) {
			h.log.Debug("ws.close_write_failed", "conn", c.id, "err", err)
		}
		c.closeConnection()
	}
}

// Shutdown stops the hub and waits for all connection goroutines to finish,
// or for the timeout to elapse.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("hub.shutdown_started")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub.shutdown_completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub.shutdown_timeout", "timeout", timeout)
		return context.DeadlineExceeded
	}
}
