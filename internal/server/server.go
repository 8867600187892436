package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/metrics"
	"github.com/Tyrowin/roomchat/internal/room"
	"github.com/Tyrowin/roomchat/internal/store"
)

// RoomStore is the persistence the server needs.
type RoomStore interface {
	chat.MessageStore
	GetRoomHistory(ctx context.Context, roomID int64) (store.Room, error)
	ListRooms(ctx context.Context) ([]store.RoomSummary, error)
	Ping(ctx context.Context) error
}

// Server wires the hub, room registry, event router and chat service
// behind one HTTP handler.
type Server struct {
	cfg      Config
	log      *slog.Logger
	metrics  *metrics.Metrics
	registry *room.Registry
	hub      *Hub
	store    RoomStore
	origins  *originPolicy
	upgrader websocket.Upgrader
}

// New builds a Server. cfg is copied and sanitized.
func New(cfg *Config, st RoomStore, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	if st == nil {
		return nil, errors.New("server: store is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	c := *cfg
	c.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	c.Sanitize(logger)

	m := metrics.New()
	hub, err := NewHub(c, logger, m)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	registry := room.NewRegistry(logger)
	registry.OnChange(m.SetRooms)

	service := chat.NewService(st, registry, hub, logger, m, c.PersistTimeout)
	router := chat.NewRouter(registry, service, logger, m)
	hub.SetHandler(router)

	s := &Server{
		cfg:      c,
		log:      logger,
		metrics:  m,
		registry: registry,
		hub:      hub,
		store:    st,
		origins:  newOriginPolicy(c.AllowedOrigins, logger),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	return s, nil
}

// Config returns the sanitized configuration.
func (s *Server) Config() Config {
	return s.cfg
}

func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) Registry() *room.Registry {
	return s.registry
}

// Start runs the hub loop in its own goroutine.
func (s *Server) Start() {
	go s.hub.Run()
	s.log.Info("hub.started")
}

// Shutdown closes every connection and waits for their goroutines.
func (s *Server) Shutdown(timeout time.Duration) error {
	return s.hub.Shutdown(timeout)
}
