package chat

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Tyrowin/roomchat/internal/metrics"
	"github.com/Tyrowin/roomchat/internal/protocol"
	"github.com/Tyrowin/roomchat/internal/room"
)

// Reasons recorded when an inbound frame is dropped.
const (
	DropBinary    = "binary"
	DropMalformed = "malformed"
	DropInvalid   = "invalid"
	DropUnknown   = "unknown_event"
)

// Peer is the connection a frame arrived on.
type Peer interface {
	ID() string
	Close() error
}

// Rooms is the subset of the room registry the router mutates.
type Rooms interface {
	Join(connID, roomKey string)
	LeaveAll(connID string)
}

// Router dispatches inbound frames by event kind.
type Router struct {
	rooms   Rooms
	service *Service
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewRouter(rooms Rooms, service *Service, logger *slog.Logger, m *metrics.Metrics) *Router {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Router{rooms: rooms, service: service, log: logger, metrics: m}
}

// Route handles one frame read from peer. Bad frames are logged and dropped;
// the connection stays open.
func (r *Router) Route(ctx context.Context, peer Peer, binary bool, frame []byte) {
	if binary {
		r.drop(peer, DropBinary, nil)
		return
	}

	ev, err := protocol.Decode(frame)
	if err != nil {
		reason := DropInvalid
		if errors.Is(err, protocol.ErrMalformedFrame) {
			reason = DropMalformed
		}
		r.drop(peer, reason, err)
		return
	}

	switch ev := ev.(type) {
	case protocol.Join:
		key := room.Key(ev.RoomID)
		r.rooms.Join(peer.ID(), key)
		r.log.Info("room.joined", "conn", peer.ID(), "room", key, "user", ev.UserID)
	case protocol.ChatMessage:
		// Errors are already reported to the sender.
		_, _ = r.service.HandleChatMessage(ctx, peer.ID(), ev)
	case protocol.Disconnect:
		r.log.Info("conn.disconnect_requested", "conn", peer.ID())
		if err := peer.Close(); err != nil {
			r.log.Debug("conn.close_failed", "conn", peer.ID(), "err", err)
		}
	case protocol.Unknown:
		r.metrics.FrameDropped(DropUnknown)
		r.log.Debug("frame.unknown_event", "conn", peer.ID(), "event", ev.Event)
	}
}

// Disconnect removes connID from every room. It is safe for connections
// that never joined.
func (r *Router) Disconnect(connID string) {
	r.rooms.LeaveAll(connID)
}

func (r *Router) drop(peer Peer, reason string, err error) {
	r.metrics.FrameDropped(reason)
	if err != nil {
		r.log.Warn("frame.dropped", "conn", peer.ID(), "reason", reason, "err", err)
		return
	}
	r.log.Warn("frame.dropped", "conn", peer.ID(), "reason", reason)
}
