// Package chat routes decoded client events and fans persisted chat messages
// out to the other members of a room.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Tyrowin/roomchat/internal/metrics"
	"github.com/Tyrowin/roomchat/internal/protocol"
	"github.com/Tyrowin/roomchat/internal/room"
	"github.com/Tyrowin/roomchat/internal/store"
)

// DefaultPersistTimeout bounds a single InsertMessage call.
const DefaultPersistTimeout = 5 * time.Second

// Sender enqueues a frame on a connection. Implementations must not block.
type Sender interface {
	Send(connID string, frame []byte) error
}

// MessageStore records chat messages.
type MessageStore interface {
	InsertMessage(ctx context.Context, roomID, userID int64, text string) (store.Message, error)
}

// Members lists the connections currently in a room.
type Members interface {
	MembersOf(roomKey string) []string
}

// Delivery summarizes one fan-out.
type Delivery struct {
	MessageID int64
	Sent      int
	Skipped   int
}

// Service persists chat messages and relays them to room members.
type Service struct {
	store          MessageStore
	members        Members
	sender         Sender
	log            *slog.Logger
	metrics        *metrics.Metrics
	persistTimeout time.Duration
}

// NewService wires a Service. A nil logger discards output and a nil
// metrics value disables instrumentation.
func NewService(st MessageStore, members Members, sender Sender, logger *slog.Logger, m *metrics.Metrics, persistTimeout time.Duration) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if persistTimeout <= 0 {
		persistTimeout = DefaultPersistTimeout
	}
	return &Service{
		store:          st,
		members:        members,
		sender:         sender,
		log:            logger,
		metrics:        m,
		persistTimeout: persistTimeout,
	}
}

// HandleChatMessage persists ev and sends it to every other member of its room.
//
// The insert runs detached from ctx so a sender that disconnects mid-call
// still gets its message recorded. On persistence failure only the sender
// receives an error frame and nothing is broadcast.
func (s *Service) HandleChatMessage(ctx context.Context, senderID string, ev protocol.ChatMessage) (Delivery, error) {
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout)
	msg, err := s.store.InsertMessage(persistCtx, ev.RoomID, ev.UserID, ev.Text)
	cancel()
	if err != nil {
		s.metrics.PersistenceFailed()
		s.log.Error("chat.persist_failed", "conn", senderID, "room", room.Key(ev.RoomID), "err", err)
		s.replyError(senderID, errorMessage(err))
		return Delivery{}, err
	}
	s.metrics.MessagePersisted()

	out := protocol.OutboundMessage{
		ID:   msg.ID,
		Text: msg.Text,
		Type: protocol.MessageTypeText,
	}
	if msg.User != nil {
		out.User = protocol.User{ID: msg.User.ID, DisplayName: msg.User.DisplayName, Picture: msg.User.Picture}
	}
	frame, err := protocol.EncodeServerMessage(out)
	if err != nil {
		s.log.Error("chat.encode_failed", "conn", senderID, "err", err)
		return Delivery{MessageID: msg.ID}, err
	}

	key := room.Key(ev.RoomID)
	d := Delivery{MessageID: msg.ID}
	for _, id := range s.members.MembersOf(key) {
		if id == senderID {
			continue
		}
		if err := s.sender.Send(id, frame); err != nil {
			d.Skipped++
			s.metrics.Delivery(metrics.DeliverySkipped)
			s.log.Warn("chat.send_failed", "conn", id, "room", key, "err", err)
			continue
		}
		d.Sent++
		s.metrics.Delivery(metrics.DeliverySent)
	}

	s.log.Debug("chat.relayed", "conn", senderID, "room", key, "id", msg.ID, "sent", d.Sent, "skipped", d.Skipped)
	return d, nil
}

func (s *Service) replyError(connID, message string) {
	frame, err := protocol.EncodeError(message)
	if err != nil {
		s.log.Error("chat.encode_failed", "conn", connID, "err", err)
		return
	}
	if err := s.sender.Send(connID, frame); err != nil {
		// The sender may already be gone.
		s.log.Debug("chat.reply_dropped", "conn", connID, "err", err)
	}
}

func errorMessage(err error) string {
	switch {
	case errors.Is(err, store.ErrRoomNotFound):
		return "room not found"
	case errors.Is(err, store.ErrUserNotFound):
		return "user not found"
	case errors.Is(err, context.DeadlineExceeded):
		return "message could not be saved in time"
	default:
		return "message could not be saved"
	}
}
