// Package store persists chat rooms, messages and the users who post them.
// Two backends are provided: Postgres through pgx for production and SQLite
// through gorm for local development and tests.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRoomNotFound is returned when a room id has no matching row.
	ErrRoomNotFound = errors.New("room not found")
	// ErrUserNotFound is returned when a user id has no matching row.
	ErrUserNotFound = errors.New("user not found")
)

// PersistenceError wraps a failed database operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func persistenceError(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

// User is the public profile of a poster.
type User struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"displayName"`
	Picture     string `json:"picture"`
}

// Message is one stored chat message.
type Message struct {
	ID           int64     `json:"id"`
	Text         string    `json:"text"`
	Type         string    `json:"type"`
	CreationTime time.Time `json:"creationTime"`
	User         *User     `json:"user"`
}

// Room is a chat room with its full history, oldest message first.
type Room struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	CreationTime time.Time `json:"creationTime"`
	Messages     []Message `json:"messages"`
}

// RoomSummary is a room listing entry carrying only its latest message.
type RoomSummary struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	Type         *string   `json:"type"`
	CreationTime time.Time `json:"creationTime"`
	UserID       *int64    `json:"userId"`
	Message      *Message  `json:"message"`
}

// MessageTypeText is the type recorded for plain text messages.
const MessageTypeText = "text"

// Store is implemented by every backend.
type Store interface {
	// InsertMessage records text posted by userID in roomID and returns the
	// stored row together with the poster's profile.
	InsertMessage(ctx context.Context, roomID, userID int64, text string) (Message, error)
	// GetRoomHistory returns ErrRoomNotFound when roomID does not exist.
	GetRoomHistory(ctx context.Context, roomID int64) (Room, error)
	ListRooms(ctx context.Context) ([]RoomSummary, error)
	Ping(ctx context.Context) error
	Close() error
}
