package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Table and column names match the Postgres schema in migrations/.

type userRecord struct {
	ID          int64  `gorm:"primarykey"`
	DisplayName string `gorm:"column:displayName;not null"`
	Picture     string `gorm:"not null;default:''"`
}

func (userRecord) TableName() string { return "user" }

type roomRecord struct {
	ID           int64     `gorm:"primarykey"`
	Title        string    `gorm:"not null"`
	Type         *string   `gorm:"column:type"`
	CreationTime time.Time `gorm:"column:creationTime;autoCreateTime"`
	UserID       *int64    `gorm:"column:userId"`
}

func (roomRecord) TableName() string { return "chat_room" }

type messageRecord struct {
	ID           int64      `gorm:"primarykey"`
	RoomID       int64      `gorm:"column:roomId;not null;index:chat_message_room_idx"`
	UserID       int64      `gorm:"column:userId;not null"`
	Text         string     `gorm:"not null"`
	Type         string     `gorm:"not null;default:text"`
	CreationTime time.Time  `gorm:"column:creationTime;autoCreateTime;index:chat_message_room_idx"`
	User         userRecord `gorm:"foreignKey:UserID"`
}

func (messageRecord) TableName() string { return "chat_message" }

func (m messageRecord) toMessage() Message {
	return Message{
		ID:           m.ID,
		Text:         m.Text,
		Type:         m.Type,
		CreationTime: m.CreationTime,
		User:         &User{ID: m.User.ID, DisplayName: m.User.DisplayName, Picture: m.User.Picture},
	}
}

// SQLite is the gorm backed store.
type SQLite struct {
	db  *gorm.DB
	log *slog.Logger
}

// SQLiteOptions configures OpenSQLite.
type SQLiteOptions struct {
	// Path is the database file, or ":memory:".
	Path string
	// Quiet silences gorm's own logger.
	Quiet bool
}

// OpenSQLite opens the database and migrates the schema.
func OpenSQLite(opts SQLiteOptions, log *slog.Logger) (*SQLite, error) {
	level := logger.Warn
	if opts.Quiet {
		level = logger.Silent
	}
	db, err := gorm.Open(sqlite.Open(opts.Path), &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, persistenceError("open sqlite", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, persistenceError("open sqlite", err)
	}
	// SQLite serializes writers anyway, and every new connection to
	// ":memory:" would see an empty database.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&userRecord{}, &roomRecord{}, &messageRecord{}); err != nil {
		return nil, persistenceError("migrate sqlite", err)
	}
	return &SQLite{db: db, log: log}, nil
}

// Ping verifies the database is reachable.
func (s *SQLite) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return persistenceError("ping", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return persistenceError("ping", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateUser adds a user and returns it with its assigned id.
func (s *SQLite) CreateUser(ctx context.Context, displayName, picture string) (User, error) {
	rec := userRecord{DisplayName: displayName, Picture: picture}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return User{}, persistenceError("create user", err)
	}
	return User{ID: rec.ID, DisplayName: rec.DisplayName, Picture: rec.Picture}, nil
}

// CreateRoom adds a room and returns it with its assigned id.
func (s *SQLite) CreateRoom(ctx context.Context, title string) (Room, error) {
	rec := roomRecord{Title: title}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return Room{}, persistenceError("create room", err)
	}
	return Room{ID: rec.ID, Title: rec.Title, CreationTime: rec.CreationTime, Messages: []Message{}}, nil
}

// InsertMessage records a message and returns it with the author's profile
// inside one transaction.
func (s *SQLite) InsertMessage(ctx context.Context, roomID, userID int64, text string) (Message, error) {
	var rec messageRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var author userRecord
		if err := tx.First(&author, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		var rooms int64
		if err := tx.Model(&roomRecord{}).Where("id = ?", roomID).Count(&rooms).Error; err != nil {
			return err
		}
		if rooms == 0 {
			return ErrRoomNotFound
		}

		rec = messageRecord{RoomID: roomID, UserID: userID, Text: text, Type: MessageTypeText}
		if err := tx.Omit("User").Create(&rec).Error; err != nil {
			return err
		}
		rec.User = author
		return nil
	})
	if err != nil {
		return Message{}, persistenceError("insert message", err)
	}

	s.log.Debug("message.inserted", "id", rec.ID, "room", roomID, "user", userID)
	return rec.toMessage(), nil
}

// GetRoomHistory returns a room with all of its messages, oldest first.
func (s *SQLite) GetRoomHistory(ctx context.Context, roomID int64) (Room, error) {
	db := s.db.WithContext(ctx)

	var room roomRecord
	if err := db.First(&room, roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Room{}, ErrRoomNotFound
		}
		return Room{}, persistenceError("get room history", err)
	}

	var recs []messageRecord
	err := db.Preload("User").
		Where(map[string]any{"roomId": roomID}).
		Order(`"creationTime" ASC, id ASC`).
		Find(&recs).Error
	if err != nil {
		return Room{}, persistenceError("get room history", err)
	}

	out := Room{
		ID:           room.ID,
		Title:        room.Title,
		CreationTime: room.CreationTime,
		Messages:     make([]Message, 0, len(recs)),
	}
	for _, rec := range recs {
		out.Messages = append(out.Messages, rec.toMessage())
	}
	return out, nil
}

// ListRooms returns every room with its most recent message, if any.
func (s *SQLite) ListRooms(ctx context.Context) ([]RoomSummary, error) {
	db := s.db.WithContext(ctx)

	var rooms []roomRecord
	if err := db.Order("id ASC").Find(&rooms).Error; err != nil {
		return nil, persistenceError("list rooms", err)
	}

	out := make([]RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		summary := RoomSummary{
			ID:           room.ID,
			Title:        room.Title,
			Type:         room.Type,
			CreationTime: room.CreationTime,
			UserID:       room.UserID,
		}

		var latest []messageRecord
		err := db.Preload("User").
			Where(map[string]any{"roomId": room.ID}).
			Order("id DESC").
			Limit(1).
			Find(&latest).Error
		if err != nil {
			return nil, persistenceError("list rooms", err)
		}
		if len(latest) == 1 {
			m := latest[0].toMessage()
			summary.Message = &m
		}
		out = append(out, summary)
	}
	return out, nil
}
