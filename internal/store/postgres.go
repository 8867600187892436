package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgForeignKeyViolation is the SQLSTATE for a foreign key violation.
const pgForeignKeyViolation = "23503"

// Postgres is the pgx backed store.
type Postgres struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewPostgres connects to postgres and returns a pool wrapper.
func NewPostgres(ctx context.Context, url string, maxConns int32, log *slog.Logger) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, persistenceError("parse config", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, persistenceError("connect", err)
	}
	return &Postgres{pool: pool, log: log}, nil
}

// Ping verifies the database is reachable.
func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return persistenceError("ping", err)
	}
	return nil
}

// Close releases every pooled connection.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// The insert only runs when the author exists, so a missing user yields no
// rows instead of an orphaned message. A missing room trips the foreign key.
const insertMessageSQL = `
WITH author AS (
    SELECT u.id, u."displayName", u.picture
    FROM "user" u
    WHERE u.id = $1
), inserted AS (
    INSERT INTO chat_message ("roomId", "userId", text, type)
    SELECT $2, author.id, $3, 'text'
    FROM author
    RETURNING id, type, "creationTime"
)
SELECT inserted.id, inserted.type, inserted."creationTime",
       author.id, author."displayName", author.picture
FROM inserted, author`

// InsertMessage records a message and returns it with the author's profile
// in a single statement.
func (p *Postgres) InsertMessage(ctx context.Context, roomID, userID int64, text string) (Message, error) {
	var (
		msg    = Message{Text: text}
		author User
	)
	err := p.pool.QueryRow(ctx, insertMessageSQL, userID, roomID, text).Scan(
		&msg.ID, &msg.Type, &msg.CreationTime,
		&author.ID, &author.DisplayName, &author.Picture,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, persistenceError("insert message", ErrUserNotFound)
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return Message{}, persistenceError("insert message", ErrRoomNotFound)
		}
		return Message{}, persistenceError("insert message", err)
	}
	msg.User = &author

	p.log.Debug("message.inserted", "id", msg.ID, "room", roomID, "user", userID)
	return msg, nil
}

const roomHistorySQL = `
SELECT cr.id,
       cr.title,
       cr."creationTime",
       coalesce(
           json_agg(
               json_build_object(
                   'id', cm.id,
                   'text', cm.text,
                   'type', cm.type,
                   'creationTime', cm."creationTime",
                   'user', (
                       SELECT json_build_object('id', u.id, 'displayName', u."displayName", 'picture', u.picture)
                       FROM "user" u
                       WHERE u.id = cm."userId"
                   )
               ) ORDER BY cm."creationTime", cm.id
           ) FILTER (WHERE cm.id IS NOT NULL),
           '[]'::json
       ) AS messages
FROM chat_room cr
LEFT JOIN chat_message cm ON cr.id = cm."roomId"
WHERE cr.id = $1
GROUP BY cr.id`

// GetRoomHistory returns a room with all of its messages, oldest first.
func (p *Postgres) GetRoomHistory(ctx context.Context, roomID int64) (Room, error) {
	var (
		room Room
		raw  []byte
	)
	err := p.pool.QueryRow(ctx, roomHistorySQL, roomID).Scan(&room.ID, &room.Title, &room.CreationTime, &raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Room{}, ErrRoomNotFound
		}
		return Room{}, persistenceError("get room history", err)
	}
	if err := json.Unmarshal(raw, &room.Messages); err != nil {
		return Room{}, persistenceError("decode room history", err)
	}
	return room, nil
}

const listRoomsSQL = `
SELECT cr.id, cr.title, cr.type, cr."creationTime", cr."userId", latest.message
FROM chat_room cr
LEFT JOIN LATERAL (
    SELECT json_build_object(
               'id', cm.id,
               'text', cm.text,
               'type', cm.type,
               'creationTime', cm."creationTime",
               'user', (
                   SELECT json_build_object('id', u.id, 'displayName', u."displayName", 'picture', u.picture)
                   FROM "user" u
                   WHERE u.id = cm."userId"
               )
           ) AS message
    FROM chat_message cm
    WHERE cm."roomId" = cr.id
    ORDER BY cm.id DESC
    LIMIT 1
) latest ON TRUE
ORDER BY cr.id`

// ListRooms returns every room with its most recent message, if any.
func (p *Postgres) ListRooms(ctx context.Context) ([]RoomSummary, error) {
	rows, err := p.pool.Query(ctx, listRoomsSQL)
	if err != nil {
		return nil, persistenceError("list rooms", err)
	}
	defer rows.Close()

	out := []RoomSummary{}
	for rows.Next() {
		var (
			s   RoomSummary
			raw []byte
		)
		if err := rows.Scan(&s.ID, &s.Title, &s.Type, &s.CreationTime, &s.UserID, &raw); err != nil {
			return nil, persistenceError("list rooms", err)
		}
		if raw != nil {
			var m Message
			if err := json.Unmarshal(raw, &m); err != nil {
				return nil, persistenceError("decode latest message", err)
			}
			s.Message = &m
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("list rooms", err)
	}
	return out, nil
}
