package directory

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
    id       text PRIMARY KEY,
    username text NOT NULL CHECK (length(username) > 0)
);

CREATE TABLE IF NOT EXISTS messages (
    id              bigserial PRIMARY KEY,
    sender_id       text NOT NULL,
    sender_username text NOT NULL DEFAULT '',
    receiver_id     text NOT NULL,
    content         text NOT NULL DEFAULT '',
    message_type    text NOT NULL DEFAULT 'text',
    file_url        text,
    created_at      timestamptz NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS messages_pair_idx
ON messages (sender_id, receiver_id, id);
`

// PostgresStore persists the directory in PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Service = (*PostgresStore)(nil)

// NewPostgresStore connects to dsn, pings and runs the schema migration.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "postgres: ping")
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "postgres: migrate")
	}
	return &PostgresStore{pool: pool}, nil
}

// PersistMessage inserts msg; the database assigns id and created_at.
func (s *PostgresStore) PersistMessage(ctx context.Context, msg Message) (Message, error) {
	msg, err := validateMessage(msg)
	if err != nil {
		return msg, err
	}

	var (
		id        int64
		createdAt time.Time
	)
	err = s.pool.QueryRow(ctx,
		`INSERT INTO messages (sender_id, sender_username, receiver_id, content, message_type, file_url)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		msg.SenderID, msg.SenderUsername, msg.ReceiverID, msg.Content, msg.MessageType, msg.FileURL,
	).Scan(&id, &createdAt)
	if err != nil {
		return msg, errors.Wrap(err, "postgres: insert message")
	}

	msg.ID = strconv.FormatInt(id, 10)
	msg.CreatedAt = stamp(createdAt)
	return msg, nil
}

// FetchConversation returns the first limit messages of the pair, oldest first.
func (s *PostgresStore) FetchConversation(ctx context.Context, userA, userB string, limit int) ([]Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, sender_id, sender_username, receiver_id, content, message_type, file_url, created_at
		 FROM messages
		 WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
		 ORDER BY created_at ASC, id ASC
		 LIMIT $3`,
		userA, userB, normalizeLimit(limit),
	)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: query conversation")
	}
	defer rows.Close()

	out := []Message{}
	for rows.Next() {
		var (
			m         Message
			id        int64
			createdAt time.Time
		)
		if err := rows.Scan(&id, &m.SenderID, &m.SenderUsername, &m.ReceiverID, &m.Content, &m.MessageType, &m.FileURL, &createdAt); err != nil {
			return nil, errors.Wrap(err, "postgres: scan message")
		}
		m.ID = strconv.FormatInt(id, 10)
		m.CreatedAt = stamp(createdAt)
		out = append(out, m)
	}
	return out, errors.Wrap(rows.Err(), "postgres: iterate conversation")
}

// ListUsers returns every user ordered by username.
func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, username FROM users ORDER BY username, id`)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: query users")
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username); err != nil {
			return nil, errors.Wrap(err, "postgres: scan user")
		}
		out = append(out, u)
	}
	return out, errors.Wrap(rows.Err(), "postgres: iterate users")
}

// CreateUser upserts u.
func (s *PostgresStore) CreateUser(ctx context.Context, u User) error {
	if err := validateUser(u); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, username) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username`,
		u.ID, u.Username,
	)
	return errors.Wrap(err, "postgres: upsert user")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
