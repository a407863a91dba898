package directory

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const sqliteTimeLayout = time.RFC3339Nano

// SQLiteStore persists the directory in a SQLite database file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Service = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path and runs migrations.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite: open")
	}

	// Concurrent writers on one file serialize through a single connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, errors.Wrapf(err, "sqlite: %s", p)
		}
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "sqlite: migrate")
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id       TEXT PRIMARY KEY,
		username TEXT NOT NULL CHECK(length(username) > 0)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		sender_id       TEXT NOT NULL,
		sender_username TEXT NOT NULL DEFAULT '',
		receiver_id     TEXT NOT NULL,
		content         TEXT NOT NULL DEFAULT '',
		message_type    TEXT NOT NULL DEFAULT 'text',
		file_url        TEXT,
		created_at      TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender_id, receiver_id, id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// PersistMessage inserts msg and returns it with the assigned id and time.
func (s *SQLiteStore) PersistMessage(ctx context.Context, msg Message) (Message, error) {
	msg, err := validateMessage(msg)
	if err != nil {
		return msg, err
	}

	createdAt := stamp(s.now())
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (sender_id, sender_username, receiver_id, content, message_type, file_url, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.SenderID, msg.SenderUsername, msg.ReceiverID, msg.Content, msg.MessageType,
		nullString(msg.FileURL), createdAt.Format(sqliteTimeLayout),
	)
	if err != nil {
		return msg, errors.Wrap(err, "sqlite: insert message")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return msg, errors.Wrap(err, "sqlite: message id")
	}
	msg.ID = strconv.FormatInt(id, 10)
	msg.CreatedAt = createdAt
	return msg, nil
}

// FetchConversation returns the first limit messages of the pair, oldest first.
func (s *SQLiteStore) FetchConversation(ctx context.Context, userA, userB string, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sender_id, sender_username, receiver_id, content, message_type, file_url, created_at
		 FROM messages
		 WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		 ORDER BY id ASC
		 LIMIT ?`,
		userA, userB, userB, userA, normalizeLimit(limit),
	)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite: query conversation")
	}
	defer func() { _ = rows.Close() }()

	out := []Message{}
	for rows.Next() {
		var (
			m         Message
			id        int64
			fileURL   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&id, &m.SenderID, &m.SenderUsername, &m.ReceiverID, &m.Content, &m.MessageType, &fileURL, &createdAt); err != nil {
			return nil, errors.Wrap(err, "sqlite: scan message")
		}
		m.ID = strconv.FormatInt(id, 10)
		if fileURL.Valid {
			v := fileURL.String
			m.FileURL = &v
		}
		if t, err := time.Parse(sqliteTimeLayout, createdAt); err == nil {
			m.CreatedAt = &t
		}
		out = append(out, m)
	}
	return out, errors.Wrap(rows.Err(), "sqlite: iterate conversation")
}

// ListUsers returns every user ordered by username.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, username FROM users ORDER BY username, id`)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite: query users")
	}
	defer func() { _ = rows.Close() }()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username); err != nil {
			return nil, errors.Wrap(err, "sqlite: scan user")
		}
		out = append(out, u)
	}
	return out, errors.Wrap(rows.Err(), "sqlite: iterate users")
}

// CreateUser upserts u.
func (s *SQLiteStore) CreateUser(ctx context.Context, u User) error {
	if err := validateUser(u); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET username = excluded.username`,
		u.ID, u.Username,
	)
	return errors.Wrap(err, "sqlite: upsert user")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
