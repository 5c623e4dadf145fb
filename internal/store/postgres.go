package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres error codes for unique and foreign key violations.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PostgresStore persists users and messages in Postgres.
type PostgresStore struct {
	pool  *pgxpool.Pool
	clock clock
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s := &PostgresStore{pool: pool}
	if err := s.InitSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if err := s.recoverClock(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) InitSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		name TEXT PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS messages (
		seq BIGSERIAL PRIMARY KEY,
		id UUID NOT NULL,
		username TEXT NOT NULL REFERENCES users(name),
		content TEXT NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages (timestamp, seq);
	`
	_, err := s.pool.Exec(ctx, query)
	return err
}

// recoverClock seeds the timestamp floor from the newest stored message so
// appends after a restart never sort before recovered history.
func (s *PostgresStore) recoverClock(ctx context.Context) error {
	var last *int64
	query := `SELECT (extract(epoch from max(timestamp)) * 1e9)::BIGINT FROM messages`
	if err := s.pool.QueryRow(ctx, query).Scan(&last); err != nil {
		return err
	}
	if last != nil {
		s.clock.advancePast(time.Unix(0, *last).UTC())
	}
	return nil
}

func (s *PostgresStore) RegisterUser(ctx context.Context, name string) error {
	name, err := NormalizeName(name)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `INSERT INTO users (name) VALUES ($1)`, name)
	if isPgError(err, pgUniqueViolation) {
		return ErrDuplicateName
	}
	if err != nil {
		return fmt.Errorf("register user: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT name FROM users ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *PostgresStore) UserExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM users WHERE name = $1)`
	if err := s.pool.QueryRow(ctx, query, name).Scan(&exists); err != nil {
		return false, fmt.Errorf("lookup user: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, username, content string) (Message, error) {
	msg := Message{
		Username:  username,
		Content:   content,
		Timestamp: s.clock.now(),
	}

	query := `INSERT INTO messages (id, username, content, timestamp)
		VALUES (gen_random_uuid(), $1, $2, $3)
		RETURNING id`
	err := s.pool.QueryRow(ctx, query, msg.Username, msg.Content, msg.Timestamp).Scan(&msg.ID)
	if isPgError(err, pgForeignKeyViolation) {
		return Message{}, ErrUnknownUser
	}
	if err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

func (s *PostgresStore) History(ctx context.Context) ([]Message, error) {
	query := `SELECT id, username, content, timestamp
		FROM messages
		ORDER BY timestamp, seq`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Username, &m.Content, &m.Timestamp); err != nil {
			return nil, err
		}
		m.Timestamp = m.Timestamp.UTC()
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func isPgError(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
