package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidName is returned when a username is empty after trimming.
	ErrInvalidName = errors.New("invalid username")

	// ErrDuplicateName is returned when the username is already registered.
	ErrDuplicateName = errors.New("username already registered")

	// ErrUnknownUser is returned when a message is appended for a username
	// that was never registered.
	ErrUnknownUser = errors.New("unknown user")
)

// Message is a single chat entry as persisted and as served over the wire.
type Message struct {
	ID        uuid.UUID `json:"-"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is the durable state behind the chat backend: the set of registered
// usernames and the time-ordered message log.
type Store interface {
	// RegisterUser inserts a new username. The check and the insert are
	// atomic: of two concurrent registrations for the same name exactly one
	// succeeds, the other gets ErrDuplicateName.
	RegisterUser(ctx context.Context, name string) error

	// ListUsers returns every registered username, sorted.
	ListUsers(ctx context.Context) ([]string, error)

	// UserExists reports whether the username is registered.
	UserExists(ctx context.Context, name string) (bool, error)

	// AppendMessage assigns a server-side timestamp, persists the message
	// and returns the stored record. Timestamps are non-decreasing across
	// appends; ties keep arrival order.
	AppendMessage(ctx context.Context, username, content string) (Message, error)

	// History returns the full message log, oldest first.
	History(ctx context.Context) ([]Message, error)

	Close() error
}

// NormalizeName trims a username and rejects empty input. All backends run
// registrations through this before touching storage.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrInvalidName
	}
	return name, nil
}

// clock hands out non-decreasing timestamps so the message log never goes
// backwards even if the wall clock does.
type clock struct {
	mu   sync.Mutex
	last time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := time.Now().UTC()
	if t.Before(c.last) {
		t = c.last
	}
	c.last = t
	return t
}

// advancePast raises the clock floor, used when a backend recovers existing
// messages on startup.
func (c *clock) advancePast(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.last) {
		c.last = t
	}
}
