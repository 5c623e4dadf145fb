package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// MemoryStore keeps users and messages in process memory. It does not
// survive restarts; it exists for tests and local development.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]struct{}
	messages []Message
	clock    clock
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]struct{})}
}

func (s *MemoryStore) RegisterUser(_ context.Context, name string) error {
	name, err := NormalizeName(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[name]; ok {
		return ErrDuplicateName
	}
	s.users[name] = struct{}{}
	return nil
}

func (s *MemoryStore) ListUsers(_ context.Context) ([]string, error) {
	s.mu.RLock()
	names := lo.Keys(s.users)
	s.mu.RUnlock()

	sort.Strings(names)
	return names, nil
}

func (s *MemoryStore) UserExists(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[name]
	return ok, nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, username, content string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; !ok {
		return Message{}, ErrUnknownUser
	}

	msg := Message{
		ID:        uuid.New(),
		Username:  username,
		Content:   content,
		Timestamp: s.clock.now(),
	}
	s.messages = append(s.messages, msg)
	return msg, nil
}

func (s *MemoryStore) History(_ context.Context) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Return a copy to avoid race conditions
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
