package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const (
	userPrefix = "user:"
	msgPrefix  = "msg:"
)

// BadgerStore persists users and messages in an embedded BadgerDB.
//
// Message keys are "msg:{timestamp_padded}:{uuid}". The 19-digit zero
// padding makes lexicographic key order equal chronological order, and the
// uuid disambiguates two messages stored in the same nanosecond.
type BadgerStore struct {
	db    *badger.DB
	log   *slog.Logger
	clock clock
}

func NewBadgerStore(path string, log *slog.Logger) (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}

	s := &BadgerStore{db: db, log: log}
	if err := s.recoverClock(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// recoverClock seeds the timestamp floor from the newest stored message so
// appends after a restart never sort before recovered history.
func (s *BadgerStore) recoverClock() error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek past every possible message key, then step back onto the
		// newest one.
		it.Seek([]byte(msgPrefix + "9999999999999999999:"))
		if !it.ValidForPrefix([]byte(msgPrefix)) {
			return nil
		}
		key := string(it.Item().Key())
		if len(key) < len(msgPrefix)+19 {
			s.log.Warn("Skipping unparsable message key during recovery", "key", key)
			return nil
		}
		nanos, err := strconv.ParseInt(key[len(msgPrefix):len(msgPrefix)+19], 10, 64)
		if err != nil {
			s.log.Warn("Skipping unparsable message key during recovery", "key", key)
			return nil
		}
		s.clock.advancePast(time.Unix(0, nanos).UTC())
		return nil
	})
}

func (s *BadgerStore) RegisterUser(_ context.Context, name string) error {
	name, err := NormalizeName(name)
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		key := []byte(userPrefix + name)
		if _, err := txn.Get(key); err == nil {
			return ErrDuplicateName
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(key, []byte(name))
	})
	if err == ErrDuplicateName {
		return err
	}
	if err != nil {
		return fmt.Errorf("register user: %w", err)
	}
	return nil
}

func (s *BadgerStore) ListUsers(_ context.Context) ([]string, error) {
	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(userPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			names = append(names, string(it.Item().Key()[len(userPrefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	// Badger iterates keys in byte order, already sorted.
	return names, nil
}

func (s *BadgerStore) UserExists(_ context.Context, name string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(userPrefix + name))
		return err
	})
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup user: %w", err)
	}
	return true, nil
}

// diskMessage is the stored representation; timestamps are kept as
// nanoseconds to round-trip exactly.
type diskMessage struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	Content  string    `json:"content"`
	AtNanos  int64     `json:"at"`
}

func (s *BadgerStore) AppendMessage(_ context.Context, username, content string) (Message, error) {
	msg := Message{
		ID:       uuid.New(),
		Username: username,
		Content:  content,
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(userPrefix + username)); err == badger.ErrKeyNotFound {
			return ErrUnknownUser
		} else if err != nil {
			return err
		}

		msg.Timestamp = s.clock.now()
		key := fmt.Sprintf("%s%019d:%s", msgPrefix, msg.Timestamp.UnixNano(), msg.ID)
		value, err := json.Marshal(diskMessage{
			ID:       msg.ID,
			Username: msg.Username,
			Content:  msg.Content,
			AtNanos:  msg.Timestamp.UnixNano(),
		})
		if err != nil {
			return err
		}
		return txn.Set([]byte(key), value)
	})
	if err == ErrUnknownUser {
		return Message{}, err
	}
	if err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

func (s *BadgerStore) History(_ context.Context) ([]Message, error) {
	var messages []Message
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(msgPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(value []byte) error {
				var dm diskMessage
				if err := json.Unmarshal(value, &dm); err != nil {
					s.log.Warn("Skipping corrupt message record", "key", string(it.Item().Key()))
					return nil
				}
				messages = append(messages, Message{
					ID:        dm.ID,
					Username:  dm.Username,
					Content:   dm.Content,
					Timestamp: time.Unix(0, dm.AtNanos).UTC(),
				})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return messages, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }
