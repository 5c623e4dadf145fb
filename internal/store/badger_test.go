package store

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func openBadger(t *testing.T, dir string) *BadgerStore {
	t.Helper()
	s, err := NewBadgerStore(dir, slog.Default())
	require.NoError(t, err)
	return s
}

func Test_Badger_Register_And_List(t *testing.T) {
	req := require.New(t)
	s := openBadger(t, t.TempDir())
	defer s.Close()

	ctx := context.Background()
	req.NoError(s.RegisterUser(ctx, "clara"))
	req.NoError(s.RegisterUser(ctx, "alice"))
	req.NoError(s.RegisterUser(ctx, "bob"))

	users, err := s.ListUsers(ctx)
	req.NoError(err)
	req.Equal([]string{"alice", "bob", "clara"}, users)

	exists, err := s.UserExists(ctx, "alice")
	req.NoError(err)
	req.True(exists)

	exists, err = s.UserExists(ctx, "nobody")
	req.NoError(err)
	req.False(exists)
}

func Test_Badger_Register_Duplicate(t *testing.T) {
	req := require.New(t)
	s := openBadger(t, t.TempDir())
	defer s.Close()

	ctx := context.Background()
	req.NoError(s.RegisterUser(ctx, "alice"))
	req.ErrorIs(s.RegisterUser(ctx, "alice"), ErrDuplicateName)

	// Case-sensitive exact match: a different casing is a different user.
	req.NoError(s.RegisterUser(ctx, "Alice"))
}

func Test_Badger_Register_Invalid(t *testing.T) {
	req := require.New(t)
	s := openBadger(t, t.TempDir())
	defer s.Close()

	ctx := context.Background()
	req.ErrorIs(s.RegisterUser(ctx, ""), ErrInvalidName)
	req.ErrorIs(s.RegisterUser(ctx, "   "), ErrInvalidName)

	// Registration trims before storing.
	req.NoError(s.RegisterUser(ctx, "  alice  "))
	exists, err := s.UserExists(ctx, "alice")
	req.NoError(err)
	req.True(exists)
}

func Test_Badger_Append_Unknown_User(t *testing.T) {
	req := require.New(t)
	s := openBadger(t, t.TempDir())
	defer s.Close()

	_, err := s.AppendMessage(context.Background(), "ghost", "boo")
	req.ErrorIs(err, ErrUnknownUser)
}

func Test_Badger_History_Keeps_Append_Order(t *testing.T) {
	req := require.New(t)
	s := openBadger(t, t.TempDir())
	defer s.Close()

	ctx := context.Background()
	req.NoError(s.RegisterUser(ctx, "alice"))

	contents := []string{"first", "second", "third", "fourth"}
	for _, c := range contents {
		_, err := s.AppendMessage(ctx, "alice", c)
		req.NoError(err)
	}

	history, err := s.History(ctx)
	req.NoError(err)
	req.Len(history, len(contents))
	for i, msg := range history {
		req.Equal(contents[i], msg.Content)
		req.Equal("alice", msg.Username)
		if i > 0 {
			req.False(msg.Timestamp.Before(history[i-1].Timestamp))
		}
	}
}

func Test_Badger_History_Survives_Reopen(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()
	ctx := context.Background()

	s := openBadger(t, dir)
	req.NoError(s.RegisterUser(ctx, "alice"))
	_, err := s.AppendMessage(ctx, "alice", "before restart")
	req.NoError(err)
	req.NoError(s.Close())

	s = openBadger(t, dir)
	defer s.Close()

	users, err := s.ListUsers(ctx)
	req.NoError(err)
	req.Equal([]string{"alice"}, users)

	history, err := s.History(ctx)
	req.NoError(err)
	req.Len(history, 1)
	req.Equal("before restart", history[0].Content)

	// New appends sort after recovered history.
	_, err = s.AppendMessage(ctx, "alice", "after restart")
	req.NoError(err)
	history, err = s.History(ctx)
	req.NoError(err)
	req.Len(history, 2)
	req.Equal("after restart", history[1].Content)
	req.False(history[1].Timestamp.Before(history[0].Timestamp))
}
