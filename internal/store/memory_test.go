package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Memory_Register_Uniqueness_Under_Concurrency(t *testing.T) {
	req := require.New(t)
	s := NewMemoryStore()
	ctx := context.Background()

	const attempts = 50
	results := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- s.RegisterUser(ctx, "alice")
		}()
	}
	wg.Wait()
	close(results)

	var successes int
	for err := range results {
		if err == nil {
			successes++
		} else {
			req.ErrorIs(err, ErrDuplicateName)
		}
	}
	req.Equal(1, successes)

	users, err := s.ListUsers(ctx)
	req.NoError(err)
	req.Equal([]string{"alice"}, users)
}

func Test_Memory_Append_And_History_Order(t *testing.T) {
	req := require.New(t)
	s := NewMemoryStore()
	ctx := context.Background()

	req.NoError(s.RegisterUser(ctx, "alice"))
	for i := 0; i < 10; i++ {
		_, err := s.AppendMessage(ctx, "alice", fmt.Sprintf("msg %d", i))
		req.NoError(err)
	}

	history, err := s.History(ctx)
	req.NoError(err)
	req.Len(history, 10)
	for i, msg := range history {
		req.Equal(fmt.Sprintf("msg %d", i), msg.Content)
		if i > 0 {
			req.False(msg.Timestamp.Before(history[i-1].Timestamp))
		}
	}
}

func Test_Memory_Append_Unknown_User(t *testing.T) {
	req := require.New(t)
	s := NewMemoryStore()

	_, err := s.AppendMessage(context.Background(), "ghost", "boo")
	req.ErrorIs(err, ErrUnknownUser)
}

func Test_Memory_History_Returns_Copy(t *testing.T) {
	req := require.New(t)
	s := NewMemoryStore()
	ctx := context.Background()

	req.NoError(s.RegisterUser(ctx, "alice"))
	_, err := s.AppendMessage(ctx, "alice", "original")
	req.NoError(err)

	history, err := s.History(ctx)
	req.NoError(err)
	history[0].Content = "tampered"

	history, err = s.History(ctx)
	req.NoError(err)
	req.Equal("original", history[0].Content)
}
