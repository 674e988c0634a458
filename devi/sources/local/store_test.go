package local

import (
	"context"
	"devi/devi/dispatch"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) (*Store, string) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	return s, dir
}

func Test_UserID_Is_Stable_Across_Reopen(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s, dir := openTestStore(t)

	first, err := s.UserID(ctx)
	req.NoError(err)
	req.NotEmpty(first)
	again, err := s.UserID(ctx)
	req.NoError(err)
	req.Equal(first, again)
	req.NoError(s.Close())

	reopened, err := Open(dir)
	req.NoError(err)
	defer reopened.Close()
	afterReopen, err := reopened.UserID(ctx)
	req.NoError(err)
	req.Equal(first, afterReopen)
}

func Test_History_Save_Load_Clear(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s, _ := openTestStore(t)
	defer s.Close()

	empty, err := s.Load(ctx)
	req.NoError(err)
	req.Empty(empty)

	now := time.Now().UTC().Truncate(time.Millisecond)
	msgs := []dispatch.Message{
		dispatch.NewUserMessage("will mercury be kind?", now),
		{ID: "1700000000000-0", Text: "patience", Timestamp: "3:04 PM", Status: dispatch.StatusRead, CreatedAt: now},
	}
	req.NoError(s.Save(ctx, msgs))

	loaded, err := s.Load(ctx)
	req.NoError(err)
	req.Len(loaded, 2)
	req.Equal(msgs[0].ID, loaded[0].ID)
	req.Equal("patience", loaded[1].Text)
	req.True(now.Equal(loaded[1].CreatedAt))

	req.NoError(s.Clear(ctx))
	cleared, err := s.Load(ctx)
	req.NoError(err)
	req.Empty(cleared)
}

func Test_Cancelled_Context(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.UserID(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
