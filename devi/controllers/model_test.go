package controllers

import (
	"context"
	"devi/devi/sources/psql/models"
	"devi/devi/sources/storage"
	"devi/devi/utils/types"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeReplier struct {
	replies []string
	err     error
	got     []types.Prompt
}

func (f *fakeReplier) Reply(ctx context.Context, userID string, prompts []types.Prompt) ([]string, error) {
	f.got = prompts
	return f.replies, f.err
}

type memoryChats struct {
	mu      sync.Mutex
	rows    []models.ChatMessage
	saveErr error
}

func (m *memoryChats) SaveMessages(ctx context.Context, msgs []models.ChatMessage) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, msgs...)
	return nil
}

func (m *memoryChats) HistoryByUser(ctx context.Context, userID string) ([]models.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ChatMessage
	for _, r := range m.rows {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memoryChats) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.rows[:0]
	var n int64
	for _, r := range m.rows {
		if r.UserID == userID {
			n++
			continue
		}
		kept = append(kept, r)
	}
	m.rows = kept
	return n, nil
}

type memoryArchive struct {
	objects map[string]storage.ExchangeObject
	err     error
}

func newMemoryArchive() *memoryArchive {
	return &memoryArchive{objects: map[string]storage.ExchangeObject{}}
}

func (a *memoryArchive) UploadExchange(ctx context.Context, obj storage.ExchangeObject) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	key := storage.ExchangeKey(obj)
	a.objects[key] = obj
	return key, nil
}

func (a *memoryArchive) GetExchange(ctx context.Context, key string) (*storage.ExchangeObject, error) {
	obj, ok := a.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrExchangeNotFound, key)
	}
	return &obj, nil
}

func batch(contents ...string) types.ModelRequest {
	req := types.ModelRequest{UserID: "user-1"}
	for i, c := range contents {
		req.Prompts = append(req.Prompts, types.Prompt{ID: fmt.Sprintf("p%d", i), Content: c})
	}
	return req
}

func TestRespond_ReturnsRepliesAndEpochID(t *testing.T) {
	req := require.New(t)
	agent := &fakeReplier{replies: []string{"the moon listens", "rest tonight"}}
	chats := &memoryChats{}
	archive := newMemoryArchive()
	ctrl := NewModelController(agent, chats, archive)
	fixed := time.UnixMilli(1700000000000)
	ctrl.now = func() time.Time { return fixed }

	resp, err := ctrl.Respond(context.Background(), batch("hello", "am I ok?"))
	req.NoError(err)
	req.Equal([]string{"the moon listens", "rest tonight"}, resp.Response)
	req.Equal("1700000000000", resp.ID)
	req.Len(agent.got, 2)

	req.Len(chats.rows, 4)
	req.Equal("user", chats.rows[0].Role)
	req.Equal("p0", chats.rows[0].PromptID)
	req.Equal("assistant", chats.rows[3].Role)
	req.Equal("1700000000000", chats.rows[3].ResponseID)

	obj, ok := archive.objects["exchanges/user-1/2023-11-14/1700000000000.json"]
	req.True(ok)
	req.Equal([]string{"the moon listens", "rest tonight"}, obj.Replies)
}

func TestRespond_RejectsInvalidBatches(t *testing.T) {
	ctrl := NewModelController(&fakeReplier{replies: []string{"x"}}, nil, nil)
	cases := map[string]types.ModelRequest{
		"no prompts":    {UserID: "u"},
		"no user":       {Prompts: []types.Prompt{{ID: "a", Content: "hi"}}},
		"empty content": {UserID: "u", Prompts: []types.Prompt{{ID: "a"}}},
		"missing id":    {UserID: "u", Prompts: []types.Prompt{{Content: "hi"}}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ctrl.Respond(context.Background(), tc)
			require.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestRespond_AgentErrorPropagates(t *testing.T) {
	boom := errors.New("model offline")
	chats := &memoryChats{}
	ctrl := NewModelController(&fakeReplier{err: boom}, chats, nil)

	_, err := ctrl.Respond(context.Background(), batch("hello"))
	require.ErrorIs(t, err, boom)
	require.Empty(t, chats.rows)
}

func TestRespond_StorageFailuresDoNotFailTheReply(t *testing.T) {
	req := require.New(t)
	archive := newMemoryArchive()
	archive.err = errors.New("bucket gone")
	ctrl := NewModelController(&fakeReplier{replies: []string{"still here"}}, &memoryChats{saveErr: errors.New("db down")}, archive)

	resp, err := ctrl.Respond(context.Background(), batch("hello"))
	req.NoError(err)
	req.Equal([]string{"still here"}, resp.Response)
	req.False(strings.HasPrefix(resp.ID, "-"))
}
