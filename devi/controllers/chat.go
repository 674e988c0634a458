// devi/controllers/chat.go
package controllers

import (
	"context"
	"devi/devi/sources/psql/models"
	"devi/devi/sources/storage"
	"devi/devi/utils/types"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/samber/lo"
)

var (
	ErrHistoryUnavailable = errors.New("chat history is not configured")
	ErrArchiveUnavailable = errors.New("exchange archive is not configured")
)

type ExchangeReader interface {
	GetExchange(ctx context.Context, key string) (*storage.ExchangeObject, error)
}

type ChatController struct {
	chats   ChatStore
	archive ExchangeReader
}

// NewChatController serves stored history. Either dependency may be nil.
func NewChatController(chats ChatStore, archive ExchangeReader) *ChatController {
	return &ChatController{chats: chats, archive: archive}
}

func (c *ChatController) History(ctx context.Context, userID string) ([]types.ChatHistoryEntry, error) {
	if c.chats == nil {
		return nil, ErrHistoryUnavailable
	}
	msgs, err := c.chats.HistoryByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return lo.Map(msgs, func(m models.ChatMessage, _ int) types.ChatHistoryEntry {
		return types.ChatHistoryEntry{
			PromptID:  m.PromptID,
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: m.CreatedAt.Format(time.RFC3339),
		}
	}), nil
}

func (c *ChatController) ClearHistory(ctx context.Context, userID string) (int64, error) {
	if c.chats == nil {
		return 0, ErrHistoryUnavailable
	}
	return c.chats.DeleteByUser(ctx, userID)
}

// Exchange returns the archived round trip answered with responseID. The id is
// the epoch-millisecond stamp the model endpoint issued, which also dates the key.
func (c *ChatController) Exchange(ctx context.Context, userID, responseID string) (*storage.ExchangeObject, error) {
	if c.archive == nil {
		return nil, ErrArchiveUnavailable
	}
	ms, err := strconv.ParseInt(responseID, 10, 64)
	if err != nil || ms <= 0 {
		return nil, fmt.Errorf("%w: response id %q", ErrInvalidRequest, responseID)
	}
	key := storage.ExchangeKey(storage.ExchangeObject{
		UserID:     userID,
		ResponseID: responseID,
		Timestamp:  time.UnixMilli(ms),
	})
	return c.archive.GetExchange(ctx, key)
}
