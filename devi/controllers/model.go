// devi/controllers/model.go
package controllers

import (
	"context"
	"devi/devi/metrics"
	"devi/devi/sources/psql/models"
	"devi/devi/sources/storage"
	"devi/devi/utils/logging"
	"devi/devi/utils/types"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var ErrInvalidRequest = errors.New("invalid request")

type Replier interface {
	Reply(ctx context.Context, userID string, prompts []types.Prompt) ([]string, error)
}

type ChatStore interface {
	SaveMessages(ctx context.Context, msgs []models.ChatMessage) error
	HistoryByUser(ctx context.Context, userID string) ([]models.ChatMessage, error)
	DeleteByUser(ctx context.Context, userID string) (int64, error)
}

type Archiver interface {
	UploadExchange(ctx context.Context, obj storage.ExchangeObject) (string, error)
}

// ModelController serves the batch endpoint the chat client dispatches to.
type ModelController struct {
	agent    Replier
	chats    ChatStore
	archive  Archiver
	validate *validator.Validate
	now      func() time.Time
}

// NewModelController wires the endpoint. chats and archive are optional.
func NewModelController(agent Replier, chats ChatStore, archive Archiver) *ModelController {
	return &ModelController{
		agent:    agent,
		chats:    chats,
		archive:  archive,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
	}
}

func (c *ModelController) Respond(ctx context.Context, req types.ModelRequest) (*types.ModelResponse, error) {
	if err := c.validate.Struct(req); err != nil {
		metrics.ModelRequests.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	metrics.PromptsReceived.Add(float64(len(req.Prompts)))
	metrics.BatchSize.Observe(float64(len(req.Prompts)))

	replies, err := c.agent.Reply(ctx, req.UserID, req.Prompts)
	if err != nil {
		metrics.ModelRequests.WithLabelValues("error").Inc()
		logging.ErrorLogger.Error("agent reply failed", zap.String("user_id", req.UserID), zap.Error(err))
		return nil, err
	}

	now := c.now()
	resp := &types.ModelResponse{
		Response: replies,
		ID:       strconv.FormatInt(now.UnixMilli(), 10),
	}
	c.record(ctx, req, resp, now)

	metrics.ModelRequests.WithLabelValues("ok").Inc()
	metrics.RepliesSent.Add(float64(len(replies)))
	logging.AppLogger.Info("batch answered",
		zap.String("user_id", req.UserID),
		zap.Int("prompts", len(req.Prompts)),
		zap.Int("replies", len(replies)),
		zap.String("response_id", resp.ID),
	)
	return resp, nil
}

// record stores and archives the exchange. Failures are logged, the reply still goes out.
func (c *ModelController) record(ctx context.Context, req types.ModelRequest, resp *types.ModelResponse, now time.Time) {
	if c.chats != nil {
		rows := make([]models.ChatMessage, 0, len(req.Prompts)+len(resp.Response))
		for _, p := range req.Prompts {
			rows = append(rows, models.ChatMessage{
				UserID: req.UserID, PromptID: p.ID, Role: "user", Content: p.Content, CreatedAt: now,
			})
		}
		for _, text := range resp.Response {
			rows = append(rows, models.ChatMessage{
				UserID: req.UserID, ResponseID: resp.ID, Role: "assistant", Content: text, CreatedAt: now,
			})
		}
		if err := c.chats.SaveMessages(ctx, rows); err != nil {
			logging.ErrorLogger.Error("saving exchange failed", zap.String("user_id", req.UserID), zap.Error(err))
		}
	}

	if c.archive != nil {
		key, err := c.archive.UploadExchange(ctx, storage.ExchangeObject{
			UserID:     req.UserID,
			ResponseID: resp.ID,
			Prompts:    req.Prompts,
			Replies:    resp.Response,
			Timestamp:  now,
		})
		if err != nil {
			metrics.ArchiveFailures.Inc()
			logging.ErrorLogger.Error("archiving exchange failed", zap.String("user_id", req.UserID), zap.Error(err))
			return
		}
		logging.AppLogger.Debug("exchange archived", zap.String("key", key))
	}
}
