package core

import (
	"context"
	"devi/devi/agents/configs"
	"devi/devi/services/llm"
	"devi/devi/sources/psql/models"
	"devi/devi/utils/jsonutils"
	"devi/devi/utils/logging"
	"devi/devi/utils/types"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

const DefaultModel = "llama3:8b"

type HistorySource interface {
	RecentByUser(ctx context.Context, userID string, limit int) ([]models.ChatMessage, error)
}

type HoroscopeSource interface {
	Today(ctx context.Context, sign string) (string, error)
}

// DeviAgent turns a batch of user prompts into a handful of chat bubbles.
type DeviAgent struct {
	LLM    llm.Client
	Model  string
	Config *configs.PersonaConfig

	history   HistorySource
	horoscope HoroscopeSource
	sign      string
}

func NewDeviAgent(client llm.Client, model string, cfg *configs.PersonaConfig, history HistorySource, horoscope HoroscopeSource, sign string) *DeviAgent {
	if model == "" {
		model = DefaultModel
	}
	if cfg == nil {
		cfg = configs.DefaultPersona()
	}
	agent := &DeviAgent{
		LLM:       client,
		Model:     model,
		Config:    cfg,
		history:   history,
		horoscope: horoscope,
		sign:      sign,
	}
	logging.AppLogger.Info("DeviAgent initialized",
		zap.String("agent_name", cfg.AgentName),
		zap.String("model", model),
	)
	return agent
}

// Reply asks the model and returns the bubbles in display order. It never returns an
// empty slice without an error.
func (a *DeviAgent) Reply(ctx context.Context, userID string, prompts []types.Prompt) ([]string, error) {
	defer logging.LogDuration(ctx, "devi_agent_reply")()

	req := llm.ChatRequest{
		Model:    a.Model,
		Messages: []llm.Message{{Role: "system", Content: a.systemPrompt(ctx)}},
	}
	req.Messages = append(req.Messages, a.pastTurns(ctx, userID)...)
	for _, p := range prompts {
		req.Messages = append(req.Messages, llm.Message{Role: "user", Content: p.Content})
	}

	raw, err := a.LLM.Run(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("llm run: %w", err)
	}
	bubbles := SplitReply(raw, a.Config.MaxMessages)
	if len(bubbles) == 0 {
		logging.AppLogger.Warn("empty model reply, using fallback", zap.String("user_id", userID))
		bubbles = []string{a.Config.FallbackReply}
	}
	return bubbles, nil
}

func (a *DeviAgent) systemPrompt(ctx context.Context) string {
	r := strings.NewReplacer("{{name}}", a.Config.AgentName, "{{role}}", a.Config.AgentRole)
	parts := []string{r.Replace(a.Config.SystemPrompt)}

	if a.horoscope != nil && a.sign != "" {
		text, err := a.horoscope.Today(ctx, a.sign)
		if err != nil {
			logging.AppLogger.Warn("horoscope unavailable", zap.String("sign", a.sign), zap.Error(err))
		} else if text != "" {
			parts = append(parts, strings.ReplaceAll(a.Config.HoroscopePrompt, "{{horoscope}}", text))
		}
	}
	parts = append(parts, a.Config.OutputFormat)
	return strings.Join(lo.Compact(parts), "\n\n")
}

func (a *DeviAgent) pastTurns(ctx context.Context, userID string) []llm.Message {
	if a.history == nil || a.Config.HistoryTurns <= 0 {
		return nil
	}
	past, err := a.history.RecentByUser(ctx, userID, a.Config.HistoryTurns)
	if err != nil {
		logging.ErrorLogger.Error("history lookup failed", zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	return lo.Map(past, func(m models.ChatMessage, _ int) llm.Message {
		return llm.Message{Role: m.Role, Content: m.Content}
	})
}

// SplitReply breaks model output into chat bubbles. A JSON string array is used as is;
// otherwise blank-line separated paragraphs. Overflow beyond max is folded into the last bubble.
func SplitReply(raw string, max int) []string {
	var bubbles []string
	if arr, ok := jsonutils.ParseStringArray(raw); ok {
		bubbles = arr
	} else {
		bubbles = strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n\n")
	}
	bubbles = lo.FilterMap(bubbles, func(s string, _ int) (string, bool) {
		s = strings.TrimSpace(s)
		return s, s != ""
	})
	if max > 0 && len(bubbles) > max {
		tail := strings.Join(bubbles[max-1:], " ")
		bubbles = append(bubbles[:max-1], tail)
	}
	return bubbles
}
