package dispatch

import (
	"devi/devi/utils/types"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

// TimestampLayout is the display format of Message.Timestamp.
const TimestampLayout = "3:04 PM"

// Message is one chat turn as shown in the thread.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	IsUser    bool      `json:"isUser"`
	Timestamp string    `json:"timestamp"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

func NewUserMessage(text string, now time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Text:      text,
		IsUser:    true,
		Timestamp: now.Format(TimestampLayout),
		Status:    StatusSending,
		CreatedAt: now,
	}
}

// NewAssistantMessages converts a model response into thread messages.
// The server id is an epoch-millisecond string; when it does not parse, fallback is used
// for the display time.
func NewAssistantMessages(resp types.ModelResponse, fallback time.Time) []Message {
	at := fallback
	if ms, err := strconv.ParseInt(resp.ID, 10, 64); err == nil {
		at = time.UnixMilli(ms)
	}
	msgs := make([]Message, 0, len(resp.Response))
	for i, text := range resp.Response {
		msgs = append(msgs, Message{
			ID:        fmt.Sprintf("%s-%d", resp.ID, i),
			Text:      text,
			IsUser:    false,
			Timestamp: at.Format(TimestampLayout),
			Status:    StatusRead,
			CreatedAt: at,
		})
	}
	return msgs
}
