package models

import (
	"time"
)

// ChatMessage is one stored turn of a user's conversation with Devi.
type ChatMessage struct {
	ID         uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID     string    `json:"user_id" gorm:"type:varchar(64);not null;index:idx_chat_user_created"`
	PromptID   string    `json:"prompt_id,omitempty" gorm:"type:varchar(64)"`
	ResponseID string    `json:"response_id,omitempty" gorm:"type:varchar(32);index"`
	Role       string    `json:"role" gorm:"type:varchar(16);not null"`
	Content    string    `json:"content" gorm:"type:text;not null"`
	CreatedAt  time.Time `json:"created_at" gorm:"not null;index:idx_chat_user_created"`
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}
