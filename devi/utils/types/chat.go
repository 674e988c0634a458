// devi/utils/types/chat.go
package types

// Prompt is one user message inside a dispatched batch.
type Prompt struct {
	ID      string `json:"id" validate:"required"`
	Content string `json:"content" validate:"required"`
}

// ModelRequest is the body of POST <model-url>.
type ModelRequest struct {
	Prompts []Prompt `json:"prompts" validate:"required,min=1,dive"`
	UserID  string   `json:"userId" validate:"required"`
}

// ModelResponse carries the reply bubbles and the server epoch-millisecond id.
type ModelResponse struct {
	Response []string `json:"response"`
	ID       string   `json:"id"`
}

// For GET /chat/history
type ChatHistoryEntry struct {
	PromptID  string `json:"prompt_id,omitempty"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// WSFrame is one websocket message on /model/ws.
// Type is "reply" (Text set), "done" (ID set) or "error" (Error set).
type WSFrame struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	ID    string `json:"id,omitempty"`
	Error string `json:"error,omitempty"`
}
