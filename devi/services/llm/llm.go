// devi/services/llm/llm.go
package llm

import (
	"context"
	httputils "devi/devi/utils/http"
	"devi/devi/utils/logging"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client is a chat completion backend.
type Client interface {
	Run(ctx context.Context, req ChatRequest) (string, error)
}

type ChatRequest struct {
	Model    string      `json:"model"`
	Messages []Message   `json:"messages"`
	Stream   bool        `json:"stream"`
	Options  interface{} `json:"options,omitempty"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatResponse struct {
	Message Message `json:"message"`
	Done    bool    `json:"done"`
}

// New picks the backend named by provider.
func New(provider, ollamaURL, groqKey, openAIKey string) (Client, error) {
	switch strings.ToLower(provider) {
	case "", "ollama":
		return NewOllamaClient(ollamaURL), nil
	case "groq":
		if groqKey == "" {
			return nil, fmt.Errorf("groq provider needs GROQ_API_KEY")
		}
		return NewGroqClient(groqKey), nil
	case "openai", "gpt":
		if openAIKey == "" {
			return nil, fmt.Errorf("openai provider needs OPENAI_API_KEY")
		}
		return NewGPTClient(openAIKey), nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", provider)
}

type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewOllamaClient(baseURL string) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434/api"
	}
	return &OllamaClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

func (c *OllamaClient) Run(ctx context.Context, req ChatRequest) (string, error) {
	defer logging.LogDuration(ctx, "llm_service_run")()
	req.Stream = false
	var resp ChatResponse
	if err := httputils.PostJSON(ctx, c.httpClient, c.baseURL+"/chat", req, &resp); err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}
