// devi/services/llm/groq_client.go
package llm

import (
	"context"
	httputils "devi/devi/utils/http"
	"devi/devi/utils/logging"
	"fmt"
	"net/http"
	"time"
)

type GroqClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewGroqClient returns a client pointing to the Groq OpenAI-compatible endpoint.
func NewGroqClient(apiKey string) *GroqClient {
	return &GroqClient{
		baseURL:    "https://api.groq.com/openai/v1",
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: time.Minute},
	}
}

// Run (non-streaming) chat completion
func (c *GroqClient) Run(ctx context.Context, req ChatRequest) (string, error) {
	defer logging.LogDuration(ctx, "groq_service_run")()

	url := fmt.Sprintf("%s/chat/completions", c.baseURL)
	req.Stream = false

	var resp struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		Created int64  `json:"created"`
		Model   string `json:"model"`
		Choices []struct {
			Message Message `json:"message"`
		} `json:"choices"`
	}

	if err := httputils.PostJSONWithAuth(ctx, c.httpClient, url, c.apiKey, req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) > 0 {
		return resp.Choices[0].Message.Content, nil
	}
	return "", fmt.Errorf("no choices returned")
}
