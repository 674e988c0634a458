// devi/services/inference/client.go
package inference

import (
	"context"
	httputils "devi/devi/utils/http"
	"devi/devi/utils/logging"
	"devi/devi/utils/types"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var ErrMalformedResponse = errors.New("malformed model response")

// Client talks to the remote model endpoint: POST {prompts, userId} -> {response, id}.
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient builds a client. timeout 0 keeps the transport default (no deadline).
func NewClient(url string, timeout time.Duration) *Client {
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Send posts the batch. Cancelling ctx aborts the request.
func (c *Client) Send(ctx context.Context, req types.ModelRequest) (*types.ModelResponse, error) {
	defer logging.LogDuration(ctx, "inference_send")()

	var resp types.ModelResponse
	if err := httputils.PostJSON(ctx, c.httpClient, c.url, req, &resp); err != nil {
		return nil, fmt.Errorf("post %s: %w", c.url, err)
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrMalformedResponse)
	}
	return &resp, nil
}
