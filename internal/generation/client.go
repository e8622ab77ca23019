package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client is a client for the external inference service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// GenerateRequest is one prompt for the model.
type GenerateRequest struct {
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

// GenerateResponse is the raw model output. Prediction may still contain
// the chat template around the assistant's reply.
type GenerateResponse struct {
	Prediction  string  `json:"prediction"`
	Probability float64 `json:"probability"`
}

const assistantToken = "<|assistant|>"

// Reply extracts the assistant's reply, dropping any echoed prompt template.
func (r *GenerateResponse) Reply() string {
	parts := strings.Split(r.Prediction, assistantToken)
	if len(parts) > 1 {
		return strings.TrimSpace(parts[len(parts)-1])
	}
	return r.Prediction
}

// NewClient creates a new inference service client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 120 * time.Second, // model inference can be slow
		},
	}
}

// Generate sends a prompt to the inference service.
func (c *Client) Generate(ctx context.Context, genReq GenerateRequest) (*GenerateResponse, error) {
	jsonData, err := json.Marshal(genReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference service returned status %d", resp.StatusCode)
	}

	var genResp GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &genResp, nil
}
