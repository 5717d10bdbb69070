package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	fgerrors "github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/errors"
)

// HTTPClient calls an OpenAI-compatible /chat/completions endpoint.
type HTTPClient struct {
	baseURL string
	apiKey  string
	model   string
	timeout time.Duration
	client  *http.Client
	extra   map[string]any
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// NewHTTPClient creates a client for baseURL (for example
// "https://api.example.com/v1").
func NewHTTPClient(baseURL, apiKey string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		timeout: 60 * time.Second,
		client:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithModel sets the default model.
func WithModel(model string) HTTPOption {
	return func(c *HTTPClient) {
		c.model = model
	}
}

// WithTimeout sets the default per-call timeout.
func WithTimeout(d time.Duration) HTTPOption {
	return func(c *HTTPClient) {
		c.timeout = d
	}
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTPClient) {
		c.client = hc
	}
}

// WithExtraBody adds fields to every request body.
func WithExtraBody(fields map[string]any) HTTPOption {
	return func(c *HTTPClient) {
		c.extra = fields
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse is the decoded body of a chat completion. Extra fields some
// providers return alongside the choices are kept raw.
type ChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Citations     []string        `json:"citations,omitempty"`
	SearchResults json.RawMessage `json:"search_results,omitempty"`
}

// Complete implements Client.
func (c *HTTPClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	resp, _, err := c.Do(ctx, req)
	return resp, err
}

// Do performs the call and also returns the raw decoded body.
func (c *HTTPClient) Do(ctx context.Context, req CompletionRequest) (*CompletionResponse, *ChatResponse, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	model := req.Model
	if model == "" {
		model = c.model
	}

	messages := make([]chatMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: string(RoleSystem), Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		messages = append(messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	body := map[string]any{
		"model":    model,
		"messages": messages,
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}
	if req.TopP > 0 {
		body["top_p"] = req.TopP
	}
	for k, v := range c.extra {
		body[k] = v
	}
	for k, v := range req.Options {
		body[k] = v
	}

	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, nil, fmt.Errorf("encode request: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, nil, &fgerrors.TimeoutError{Operation: "chat completion", Duration: timeout}
		}
		return nil, nil, fgerrors.Transient(err, "chat completion")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fgerrors.Transient(err, "read chat completion")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, &fgerrors.HTTPError{
			StatusCode: resp.StatusCode,
			Message:    truncate(string(data), 512),
			Endpoint:   endpoint,
		}
	}

	var decoded ChatResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, nil, &fgerrors.JSONParseError{Input: truncate(string(data), 512), Message: err.Error()}
	}
	if len(decoded.Choices) == 0 {
		return nil, nil, &fgerrors.JSONParseError{Input: truncate(string(data), 512), Message: "no choices in response"}
	}

	out := &CompletionResponse{
		Content:      decoded.Choices[0].Message.Content,
		Model:        decoded.Model,
		FinishReason: decoded.Choices[0].FinishReason,
		Duration:     time.Since(start),
		Usage: TokenUsage{
			InputTokens:  decoded.Usage.PromptTokens,
			OutputTokens: decoded.Usage.CompletionTokens,
			TotalTokens:  decoded.Usage.TotalTokens,
		},
	}
	return out, &decoded, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
