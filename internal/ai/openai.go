package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var ErrMissingAPIKey = errors.New("missing API key")

// OpenAIClient talks to any OpenAI-compatible /v1/chat/completions endpoint.
// The endpoint base URL and model come with every request so one client
// serves the whole model registry.
type OpenAIClient struct {
	http   *http.Client
	apiKey string
}

// NewOpenAIClient builds a client. Per-call deadlines come from Request.Timeout,
// so hc normally has no client-level timeout; nil means a fresh http.Client.
func NewOpenAIClient(apiKey string, hc *http.Client) *OpenAIClient {
	if hc == nil {
		hc = &http.Client{}
	}
	return &OpenAIClient{http: hc, apiKey: apiKey}
}

type openAIChatReq struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type openAIChatResp struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// ChatURL joins a base URL with the chat-completions path, tolerating a
// trailing slash or a base that already ends in /v1.
func ChatURL(base string) string {
	base = strings.TrimRight(base, "/")
	if strings.HasSuffix(base, "/v1") {
		return base + "/chat/completions"
	}
	return base + "/v1/chat/completions"
}

func (c *OpenAIClient) Do(ctx context.Context, req Request) (Response, error) {
	if c.apiKey == "" {
		return Response{}, ErrMissingAPIKey
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	payload := openAIChatReq{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, ChatURL(req.BaseURL), bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		op := "post"
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			op = "timeout"
		}
		return Response{}, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return Response{}, &APIError{StatusCode: resp.StatusCode, Body: string(slurp)}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, &TransportError{Op: "read", Err: err}
	}
	var r openAIChatResp
	if err := json.Unmarshal(raw, &r); err != nil {
		return Response{}, &ParseError{What: "chat response", Err: err}
	}
	if len(r.Choices) == 0 {
		return Response{}, &ParseError{What: "chat response: no choices"}
	}

	return Response{
		Text:      r.Choices[0].Message.Content,
		TokensIn:  r.Usage.PromptTokens,
		TokensOut: r.Usage.CompletionTokens,
	}, nil
}
