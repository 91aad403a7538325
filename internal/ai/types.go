package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Part is one typed piece of a multi-part message: text or an image data URI.
type Part struct {
	Type     string // "text" | "image_url"
	Text     string
	ImageURL string
}

// TextPart builds a text part.
func TextPart(s string) Part { return Part{Type: "text", Text: s} }

// ImagePart builds an image part from a MIME type and base64 payload.
func ImagePart(mime, b64 string) Part {
	return Part{Type: "image_url", ImageURL: fmt.Sprintf("data:%s;base64,%s", mime, b64)}
}

// Message is one chat message. A message with a single text part is sent
// with plain string content; anything else is sent as a list of parts.
type Message struct {
	Role  string
	Parts []Part
}

// UserText is a shorthand for a single-part user message.
func UserText(s string) Message { return Message{Role: "user", Parts: []Part{TextPart(s)}} }

func (m Message) MarshalJSON() ([]byte, error) {
	if len(m.Parts) == 1 && m.Parts[0].Type == "text" {
		return json.Marshal(struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}{m.Role, m.Parts[0].Text})
	}
	content := make([]map[string]any, 0, len(m.Parts))
	for _, p := range m.Parts {
		switch p.Type {
		case "image_url":
			content = append(content, map[string]any{
				"type":      "image_url",
				"image_url": map[string]string{"url": p.ImageURL},
			})
		default:
			content = append(content, map[string]any{"type": "text", "text": p.Text})
		}
	}
	return json.Marshal(struct {
		Role    string           `json:"role"`
		Content []map[string]any `json:"content"`
	}{m.Role, content})
}

// Request represents one chat-completion call against a model endpoint.
type Request struct {
	BaseURL     string
	Model       string
	Messages    []Message
	Temperature *float64
	MaxTokens   int
	Timeout     time.Duration
	// Kind labels the call for metrics and logs ("single", "batch", "vision").
	Kind string
}

type Response struct {
	Text      string
	TokensIn  int
	TokensOut int
}

// Client is implemented by chat-completion transports.
type Client interface {
	Do(ctx context.Context, req Request) (Response, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request) (Response, error)

func (f ClientFunc) Do(ctx context.Context, req Request) (Response, error) { return f(ctx, req) }

// Temperature returns a pointer for Request.Temperature.
func Temperature(v float64) *float64 { return &v }

var ErrRateLimited = errors.New("rate_limited")

// APIError is a non-2xx reply from the model endpoint.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.StatusCode, truncate(e.Body, 300))
}

// Is lets errors.Is(err, ErrRateLimited) match 429 replies.
func (e *APIError) Is(target error) bool {
	return target == ErrRateLimited && e.StatusCode == 429
}

// TransportError is a network-level failure (dial, reset, timeout).
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// ParseError means the reply could not be decoded into the expected shape.
type ParseError struct {
	What string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return "parse " + e.What
	}
	return fmt.Sprintf("parse %s: %v", e.What, e.Err)
}
func (e *ParseError) Unwrap() error { return e.Err }

func IsRateLimited(err error) bool { return errors.Is(err, ErrRateLimited) }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
