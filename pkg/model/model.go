// Package model wraps the concrete LLM backends a unit handler talks to.
// Which backend serves a call is decided upstream by pkg/modelpool; this
// package only turns a resolved BackendConfig into a usable client.
package model

import (
	"context"
	"strings"

	"github.com/perchbot/perch/pkg/modelpool"
)

// Role labels one chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    Role
	Content string
}

// Request is a completion request.
type Request struct {
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature *float64
}

// Usage carries token accounting from the backend.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Response is a completed request.
type Response struct {
	Text       string
	Usage      Usage
	StopReason string
}

// Model is a single concrete backend.
type Model interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// NewFromBackend builds a client for the resolved backend config. Anthropic
// models are recognized by name or endpoint; everything else is treated as
// an OpenAI-compatible HTTP API, which is what the config's api_url/api_key
// fields describe.
func NewFromBackend(cfg modelpool.BackendConfig) (Model, error) {
	if strings.HasPrefix(cfg.ModelName, "claude") || strings.Contains(cfg.APIURL, "anthropic") {
		return NewAnthropic(cfg)
	}
	return NewOpenAI(cfg)
}
