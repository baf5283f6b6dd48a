// Package llm defines the provider-agnostic LLM and embedding interfaces
// plus the concrete HTTP adapters.
//
// Multiple providers share one interface; the metering proxy wraps any
// concrete adapter uniformly.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Role values for chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one chat turn. ToolCallID is set on tool-result messages.
type Message struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolDef describes a tool the model may call. Parameters is a
// JSON-Schema-style blob.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// CompletionRequest carries everything a provider needs for one call.
type CompletionRequest struct {
	Messages      []Message
	Task          string // task type, resolved to a model via routing
	MaxTokens     int
	Temperature   *float64
	StopSequences []string
	Tools         []ToolDef
	JSONMode      bool
	ModelOverride string
}

// LLMResponse is a completed provider call.
type LLMResponse struct {
	Content      string
	Model        string
	InputTokens  int
	OutputTokens int
	FinishReason string
	LatencyMS    int64
	ToolCalls    []ToolCall
}

// EmbeddingResult is the output of an embedding call. TotalTokens is the
// sentinel -1 when the adapter had to chunk the input batch.
type EmbeddingResult struct {
	Vectors     [][]float32
	Model       string
	Dimensions  int
	TotalTokens int
}

// Provider is a chat-completion backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (*LLMResponse, error)
	// Stream yields content chunks through fn. Token usage is not
	// reported in stream mode; metered callers use Complete.
	Stream(ctx context.Context, req CompletionRequest, fn func(chunk string) error) error
}

// Embedder is an embedding backend.
type Embedder interface {
	Model() string
	Embed(ctx context.Context, texts []string) (*EmbeddingResult, error)
}

// ErrKind classifies a provider failure.
type ErrKind string

const (
	ErrRateLimit     ErrKind = "RATE_LIMIT"
	ErrAuth          ErrKind = "AUTH"
	ErrContextLength ErrKind = "CONTEXT_LENGTH"
	ErrContentFilter ErrKind = "CONTENT_FILTER"
	ErrTransient     ErrKind = "TRANSIENT"
	ErrProvider      ErrKind = "PROVIDER"
)

// ProviderError is a typed provider failure.
type ProviderError struct {
	Kind    ErrKind
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %s: %s", e.Kind, e.Message)
}

// Retryable reports whether err is a rate-limit or transient failure.
func Retryable(err error) bool {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Kind == ErrRateLimit || pe.Kind == ErrTransient
}

// classifyHTTP maps a provider HTTP status to a ProviderError.
func classifyHTTP(status int, body string) *ProviderError {
	switch {
	case status == 401 || status == 403:
		return &ProviderError{Kind: ErrAuth, Message: body}
	case status == 429:
		return &ProviderError{Kind: ErrRateLimit, Message: body}
	case status >= 500:
		return &ProviderError{Kind: ErrTransient, Message: body}
	case status == 400 && containsAny(body, "context_length", "maximum context", "too many tokens"):
		return &ProviderError{Kind: ErrContextLength, Message: body}
	default:
		return &ProviderError{Kind: ErrProvider, Message: fmt.Sprintf("status %d: %s", status, body)}
	}
}
