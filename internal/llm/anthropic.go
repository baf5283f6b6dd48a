package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
)

// AnthropicProvider talks to an Anthropic-style messages endpoint.
type AnthropicProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewAnthropicProvider constructs the provider. baseURL may be empty.
func NewAnthropicProvider(apiKey, baseURL string) *AnthropicProvider {
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	return &AnthropicProvider{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: providerTimeout},
	}
}

// Name implements Provider.
func (p *AnthropicProvider) Name() string { return "anthropic" }

type antRequest struct {
	Model         string       `json:"model"`
	System        string       `json:"system,omitempty"`
	Messages      []antMessage `json:"messages"`
	MaxTokens     int          `json:"max_tokens"`
	Temperature   *float64     `json:"temperature,omitempty"`
	StopSequences []string     `json:"stop_sequences,omitempty"`
	Tools         []antTool    `json:"tools,omitempty"`
}

type antMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type antTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type antResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type  string          `json:"type"`
		Text  string          `json:"text"`
		ID    string          `json:"id"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete implements Provider. The messages API has no JSON response
// format switch; JSONMode is enforced through a system-prompt suffix.
func (p *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (*LLMResponse, error) {
	if req.ModelOverride == "" {
		return nil, &ProviderError{Kind: ErrProvider, Message: "no model resolved for task " + req.Task}
	}

	body := antRequest{
		Model:         req.ModelOverride,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		StopSequences: req.StopSequences,
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = 1024
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			if body.System != "" {
				body.System += "\n"
			}
			body.System += m.Content
		case RoleTool:
			// Tool results go back in as user turns on this wire format.
			body.Messages = append(body.Messages, antMessage{Role: RoleUser, Content: m.Content})
		default:
			body.Messages = append(body.Messages, antMessage{Role: m.Role, Content: m.Content})
		}
	}
	if req.JSONMode {
		if body.System != "" {
			body.System += "\n"
		}
		body.System += "Respond with a single valid JSON object and nothing else."
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, antTool{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &ProviderError{Kind: ErrProvider, Message: err.Error()}
	}

	var out *LLMResponse
	backoff := retry.WithMaxRetries(providerMaxRetries, retry.NewExponential(time.Second))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		start := time.Now()
		raw, err := p.post(ctx, "/v1/messages", payload)
		if err != nil {
			if Retryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}

		var parsed antResponse
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return &ProviderError{Kind: ErrProvider, Message: fmt.Sprintf("decode response: %v", err)}
		}

		out = &LLMResponse{
			Model:        parsed.Model,
			InputTokens:  parsed.Usage.InputTokens,
			OutputTokens: parsed.Usage.OutputTokens,
			FinishReason: parsed.StopReason,
			LatencyMS:    time.Since(start).Milliseconds(),
		}
		for _, block := range parsed.Content {
			switch block.Type {
			case "text":
				out.Content += block.Text
			case "tool_use":
				out.ToolCalls = append(out.ToolCalls, ToolCall{ID: block.ID, Name: block.Name, Arguments: block.Input})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Stream is not wired for this provider; callers needing streamed output
// route through the OpenAI-compatible provider.
func (p *AnthropicProvider) Stream(ctx context.Context, req CompletionRequest, fn func(chunk string) error) error {
	return &ProviderError{Kind: ErrProvider, Message: "streaming not supported for anthropic adapter"}
}

func (p *AnthropicProvider) post(ctx context.Context, path string, payload []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, &ProviderError{Kind: ErrProvider, Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Kind: ErrTransient, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Kind: ErrTransient, Message: fmt.Sprintf("read body: %v", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTP(resp.StatusCode, string(body))
	}
	return body, nil
}
