package llm

import (
	"bufio"
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
	defaultOpenAIBaseURL = "https://api.openai.com"
	providerTimeout      = 120 * time.Second
	providerMaxRetries   = 2
)

// OpenAIProvider talks to an OpenAI-compatible chat-completions endpoint.
type OpenAIProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewOpenAIProvider constructs the provider. baseURL may be empty.
func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &OpenAIProvider{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: providerTimeout},
	}
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return "openai" }

type oaChatRequest struct {
	Model          string          `json:"model"`
	Messages       []oaMessage     `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	Stop           []string        `json:"stop,omitempty"`
	Tools          []oaTool        `json:"tools,omitempty"`
	ResponseFormat *oaRespFormat   `json:"response_format,omitempty"`
	Stream         bool            `json:"stream,omitempty"`
}

type oaMessage struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

type oaTool struct {
	Type     string     `json:"type"`
	Function oaFunction `json:"function"`
}

type oaFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type oaRespFormat struct {
	Type string `json:"type"`
}

type oaChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string          `json:"name"`
					Arguments json.RawMessage `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (p *OpenAIProvider) buildRequest(req CompletionRequest, stream bool) oaChatRequest {
	body := oaChatRequest{
		Model:       req.ModelOverride,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stop:        req.StopSequences,
		Stream:      stream,
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, oaMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID})
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, oaTool{Type: "function", Function: oaFunction{
			Name: t.Name, Description: t.Description, Parameters: t.Parameters,
		}})
	}
	if req.JSONMode {
		body.ResponseFormat = &oaRespFormat{Type: "json_object"}
	}
	return body
}

// Complete implements Provider. Rate-limit and transient failures are
// retried with exponential backoff before surfacing.
func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (*LLMResponse, error) {
	if req.ModelOverride == "" {
		return nil, &ProviderError{Kind: ErrProvider, Message: "no model resolved for task " + req.Task}
	}

	payload, err := json.Marshal(p.buildRequest(req, false))
	if err != nil {
		return nil, &ProviderError{Kind: ErrProvider, Message: err.Error()}
	}

	var out *LLMResponse
	backoff := retry.WithMaxRetries(providerMaxRetries, retry.NewExponential(time.Second))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		start := time.Now()
		resp, err := p.post(ctx, "/v1/chat/completions", payload)
		if err != nil {
			if Retryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}

		var parsed oaChatResponse
		if err := json.Unmarshal(resp, &parsed); err != nil {
			return &ProviderError{Kind: ErrProvider, Message: fmt.Sprintf("decode response: %v", err)}
		}
		if len(parsed.Choices) == 0 {
			return &ProviderError{Kind: ErrProvider, Message: "empty choices"}
		}

		choice := parsed.Choices[0]
		if choice.FinishReason == "content_filter" {
			return &ProviderError{Kind: ErrContentFilter, Message: "completion blocked by content filter"}
		}

		out = &LLMResponse{
			Content:      choice.Message.Content,
			Model:        parsed.Model,
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
			FinishReason: choice.FinishReason,
			LatencyMS:    time.Since(start).Milliseconds(),
		}
		for _, tc := range choice.Message.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Stream implements Provider using the SSE stream variant of the endpoint.
func (p *OpenAIProvider) Stream(ctx context.Context, req CompletionRequest, fn func(chunk string) error) error {
	if req.ModelOverride == "" {
		return &ProviderError{Kind: ErrProvider, Message: "no model resolved for task " + req.Task}
	}
	payload, err := json.Marshal(p.buildRequest(req, true))
	if err != nil {
		return &ProviderError{Kind: ErrProvider, Message: err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return &ProviderError{Kind: ErrProvider, Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return &ProviderError{Kind: ErrTransient, Message: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return classifyHTTP(resp.StatusCode, string(body))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}
		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // keep-alive or unknown frame
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			if err := fn(chunk.Choices[0].Delta.Content); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return &ProviderError{Kind: ErrTransient, Message: err.Error()}
	}
	return nil
}

func (p *OpenAIProvider) post(ctx context.Context, path string, payload []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, &ProviderError{Kind: ErrProvider, Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

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

func containsAny(s string, subs ...string) bool {
	ls := strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(ls, sub) {
			return true
		}
	}
	return false
}
