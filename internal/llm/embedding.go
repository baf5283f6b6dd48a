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

// MaxEmbeddingBatch is the per-request input ceiling. Larger inputs are
// chunked transparently; in that case TotalTokens is reported as the
// sentinel -1 because per-chunk usage cannot be summed faithfully once a
// chunk response omits usage.
const MaxEmbeddingBatch = 2048

// ChunkedTokenSentinel marks a chunked-batch embedding result.
const ChunkedTokenSentinel = -1

// OpenAIEmbedder talks to an OpenAI-compatible embeddings endpoint.
type OpenAIEmbedder struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// NewOpenAIEmbedder constructs the embedder. The model is fixed by
// configuration — embedding calls bypass the task routing table.
func NewOpenAIEmbedder(apiKey, baseURL, embeddingModel string) *OpenAIEmbedder {
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &OpenAIEmbedder{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   embeddingModel,
		client:  &http.Client{Timeout: providerTimeout},
	}
}

// Model implements Embedder.
func (e *OpenAIEmbedder) Model() string { return e.model }

type embRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embResponse struct {
	Model string `json:"model"`
	Data  []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Embed implements Embedder, chunking inputs above MaxEmbeddingBatch.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) (*EmbeddingResult, error) {
	if len(texts) == 0 {
		return &EmbeddingResult{Model: e.model}, nil
	}

	chunked := len(texts) > MaxEmbeddingBatch
	result := &EmbeddingResult{Model: e.model}

	for start := 0; start < len(texts); start += MaxEmbeddingBatch {
		end := start + MaxEmbeddingBatch
		if end > len(texts) {
			end = len(texts)
		}
		resp, err := e.embedChunk(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		for _, d := range resp.Data {
			result.Vectors = append(result.Vectors, d.Embedding)
		}
		if resp.Model != "" {
			result.Model = resp.Model
		}
		result.TotalTokens += resp.Usage.TotalTokens
	}

	if len(result.Vectors) != len(texts) {
		return nil, &ProviderError{Kind: ErrProvider,
			Message: fmt.Sprintf("embedding count mismatch: sent %d, got %d", len(texts), len(result.Vectors))}
	}
	if len(result.Vectors) > 0 {
		result.Dimensions = len(result.Vectors[0])
	}
	if chunked {
		result.TotalTokens = ChunkedTokenSentinel
	}
	return result, nil
}

func (e *OpenAIEmbedder) embedChunk(ctx context.Context, texts []string) (*embResponse, error) {
	payload, err := json.Marshal(embRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, &ProviderError{Kind: ErrProvider, Message: err.Error()}
	}

	var out *embResponse
	backoff := retry.WithMaxRetries(providerMaxRetries, retry.NewExponential(time.Second))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/embeddings", bytes.NewReader(payload))
		if err != nil {
			return &ProviderError{Kind: ErrProvider, Message: err.Error()}
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)

		resp, err := e.client.Do(httpReq)
		if err != nil {
			return retry.RetryableError(&ProviderError{Kind: ErrTransient, Message: err.Error()})
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(&ProviderError{Kind: ErrTransient, Message: err.Error()})
		}
		if resp.StatusCode != http.StatusOK {
			perr := classifyHTTP(resp.StatusCode, string(body))
			if Retryable(perr) {
				return retry.RetryableError(perr)
			}
			return perr
		}

		var parsed embResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return &ProviderError{Kind: ErrProvider, Message: fmt.Sprintf("decode response: %v", err)}
		}
		out = &parsed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// EstimateTokens approximates token usage for texts when the provider
// reported the chunked-batch sentinel: sum(len(text)) / 4.
func EstimateTokens(texts []string) int {
	total := 0
	for _, t := range texts {
		total += len(t)
	}
	return total / 4
}
