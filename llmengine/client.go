// Package llmengine is the outbound client for the local, OpenAI-compatible
// inference engine: chat/completions, completions, embeddings, and a
// health probe that can report a "loading" state while the model warms
// up. Every call is wrapped with a circuit breaker and retry policy.
package llmengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/itsneelabh/hybrid-coordinator/apperrors"
	"github.com/itsneelabh/hybrid-coordinator/logging"
	"github.com/itsneelabh/hybrid-coordinator/resilience"
)

// Status is the local engine's self-reported readiness.
type Status string

const (
	StatusOK      Status = "ok"
	StatusLoading Status = "loading"
	StatusUnknown Status = "unknown"
)

// HealthResult is the parsed shape of GET /health on the engine.
type HealthResult struct {
	Status        Status `json:"status"`
	ModelLoaded   bool   `json:"model_loaded,omitempty"`
	CheckpointLoaded bool `json:"checkpoint_loaded,omitempty"`
}

// ChatMessage is an OpenAI-compatible chat turn.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body for POST /v1/chat/completions.
type ChatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float32       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// ChatResponse is the parsed reply from POST /v1/chat/completions.
type ChatResponse struct {
	Model   string `json:"model"`
	Content string `json:"-"`
	Usage   struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type chatWireResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// EmbeddingRequest is the body for POST /v1/embeddings.
type EmbeddingRequest struct {
	Model string   `json:"model,omitempty"`
	Input []string `json:"input"`
}

// EmbeddingResponse carries one vector per input string, in order.
type EmbeddingResponse struct {
	Vectors [][]float32
	Model   string
}

type embeddingWireResponse struct {
	Model string `json:"model"`
	Data  []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Client talks to a single local LLM engine endpoint, wrapping every call
// with a circuit breaker and retry policy.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	retry      *resilience.RetryConfig
	logger     logging.Logger
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

func WithRetryConfig(r *resilience.RetryConfig) Option {
	return func(c *Client) { c.retry = r }
}

func WithLogger(l logging.Logger) Option {
	return func(c *Client) {
		if cal, ok := l.(logging.ComponentAwareLogger); ok {
			c.logger = cal.WithComponent("llmengine/client")
			return
		}
		c.logger = l
	}
}

// New creates a Client against baseURL, using breaker for circuit
// protection (callers typically source this from a shared Registry keyed
// "llm-engine" with resilience.NewInferenceEngineConfig).
func New(baseURL, model string, breaker *resilience.CircuitBreaker, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker:    breaker,
		retry:      resilience.DefaultRetryConfig(),
		logger:     logging.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health probes the engine's readiness. It does not itself go through the
// circuit breaker: health checks must keep working even while the
// breaker protecting inference calls is open, so readiness decisions
// elsewhere are not confounded by this client's own protective state.
func (c *Client) Health(ctx context.Context) (*HealthResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, apperrors.New("llmengine.Health", apperrors.KindInternal, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.New("llmengine.Health", apperrors.KindUpstreamError, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.New("llmengine.Health", apperrors.KindUpstreamError, err)
	}
	var result HealthResult
	if err := json.Unmarshal(body, &result); err != nil {
		return &HealthResult{Status: StatusUnknown}, nil
	}
	if result.Status == "" {
		result.Status = StatusUnknown
	}
	return &result, nil
}

// Chat issues a chat/completions request under retry-and-breaker
// protection.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if req.Model == "" {
		req.Model = c.model
	}

	var result *ChatResponse
	err := resilience.RetryWithCircuitBreaker(ctx, c.retry, c.breaker, func(ctx context.Context) error {
		wire, err := c.doChat(ctx, req)
		if err != nil {
			return err
		}
		result = wire
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) doChat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, apperrors.New("llmengine.Chat", apperrors.KindInternal, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.New("llmengine.Chat", apperrors.KindInternal, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, apperrors.New("llmengine.Chat", apperrors.KindUpstreamError, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.New("llmengine.Chat", apperrors.KindUpstreamError, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.New("llmengine.Chat", apperrors.KindUpstreamError,
			fmt.Errorf("engine returned status %d: %s", resp.StatusCode, string(respBody)))
	}

	var wire chatWireResponse
	if err := json.Unmarshal(respBody, &wire); err != nil {
		return nil, apperrors.New("llmengine.Chat", apperrors.KindUpstreamError, err)
	}
	if len(wire.Choices) == 0 {
		return nil, apperrors.New("llmengine.Chat", apperrors.KindUpstreamError, fmt.Errorf("no choices in response"))
	}

	out := &ChatResponse{Model: wire.Model, Content: wire.Choices[0].Message.Content}
	out.Usage = wire.Usage
	return out, nil
}

// Embed requests embeddings for each string in texts, preserving order.
func (c *Client) Embed(ctx context.Context, texts []string) (*EmbeddingResponse, error) {
	if len(texts) == 0 {
		return &EmbeddingResponse{}, nil
	}

	var result *EmbeddingResponse
	err := resilience.RetryWithCircuitBreaker(ctx, c.retry, c.breaker, func(ctx context.Context) error {
		r, err := c.doEmbed(ctx, texts)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) doEmbed(ctx context.Context, texts []string) (*EmbeddingResponse, error) {
	body, err := json.Marshal(EmbeddingRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, apperrors.New("llmengine.Embed", apperrors.KindInternal, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.New("llmengine.Embed", apperrors.KindInternal, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, apperrors.New("llmengine.Embed", apperrors.KindUpstreamError, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.New("llmengine.Embed", apperrors.KindUpstreamError, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.New("llmengine.Embed", apperrors.KindUpstreamError,
			fmt.Errorf("embedding service returned status %d: %s", resp.StatusCode, string(respBody)))
	}

	var wire embeddingWireResponse
	if err := json.Unmarshal(respBody, &wire); err != nil {
		return nil, apperrors.New("llmengine.Embed", apperrors.KindUpstreamError, err)
	}

	vectors := make([][]float32, len(texts))
	for _, d := range wire.Data {
		if d.Index >= 0 && d.Index < len(vectors) {
			vectors[d.Index] = d.Embedding
		}
	}
	return &EmbeddingResponse{Vectors: vectors, Model: wire.Model}, nil
}
