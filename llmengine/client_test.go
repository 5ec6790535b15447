package llmengine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/hybrid-coordinator/resilience"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	cb := resilience.New(resilience.NewInferenceEngineConfig("test-engine"))
	retry := &resilience.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffFactor: 2}
	c := New(srv.URL, "local-model", cb, WithRetryConfig(retry))
	return c, srv.Close
}

func TestClientHealthParsesLoadingStatus(t *testing.T) {
	c, closeSrv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(HealthResult{Status: StatusLoading})
	})
	defer closeSrv()

	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusLoading, h.Status)
}

func TestClientChatReturnsContent(t *testing.T) {
	c, closeSrv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatWireResponse{
			Model: "local-model",
			Choices: []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			}{{Message: struct {
				Content string `json:"content"`
			}{Content: "hello there"}}},
		})
	})
	defer closeSrv()

	resp, err := c.Chat(context.Background(), ChatRequest{Messages: []ChatMessage{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Content)
}

func TestClientChatFailsOnUpstreamError(t *testing.T) {
	calls := 0
	c, closeSrv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	})
	defer closeSrv()

	_, err := c.Chat(context.Background(), ChatRequest{Messages: []ChatMessage{{Role: "user", Content: "hi"}}})
	require.Error(t, err)
	assert.GreaterOrEqual(t, calls, 1)
}

func TestClientEmbedPreservesOrder(t *testing.T) {
	c, closeSrv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embeddingWireResponse{
			Data: []struct {
				Index     int       `json:"index"`
				Embedding []float32 `json:"embedding"`
			}{
				{Index: 1, Embedding: []float32{0.2}},
				{Index: 0, Embedding: []float32{0.1}},
			},
		})
	})
	defer closeSrv()

	resp, err := c.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, resp.Vectors, 2)
	assert.Equal(t, float32(0.1), resp.Vectors[0][0])
	assert.Equal(t, float32(0.2), resp.Vectors[1][0])
}

func TestClientEmbedEmptyInputShortCircuits(t *testing.T) {
	c, closeSrv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not be called")
	})
	defer closeSrv()

	resp, err := c.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, resp.Vectors)
}
