package llmtransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"

	"github.com/wazero-automation/convo-core/internal/domain"
	"github.com/wazero-automation/convo-core/internal/telemetry"
)

// embeddingRequest mirrors the teacher's internal/llm/embeddings.go request
// shape against an OpenAI-compatible /embeddings endpoint.
type embeddingRequest struct {
	Input          []string `json:"input"`
	Model          string   `json:"model"`
	EncodingFormat string   `json:"encoding_format"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// EmbeddingsClient calls an OpenAI-compatible /embeddings endpoint with a raw
// HTTP POST, grounded in the teacher's FetchEmbeddings (no SDK exists for
// this surface across providers, so the teacher itself drops to net/http
// here rather than a client library).
type EmbeddingsClient struct {
	BaseURL string
	APIKey  string
	Model   string
	HTTP    *http.Client
}

// NewEmbeddingsClient builds a client against baseURL's /embeddings path.
func NewEmbeddingsClient(baseURL, apiKey, model string) *EmbeddingsClient {
	return &EmbeddingsClient{BaseURL: baseURL, APIKey: apiKey, Model: model, HTTP: telemetry.InstrumentClient(nil)}
}

// Embed implements internal/retrieve's Embedder: returns a query vector
// truncated/L2-normalized to domain.EmbeddingDim, following §3's "truncated
// from the provider's native dimension to 768" rule. On transport failure it
// returns the zero vector rather than erroring, matching the teacher's
// GenerateEmbeddings fallback-to-zero-vector-on-failure behavior.
func (c *EmbeddingsClient) Embed(ctx context.Context, text string) ([]float32, error) {
	req := embeddingRequest{Input: []string{text}, Model: c.Model, EncodingFormat: "float"}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return zeroVector(), nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return zeroVector(), nil
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil || len(parsed.Data) == 0 {
		return zeroVector(), nil
	}

	return truncateAndNormalize(parsed.Data[0].Embedding), nil
}

func zeroVector() []float32 {
	return make([]float32, domain.EmbeddingDim)
}

// truncateAndNormalize truncates src to domain.EmbeddingDim (zero-padding if
// shorter) and L2-normalizes the result, per §3's embedding invariant.
func truncateAndNormalize(src []float64) []float32 {
	out := make([]float32, domain.EmbeddingDim)
	n := len(src)
	if n > domain.EmbeddingDim {
		n = domain.EmbeddingDim
	}
	var sumSq float64
	for i := 0; i < n; i++ {
		sumSq += src[i] * src[i]
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return out
	}
	for i := 0; i < n; i++ {
		out[i] = float32(src[i] / norm)
	}
	return out
}
