// Package ingest implements the supplemental Ingestion helper of
// SPEC_FULL.md §4.11: the narrow path for turning a (title, content) pair
// into a queryable knowledge_items row, which is the minimum the Retrieval
// Engine needs to have data to search. Grounded in the teacher's
// internal/llm/embeddings.go (embed, then persist) and internal/rag/ingest
// patterns for writing both the vector and full-text columns in one insert.
package ingest

import (
	"context"
	"fmt"
	"strings"
)

// Embedder is the subset of *llmtransport.EmbeddingsClient the ingester needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store is the subset of *store.Store the ingester needs.
type Store interface {
	InsertKnowledgeItem(ctx context.Context, tenantID, title, content string, vec []float32) (string, error)
}

// Ingester computes the embedding for a knowledge chunk and persists it.
type Ingester struct {
	Embedder Embedder
	Store    Store
}

// New builds an Ingester.
func New(embedder Embedder, st Store) *Ingester {
	return &Ingester{Embedder: embedder, Store: st}
}

// Ingest embeds title+content and writes the resulting KnowledgeChunk row,
// returning its id. Chunking strategy, document versioning, and
// re-ingestion idempotency are dashboard-side concerns this helper does not
// implement (§4.11).
func (i *Ingester) Ingest(ctx context.Context, tenantID, title, content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("ingest: content must not be empty")
	}
	vec, err := i.Embedder.Embed(ctx, title+" "+content)
	if err != nil {
		return "", fmt.Errorf("embed knowledge chunk: %w", err)
	}
	id, err := i.Store.InsertKnowledgeItem(ctx, tenantID, title, content, vec)
	if err != nil {
		return "", fmt.Errorf("insert knowledge item: %w", err)
	}
	return id, nil
}
