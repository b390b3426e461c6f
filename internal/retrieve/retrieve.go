// Package retrieve implements the hybrid vector+keyword Retrieval Engine of
// spec.md §4.5: reciprocal rank fusion over two candidate sets with a
// dual-gate admission filter. The fusion shape is adapted from the
// teacher's internal/rag/retrieve/fusion.go (FuseRRF), simplified from its
// alpha-weighted blend to the spec's unweighted sum of per-channel RRF
// contributions, since spec.md's formula has no alpha term.
package retrieve

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/wazero-automation/convo-core/internal/domain"
)

// RRFConstant is the conventional RRF smoothing constant (§4.5).
const RRFConstant = 60

// Options configures one retrieval call.
type Options struct {
	TopK               int
	VectorThreshold    float64
	KeywordRankThreshold int
}

// DefaultOptions matches spec.md §4.4's retrieval parameters: top-k=5,
// vector-similarity threshold=0.65, keyword-rank threshold=5.
var DefaultOptions = Options{TopK: 5, VectorThreshold: 0.65, KeywordRankThreshold: 5}

// Embedder produces a query embedding, already truncated/L2-normalized to
// domain.EmbeddingDim, matching the contract of internal/llmtransport's
// embeddings client.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Backend is the subset of internal/store's knowledge operations retrieval
// needs, kept as a narrow interface so tests can substitute an in-memory
// fake instead of a live Postgres connection. *store.Store satisfies this
// directly: both packages share domain.VectorCandidate/domain.KeywordCandidate.
type Backend interface {
	VectorTopK(ctx context.Context, tenantID string, queryVec []float32, k int) ([]domain.VectorCandidate, error)
	KeywordTopK(ctx context.Context, tenantID, query string, k int) ([]domain.KeywordCandidate, error)
	KnowledgeItemsByID(ctx context.Context, ids []string) (map[string]domain.KnowledgeChunk, error)
}

// Engine performs hybrid retrieval for one tenant's knowledge base.
type Engine struct {
	Backend  Backend
	Embedder Embedder
	Options  Options
}

// New constructs an Engine with spec.md's default thresholds.
func New(backend Backend, embedder Embedder) *Engine {
	return &Engine{Backend: backend, Embedder: embedder, Options: DefaultOptions}
}

// Search implements spec.md §4.5 steps 1-5: embed, fetch both candidate
// sets, fuse with RRF, admit via the dual gate, sort by rrf_score desc.
func (e *Engine) Search(ctx context.Context, tenantID, query string) ([]domain.RetrievedKnowledge, error) {
	opt := e.Options
	if opt.TopK <= 0 {
		opt = DefaultOptions
	}

	var qvec []float32
	if e.Embedder != nil {
		v, err := e.Embedder.Embed(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		qvec = v
	}

	var vecRes []domain.VectorCandidate
	var err error
	if qvec != nil {
		vecRes, err = e.Backend.VectorTopK(ctx, tenantID, qvec, opt.TopK)
		if err != nil {
			return nil, fmt.Errorf("vector search: %w", err)
		}
	}
	keyRes, err := e.Backend.KeywordTopK(ctx, tenantID, query, opt.TopK)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	fused := Fuse(vecRes, keyRes, opt)

	ids := make([]string, 0, len(fused))
	for _, f := range fused {
		ids = append(ids, f.Chunk.ID)
	}
	chunks, err := e.Backend.KnowledgeItemsByID(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	out := make([]domain.RetrievedKnowledge, 0, len(fused))
	for _, f := range fused {
		if c, ok := chunks[f.Chunk.ID]; ok {
			f.Chunk = c
			out = append(out, f)
		}
	}
	return out, nil
}

// Fuse performs RRF over the two candidate sets and applies the dual-gate
// admission filter, implementing spec.md §4.5 steps 3-5 and the P6/P8
// testable properties.
func Fuse(vecRes []domain.VectorCandidate, keyRes []domain.KeywordCandidate, opt Options) []domain.RetrievedKnowledge {
	vecRank := make(map[string]int, len(vecRes))
	vecSim := make(map[string]float64, len(vecRes))
	bySim := append([]domain.VectorCandidate(nil), vecRes...)
	sort.SliceStable(bySim, func(a, b int) bool { return bySim[a].VecSim > bySim[b].VecSim })
	for i, v := range bySim {
		vecRank[v.ID] = i + 1
		vecSim[v.ID] = v.VecSim
	}
	keyRank := make(map[string]int, len(keyRes))
	for _, k := range keyRes {
		keyRank[k.ID] = k.KeyRank
	}

	seen := map[string]struct{}{}
	var ids []string
	for _, v := range vecRes {
		if _, ok := seen[v.ID]; !ok {
			seen[v.ID] = struct{}{}
			ids = append(ids, v.ID)
		}
	}
	for _, k := range keyRes {
		if _, ok := seen[k.ID]; !ok {
			seen[k.ID] = struct{}{}
			ids = append(ids, k.ID)
		}
	}

	out := make([]domain.RetrievedKnowledge, 0, len(ids))
	for _, id := range ids {
		vr := vecRank[id]
		kr := keyRank[id]
		vs := vecSim[id]

		rrf := 0.0
		if vr > 0 {
			rrf += 1.0 / float64(RRFConstant+vr)
		}
		if kr > 0 {
			rrf += 1.0 / float64(RRFConstant+kr)
		}

		semanticallyStrong := vs > opt.VectorThreshold
		lexicallyStrong := kr > 0 && kr <= opt.KeywordRankThreshold
		if !semanticallyStrong && !lexicallyStrong {
			continue
		}
		reason := "keyword"
		if semanticallyStrong {
			reason = "semantic" // preferred over "keyword" when both hold
		}

		out = append(out, domain.RetrievedKnowledge{
			Chunk:    domain.KnowledgeChunk{ID: id},
			VecSim:   vs,
			VecRank:  vr,
			KeyRank:  kr,
			RRFScore: rrf,
			Reason:   reason,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RRFScore != out[j].RRFScore {
			return out[i].RRFScore > out[j].RRFScore
		}
		return out[i].Chunk.ID < out[j].Chunk.ID
	})
	return out
}

// FormatKnowledgeBlock renders retrieved chunks into a §4.4 step 1 knowledge
// block ("Title:\ncontent" per chunk), or one of the two fallback strings
// when retrieval yields nothing or errors. htl.Pipeline does not call it: it
// builds its own block from the RPC retrieval results, with title and content
// on separate lines and no colon.
func FormatKnowledgeBlock(items []domain.RetrievedKnowledge, retrievalErr error) string {
	if retrievalErr != nil {
		return "Error retrieving knowledge."
	}
	if len(items) == 0 {
		return "No relevant knowledge found."
	}
	var b strings.Builder
	for i, it := range items {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if it.Chunk.Title != "" {
			b.WriteString(it.Chunk.Title)
			b.WriteString(":\n")
		}
		b.WriteString(it.Chunk.Content)
	}
	return b.String()
}
