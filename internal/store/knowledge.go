package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/wazero-automation/convo-core/internal/domain"
)

// InsertKnowledgeItem persists a chunk with its embedding (ingestion path,
// SPEC_FULL.md §4.11). vec must already be truncated/L2-normalized to
// domain.EmbeddingDim.
func (s *Store) InsertKnowledgeItem(ctx context.Context, tenantID, title, content string, vec []float32) (string, error) {
	id := uuid.NewString()
	lit := toVectorLiteral(vec)
	_, err := s.Pool.Exec(ctx, `INSERT INTO knowledge_items(id, tenant_id, title, content, embedding)
		VALUES($1,$2,$3,$4,$5::vector)`, id, tenantID, title, content, lit)
	if err != nil {
		return "", fmt.Errorf("insert knowledge item: %w", err)
	}
	return id, nil
}

// VectorTopK returns the top-k knowledge_items by cosine similarity to
// queryVec for tenantID, in descending similarity order (vec_rank = index+1).
func (s *Store) VectorTopK(ctx context.Context, tenantID string, queryVec []float32, k int) ([]domain.VectorCandidate, error) {
	if k <= 0 {
		return nil, nil
	}
	lit := toVectorLiteral(queryVec)
	rows, err := s.Pool.Query(ctx, `SELECT id, 1 - (embedding <=> $1::vector) AS vec_sim
		FROM knowledge_items WHERE tenant_id=$2 AND embedding IS NOT NULL
		ORDER BY embedding <=> $1::vector LIMIT $3`, lit, tenantID, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.VectorCandidate
	for rows.Next() {
		var c domain.VectorCandidate
		if err := rows.Scan(&c.ID, &c.VecSim); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// KeywordTopK returns the top-k knowledge_items by ts_rank_cd against a
// websearch_to_tsquery of query, for tenantID, in descending rank order
// (key_rank = index+1).
func (s *Store) KeywordTopK(ctx context.Context, tenantID, query string, k int) ([]domain.KeywordCandidate, error) {
	q := strings.TrimSpace(query)
	if q == "" || k <= 0 {
		return nil, nil
	}
	rows, err := s.Pool.Query(ctx, `SELECT id FROM knowledge_items
		WHERE tenant_id=$1 AND search_vector @@ websearch_to_tsquery('simple', $2)
		ORDER BY ts_rank_cd(search_vector, websearch_to_tsquery('simple', $2)) DESC
		LIMIT $3`, tenantID, q, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.KeywordCandidate
	rank := 0
	for rows.Next() {
		rank++
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, domain.KeywordCandidate{ID: id, KeyRank: rank})
	}
	return out, rows.Err()
}

// KnowledgeItemsByID fetches the full chunk rows for the given ids, used to
// render the formatted knowledge block after fusion.
func (s *Store) KnowledgeItemsByID(ctx context.Context, ids []string) (map[string]domain.KnowledgeChunk, error) {
	out := make(map[string]domain.KnowledgeChunk, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.Pool.Query(ctx, `SELECT id, tenant_id, title, content, created_at FROM knowledge_items WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var c domain.KnowledgeChunk
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Title, &c.Content, &c.CreatedAt); err != nil {
			return nil, err
		}
		out[c.ID] = c
	}
	return out, rows.Err()
}

// toVectorLiteral renders a []float32 as a pgvector literal, following
// postgres_vector.go's toVectorLiteral exactly.
func toVectorLiteral(v []float32) string {
	if len(v) == 0 {
		return "[]"
	}
	b := strings.Builder{}
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(fmt.Sprintf("%g", x))
	}
	b.WriteByte(']')
	return b.String()
}
