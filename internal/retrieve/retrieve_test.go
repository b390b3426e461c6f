package retrieve

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wazero-automation/convo-core/internal/domain"
)

func TestFuse_RRFScore_BothSets(t *testing.T) {
	// present in both sets: rrf = 1/(60+r_v) + 1/(60+r_k) (P8)
	vec := []domain.VectorCandidate{{ID: "a", VecSim: 0.9}}
	key := []domain.KeywordCandidate{{ID: "a", KeyRank: 1}}
	out := Fuse(vec, key, DefaultOptions)
	if assert.Len(t, out, 1) {
		want := 1.0/61 + 1.0/61
		assert.InDelta(t, want, out[0].RRFScore, 1e-9)
	}
}

func TestFuse_RRFScore_VectorOnly(t *testing.T) {
	vec := []domain.VectorCandidate{{ID: "a", VecSim: 0.9}}
	out := Fuse(vec, nil, DefaultOptions)
	if assert.Len(t, out, 1) {
		assert.InDelta(t, 1.0/61, out[0].RRFScore, 1e-9)
		assert.Equal(t, 0, out[0].KeyRank)
	}
}

func TestFuse_RRFScore_KeywordOnly(t *testing.T) {
	key := []domain.KeywordCandidate{{ID: "a", KeyRank: 3}}
	out := Fuse(nil, key, DefaultOptions)
	if assert.Len(t, out, 1) {
		assert.InDelta(t, 1.0/63, out[0].RRFScore, 1e-9)
		assert.Equal(t, 0, out[0].VecRank)
	}
}

func TestFuse_AdmitsOnSemanticGateAlone(t *testing.T) {
	// vec_sim above threshold, absent from keyword set entirely (P6).
	vec := []domain.VectorCandidate{{ID: "a", VecSim: 0.7}}
	out := Fuse(vec, nil, DefaultOptions)
	assert.Len(t, out, 1)
	assert.Equal(t, "semantic", out[0].Reason)
}

func TestFuse_AdmitsOnKeywordGateAlone(t *testing.T) {
	// key_rank within threshold, vec_sim below threshold (P6).
	vec := []domain.VectorCandidate{{ID: "a", VecSim: 0.4}}
	key := []domain.KeywordCandidate{{ID: "a", KeyRank: 5}}
	out := Fuse(vec, key, DefaultOptions)
	assert.Len(t, out, 1)
	assert.Equal(t, "keyword", out[0].Reason)
}

func TestFuse_RejectsWhenNeitherGatePasses(t *testing.T) {
	// vec_sim at the threshold (not >), key_rank beyond the threshold: admitted by neither gate.
	vec := []domain.VectorCandidate{{ID: "a", VecSim: DefaultOptions.VectorThreshold}}
	key := []domain.KeywordCandidate{{ID: "a", KeyRank: DefaultOptions.KeywordRankThreshold + 1}}
	out := Fuse(vec, key, DefaultOptions)
	assert.Empty(t, out)
}

func TestFuse_SemanticPreferredWhenBothGatesHold(t *testing.T) {
	vec := []domain.VectorCandidate{{ID: "a", VecSim: 0.9}}
	key := []domain.KeywordCandidate{{ID: "a", KeyRank: 1}}
	out := Fuse(vec, key, DefaultOptions)
	if assert.Len(t, out, 1) {
		assert.Equal(t, "semantic", out[0].Reason)
	}
}

func TestFuse_SortedByRRFScoreDescending(t *testing.T) {
	vec := []domain.VectorCandidate{
		{ID: "low", VecSim: 0.7},
		{ID: "high", VecSim: 0.99},
	}
	out := Fuse(vec, nil, DefaultOptions)
	if assert.Len(t, out, 2) {
		assert.Equal(t, "high", out[0].Chunk.ID)
		assert.Equal(t, "low", out[1].Chunk.ID)
	}
}

func TestFormatKnowledgeBlock_Error(t *testing.T) {
	got := FormatKnowledgeBlock(nil, assert.AnError)
	assert.Equal(t, "Error retrieving knowledge.", got)
}

func TestFormatKnowledgeBlock_Empty(t *testing.T) {
	got := FormatKnowledgeBlock(nil, nil)
	assert.Equal(t, "No relevant knowledge found.", got)
}

func TestFormatKnowledgeBlock_RendersTitleAndContent(t *testing.T) {
	items := []domain.RetrievedKnowledge{
		{Chunk: domain.KnowledgeChunk{Title: "Pricing", Content: "Starts at $10/mo."}},
	}
	got := FormatKnowledgeBlock(items, nil)
	assert.Equal(t, "Pricing:\nStarts at $10/mo.", got)
}
