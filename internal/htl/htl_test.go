package htl

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wazero-automation/convo-core/internal/domain"
	"github.com/wazero-automation/convo-core/internal/llmtransport"
	"github.com/wazero-automation/convo-core/internal/rpcclient"
)

type fakeRetriever struct {
	results []rpcclient.RetrievalResult
	err     error
}

func (f *fakeRetriever) Retrieve(ctx context.Context, tenantID, query string) ([]rpcclient.RetrievalResult, error) {
	return f.results, f.err
}

type fakeLLM struct {
	content string
	err     error
	last    llmtransport.Request
}

func (f *fakeLLM) Complete(ctx context.Context, req llmtransport.Request) (llmtransport.Response, error) {
	f.last = req
	if f.err != nil {
		return llmtransport.Response{}, f.err
	}
	return llmtransport.Response{Content: f.content}, nil
}

func TestRun_HappyPath_NormalizesEnumsAndRetainsMessage(t *testing.T) {
	retriever := &fakeRetriever{results: []rpcclient.RetrievalResult{
		{ID: "k1", Title: "Pricing", Content: "Our plans start at $10/mo."},
	}}
	llm := &fakeLLM{content: `{
		"thought_process": "lead asked about price",
		"intent_level": "HIGH",
		"user_sentiment": "curious",
		"risks": {"spam": "low", "policy": "low", "hallucination": "low"},
		"action": "send_now",
		"new_stage": "pricing",
		"should_respond": true,
		"selected_cta_id": "",
		"followup_in_minutes": 0,
		"message_text": "Plans start at $10/mo!",
		"message_language": "en",
		"confidence": 0.9
	}`}
	p := New(retriever, llm, "test-model")

	in := domain.PipelineInput{TenantID: "t1", ConversationID: "c1", Stage: domain.StageQualification}
	result := p.Run(context.Background(), in, "how much does it cost?")

	assert.Equal(t, domain.IntentHigh, result.Generate.IntentLevel, "enum normalizer must fold case variants like HIGH to the canonical value")
	assert.Equal(t, domain.StagePricing, result.Generate.NewStage)
	assert.True(t, result.Generate.ShouldRespond)
	assert.Equal(t, "Plans start at $10/mo!", result.Generate.MessageText)
	assert.True(t, result.NeedsBackgroundSummary, "should_respond=true must trigger a background summary")
	assert.False(t, result.Generate.NeedsHumanAttention)
}

func TestRun_TransportFailure_ReturnsEmergencyResult(t *testing.T) {
	llm := &fakeLLM{err: errors.New("connection refused")}
	p := New(nil, llm, "test-model")

	in := domain.PipelineInput{TenantID: "t1", Stage: domain.StageCTA}
	result := p.Run(context.Background(), in, "hello")

	assert.Equal(t, domain.Emergency(domain.StageCTA), result.Generate)
	assert.False(t, result.NeedsBackgroundSummary)
}

func TestRun_UnparsableContent_ReturnsEmergencyResult(t *testing.T) {
	llm := &fakeLLM{content: "not json at all"}
	p := New(nil, llm, "test-model")

	in := domain.PipelineInput{TenantID: "t1", Stage: domain.StageGreeting}
	result := p.Run(context.Background(), in, "hello")

	assert.Equal(t, domain.Emergency(domain.StageGreeting), result.Generate)
}

func TestRun_RetrieverFailure_StillProducesGenerateOutput(t *testing.T) {
	retriever := &fakeRetriever{err: errors.New("rpc unreachable")}
	llm := &fakeLLM{content: `{
		"intent_level": "low",
		"user_sentiment": "neutral",
		"risks": {"spam": "low", "policy": "low", "hallucination": "low"},
		"action": "wait_schedule",
		"new_stage": "greeting",
		"should_respond": false
	}`}
	p := New(retriever, llm, "test-model")

	in := domain.PipelineInput{TenantID: "t1", Stage: domain.StageGreeting}
	result := p.Run(context.Background(), in, "hi")

	require.False(t, result.Generate.ShouldRespond)
	assert.Equal(t, domain.ActionWaitSchedule, result.Generate.Action)
}

func TestRun_NoRetrieverConfigured_KnowledgeBlockEmpty(t *testing.T) {
	llm := &fakeLLM{content: `{
		"intent_level": "unknown",
		"user_sentiment": "neutral",
		"risks": {"spam": "low", "policy": "low", "hallucination": "low"},
		"action": "wait_schedule",
		"new_stage": "greeting",
		"should_respond": false
	}`}
	p := New(nil, llm, "test-model")

	in := domain.PipelineInput{TenantID: "t1", Stage: domain.StageGreeting}
	result := p.Run(context.Background(), in, "hi")

	assert.Equal(t, domain.IntentUnknown, result.Generate.IntentLevel)
	require.Len(t, llm.last.Messages, 2)
	assert.Contains(t, llm.last.Messages[1].Content, "Knowledge:\n\nRecent turns:", "with no retriever the prompt's knowledge block must be empty")
}

func TestRun_HighPolicyRisk_FlagsHumanAttention(t *testing.T) {
	llm := &fakeLLM{content: `{
		"intent_level": "medium",
		"user_sentiment": "angry",
		"risks": {"spam": "low", "policy": "high", "hallucination": "low"},
		"action": "wait_schedule",
		"new_stage": "qualification",
		"should_respond": false
	}`}
	p := New(nil, llm, "test-model")

	in := domain.PipelineInput{TenantID: "t1", Stage: domain.StageQualification}
	result := p.Run(context.Background(), in, "this is unacceptable")

	assert.True(t, result.Generate.NeedsHumanAttention, "a high policy risk must force needs_human_attention even when the model didn't flag action=flag_attention")
}
