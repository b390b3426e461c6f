package htl

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunMemory_HappyPath_ReturnsNewSummary(t *testing.T) {
	llm := &fakeLLM{content: `{"rolling_summary": "Lead asked about pricing, quoted $10/mo plan.", "needs_recursive_summary": false}`}
	p := New(nil, llm, "test-model")

	result := p.RunMemory(context.Background(), MemoryInput{
		PriorSummary: "Lead greeted.",
		UserMessage:  "how much does it cost?",
		BotMessage:   "Plans start at $10/mo!",
		ActionTaken:  "send_now",
	})

	assert.Equal(t, "Lead asked about pricing, quoted $10/mo plan.", result.RollingSummary)
	assert.False(t, result.NeedsRecursiveSummary)
}

func TestRunMemory_TransportFailure_RetainsPriorSummary(t *testing.T) {
	llm := &fakeLLM{err: errors.New("timeout")}
	p := New(nil, llm, "test-model")

	result := p.RunMemory(context.Background(), MemoryInput{PriorSummary: "Lead greeted."})

	assert.Equal(t, "Lead greeted.", result.RollingSummary)
	assert.False(t, result.NeedsRecursiveSummary)
}

func TestRunMemory_UnparsableContent_RetainsPriorSummary(t *testing.T) {
	llm := &fakeLLM{content: "I cannot comply with that request."}
	p := New(nil, llm, "test-model")

	result := p.RunMemory(context.Background(), MemoryInput{PriorSummary: "Lead asked about pricing."})

	assert.Equal(t, "Lead asked about pricing.", result.RollingSummary)
}

func TestRunMemory_EmptySummaryInResponse_RetainsPriorSummary(t *testing.T) {
	llm := &fakeLLM{content: `{"rolling_summary": "", "needs_recursive_summary": true}`}
	p := New(nil, llm, "test-model")

	result := p.RunMemory(context.Background(), MemoryInput{PriorSummary: "Lead asked about pricing."})

	assert.Equal(t, "Lead asked about pricing.", result.RollingSummary, "an empty rolling_summary in a parsed response must not overwrite the prior summary")
}

func TestRunMemory_NeedsRecursiveSummary_Propagated(t *testing.T) {
	llm := &fakeLLM{content: `{"rolling_summary": "Very long accumulated summary text.", "needs_recursive_summary": true}`}
	p := New(nil, llm, "test-model")

	result := p.RunMemory(context.Background(), MemoryInput{PriorSummary: "short"})

	assert.True(t, result.NeedsRecursiveSummary)
}
