package htl

import (
	"context"
	"fmt"

	"github.com/wazero-automation/convo-core/internal/llmtransport"
	"github.com/wazero-automation/convo-core/internal/logging"
)

// MemoryInput is the (prior rolling summary, user message, bot message,
// action taken) tuple spec.md §4.4 step 3 compiles its prompt from.
type MemoryInput struct {
	PriorSummary string
	UserMessage  string
	BotMessage   string
	ActionTaken  string
}

// MemoryResult is the background Memory stage's output.
type MemoryResult struct {
	RollingSummary         string
	NeedsRecursiveSummary bool
}

type memorySchema struct {
	RollingSummary        string `json:"rolling_summary"`
	NeedsRecursiveSummary bool   `json:"needs_recursive_summary"`
}

// RunMemory implements §4.4 step 3: a fire-and-forget call the caller should
// invoke after the user-visible action has already been applied. On any
// transport or parse failure it retains the prior summary, per spec.
func (p *Pipeline) RunMemory(ctx context.Context, in MemoryInput) MemoryResult {
	fallback := MemoryResult{RollingSummary: in.PriorSummary}

	req := llmtransport.Request{
		Model:          p.Model,
		Temperature:    0.2,
		JSONSchemaName: "htl_memory",
		Messages: []llmtransport.Message{
			{Role: "system", Content: "Summarize the conversation state for future turns. Respond with a single JSON object matching the required schema."},
			{Role: "user", Content: fmt.Sprintf(
				"Prior summary: %s\nUser message: %s\nBot message: %s\nAction taken: %s",
				in.PriorSummary, in.UserMessage, in.BotMessage, in.ActionTaken,
			)},
		},
	}

	resp, err := p.LLM.Complete(ctx, req)
	if err != nil {
		logging.FromContext(ctx).Warn().Err(err).Msg("htl_memory_transport_failed")
		return fallback
	}

	var parsed memorySchema
	if err := llmtransport.ExtractJSON(llmtransport.Tolerant, resp.Content, &parsed); err != nil {
		logging.FromContext(ctx).Warn().Err(err).Msg("htl_memory_parse_failed")
		return fallback
	}
	if parsed.RollingSummary == "" {
		return fallback
	}
	return MemoryResult{RollingSummary: parsed.RollingSummary, NeedsRecursiveSummary: parsed.NeedsRecursiveSummary}
}
