// Package htl implements the Human Thinking Layer pipeline of spec.md §4.4:
// a pure function from PipelineInput + combined user text to a
// PipelineResult, running Retrieve → Generate → background Memory in that
// strict order. Grounded in the teacher's internal/orchestrator/pipeline.go
// staged-transformation shape (each stage mutates a working context and the
// next stage reads it), generalized from the teacher's fixed RAG-answer
// pipeline to the spec's retrieve/generate/memory three-stage contract.
package htl

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wazero-automation/convo-core/internal/apperrors"
	"github.com/wazero-automation/convo-core/internal/domain"
	"github.com/wazero-automation/convo-core/internal/enumnorm"
	"github.com/wazero-automation/convo-core/internal/llmtransport"
	"github.com/wazero-automation/convo-core/internal/logging"
	"github.com/wazero-automation/convo-core/internal/rpcclient"
)

// Retriever is the subset of internal/rpcclient the Retrieve stage needs.
// The pipeline never touches the database directly (§4.7): retrieval is
// reached through the RPC layer's /retrieval/search endpoint, which is why
// this interface is satisfied directly by *rpcclient.Client.
type Retriever interface {
	Retrieve(ctx context.Context, tenantID, query string) ([]rpcclient.RetrievalResult, error)
}

// RetrieveTopK is the top-k of spec.md §4.4 step 1. The vector-similarity and
// keyword-rank thresholds are applied inside the Retrieval Engine itself
// (internal/retrieve.DefaultOptions); htl only needs the top-k to bound the
// knowledge block it formats from whatever the engine already filtered.
const (
	RetrieveTopK = 5
)

// Pipeline wires the Generate/Memory LLM calls and an optional Retriever.
type Pipeline struct {
	Retriever Retriever
	LLM       llmtransport.Client
	Model     string
}

// New builds a Pipeline. retriever may be nil, in which case the Retrieve
// stage is skipped and the knowledge block is left empty (§4.4 step 1:
// "if a retrieval engine is configured").
func New(retriever Retriever, llm llmtransport.Client, model string) *Pipeline {
	return &Pipeline{Retriever: retriever, LLM: llm, Model: model}
}

// Result is the pipeline's output (§4.4: "returns {generate, latency_ms,
// tokens, needs_background_summary}"). Tokens is always 0: llmtransport.Response
// carries no usage figures — the teacher's own openai_client.go doesn't surface
// them either, so there is nothing to ground a richer accounting on.
type Result struct {
	Generate                domain.GenerateOutput
	LatencyMS                int64
	Tokens                    int
	NeedsBackgroundSummary    bool
}

// Run executes Retrieve → Generate for conversationID/combinedText, and
// returns immediately with the user-visible result. The Memory stage is the
// caller's responsibility to kick off in the background via RunMemory, per
// §4.4 step 3 ("after the user-visible action has been applied").
func (p *Pipeline) Run(ctx context.Context, in domain.PipelineInput, combinedText string) Result {
	start := time.Now()
	in.UserText = combinedText
	in.KnowledgeBlock = p.retrieve(ctx, in)

	generate, needsSummary := p.generate(ctx, in)
	return Result{
		Generate:               generate,
		LatencyMS:              time.Since(start).Milliseconds(),
		NeedsBackgroundSummary: needsSummary,
	}
}

// retrieve implements §4.4 step 1.
func (p *Pipeline) retrieve(ctx context.Context, in domain.PipelineInput) string {
	if p.Retriever == nil {
		return ""
	}
	items, err := p.Retriever.Retrieve(ctx, in.TenantID, in.UserText)
	if err != nil {
		logging.FromContext(ctx).Warn().Err(err).Msg("htl_retrieve_failed")
		return "Error retrieving knowledge."
	}
	if len(items) == 0 {
		return "No relevant knowledge found."
	}
	if len(items) > RetrieveTopK {
		items = items[:RetrieveTopK]
	}
	var b strings.Builder
	for i, it := range items {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%s\n%s", it.Title, it.Content)
	}
	return b.String()
}

// generateSchema is the JSON shape the Generate stage parses from the LLM
// reply before any field is normalized through internal/enumnorm.
type generateSchema struct {
	ThoughtProcess    string `json:"thought_process"`
	IntentLevel       string `json:"intent_level"`
	UserSentiment     string `json:"user_sentiment"`
	Risks             struct {
		Spam          string `json:"spam"`
		Policy        string `json:"policy"`
		Hallucination string `json:"hallucination"`
	} `json:"risks"`
	Action            string  `json:"action"`
	NewStage          string  `json:"new_stage"`
	ShouldRespond     bool    `json:"should_respond"`
	SelectedCTAID     string  `json:"selected_cta_id"`
	FollowupInMinutes int     `json:"followup_in_minutes"`
	MessageText       string  `json:"message_text"`
	MessageLanguage   string  `json:"message_language"`
	Confidence        float64 `json:"confidence"`
}

// generate implements §4.4 step 2, including the emergency-result fallback.
func (p *Pipeline) generate(ctx context.Context, in domain.PipelineInput) (domain.GenerateOutput, bool) {
	req := llmtransport.Request{
		Model:          p.Model,
		Messages:       generatePrompt(in),
		Temperature:    0.4,
		JSONSchemaName: "htl_generate",
	}
	resp, err := p.LLM.Complete(ctx, req)
	if err != nil {
		logging.FromContext(ctx).Warn().Err(apperrors.NewTransient("htl_generate", err)).Msg("htl_generate_transport_failed")
		return domain.Emergency(in.Stage), false
	}

	var parsed generateSchema
	if err := llmtransport.ExtractJSON(llmtransport.Tolerant, resp.Content, &parsed); err != nil {
		logging.FromContext(ctx).Warn().Err(apperrors.NewSchema("htl_generate", err)).Msg("htl_generate_parse_failed")
		return domain.Emergency(in.Stage), false
	}

	out := normalizeGenerate(parsed, in.Stage)
	needsSummary := out.ShouldRespond
	return out, needsSummary
}

// normalizeGenerate fills defaults and runs every enum field through
// internal/enumnorm, per §4.4 step 2's default table.
func normalizeGenerate(p generateSchema, currentStage domain.Stage) domain.GenerateOutput {
	out := domain.GenerateOutput{
		ThoughtProcess:    p.ThoughtProcess,
		MessageText:       p.MessageText,
		ShouldRespond:     p.ShouldRespond,
		FollowupInMinutes: p.FollowupInMinutes,
		Confidence:        p.Confidence,
	}

	out.IntentLevel = domain.IntentLevel(enumnorm.Normalize("intent_level", p.IntentLevel, domain.IntentLevels, enumnorm.DefaultAliases, string(domain.IntentUnknown)))
	out.UserSentiment = domain.Sentiment(enumnorm.Normalize("user_sentiment", p.UserSentiment, domain.Sentiments, enumnorm.DefaultAliases, string(domain.SentimentNeutral)))
	out.Action = domain.Action(enumnorm.Normalize("action", p.Action, domain.Actions, enumnorm.DefaultAliases, string(domain.ActionWaitSchedule)))
	out.NewStage = domain.Stage(enumnorm.Normalize("new_stage", p.NewStage, domain.Stages, enumnorm.DefaultAliases, string(currentStage)))

	out.Risks = domain.RiskFlags{
		Spam:          domain.RiskLevel(enumnorm.Normalize("risks.spam", p.Risks.Spam, domain.RiskLevels, enumnorm.DefaultAliases, string(domain.RiskLow))),
		Policy:        domain.RiskLevel(enumnorm.Normalize("risks.policy", p.Risks.Policy, domain.RiskLevels, enumnorm.DefaultAliases, string(domain.RiskLow))),
		Hallucination: domain.RiskLevel(enumnorm.Normalize("risks.hallucination", p.Risks.Hallucination, domain.RiskLevels, enumnorm.DefaultAliases, string(domain.RiskLow))),
	}

	if p.SelectedCTAID != "" {
		id := p.SelectedCTAID
		out.SelectedCTAID = &id
	}
	if p.MessageLanguage == "" {
		out.MessageLanguage = "en"
	} else {
		out.MessageLanguage = p.MessageLanguage
	}
	if out.Confidence == 0 {
		out.Confidence = 0.5
	}
	out.NeedsHumanAttention = out.Action == domain.ActionFlagAttention || out.Risks.Policy == domain.RiskHigh || out.Risks.Hallucination == domain.RiskHigh
	return out
}

// generatePrompt builds the Generate-stage chat messages from in, folding in
// the knowledge block, rolling summary, recent turns and available CTAs.
func generatePrompt(in domain.PipelineInput) []llmtransport.Message {
	var recent strings.Builder
	for _, m := range in.RecentMessages {
		fmt.Fprintf(&recent, "%s: %s\n", m.Origin, m.Content)
	}

	var ctas strings.Builder
	for _, c := range in.AvailableCTAs {
		fmt.Fprintf(&ctas, "- %s (%s): %s\n", c.ID, c.Label, c.Description)
	}

	system := "You are a WhatsApp sales/support conversational agent. Respond with a single JSON object matching the required schema. Never invent information not present in the knowledge block."

	user := fmt.Sprintf(
		"Stage: %s\nIntent: %s\nSentiment: %s\nRolling summary: %s\nKnowledge:\n%s\nRecent turns:\n%s\nAvailable CTAs:\n%s\nUser message:\n%s",
		in.Stage, in.IntentLevel, in.UserSentiment, in.RollingSummary, in.KnowledgeBlock, recent.String(), ctas.String(), in.UserText,
	)

	return []llmtransport.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}
