// Package action implements the Action Applier of spec.md §4.10: a pure
// translation from a GenerateOutput to side-effects, in the fixed order the
// spec prescribes. Grounded in the teacher's internal/orchestrator/actions.go
// switch-on-decision shape, generalized from the teacher's single "send
// reply" action to the spec's four-way action set plus observer events.
package action

import (
	"context"

	"github.com/wazero-automation/convo-core/internal/domain"
	"github.com/wazero-automation/convo-core/internal/logging"
	"github.com/wazero-automation/convo-core/internal/rpcclient"
)

// RPC is the subset of rpcclient the Applier needs, narrowed for testability.
type RPC interface {
	SendMessage(ctx context.Context, tenantID, toPhone, text string) error
	PostOutgoingMessage(ctx context.Context, conversationID string, origin domain.MessageOrigin, content string) (domain.Message, error)
	PatchConversation(ctx context.Context, id string, patch rpcclient.ConversationPatch) error
	Observe(ctx context.Context, ev domain.ObserverEvent) error
}

// Applier carries the RPC client every step dispatches through.
type Applier struct {
	RPC RPC
}

// New builds an Applier.
func New(rpc RPC) *Applier {
	return &Applier{RPC: rpc}
}

// Apply executes §4.10 steps 1-5 in order. Step 6 (the background Memory
// stage) is left to the caller, since it needs the HTL pipeline, not just the
// RPC client. A failing step is logged and the remaining steps still run; the
// returned error is always nil.
func (a *Applier) Apply(ctx context.Context, conv domain.Conversation, leadPhone string, out domain.GenerateOutput) error {
	log := logging.FromContext(ctx)

	// Step 1: dispatch outbound send.
	if out.ShouldRespond && out.MessageText != "" && out.Action == domain.ActionSendNow {
		if err := a.RPC.SendMessage(ctx, conv.TenantID, leadPhone, out.MessageText); err != nil {
			log.Warn().Err(err).Msg("action_send_failed")
		} else {
			// Step 2: persist outbound message and bump last_bot_message_at.
			if _, err := a.RPC.PostOutgoingMessage(ctx, conv.ID, domain.OriginBot, out.MessageText); err != nil {
				log.Warn().Err(err).Msg("action_persist_outgoing_failed")
			}
		}
	}

	// Step 3: patch conversation state.
	patch := rpcclient.ConversationPatch{
		Stage:               &out.NewStage,
		IntentLevel:         &out.IntentLevel,
		UserSentiment:       &out.UserSentiment,
		NeedsHumanAttention: &out.NeedsHumanAttention,
	}
	if out.SelectedCTAID != nil {
		patch.ActiveCTAID = out.SelectedCTAID
	}
	if err := a.RPC.PatchConversation(ctx, conv.ID, patch); err != nil {
		log.Warn().Err(err).Msg("action_patch_conversation_failed")
	}

	// Step 4: human-attention observer event.
	if out.Action == domain.ActionFlagAttention || out.NeedsHumanAttention {
		ev := domain.ObserverEvent{
			Type: domain.EventHumanAttentionRequired, ConversationID: conv.ID, TenantID: conv.TenantID,
			Stage: out.NewStage, IntentLevel: out.IntentLevel, Sentiment: out.UserSentiment, NeedsHumanAttention: true,
		}
		if err := a.RPC.Observe(ctx, ev); err != nil {
			log.Warn().Err(err).Msg("action_observe_failed")
		}
	}

	// Step 5: CTA-initiated observer event.
	if out.Action == domain.ActionInitiateCTA {
		ev := domain.ObserverEvent{
			Type: domain.EventConversationsFlagged, ConversationID: conv.ID, TenantID: conv.TenantID,
			Stage: out.NewStage, IntentLevel: out.IntentLevel, Sentiment: out.UserSentiment, NeedsHumanAttention: out.NeedsHumanAttention,
		}
		if err := a.RPC.Observe(ctx, ev); err != nil {
			log.Warn().Err(err).Msg("action_observe_failed")
		}
	}

	return nil
}
