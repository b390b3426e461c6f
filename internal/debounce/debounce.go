// Package debounce implements the Debounce & Serialization Layer of
// spec.md §4.3: per-conversation quiet-window coalescing plus an
// at-most-one-in-flight-pipeline serialization lock. Grounded in the other
// examples' lockFor(phone)-via-sync.Map pattern (conversationLocks in the
// WhatsApp handler), generalized to also buffer+coalesce bursts and to
// promote the lock to internal/distlock when cross-worker routing can't be
// guaranteed (§4.3, §5).
package debounce

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wazero-automation/convo-core/internal/distlock"
	"github.com/wazero-automation/convo-core/internal/domain"
	"github.com/wazero-automation/convo-core/internal/htl"
	"github.com/wazero-automation/convo-core/internal/llmtransport"
	"github.com/wazero-automation/convo-core/internal/logging"
	"github.com/wazero-automation/convo-core/internal/rpcclient"
)

// RPC is the subset of rpcclient.Client the Debounce layer needs.
type RPC interface {
	TenantByPhoneNumberID(ctx context.Context, phoneNumberID string) (domain.Tenant, error)
	ConversationByPhone(ctx context.Context, tenantID, phone string) (domain.Conversation, error)
	ConversationByID(ctx context.Context, id string) (domain.Conversation, error)
	PostIncomingMessage(ctx context.Context, conversationID, providerMessageID, content string) (domain.Message, error)
	RecentMessages(ctx context.Context, conversationID string, k int) ([]domain.Message, error)
	Observe(ctx context.Context, ev domain.ObserverEvent) error
	PatchConversation(ctx context.Context, id string, patch rpcclient.ConversationPatch) error
}

// Pipeline is the subset of *htl.Pipeline the Debounce layer drives.
type Pipeline interface {
	Run(ctx context.Context, in domain.PipelineInput, combinedText string) htl.Result
	RunMemory(ctx context.Context, in htl.MemoryInput) htl.MemoryResult
}

// Applier is the subset of *action.Applier the Debounce layer drives.
type Applier interface {
	Apply(ctx context.Context, conv domain.Conversation, leadPhone string, out domain.GenerateOutput) error
}

// conversationState is the per-conversation in-memory record of §4.3:
// {buffer, timer, lock}. The serialization mutex is held for the full
// pipeline invocation, giving the at-most-one-in-flight guarantee (P1-P4)
// within this process; distlock.Lock extends it across processes.
type conversationState struct {
	serialize sync.Mutex
	bufMu     sync.Mutex
	buffer    []string
	timer     *time.Timer
}

// Debounce coalesces bursts of lead messages per conversation and drives one
// HTL pipeline invocation per quiet window.
type Debounce struct {
	Window          time.Duration
	PipelineBudget  time.Duration
	RPC             RPC
	Pipeline        Pipeline
	Applier         Applier
	Lock            distlock.Lock // optional; nil means in-process-only serialization

	mu     sync.Mutex
	states map[string]*conversationState
}

// New builds a Debounce. window defaults to 5s and pipelineBudget to 30s
// when zero, matching spec.md §4.3/§5's defaults.
func New(window, pipelineBudget time.Duration, rpc RPC, pipeline Pipeline, applier Applier, lock distlock.Lock) *Debounce {
	if window <= 0 {
		window = 5 * time.Second
	}
	if pipelineBudget <= 0 {
		pipelineBudget = 30 * time.Second
	}
	return &Debounce{
		Window: window, PipelineBudget: pipelineBudget,
		RPC: rpc, Pipeline: pipeline, Applier: applier, Lock: lock,
		states: make(map[string]*conversationState),
	}
}

// Handle implements queue.Handler: it durably accepts every text message in
// the batch (resolve tenant/lead/conversation, persist, buffer-or-notify)
// before returning, which is the signal the Consumer uses to commit the
// Kafka offset (§4.2).
func (d *Debounce) Handle(ctx context.Context, raw []byte) error {
	msgs, err := parseInbound(raw)
	if err != nil {
		return fmt.Errorf("parse inbound webhook: %w", err)
	}
	for _, m := range msgs {
		if err := d.acceptOne(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// acceptOne implements §4.3 steps 1-4.
func (d *Debounce) acceptOne(ctx context.Context, m inboundMessage) error {
	tenant, err := d.RPC.TenantByPhoneNumberID(ctx, m.PhoneNumberID)
	if err != nil {
		return fmt.Errorf("resolve tenant: %w", err)
	}
	conv, err := d.RPC.ConversationByPhone(ctx, tenant.ID, m.LeadPhone)
	if err != nil {
		return fmt.Errorf("resolve conversation: %w", err)
	}
	if _, err := d.RPC.PostIncomingMessage(ctx, conv.ID, m.ProviderMessageID, m.Text); err != nil {
		return fmt.Errorf("persist incoming message: %w", err)
	}

	if conv.Mode == domain.ModeHuman {
		ev := domain.ObserverEvent{
			Type: domain.EventConversationUpdated, ConversationID: conv.ID, TenantID: conv.TenantID,
			Stage: conv.Stage, IntentLevel: conv.IntentLevel, Sentiment: conv.UserSentiment, NeedsHumanAttention: conv.NeedsHumanAttention,
		}
		if err := d.RPC.Observe(ctx, ev); err != nil {
			logging.FromContext(ctx).Warn().Err(err).Msg("debounce_observe_failed")
		}
		return nil
	}

	d.enqueue(conv.ID, tenant.ID, m.LeadPhone, m.Text)
	return nil
}

// InjectSynthetic feeds a scheduler-originated follow-up trigger into the
// serialization path, bypassing the arrival buffer but still routing through
// runLocked so it acquires the same per-conversation lock drain does and can
// never interleave with a user-initiated pipeline invocation (§4.3 step 5,
// §4.9 step 2). The invocation runs under the same PipelineBudget deadline
// drain uses. When d.Lock is configured and another invocation holds it, the
// trigger is skipped for this tick rather than queued — the Scheduler will
// see the conversation due again on its next pass. Without d.Lock the trigger
// waits on the in-process serialize mutex instead.
func (d *Debounce) InjectSynthetic(ctx context.Context, conversationID, tenantID, leadPhone string) htl.Result {
	ctx, cancel := context.WithTimeout(ctx, d.PipelineBudget)
	defer cancel()
	result, _ := d.runLocked(ctx, conversationID, tenantID, leadPhone, "")
	return result
}

func (d *Debounce) state(conversationID string) *conversationState {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.states[conversationID]
	if !ok {
		st = &conversationState{}
		d.states[conversationID] = st
	}
	return st
}

// enqueue implements §4.3 step 4: append to the buffer and (re)arm the
// quiet-window timer, canceling any timer already armed.
func (d *Debounce) enqueue(conversationID, tenantID, leadPhone, text string) {
	st := d.state(conversationID)
	st.bufMu.Lock()
	defer st.bufMu.Unlock()
	st.buffer = append(st.buffer, text)
	if st.timer != nil {
		st.timer.Stop()
	}
	st.timer = time.AfterFunc(d.Window, func() {
		d.drain(conversationID, tenantID, leadPhone)
	})
}

// requeue re-arms a drain after delay with text prepended to whatever was
// buffered in the meantime — the "re-queued as a single synthetic invocation
// marker" failure mode of §4.3.
func (d *Debounce) requeue(conversationID, tenantID, leadPhone, text string, delay time.Duration) {
	st := d.state(conversationID)
	st.bufMu.Lock()
	defer st.bufMu.Unlock()
	st.buffer = append([]string{text}, st.buffer...)
	if st.timer != nil {
		st.timer.Stop()
	}
	if delay <= 0 {
		delay = time.Second
	}
	st.timer = time.AfterFunc(delay, func() {
		d.drain(conversationID, tenantID, leadPhone)
	})
}

// drain implements §4.3 step 5: atomically drain the buffer, then hand off
// to runLocked to acquire the serialization lock and invoke the pipeline.
func (d *Debounce) drain(conversationID, tenantID, leadPhone string) {
	st := d.state(conversationID)
	st.bufMu.Lock()
	combined := strings.Join(st.buffer, "\n")
	st.buffer = nil
	st.bufMu.Unlock()
	if combined == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.PipelineBudget)
	defer cancel()

	if _, acquired := d.runLocked(ctx, conversationID, tenantID, leadPhone, combined); !acquired {
		// another worker already owns this conversation's in-flight
		// pipeline; re-arm so the buffered text is not lost.
		d.requeue(conversationID, tenantID, leadPhone, combined, d.Window)
	}
}

// runLocked acquires the optional distlock.Lock and the per-conversation
// serialize mutex, in that order, before invoking runPipeline — the one path
// both drain and InjectSynthetic take, so a scheduler-originated synthetic
// trigger can never run concurrently with a user-initiated pipeline for the
// same conversation (§4.3 step 5, §4.9 step 2). acquired is false only when
// d.Lock is configured and another worker currently holds it.
func (d *Debounce) runLocked(ctx context.Context, conversationID, tenantID, leadPhone, combinedText string) (result htl.Result, acquired bool) {
	st := d.state(conversationID)

	if d.Lock != nil {
		holder := uuid.NewString()
		ok, err := d.Lock.Acquire(ctx, conversationID, holder, d.PipelineBudget)
		if err != nil || !ok {
			return htl.Result{}, false
		}
		defer func() {
			if err := d.Lock.Release(ctx, conversationID, holder); err != nil {
				logging.FromContext(ctx).Warn().Err(err).Msg("debounce_lock_release_failed")
			}
		}()
	}

	st.serialize.Lock()
	defer st.serialize.Unlock()
	return d.runPipeline(ctx, conversationID, tenantID, leadPhone, combinedText), true
}

// runPipeline assembles PipelineInput, invokes the HTL pipeline, applies the
// result, and kicks off the background Memory stage (§4.4 step 3, §4.10
// step 6). A panic inside the pipeline is recovered, flagged for human
// attention, and the combined text is re-queued rather than dropped.
func (d *Debounce) runPipeline(ctx context.Context, conversationID, tenantID, leadPhone, combinedText string) (result htl.Result) {
	logger := logging.FromContext(ctx)
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("debounce_pipeline_panic")
			attn := true
			if err := d.RPC.PatchConversation(ctx, conversationID, rpcclient.ConversationPatch{NeedsHumanAttention: &attn}); err != nil {
				logger.Warn().Err(err).Msg("debounce_flag_attention_failed")
			}
			d.requeue(conversationID, tenantID, leadPhone, combinedText, d.Window)
			result = htl.Result{Generate: domain.Emergency("")}
		}
	}()

	conv, err := d.RPC.ConversationByID(ctx, conversationID)
	if err != nil {
		logger.Error().Err(err).Msg("debounce_fetch_conversation_failed")
		return htl.Result{Generate: domain.Emergency("")}
	}
	recent, err := d.RPC.RecentMessages(ctx, conversationID, 10)
	if err != nil {
		logger.Warn().Err(err).Msg("debounce_fetch_recent_messages_failed")
	}

	in := domain.PipelineInput{
		TenantID:         tenantID,
		ConversationID:   conversationID,
		LeadPhone:        leadPhone,
		RollingSummary:   conv.RollingSummary,
		RecentMessages:   recent,
		Stage:            conv.Stage,
		IntentLevel:      conv.IntentLevel,
		UserSentiment:    conv.UserSentiment,
		Now:              time.Now().UTC(),
		FollowupCount24h: conv.FollowupCount24h,
		TotalNudges:      conv.TotalNudges,
	}
	if combinedText == "" {
		// synthetic scheduler-originated trigger (§4.9): nothing new to say,
		// just re-run Generate against current state.
		in.UserText = ""
	}

	result = d.Pipeline.Run(ctx, in, combinedText)

	if err := d.Applier.Apply(ctx, conv, leadPhone, result.Generate); err != nil {
		logger.Warn().Err(err).Msg("debounce_apply_action_failed")
	}

	if result.NeedsBackgroundSummary {
		go d.runMemory(conv, combinedText, result.Generate)
	}
	return result
}

// runMemory implements §4.4 step 3 as a detached background call.
func (d *Debounce) runMemory(conv domain.Conversation, userText string, out domain.GenerateOutput) {
	ctx, cancel := context.WithTimeout(context.Background(), llmtransport.Timeout)
	defer cancel()
	mem := d.Pipeline.RunMemory(ctx, htl.MemoryInput{
		PriorSummary: conv.RollingSummary,
		UserMessage:  userText,
		BotMessage:   out.MessageText,
		ActionTaken:  string(out.Action),
	})
	patch := rpcclient.ConversationPatch{RollingSummary: &mem.RollingSummary}
	if err := d.RPC.PatchConversation(ctx, conv.ID, patch); err != nil {
		logging.FromContext(ctx).Warn().Err(err).Msg("debounce_memory_patch_failed")
	}
}
