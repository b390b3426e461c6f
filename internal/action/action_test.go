package action

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wazero-automation/convo-core/internal/domain"
	"github.com/wazero-automation/convo-core/internal/rpcclient"
)

type fakeRPC struct {
	sent       []string
	outgoing   []string
	patches    []rpcclient.ConversationPatch
	events     []domain.ObserverEvent
	sendErr    error
}

func (f *fakeRPC) SendMessage(ctx context.Context, tenantID, toPhone, text string) error {
	f.sent = append(f.sent, text)
	return f.sendErr
}

func (f *fakeRPC) PostOutgoingMessage(ctx context.Context, conversationID string, origin domain.MessageOrigin, content string) (domain.Message, error) {
	f.outgoing = append(f.outgoing, content)
	return domain.Message{ConversationID: conversationID, Origin: origin, Content: content}, nil
}

func (f *fakeRPC) PatchConversation(ctx context.Context, id string, patch rpcclient.ConversationPatch) error {
	f.patches = append(f.patches, patch)
	return nil
}

func (f *fakeRPC) Observe(ctx context.Context, ev domain.ObserverEvent) error {
	f.events = append(f.events, ev)
	return nil
}

func TestApply_SendNow_PersistsAndPatches(t *testing.T) {
	rpc := &fakeRPC{}
	a := New(rpc)
	conv := domain.Conversation{ID: "c1", TenantID: "t1"}
	out := domain.GenerateOutput{ShouldRespond: true, MessageText: "hi there", Action: domain.ActionSendNow, NewStage: domain.StageQualification}

	err := a.Apply(context.Background(), conv, "+15550001", out)
	require.NoError(t, err)

	assert.Equal(t, []string{"hi there"}, rpc.sent)
	assert.Equal(t, []string{"hi there"}, rpc.outgoing)
	require.Len(t, rpc.patches, 1)
	assert.Equal(t, domain.StageQualification, *rpc.patches[0].Stage)
	assert.Empty(t, rpc.events)
}

func TestApply_WaitSchedule_DoesNotSend(t *testing.T) {
	rpc := &fakeRPC{}
	a := New(rpc)
	conv := domain.Conversation{ID: "c1", TenantID: "t1"}
	out := domain.GenerateOutput{ShouldRespond: false, Action: domain.ActionWaitSchedule, NewStage: domain.StageFollowup}

	err := a.Apply(context.Background(), conv, "+15550001", out)
	require.NoError(t, err)

	assert.Empty(t, rpc.sent)
	assert.Empty(t, rpc.outgoing)
	require.Len(t, rpc.patches, 1)
}

func TestApply_FlagAttention_EmitsObserverEvent(t *testing.T) {
	rpc := &fakeRPC{}
	a := New(rpc)
	conv := domain.Conversation{ID: "c1", TenantID: "t1"}
	out := domain.GenerateOutput{Action: domain.ActionFlagAttention, NeedsHumanAttention: true, NewStage: domain.StageQualification}

	err := a.Apply(context.Background(), conv, "+15550001", out)
	require.NoError(t, err)

	require.Len(t, rpc.events, 1)
	assert.Equal(t, domain.EventHumanAttentionRequired, rpc.events[0].Type)
}

func TestApply_InitiateCTA_EmitsConversationsFlagged(t *testing.T) {
	rpc := &fakeRPC{}
	a := New(rpc)
	conv := domain.Conversation{ID: "c1", TenantID: "t1"}
	ctaID := "cta-1"
	out := domain.GenerateOutput{Action: domain.ActionInitiateCTA, SelectedCTAID: &ctaID, NewStage: domain.StageCTA}

	err := a.Apply(context.Background(), conv, "+15550001", out)
	require.NoError(t, err)

	require.Len(t, rpc.events, 1)
	assert.Equal(t, domain.EventConversationsFlagged, rpc.events[0].Type)
	require.Len(t, rpc.patches, 1)
	assert.Equal(t, "cta-1", *rpc.patches[0].ActiveCTAID)
}

func TestApply_SendFailure_StillPatchesConversation(t *testing.T) {
	rpc := &fakeRPC{sendErr: assert.AnError}
	a := New(rpc)
	conv := domain.Conversation{ID: "c1", TenantID: "t1"}
	out := domain.GenerateOutput{ShouldRespond: true, MessageText: "hi", Action: domain.ActionSendNow, NewStage: domain.StageQualification}

	err := a.Apply(context.Background(), conv, "+15550001", out)
	require.NoError(t, err)

	assert.Empty(t, rpc.outgoing, "message must not be persisted as sent when the provider call failed")
	require.Len(t, rpc.patches, 1)
}
