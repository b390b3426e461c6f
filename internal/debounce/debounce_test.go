package debounce

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wazero-automation/convo-core/internal/domain"
	"github.com/wazero-automation/convo-core/internal/htl"
	"github.com/wazero-automation/convo-core/internal/rpcclient"
)

const testPhoneNumberID = "waba-1"

type fakeRPC struct {
	mu sync.Mutex

	tenant       domain.Tenant
	conversation domain.Conversation

	incoming []string
	observed []domain.ObserverEvent
	patched  []rpcclient.ConversationPatch
}

func (f *fakeRPC) TenantByPhoneNumberID(ctx context.Context, phoneNumberID string) (domain.Tenant, error) {
	return f.tenant, nil
}

func (f *fakeRPC) ConversationByPhone(ctx context.Context, tenantID, phone string) (domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conversation, nil
}

func (f *fakeRPC) ConversationByID(ctx context.Context, id string) (domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conversation, nil
}

func (f *fakeRPC) PostIncomingMessage(ctx context.Context, conversationID, providerMessageID, content string) (domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incoming = append(f.incoming, content)
	return domain.Message{ConversationID: conversationID, Content: content}, nil
}

func (f *fakeRPC) RecentMessages(ctx context.Context, conversationID string, k int) ([]domain.Message, error) {
	return nil, nil
}

func (f *fakeRPC) Observe(ctx context.Context, ev domain.ObserverEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observed = append(f.observed, ev)
	return nil
}

func (f *fakeRPC) PatchConversation(ctx context.Context, id string, patch rpcclient.ConversationPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patched = append(f.patched, patch)
	return nil
}

type fakePipeline struct {
	mu    sync.Mutex
	calls []string // combinedText of each Run invocation, in order
}

func (f *fakePipeline) Run(ctx context.Context, in domain.PipelineInput, combinedText string) htl.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, combinedText)
	return htl.Result{Generate: domain.GenerateOutput{Action: domain.ActionWaitSchedule, NewStage: in.Stage}}
}

func (f *fakePipeline) RunMemory(ctx context.Context, in htl.MemoryInput) htl.MemoryResult {
	return htl.MemoryResult{RollingSummary: in.PriorSummary}
}

type fakeApplier struct {
	mu    sync.Mutex
	count int
}

func (f *fakeApplier) Apply(ctx context.Context, conv domain.Conversation, leadPhone string, out domain.GenerateOutput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
	return nil
}

func webhookBody(phoneNumberID, from, msgID, text string) []byte {
	return []byte(`{
		"entry": [{
			"changes": [{
				"value": {
					"metadata": {"phone_number_id": "` + phoneNumberID + `"},
					"messages": [{"from": "` + from + `", "id": "` + msgID + `", "type": "text", "text": {"body": "` + text + `"}}]
				}
			}]
		}]
	}`)
}

func TestDebounce_Coalescing_SingleInvocationConcatenated(t *testing.T) {
	rpc := &fakeRPC{
		tenant:       domain.Tenant{ID: "t1"},
		conversation: domain.Conversation{ID: "c1", TenantID: "t1", Mode: domain.ModeBot, Stage: domain.StageGreeting},
	}
	pipeline := &fakePipeline{}
	applier := &fakeApplier{}
	d := New(30*time.Millisecond, time.Second, rpc, pipeline, applier, nil)

	require.NoError(t, d.Handle(context.Background(), webhookBody(testPhoneNumberID, "+1555", "m1", "hi")))
	require.NoError(t, d.Handle(context.Background(), webhookBody(testPhoneNumberID, "+1555", "m2", "are you there?")))
	require.NoError(t, d.Handle(context.Background(), webhookBody(testPhoneNumberID, "+1555", "m3", "I need help")))

	assert.Eventually(t, func() bool {
		pipeline.mu.Lock()
		defer pipeline.mu.Unlock()
		return len(pipeline.calls) == 1
	}, time.Second, 5*time.Millisecond)

	pipeline.mu.Lock()
	defer pipeline.mu.Unlock()
	require.Len(t, pipeline.calls, 1)
	assert.Equal(t, "hi\nare you there?\nI need help", pipeline.calls[0])
}

func TestDebounce_HumanMode_NoLLMCallNoOutbound(t *testing.T) {
	rpc := &fakeRPC{
		tenant:       domain.Tenant{ID: "t1"},
		conversation: domain.Conversation{ID: "c1", TenantID: "t1", Mode: domain.ModeHuman, Stage: domain.StageQualification},
	}
	pipeline := &fakePipeline{}
	applier := &fakeApplier{}
	d := New(10*time.Millisecond, time.Second, rpc, pipeline, applier, nil)

	require.NoError(t, d.Handle(context.Background(), webhookBody(testPhoneNumberID, "+1555", "m1", "hello")))

	time.Sleep(50 * time.Millisecond)

	rpc.mu.Lock()
	defer rpc.mu.Unlock()
	assert.Equal(t, []string{"hello"}, rpc.incoming, "message must still be persisted under HUMAN mode")
	require.Len(t, rpc.observed, 1)
	assert.Equal(t, domain.EventConversationUpdated, rpc.observed[0].Type)

	pipeline.mu.Lock()
	defer pipeline.mu.Unlock()
	assert.Empty(t, pipeline.calls, "no pipeline invocation when mode=HUMAN")
}

type fakeLock struct {
	mu      sync.Mutex
	held    map[string]string
	maxHeld int
}

func newFakeLock() *fakeLock { return &fakeLock{held: make(map[string]string)} }

func (f *fakeLock) Acquire(ctx context.Context, conversationID, holderID string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, busy := f.held[conversationID]; busy {
		return false, nil
	}
	f.held[conversationID] = holderID
	if len(f.held) > f.maxHeld {
		f.maxHeld = len(f.held)
	}
	return true, nil
}

func (f *fakeLock) Release(ctx context.Context, conversationID, holderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[conversationID] == holderID {
		delete(f.held, conversationID)
	}
	return nil
}

// blockingPipeline holds Run open until release is closed, so a test can
// force two would-be-concurrent invocations to overlap in time if nothing
// serializes them.
type blockingPipeline struct {
	mu      sync.Mutex
	inFlight int
	maxInFlight int
	release chan struct{}
}

func (f *blockingPipeline) Run(ctx context.Context, in domain.PipelineInput, combinedText string) htl.Result {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()

	<-f.release

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
	return htl.Result{Generate: domain.GenerateOutput{Action: domain.ActionWaitSchedule, NewStage: in.Stage}}
}

func (f *blockingPipeline) RunMemory(ctx context.Context, in htl.MemoryInput) htl.MemoryResult {
	return htl.MemoryResult{RollingSummary: in.PriorSummary}
}

func TestInjectSynthetic_SharesLockWithDrain_NeverInterleaves(t *testing.T) {
	rpc := &fakeRPC{
		tenant:       domain.Tenant{ID: "t1"},
		conversation: domain.Conversation{ID: "c1", TenantID: "t1", Mode: domain.ModeBot, Stage: domain.StageGreeting},
	}
	pipeline := &blockingPipeline{release: make(chan struct{})}
	applier := &fakeApplier{}
	lock := newFakeLock()
	d := New(5*time.Millisecond, time.Second, rpc, pipeline, applier, lock)

	require.NoError(t, d.Handle(context.Background(), webhookBody(testPhoneNumberID, "+1555", "m1", "hi")))

	// Give the debounce window time to fire drain(), which should block
	// inside pipeline.Run holding both the distlock and the serialize mutex.
	require.Eventually(t, func() bool {
		pipeline.mu.Lock()
		defer pipeline.mu.Unlock()
		return pipeline.inFlight == 1
	}, time.Second, 5*time.Millisecond)

	done := make(chan htl.Result, 1)
	go func() {
		done <- d.InjectSynthetic(context.Background(), "c1", "t1", "+1555")
	}()

	// InjectSynthetic must not be able to acquire the lock while drain's
	// pipeline run is still in flight, so it should return immediately
	// without ever running the blocked pipeline concurrently.
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("InjectSynthetic did not return promptly when the conversation lock was held")
	}

	pipeline.mu.Lock()
	maxInFlight := pipeline.maxInFlight
	pipeline.mu.Unlock()
	assert.Equal(t, 1, maxInFlight, "a synthetic trigger must never run concurrently with an in-flight user-initiated pipeline for the same conversation")

	close(pipeline.release)
}

func TestDebounce_Serialization_AtMostOneInFlight(t *testing.T) {
	rpc := &fakeRPC{
		tenant:       domain.Tenant{ID: "t1"},
		conversation: domain.Conversation{ID: "c1", TenantID: "t1", Mode: domain.ModeBot, Stage: domain.StageGreeting},
	}
	pipeline := &blockingPipeline{release: make(chan struct{})}
	close(pipeline.release)
	applier := &fakeApplier{}
	d := New(5*time.Millisecond, time.Second, rpc, pipeline, applier, nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, d.Handle(context.Background(), webhookBody(testPhoneNumberID, "+1555", "m", "msg")))
		time.Sleep(20 * time.Millisecond)
	}

	assert.Eventually(t, func() bool {
		applier.mu.Lock()
		defer applier.mu.Unlock()
		return applier.count >= 1
	}, time.Second, 5*time.Millisecond)

	pipeline.mu.Lock()
	defer pipeline.mu.Unlock()
	assert.Equal(t, 1, pipeline.maxInFlight, "at most one pipeline invocation may be in flight for a conversation")
}
