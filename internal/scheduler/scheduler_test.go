package scheduler

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

type fakeRPC struct {
	mu        sync.Mutex
	due       []rpcclient.DueFollowup
	increments map[string]int
}

func (f *fakeRPC) DueFollowups(ctx context.Context, now time.Time) ([]rpcclient.DueFollowup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.due, nil
}

func (f *fakeRPC) IncrementFollowupCount(ctx context.Context, conversationID string, delta int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.increments == nil {
		f.increments = make(map[string]int)
	}
	f.increments[conversationID] += delta
	return nil
}

func (f *fakeRPC) LeadPhone(ctx context.Context, leadID string) (string, error) {
	return "+15550001", nil
}

type fakeInjector struct {
	mu    sync.Mutex
	calls int
	reply htl.Result
}

func (f *fakeInjector) InjectSynthetic(ctx context.Context, conversationID, tenantID, leadPhone string) htl.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.reply
}

func TestScheduler_Tick_IncrementsOnlyOnShouldRespond(t *testing.T) {
	rpc := &fakeRPC{due: []rpcclient.DueFollowup{
		{Conversation: domain.Conversation{ID: "c1", TenantID: "t1", LeadID: "l1"}, Bucket: domain.DefaultFollowupBuckets[0]},
	}}
	injector := &fakeInjector{reply: htl.Result{Generate: domain.GenerateOutput{ShouldRespond: true}}}
	s := New(10*time.Millisecond, rpc, injector)

	s.tick(context.Background())

	assert.Equal(t, 1, injector.calls)
	assert.Equal(t, 1, rpc.increments["c1"])
}

func TestScheduler_Tick_NoIncrementWhenShouldNotRespond(t *testing.T) {
	rpc := &fakeRPC{due: []rpcclient.DueFollowup{
		{Conversation: domain.Conversation{ID: "c1", TenantID: "t1", LeadID: "l1"}, Bucket: domain.DefaultFollowupBuckets[0]},
	}}
	injector := &fakeInjector{reply: htl.Result{Generate: domain.GenerateOutput{ShouldRespond: false}}}
	s := New(10*time.Millisecond, rpc, injector)

	s.tick(context.Background())

	assert.Equal(t, 1, injector.calls)
	assert.Equal(t, 0, rpc.increments["c1"])
}

func TestScheduler_EmptyDueFollowups_NoInvocation(t *testing.T) {
	rpc := &fakeRPC{}
	injector := &fakeInjector{}
	s := New(10*time.Millisecond, rpc, injector)

	s.tick(context.Background())

	require.Equal(t, 0, injector.calls)
}
