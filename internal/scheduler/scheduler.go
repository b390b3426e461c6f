// Package scheduler implements the Scheduler of spec.md §4.9: a fixed-cadence
// ticker that fetches due follow-ups and injects a synthetic trigger into the
// Debounce layer's serialization path for each, fanned out with
// golang.org/x/sync/errgroup — the same idiomatic-upgrade-over-raw-
// sync.WaitGroup pattern the Queue Consumer uses.
package scheduler

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wazero-automation/convo-core/internal/htl"
	"github.com/wazero-automation/convo-core/internal/logging"
	"github.com/wazero-automation/convo-core/internal/rpcclient"
)

// Injector is the subset of *debounce.Debounce the Scheduler drives.
type Injector interface {
	InjectSynthetic(ctx context.Context, conversationID, tenantID, leadPhone string) htl.Result
}

// RPC is the subset of *rpcclient.Client the Scheduler needs.
type RPC interface {
	DueFollowups(ctx context.Context, now time.Time) ([]rpcclient.DueFollowup, error)
	IncrementFollowupCount(ctx context.Context, conversationID string, delta int) error
	LeadPhone(ctx context.Context, leadID string) (string, error)
}

// Scheduler runs the §4.9 tick loop.
type Scheduler struct {
	Interval time.Duration
	RPC      RPC
	Injector Injector
	// MaxConcurrent bounds the per-tick fan-out of synthetic pipeline
	// invocations (default 8).
	MaxConcurrent int
}

// New builds a Scheduler. interval defaults to 60s (§4.9's default cadence).
func New(interval time.Duration, rpc RPC, injector Injector) *Scheduler {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Scheduler{Interval: interval, RPC: rpc, Injector: injector, MaxConcurrent: 8}
}

// Run blocks, ticking until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick implements §4.9 steps 1-3. The scheduler is idempotent under its own
// re-entry (a conversation already advanced past its bucket won't match the
// due-followups query on the next tick), so no additional dedup is needed
// here beyond what the RPC layer's read-side query already guarantees.
func (s *Scheduler) tick(ctx context.Context) {
	logger := logging.FromContext(ctx)
	due, err := s.RPC.DueFollowups(ctx, time.Now().UTC())
	if err != nil {
		logger.Warn().Err(err).Msg("scheduler_due_followups_failed")
		return
	}
	if len(due) == 0 {
		return
	}

	sem := make(chan struct{}, s.MaxConcurrent)
	g, gctx := errgroup.WithContext(ctx)
	for _, d := range due {
		d := d
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()
			s.process(gctx, d)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Scheduler) process(ctx context.Context, due rpcclient.DueFollowup) {
	logger := logging.FromContext(ctx)
	phone, err := s.RPC.LeadPhone(ctx, due.Conversation.LeadID)
	if err != nil {
		logger.Warn().Err(err).Str("conversation_id", due.Conversation.ID).Msg("scheduler_lead_phone_lookup_failed")
		return
	}

	result := s.Injector.InjectSynthetic(ctx, due.Conversation.ID, due.Conversation.TenantID, phone)

	if result.Generate.ShouldRespond {
		if err := s.RPC.IncrementFollowupCount(ctx, due.Conversation.ID, 1); err != nil {
			logger.Warn().Err(err).Str("conversation_id", due.Conversation.ID).Msg("scheduler_increment_followup_count_failed")
		}
	}
}
