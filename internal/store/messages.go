package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wazero-automation/convo-core/internal/domain"
)

// InsertIncomingMessage idempotently persists a LEAD-origin message, keyed on
// providerMessageID (spec.md §4.2/§4.7: dedupe by provider message id). If a
// row with the same (conversation_id, provider_message_id) already exists,
// the existing row is returned without error.
func (s *Store) InsertIncomingMessage(ctx context.Context, conversationID, providerMessageID, content string) (domain.Message, error) {
	if providerMessageID != "" {
		existing, err := s.messageByProviderID(ctx, conversationID, providerMessageID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return domain.Message{}, err
		}
	}
	return s.insertMessage(ctx, conversationID, providerMessageID, domain.OriginLead, content)
}

// InsertOutgoingMessage appends a BOT or HUMAN originated message. Outbound
// is append-only; no idempotency key is required.
func (s *Store) InsertOutgoingMessage(ctx context.Context, conversationID string, origin domain.MessageOrigin, content string) (domain.Message, error) {
	return s.insertMessage(ctx, conversationID, "", origin, content)
}

func (s *Store) insertMessage(ctx context.Context, conversationID, providerMessageID string, origin domain.MessageOrigin, content string) (domain.Message, error) {
	m := domain.Message{
		ID:                uuid.NewString(),
		ConversationID:    conversationID,
		ProviderMessageID: providerMessageID,
		Origin:            origin,
		Content:           content,
	}
	var pmid any
	if providerMessageID != "" {
		pmid = providerMessageID
	}
	row := s.Pool.QueryRow(ctx, `INSERT INTO messages(id, conversation_id, provider_message_id, origin, content)
		VALUES($1,$2,$3,$4,$5) RETURNING created_at`, m.ID, m.ConversationID, pmid, string(m.Origin), m.Content)
	if err := row.Scan(&m.CreatedAt); err != nil {
		return domain.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

func (s *Store) messageByProviderID(ctx context.Context, conversationID, providerMessageID string) (domain.Message, error) {
	row := s.Pool.QueryRow(ctx, `SELECT id, conversation_id, provider_message_id, origin, content, created_at
		FROM messages WHERE conversation_id=$1 AND provider_message_id=$2`, conversationID, providerMessageID)
	var m domain.Message
	var pmid *string
	if err := row.Scan(&m.ID, &m.ConversationID, &pmid, &m.Origin, &m.Content, &m.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Message{}, ErrNotFound
		}
		return domain.Message{}, err
	}
	if pmid != nil {
		m.ProviderMessageID = *pmid
	}
	return m, nil
}

// RecentMessages returns the last k messages for a conversation in
// ascending (arrival) order, for assembly into PipelineInput.
func (s *Store) RecentMessages(ctx context.Context, conversationID string, k int) ([]domain.Message, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id, conversation_id, provider_message_id, origin, content, created_at
		FROM messages WHERE conversation_id=$1 ORDER BY created_at DESC LIMIT $2`, conversationID, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Message
	for rows.Next() {
		var m domain.Message
		var pmid *string
		if err := rows.Scan(&m.ID, &m.ConversationID, &pmid, &m.Origin, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		if pmid != nil {
			m.ProviderMessageID = *pmid
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// reverse to ascending order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// DueFollowup pairs a conversation with the bucket it matched.
type DueFollowup struct {
	Conversation domain.Conversation
	Bucket       domain.FollowupBucket
}

// DueFollowups implements GET /conversations/due-followups (§4.7): for each
// bucket, finds conversations whose last_bot_message_at falls in
// [now-max, now-min] and whose followup_count_24h equals the bucket's
// required prior count. The read-side reset policy (§9 Open Question) is
// folded in here: if last_bot_message_at is more than 24h old, the
// effective prior-count used for bucket matching is treated as 0 instead of
// the stored value. That clause can only match a bucket whose window reaches
// back past 24h; with DefaultFollowupBuckets (at most 400 minutes) it never
// does, so the stored followup_count_24h alone decides.
func (s *Store) DueFollowups(ctx context.Context, now time.Time, buckets []domain.FollowupBucket) ([]DueFollowup, error) {
	var out []DueFollowup
	for _, b := range buckets {
		lo := now.Add(-time.Duration(b.MaxMinutes) * time.Minute)
		hi := now.Add(-time.Duration(b.MinMinutes) * time.Minute)
		dayAgo := now.Add(-24 * time.Hour)
		rows, err := s.Pool.Query(ctx, `SELECT id, tenant_id, lead_id, mode, stage, intent_level, user_sentiment, rolling_summary,
			last_user_message_at, last_bot_message_at, followup_count_24h, total_nudges, needs_human_attention, active_cta_id,
			created_at, updated_at
			FROM conversations
			WHERE mode = 'BOT'
			  AND stage NOT IN ('closed','lost','ghosted')
			  AND last_bot_message_at IS NOT NULL
			  AND last_bot_message_at BETWEEN $1 AND $2
			  AND (
			    followup_count_24h = $3
			    OR (last_bot_message_at < $4 AND $3 = 0)
			  )`, lo, hi, b.RequiredPriorCount, dayAgo)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			c, err := scanConversationRow(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			out = append(out, DueFollowup{Conversation: c, Bucket: b})
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

func scanConversationRow(rows pgx.Rows) (domain.Conversation, error) {
	var c domain.Conversation
	var activeCTA *string
	var lastUser, lastBot *time.Time
	if err := rows.Scan(&c.ID, &c.TenantID, &c.LeadID, &c.Mode, &c.Stage, &c.IntentLevel, &c.UserSentiment, &c.RollingSummary,
		&lastUser, &lastBot, &c.FollowupCount24h, &c.TotalNudges, &c.NeedsHumanAttention, &activeCTA, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return domain.Conversation{}, err
	}
	c.LastUserMessageAt = lastUser
	c.LastBotMessageAt = lastBot
	c.ActiveCTAID = activeCTA
	return c, nil
}
