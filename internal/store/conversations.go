package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wazero-automation/convo-core/internal/domain"
)

// ErrNotFound is returned when a lookup finds no row.
var ErrNotFound = errors.New("not found")

// TenantByPhoneNumberID resolves a Tenant by the provider's phone-number-id.
func (s *Store) TenantByPhoneNumberID(ctx context.Context, phoneNumberID string) (domain.Tenant, error) {
	row := s.Pool.QueryRow(ctx, `SELECT id, name, phone_number_id, access_token FROM tenants WHERE phone_number_id=$1`, phoneNumberID)
	var t domain.Tenant
	if err := row.Scan(&t.ID, &t.Name, &t.PhoneNumberID, &t.AccessToken); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Tenant{}, ErrNotFound
		}
		return domain.Tenant{}, err
	}
	return t, nil
}

// TenantByID resolves a Tenant by its primary key, used by the RPC server's
// Sender to look up provider credentials before dispatching an outbound send.
func (s *Store) TenantByID(ctx context.Context, id string) (domain.Tenant, error) {
	row := s.Pool.QueryRow(ctx, `SELECT id, name, phone_number_id, access_token FROM tenants WHERE id=$1`, id)
	var t domain.Tenant
	if err := row.Scan(&t.ID, &t.Name, &t.PhoneNumberID, &t.AccessToken); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Tenant{}, ErrNotFound
		}
		return domain.Tenant{}, err
	}
	return t, nil
}

// LeadPhone resolves a Lead's phone number by id, used by the Scheduler to
// address a synthetic follow-up at the right recipient (§4.9).
func (s *Store) LeadPhone(ctx context.Context, leadID string) (string, error) {
	row := s.Pool.QueryRow(ctx, `SELECT phone FROM leads WHERE id=$1`, leadID)
	var phone string
	if err := row.Scan(&phone); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return phone, nil
}

// ConversationByPhone resolves (creating Lead+Conversation if absent) the
// conversation for tenantID+phone, per spec.md's
// GET /conversations/by-phone contract.
func (s *Store) ConversationByPhone(ctx context.Context, tenantID, phone string) (domain.Conversation, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return domain.Conversation{}, err
	}
	defer tx.Rollback(ctx)

	var leadID string
	row := tx.QueryRow(ctx, `SELECT id FROM leads WHERE tenant_id=$1 AND phone=$2`, tenantID, phone)
	err = row.Scan(&leadID)
	if errors.Is(err, pgx.ErrNoRows) {
		leadID = uuid.NewString()
		if _, err := tx.Exec(ctx, `INSERT INTO leads(id, tenant_id, phone) VALUES($1,$2,$3)`, leadID, tenantID, phone); err != nil {
			return domain.Conversation{}, fmt.Errorf("create lead: %w", err)
		}
	} else if err != nil {
		return domain.Conversation{}, err
	}

	conv, err := scanConversationTx(ctx, tx, `SELECT id, tenant_id, lead_id, mode, stage, intent_level, user_sentiment, rolling_summary,
		last_user_message_at, last_bot_message_at, followup_count_24h, total_nudges, needs_human_attention, active_cta_id,
		created_at, updated_at FROM conversations WHERE tenant_id=$1 AND lead_id=$2`, tenantID, leadID)
	if errors.Is(err, ErrNotFound) {
		convID := uuid.NewString()
		if _, err := tx.Exec(ctx, `INSERT INTO conversations(id, tenant_id, lead_id) VALUES($1,$2,$3)`, convID, tenantID, leadID); err != nil {
			return domain.Conversation{}, fmt.Errorf("create conversation: %w", err)
		}
		conv, err = scanConversationTx(ctx, tx, `SELECT id, tenant_id, lead_id, mode, stage, intent_level, user_sentiment, rolling_summary,
			last_user_message_at, last_bot_message_at, followup_count_24h, total_nudges, needs_human_attention, active_cta_id,
			created_at, updated_at FROM conversations WHERE id=$1`, convID)
		if err != nil {
			return domain.Conversation{}, err
		}
	} else if err != nil {
		return domain.Conversation{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Conversation{}, err
	}
	return conv, nil
}

// ConversationByID fetches a conversation by its primary key.
func (s *Store) ConversationByID(ctx context.Context, id string) (domain.Conversation, error) {
	return scanConversationTx(ctx, s.Pool, `SELECT id, tenant_id, lead_id, mode, stage, intent_level, user_sentiment, rolling_summary,
		last_user_message_at, last_bot_message_at, followup_count_24h, total_nudges, needs_human_attention, active_cta_id,
		created_at, updated_at FROM conversations WHERE id=$1`, id)
}

func scanConversationTx(ctx context.Context, q interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}, sql string, args ...any) (domain.Conversation, error) {
	row := q.QueryRow(ctx, sql, args...)
	var c domain.Conversation
	var activeCTA *string
	var lastUser, lastBot *time.Time
	if err := row.Scan(&c.ID, &c.TenantID, &c.LeadID, &c.Mode, &c.Stage, &c.IntentLevel, &c.UserSentiment, &c.RollingSummary,
		&lastUser, &lastBot, &c.FollowupCount24h, &c.TotalNudges, &c.NeedsHumanAttention, &activeCTA, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Conversation{}, ErrNotFound
		}
		return domain.Conversation{}, err
	}
	c.LastUserMessageAt = lastUser
	c.LastBotMessageAt = lastBot
	c.ActiveCTAID = activeCTA
	return c, nil
}

// ConversationPatch carries the subset of mutable conversation fields the
// Action Applier (and takeover/resolution commands) may update.
type ConversationPatch struct {
	Stage               *domain.Stage
	IntentLevel         *domain.IntentLevel
	UserSentiment       *domain.Sentiment
	Mode                *domain.ConversationMode
	RollingSummary      *string
	NeedsHumanAttention *bool
	ActiveCTAID         *string
	LastUserMessageAt   *time.Time
	LastBotMessageAt    *time.Time
}

// PatchConversation applies a partial update, following the RPC contract's
// PATCH /conversations/{id} semantics (§4.7).
func (s *Store) PatchConversation(ctx context.Context, id string, p ConversationPatch) error {
	sets := []string{"updated_at = now()"}
	args := []any{}
	add := func(col string, val any) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if p.Stage != nil {
		add("stage", string(*p.Stage))
	}
	if p.IntentLevel != nil {
		add("intent_level", string(*p.IntentLevel))
	}
	if p.UserSentiment != nil {
		add("user_sentiment", string(*p.UserSentiment))
	}
	if p.Mode != nil {
		add("mode", string(*p.Mode))
	}
	if p.RollingSummary != nil {
		add("rolling_summary", *p.RollingSummary)
	}
	if p.NeedsHumanAttention != nil {
		add("needs_human_attention", *p.NeedsHumanAttention)
	}
	if p.ActiveCTAID != nil {
		add("active_cta_id", *p.ActiveCTAID)
	}
	if p.LastUserMessageAt != nil {
		add("last_user_message_at", *p.LastUserMessageAt)
	}
	if p.LastBotMessageAt != nil {
		add("last_bot_message_at", *p.LastBotMessageAt)
	}
	args = append(args, id)
	sql := fmt.Sprintf("UPDATE conversations SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	ct, err := s.Pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementFollowupCount atomically bumps followup_count_24h by delta
// (§4.7, §5: "Counter updates must be performed server-side with an atomic
// increment").
func (s *Store) IncrementFollowupCount(ctx context.Context, conversationID string, delta int) error {
	ct, err := s.Pool.Exec(ctx, `UPDATE conversations SET followup_count_24h = followup_count_24h + $1, updated_at = now() WHERE id=$2`, delta, conversationID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementTotalNudges atomically bumps total_nudges by delta.
func (s *Store) IncrementTotalNudges(ctx context.Context, conversationID string, delta int) error {
	ct, err := s.Pool.Exec(ctx, `UPDATE conversations SET total_nudges = total_nudges + $1, updated_at = now() WHERE id=$2`, delta, conversationID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
