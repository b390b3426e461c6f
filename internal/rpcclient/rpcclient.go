// Package rpcclient is the only way the Consumer/Debounce/Pipeline/
// Scheduler/Action Applier side reaches state: it has no direct database
// access (spec.md §4.7). Every call is HTTP+JSON authenticated by the
// X-Internal-Secret header, with a small bounded retry with jitter on 5xx/
// network error (§7's "Transient external failure" class). Grounded in the
// teacher's general net/http client usage (internal/llm/openai_client.go
// builds its own *http.Client per call rather than depending on an HTTP
// framework) and in the bounded-retry shape of
// internal/orchestrator/kafka.go's worker retry loop.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/wazero-automation/convo-core/internal/apperrors"
	"github.com/wazero-automation/convo-core/internal/domain"
	"github.com/wazero-automation/convo-core/internal/telemetry"
)

// Client talks to internal/rpcserver over HTTP.
type Client struct {
	BaseURL string
	Secret  string
	HTTP    *http.Client
}

// New builds a Client against baseURL, authenticated with secret.
func New(baseURL, secret string) *Client {
	return &Client{BaseURL: baseURL, Secret: secret, HTTP: telemetry.InstrumentClient(&http.Client{Timeout: 10 * time.Second})}
}

// TenantByPhoneNumberID resolves GET /tenants/by-phone-number-id, the first
// step of the Debounce layer's arrival handling (§4.3 step 1): the inbound
// webhook identifies a tenant by WABA phone-number-id, not by tenant id.
func (c *Client) TenantByPhoneNumberID(ctx context.Context, phoneNumberID string) (domain.Tenant, error) {
	var out domain.Tenant
	err := c.do(ctx, http.MethodGet, "/tenants/by-phone-number-id?phone_number_id="+phoneNumberID, nil, &out)
	return out, err
}

// LeadPhone resolves GET /leads/{id}/phone.
func (c *Client) LeadPhone(ctx context.Context, leadID string) (string, error) {
	var out struct {
		Phone string `json:"phone"`
	}
	err := c.do(ctx, http.MethodGet, "/leads/"+leadID+"/phone", nil, &out)
	return out.Phone, err
}

// ConversationByPhone resolves GET /conversations/by-phone.
func (c *Client) ConversationByPhone(ctx context.Context, tenantID, phone string) (domain.Conversation, error) {
	var out domain.Conversation
	path := fmt.Sprintf("/conversations/by-phone?tenant=%s&phone=%s", tenantID, phone)
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// ConversationByID resolves GET /conversations/{id}.
func (c *Client) ConversationByID(ctx context.Context, id string) (domain.Conversation, error) {
	var out domain.Conversation
	err := c.do(ctx, http.MethodGet, "/conversations/"+id, nil, &out)
	return out, err
}

// RecentMessages resolves GET /conversations/{id}/recent-messages?k=....
func (c *Client) RecentMessages(ctx context.Context, conversationID string, k int) ([]domain.Message, error) {
	var out []domain.Message
	path := fmt.Sprintf("/conversations/%s/recent-messages?k=%d", conversationID, k)
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// ConversationPatch mirrors store.ConversationPatch for the wire.
type ConversationPatch struct {
	Stage               *domain.Stage            `json:"stage,omitempty"`
	IntentLevel         *domain.IntentLevel      `json:"intent_level,omitempty"`
	UserSentiment       *domain.Sentiment        `json:"user_sentiment,omitempty"`
	Mode                *domain.ConversationMode `json:"mode,omitempty"`
	RollingSummary      *string                  `json:"rolling_summary,omitempty"`
	NeedsHumanAttention *bool                    `json:"needs_human_attention,omitempty"`
	ActiveCTAID         *string                  `json:"active_cta_id,omitempty"`
	LastUserMessageAt   *time.Time               `json:"last_user_message_at,omitempty"`
	LastBotMessageAt    *time.Time               `json:"last_bot_message_at,omitempty"`
}

// PatchConversation issues PATCH /conversations/{id}.
func (c *Client) PatchConversation(ctx context.Context, id string, patch ConversationPatch) error {
	return c.do(ctx, http.MethodPatch, "/conversations/"+id, patch, nil)
}

type incomingMessageRequest struct {
	ConversationID    string `json:"conversation_id"`
	ProviderMessageID string `json:"provider_message_id"`
	Content           string `json:"content"`
}

// PostIncomingMessage persists a LEAD-origin message, idempotent on
// provider message id.
func (c *Client) PostIncomingMessage(ctx context.Context, conversationID, providerMessageID, content string) (domain.Message, error) {
	var out domain.Message
	err := c.do(ctx, http.MethodPost, "/messages/incoming", incomingMessageRequest{
		ConversationID: conversationID, ProviderMessageID: providerMessageID, Content: content,
	}, &out)
	return out, err
}

type outgoingMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	Origin         string `json:"origin"`
	Content        string `json:"content"`
}

// PostOutgoingMessage appends a BOT/HUMAN-originated message.
func (c *Client) PostOutgoingMessage(ctx context.Context, conversationID string, origin domain.MessageOrigin, content string) (domain.Message, error) {
	var out domain.Message
	err := c.do(ctx, http.MethodPost, "/messages/outgoing", outgoingMessageRequest{
		ConversationID: conversationID, Origin: string(origin), Content: content,
	}, &out)
	return out, err
}

// DueFollowup mirrors store.DueFollowup for the wire.
type DueFollowup struct {
	Conversation domain.Conversation  `json:"conversation"`
	Bucket       domain.FollowupBucket `json:"bucket"`
}

// DueFollowups resolves GET /conversations/due-followups?now=....
func (c *Client) DueFollowups(ctx context.Context, now time.Time) ([]DueFollowup, error) {
	var out []DueFollowup
	path := "/conversations/due-followups?now=" + now.UTC().Format(time.RFC3339)
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// IncrementFollowupCount atomically bumps followup_count_24h server-side.
func (c *Client) IncrementFollowupCount(ctx context.Context, conversationID string, delta int) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/conversations/%s/followup-count", conversationID),
		map[string]int{"delta": delta}, nil)
}

type sendRequest struct {
	TenantID string `json:"tenant_id"`
	ToPhone  string `json:"to_phone"`
	Text     string `json:"text"`
}

// SendMessage dispatches an outbound send via the RPC layer, which owns
// provider-specific formatting (§6).
func (c *Client) SendMessage(ctx context.Context, tenantID, toPhone, text string) error {
	return c.do(ctx, http.MethodPost, "/messages/send", sendRequest{TenantID: tenantID, ToPhone: toPhone, Text: text}, nil)
}

// RetrievalResult mirrors domain.RetrievedKnowledge for the wire.
type RetrievalResult struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Content  string  `json:"content"`
	VecSim   float64 `json:"vec_sim"`
	KeyRank  int     `json:"key_rank"`
	RRFScore float64 `json:"rrf_score"`
	Reason   string  `json:"reason"`
}

// Retrieve calls POST /retrieval/search: the Retrieval Engine must run
// inside internal/rpcserver (the only component with a DB connection), so
// the HTL pipeline reaches it through this RPC endpoint rather than linking
// internal/store directly — a consequence of §4.7's no-direct-DB-access
// invariant that spec.md's endpoint list does not spell out but requires.
func (c *Client) Retrieve(ctx context.Context, tenantID, query string) ([]RetrievalResult, error) {
	var out []RetrievalResult
	err := c.do(ctx, http.MethodPost, "/retrieval/search", map[string]string{"tenant_id": tenantID, "query": query}, &out)
	return out, err
}

// Ingest calls POST /knowledge/ingest, the wire path for the supplemental
// ingestion helper (internal/ingest) that also runs DB-side inside
// internal/rpcserver.
func (c *Client) Ingest(ctx context.Context, tenantID, title, content string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	err := c.do(ctx, http.MethodPost, "/knowledge/ingest", map[string]string{
		"tenant_id": tenantID, "title": title, "content": content,
	}, &out)
	return out.ID, err
}

// Observe forwards an observer event through the RPC layer's /events
// endpoint, the only path observer events take out of the worker side: the
// RPC server hands each one to its Notifier (internal/observer), which
// publishes it to Redis and, if configured, the dashboard webhook (§4.10).
func (c *Client) Observe(ctx context.Context, ev domain.ObserverEvent) error {
	return c.do(ctx, http.MethodPost, "/events", ev, nil)
}

// ResetState calls POST /admin/reset-state, truncating all leads,
// conversations and messages (tenants and knowledge items are kept). Used
// only by the waserv reset-state CLI subcommand against non-production
// databases.
func (c *Client) ResetState(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/admin/reset-state", nil, nil)
}

// maxAttempts bounds the retry-with-jitter policy on transient failures.
const maxAttempts = 3

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal rpc request: %w", err)
		}
		payload = b
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("build rpc request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Internal-Secret", c.Secret)

		resp, err := c.HTTP.Do(req)
		if err != nil {
			lastErr = apperrors.NewTransient("rpc "+path, err)
			if !c.sleepBackoff(ctx, attempt) {
				return lastErr
			}
			continue
		}

		status, retry, callErr := readResponse(resp, out)
		if callErr == nil {
			return nil
		}
		lastErr = callErr
		if !retry || status < 500 {
			return lastErr
		}
		if !c.sleepBackoff(ctx, attempt) {
			return lastErr
		}
	}
	return lastErr
}

func readResponse(resp *http.Response, out any) (status int, retryable bool, err error) {
	defer resp.Body.Close()
	status = resp.StatusCode
	if status >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return status, status >= 500, fmt.Errorf("rpc call failed: status=%d body=%s", status, string(body))
	}
	if out == nil {
		return status, false, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return status, false, fmt.Errorf("decode rpc response: %w", err)
	}
	return status, false, nil
}

// sleepBackoff waits an exponential-with-jitter delay before the next
// attempt, returning false if ctx was canceled or attempts are exhausted.
func (c *Client) sleepBackoff(ctx context.Context, attempt int) bool {
	if attempt >= maxAttempts {
		return false
	}
	base := time.Duration(100*(1<<uint(attempt))) * time.Millisecond
	jitter := time.Duration(rand.Int63n(int64(base)))
	timer := time.NewTimer(base/2 + jitter)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
