package rpcserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/wazero-automation/convo-core/internal/domain"
	"github.com/wazero-automation/convo-core/internal/logging"
	"github.com/wazero-automation/convo-core/internal/rpcclient"
	"github.com/wazero-automation/convo-core/internal/store"
)

func (s *Server) handleTenantByPhoneNumberID(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	phoneNumberID := r.URL.Query().Get("phone_number_id")
	tenant, err := s.Store.TenantByPhoneNumberID(ctx, phoneNumberID)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, tenant)
}

func (s *Server) handleLeadPhone(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	phone, err := s.Store.LeadPhone(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"phone": phone})
}

func (s *Server) handleConversationByPhone(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := r.URL.Query().Get("tenant")
	phone := r.URL.Query().Get("phone")
	conv, err := s.Store.ConversationByPhone(ctx, tenantID, phone)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, conv)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	conv, err := s.Store.ConversationByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, conv)
}

func (s *Server) handleRecentMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	k := 10
	if v := r.URL.Query().Get("k"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			k = n
		}
	}
	msgs, err := s.Store.RecentMessages(ctx, id, k)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, msgs)
}

func (s *Server) handlePatchConversation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	var patch rpcclient.ConversationPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	err := s.Store.PatchConversation(ctx, id, store.ConversationPatch{
		Stage:               patch.Stage,
		IntentLevel:         patch.IntentLevel,
		UserSentiment:       patch.UserSentiment,
		Mode:                patch.Mode,
		RollingSummary:      patch.RollingSummary,
		NeedsHumanAttention: patch.NeedsHumanAttention,
		ActiveCTAID:         patch.ActiveCTAID,
		LastUserMessageAt:   patch.LastUserMessageAt,
		LastBotMessageAt:    patch.LastBotMessageAt,
	})
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleIncrementFollowupCount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	var req struct {
		Delta int `json:"delta"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.Store.IncrementFollowupCount(ctx, id, req.Delta); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		respondError(w, status, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePostIncoming(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req struct {
		ConversationID    string `json:"conversation_id"`
		ProviderMessageID string `json:"provider_message_id"`
		Content           string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	msg, err := s.Store.InsertIncomingMessage(ctx, req.ConversationID, req.ProviderMessageID, req.Content)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusCreated, msg)
}

func (s *Server) handlePostOutgoing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req struct {
		ConversationID string `json:"conversation_id"`
		Origin         string `json:"origin"`
		Content        string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	msg, err := s.Store.InsertOutgoingMessage(ctx, req.ConversationID, domain.MessageOrigin(req.Origin), req.Content)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.Store.PatchConversation(ctx, req.ConversationID, store.ConversationPatch{LastBotMessageAt: &msg.CreatedAt}); err != nil {
		logging.FromContext(ctx).Warn().Err(err).Msg("rpcserver_update_last_bot_message_at_failed")
	}
	respondJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleDueFollowups(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := time.Now().UTC()
	if v := r.URL.Query().Get("now"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			now = t
		}
	}
	rows, err := s.Store.DueFollowups(ctx, now, domain.DefaultFollowupBuckets)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]rpcclient.DueFollowup, 0, len(rows))
	for _, row := range rows {
		out = append(out, rpcclient.DueFollowup{Conversation: row.Conversation, Bucket: row.Bucket})
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req struct {
		TenantID string `json:"tenant_id"`
		ToPhone  string `json:"to_phone"`
		Text     string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if s.Sender == nil {
		respondError(w, http.StatusInternalServerError, errors.New("no sender configured"))
		return
	}
	if err := s.Sender.SendText(ctx, req.TenantID, req.ToPhone, req.Text); err != nil {
		respondError(w, http.StatusBadGateway, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRetrievalSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req struct {
		TenantID string `json:"tenant_id"`
		Query    string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if s.Engine == nil {
		respondJSON(w, http.StatusOK, []rpcclient.RetrievalResult{})
		return
	}
	items, err := s.Engine.Search(ctx, req.TenantID, req.Query)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]rpcclient.RetrievalResult, 0, len(items))
	for _, it := range items {
		out = append(out, rpcclient.RetrievalResult{
			ID: it.Chunk.ID, Title: it.Chunk.Title, Content: it.Chunk.Content,
			VecSim: it.VecSim, KeyRank: it.KeyRank, RRFScore: it.RRFScore, Reason: it.Reason,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.Ingester == nil {
		respondError(w, http.StatusServiceUnavailable, errors.New("no ingester configured"))
		return
	}
	var req struct {
		TenantID string `json:"tenant_id"`
		Title    string `json:"title"`
		Content  string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	id, err := s.Ingester.Ingest(ctx, req.TenantID, req.Title, req.Content)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var ev domain.ObserverEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if s.Notifier != nil {
		s.Notifier.Emit(ctx, ev)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResetState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.Store.TruncateAll(ctx); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]any{"error": err.Error()})
}
