// Package rpcserver implements the only component with direct database
// access (spec.md §4.7): it owns the pgx pool via internal/store and exposes
// every endpoint the Consumer/Debounce/Pipeline/Scheduler/Action Applier
// side needs over HTTP+JSON, authenticated by a shared secret compared in
// constant time. Routing follows the teacher's internal/httpapi/server.go
// (stdlib http.ServeMux with method+pattern routes, r.PathValue).
package rpcserver

import (
	"context"
	"crypto/hmac"
	"net/http"

	"github.com/wazero-automation/convo-core/internal/domain"
	"github.com/wazero-automation/convo-core/internal/ingest"
	"github.com/wazero-automation/convo-core/internal/retrieve"
	"github.com/wazero-automation/convo-core/internal/store"
)

// Sender abstracts the messaging provider so POST /messages/send can be
// tested without a live WhatsApp connection (§6: "the RPC owns
// provider-specific formatting and the 24-hour session-window/template
// rules").
type Sender interface {
	SendText(ctx context.Context, tenantID, toPhone, text string) error
}

// Notifier forwards an observer event received on POST /events to whatever
// the RPC process is configured to notify (Redis, a dashboard webhook, or
// both). It is the only delivery path for observer events: the worker
// process sends them here through rpcclient.Observe (§4.10).
type Notifier interface {
	Emit(ctx context.Context, ev domain.ObserverEvent)
}

// Server is the RPC HTTP handler.
type Server struct {
	Store    *store.Store
	Engine   *retrieve.Engine
	Ingester *ingest.Ingester
	Sender   Sender
	Notifier Notifier
	Secret   string

	mux *http.ServeMux
}

// New builds a Server wired to its dependencies and registers routes.
// ingester may be nil if no embeddings provider is configured, in which case
// POST /knowledge/ingest responds 503.
func New(st *store.Store, engine *retrieve.Engine, ingester *ingest.Ingester, sender Sender, notifier Notifier, secret string) *Server {
	s := &Server{Store: st, Engine: engine, Ingester: ingester, Sender: sender, Notifier: notifier, Secret: secret, mux: http.NewServeMux()}
	s.registerRoutes()
	return s
}

// ServeHTTP satisfies http.Handler, wrapping every route with the shared-
// secret auth check (§6: "X-Internal-Secret header matched in constant time").
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "forbidden", http.StatusUnauthorized)
		return
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) authorized(r *http.Request) bool {
	got := r.Header.Get("X-Internal-Secret")
	return hmac.Equal([]byte(got), []byte(s.Secret))
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /tenants/by-phone-number-id", s.handleTenantByPhoneNumberID)
	s.mux.HandleFunc("GET /leads/{id}/phone", s.handleLeadPhone)
	s.mux.HandleFunc("GET /conversations/by-phone", s.handleConversationByPhone)
	s.mux.HandleFunc("GET /conversations/due-followups", s.handleDueFollowups)
	s.mux.HandleFunc("GET /conversations/{id}", s.handleGetConversation)
	s.mux.HandleFunc("GET /conversations/{id}/recent-messages", s.handleRecentMessages)
	s.mux.HandleFunc("PATCH /conversations/{id}", s.handlePatchConversation)
	s.mux.HandleFunc("POST /conversations/{id}/followup-count", s.handleIncrementFollowupCount)
	s.mux.HandleFunc("POST /messages/incoming", s.handlePostIncoming)
	s.mux.HandleFunc("POST /messages/outgoing", s.handlePostOutgoing)
	s.mux.HandleFunc("POST /messages/send", s.handleSend)
	s.mux.HandleFunc("POST /retrieval/search", s.handleRetrievalSearch)
	s.mux.HandleFunc("POST /knowledge/ingest", s.handleIngest)
	s.mux.HandleFunc("POST /events", s.handleEvent)
	s.mux.HandleFunc("POST /admin/reset-state", s.handleResetState)
}

