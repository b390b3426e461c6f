// Package store owns the one and only direct database connection in the
// system (spec.md §4.7: "the Consumer/Debounce/Pipeline side has no direct
// database access"). It is used exclusively by internal/rpcserver. Schema
// bootstrap and query shapes follow the teacher's
// internal/persistence/databases/postgres_search.go and postgres_vector.go:
// best-effort CREATE EXTENSION/CREATE TABLE IF NOT EXISTS on construction,
// hand-written SQL via pgx (no ORM), generated tsvector/vector columns.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps a pgx connection pool and bootstraps the schema the RPC server
// needs: tenants, leads, conversations, messages, knowledge_items.
type Store struct {
	Pool *pgxpool.Pool
}

// Open connects to dsn and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	s := &Store{Pool: pool}
	if err := s.bootstrap(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() { s.Pool.Close() }

// TruncateAll wipes every conversational row, backing the CLI's
// `reset-state` subcommand (§6). tenants and knowledge_items survive: the
// spec scopes reset-state to "conversations/messages", not the knowledge
// base or tenant roster.
func (s *Store) TruncateAll(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, `TRUNCATE TABLE messages, conversations, leads RESTART IDENTITY CASCADE`)
	return err
}

func (s *Store) bootstrap(ctx context.Context) error {
	// best-effort extensions; ignore failure if the role lacks CREATE
	// EXTENSION privilege and the extension is already installed.
	_, _ = s.Pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`)
	_, _ = s.Pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS pg_trgm`)

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tenants (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			phone_number_id TEXT NOT NULL UNIQUE,
			access_token TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS leads (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL REFERENCES tenants(id),
			phone TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE(tenant_id, phone)
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL REFERENCES tenants(id),
			lead_id TEXT NOT NULL REFERENCES leads(id),
			mode TEXT NOT NULL DEFAULT 'BOT',
			stage TEXT NOT NULL DEFAULT 'greeting',
			intent_level TEXT NOT NULL DEFAULT 'unknown',
			user_sentiment TEXT NOT NULL DEFAULT 'neutral',
			rolling_summary TEXT NOT NULL DEFAULT '',
			last_user_message_at TIMESTAMPTZ,
			last_bot_message_at TIMESTAMPTZ,
			followup_count_24h INT NOT NULL DEFAULT 0,
			total_nudges INT NOT NULL DEFAULT 0,
			needs_human_attention BOOLEAN NOT NULL DEFAULT false,
			active_cta_id TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE(tenant_id, lead_id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			provider_message_id TEXT,
			origin TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS messages_dedupe_idx ON messages(conversation_id, provider_message_id) WHERE provider_message_id IS NOT NULL`,
		`CREATE TABLE IF NOT EXISTS knowledge_items (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL REFERENCES tenants(id),
			title TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			embedding vector(768),
			search_vector tsvector GENERATED ALWAYS AS (to_tsvector('simple', coalesce(title,'') || ' ' || coalesce(content,''))) STORED,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS knowledge_items_search_idx ON knowledge_items USING GIN (search_vector)`,
		`CREATE INDEX IF NOT EXISTS knowledge_items_tenant_idx ON knowledge_items(tenant_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.Pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
