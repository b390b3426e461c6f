// Package logging configures the process-wide zerolog logger and enriches
// it with request-scoped correlation ids, following the shape of the
// teacher's internal/observability/ctxlogger.go (trace-enriched logger
// derived from context).
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger from LOG_LEVEL/LOG_FORMAT.
// LOG_FORMAT=console renders human-readable output for local development;
// any other value (including empty) keeps zerolog's default JSON output.
func Init(level, format string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var w zerolog.ConsoleWriter
	if strings.EqualFold(strings.TrimSpace(format), "console") {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
		log.Logger = zerolog.New(w).With().Timestamp().Caller().Logger()
		return
	}
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

type ctxKey string

const conversationIDKey ctxKey = "conversation_id"

// WithConversationID returns a context carrying conversation_id for every
// log line subsequently derived from it via FromContext.
func WithConversationID(ctx context.Context, conversationID string) context.Context {
	return context.WithValue(ctx, conversationIDKey, conversationID)
}

// FromContext returns a logger enriched with whatever correlation id is
// present in ctx, mirroring the teacher's trace-id enrichment pattern but
// keyed on conversation id since this domain has no distributed tracer on
// every call site.
func FromContext(ctx context.Context) *zerolog.Logger {
	l := log.Logger
	if ctx == nil {
		return &l
	}
	if v, ok := ctx.Value(conversationIDKey).(string); ok && v != "" {
		l = l.With().Str("conversation_id", v).Logger()
	}
	return &l
}
