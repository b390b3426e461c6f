// Package llmtransport implements the single-shot chat-completion call of
// spec.md §4.6: one POST to a configured OpenAI-compatible endpoint, a 90s
// timeout, and strict/tolerant content extraction. A strict JSON-schema
// response_format is sent only when a Request carries a JSONSchema; the HTL
// Generate and Memory calls set none, so their replies are shaped by the
// prompt alone and parsed in Tolerant mode. The OpenAI-compatible client is
// grounded in the teacher's
// internal/llm/openai_client.go (CallLLM): build openai-go SDK params from a
// plain message list, call Chat.Completions.New, return the first choice's
// content. A second client demonstrates the same Client interface backed by
// github.com/anthropics/anthropic-sdk-go (internal/llm/anthropic/client.go),
// so the process can be configured to use either backend (cmd/waserv picks
// one at startup for all tenants).
package llmtransport

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Timeout is the fixed per-call deadline of spec.md §4.6.
const Timeout = 90 * time.Second

// Message is one chat turn.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Request is one chat-completion invocation.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	// JSONSchema, when non-empty, requests a strict-JSON response_format
	// named JSONSchemaName from the OpenAI-compatible backend. JSONSchemaName
	// alone sends nothing, and the Anthropic backend ignores both.
	JSONSchemaName string
	JSONSchema     map[string]any
}

// Response is the raw content of the first choice.
type Response struct {
	Content string
}

// Client is the single-shot chat-completion transport spec.md §4.6 asks for.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// Mode selects how ExtractJSON parses the raw content.
type Mode int

const (
	// Strict requires a top-level JSON parse; anything else is an error.
	Strict Mode = iota
	// Tolerant tries a top-level parse, then a regex-extracted balanced
	// {...} block, then a fenced ```json code block, in that order.
	Tolerant
)

var fencedJSONRe = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")

// ExtractJSON parses raw content into v per spec.md §4.6's two modes.
func ExtractJSON(mode Mode, content string, v any) error {
	trimmed := strings.TrimSpace(content)
	if err := json.Unmarshal([]byte(trimmed), v); err == nil {
		return nil
	} else if mode == Strict {
		return fmt.Errorf("strict json parse failed: %w", err)
	}

	if block, ok := firstBalancedObject(trimmed); ok {
		if err := json.Unmarshal([]byte(block), v); err == nil {
			return nil
		}
	}

	if m := fencedJSONRe.FindStringSubmatch(trimmed); len(m) == 2 {
		if err := json.Unmarshal([]byte(m[1]), v); err == nil {
			return nil
		}
	}

	return fmt.Errorf("tolerant json extraction failed: no parseable JSON found in content")
}

// firstBalancedObject scans s for the first balanced {...} block, respecting
// quoted strings so braces inside string literals don't unbalance the scan.
func firstBalancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
