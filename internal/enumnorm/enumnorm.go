// Package enumnorm is the only place LLM-origin strings are trusted into the
// type system (spec.md §4.8). It lowercases/trims/normalizes separators,
// resolves through an alias table, falls back to a longest-common-subsequence
// match against the closed set, and otherwise returns the caller's default.
// Every correction and fallback is logged, following the teacher's habit
// (internal/rag/retrieve) of logging every non-obvious normalization
// decision rather than silently coercing.
package enumnorm

import (
	"strings"

	"github.com/rs/zerolog/log"
)

// MinLCSLength is the minimum longest-common-subsequence length required to
// accept a fuzzy match against the closed set.
const MinLCSLength = 3

// Table is an alias table mapping fuzzy input strings (already normalized:
// lowercased, trimmed, separators collapsed to underscore) to canonical
// enum values.
type Table map[string]string

// DefaultAliases is the built-in alias table from spec.md §4.8's examples,
// extended with the obvious synonyms for the rest of the closed sets.
var DefaultAliases = Table{
	"qualifying":     "qualification",
	"qualify":        "qualification",
	"handoff":        "flag_attention",
	"hand_off":       "flag_attention",
	"escalate":       "flag_attention",
	"positive":       "curious",
	"interested":     "curious",
	"send":           "send_now",
	"respond_now":    "send_now",
	"wait":           "wait_schedule",
	"schedule":       "wait_schedule",
	"cta":            "initiate_cta",
	"start_cta":      "initiate_cta",
	"followup":       "followup",
	"follow_up":      "followup",
	"lost_deal":      "lost",
	"unresponsive":   "ghosted",
	"ghost":          "ghosted",
	"closed_won":     "closed",
	"none":           "unknown",
	"n/a":            "unknown",
}

// normalize lowercases, trims, and replaces '-' and spaces with '_'.
func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}

// Normalize resolves raw against closedSet using table, then LCS fallback,
// then def. field is used only for log context ("action", "new_stage", ...).
func Normalize(field, raw string, closedSet []string, table Table, def string) string {
	n := normalize(raw)
	if n == "" {
		return def
	}
	for _, v := range closedSet {
		if n == v {
			return v
		}
	}
	// Alias tables (including the shared DefaultAliases) mix targets from
	// every field's closed set, so a lookup hit only applies here if its
	// target actually belongs to this field's closedSet — otherwise fall
	// through to the LCS fallback/default rather than returning a value
	// outside the caller's domain.
	if table != nil {
		if mapped, ok := table[n]; ok && inSet(mapped, closedSet) {
			log.Info().Str("field", field).Str("raw", raw).Str("normalized", mapped).Msg("enum alias correction")
			return mapped
		}
	}
	if mapped, ok := DefaultAliases[n]; ok && inSet(mapped, closedSet) {
		log.Info().Str("field", field).Str("raw", raw).Str("normalized", mapped).Msg("enum alias correction (default table)")
		return mapped
	}

	best := ""
	bestLen := 0
	for _, v := range closedSet {
		l := lcsLength(n, v)
		if l > bestLen {
			bestLen = l
			best = v
		}
	}
	if bestLen >= MinLCSLength {
		log.Info().Str("field", field).Str("raw", raw).Str("normalized", best).Int("lcs_len", bestLen).Msg("enum lcs fallback")
		return best
	}

	log.Warn().Str("field", field).Str("raw", raw).Str("default", def).Msg("enum fallback to default")
	return def
}

// inSet reports whether v is a member of closedSet.
func inSet(v string, closedSet []string) bool {
	for _, c := range closedSet {
		if v == c {
			return true
		}
	}
	return false
}

// lcsLength computes the classic dynamic-programming longest common
// subsequence length between a and b.
func lcsLength(a, b string) int {
	if a == "" || b == "" {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			if ra[i-1] == rb[j-1] {
				cur[j] = prev[j-1] + 1
			} else if prev[j] >= cur[j-1] {
				cur[j] = prev[j]
			} else {
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}
