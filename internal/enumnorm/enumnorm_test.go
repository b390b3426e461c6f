package enumnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize_ExactMatch(t *testing.T) {
	got := Normalize("new_stage", "pricing", []string{"greeting", "pricing"}, nil, "greeting")
	assert.Equal(t, "pricing", got)
}

func TestNormalize_AliasTable(t *testing.T) {
	got := Normalize("new_stage", "Qualifying", []string{"greeting", "qualification"}, nil, "greeting")
	assert.Equal(t, "qualification", got)
}

func TestNormalize_HandoffToFlagAttention(t *testing.T) {
	got := Normalize("action", "handoff", []string{"send_now", "wait_schedule", "flag_attention", "initiate_cta"}, nil, "wait_schedule")
	assert.Equal(t, "flag_attention", got)
}

func TestNormalize_PositiveToCurious(t *testing.T) {
	got := Normalize("user_sentiment", "Positive", []string{"neutral", "curious", "frustrated", "angry"}, nil, "neutral")
	assert.Equal(t, "curious", got)
}

func TestNormalize_LCSFallback(t *testing.T) {
	// "qualificaton" (typo) should LCS-match "qualification".
	got := Normalize("new_stage", "qualificaton", []string{"greeting", "qualification", "pricing"}, nil, "greeting")
	assert.Equal(t, "qualification", got)
}

func TestNormalize_FallsBackToDefaultWhenUnresolvable(t *testing.T) {
	got := Normalize("new_stage", "xyz123###", []string{"greeting", "pricing"}, nil, "greeting")
	assert.Equal(t, "greeting", got)
}

func TestNormalize_EmptyInputReturnsDefault(t *testing.T) {
	got := Normalize("new_stage", "   ", []string{"greeting", "pricing"}, nil, "greeting")
	assert.Equal(t, "greeting", got)
}

func TestNormalize_CustomTableTakesPriority(t *testing.T) {
	table := Table{"pos": "curious"}
	got := Normalize("user_sentiment", "pos", []string{"neutral", "curious"}, table, "neutral")
	assert.Equal(t, "curious", got)
}

func TestNormalize_SharedDefaultTableRejectsOutOfDomainAlias(t *testing.T) {
	// "handoff" aliases to "flag_attention" in DefaultAliases, which is an
	// Action value, not a Sentiment value. A user_sentiment field must never
	// normalize to it, even though the shared table is the one every caller
	// passes.
	got := Normalize("user_sentiment", "handoff", []string{"neutral", "curious", "frustrated", "angry"}, DefaultAliases, "neutral")
	assert.Equal(t, "neutral", got)
}

func TestNormalize_CustomTableRejectsOutOfDomainAlias(t *testing.T) {
	table := Table{"pos": "not_in_closed_set"}
	got := Normalize("user_sentiment", "pos", []string{"neutral", "curious"}, table, "neutral")
	assert.Equal(t, "neutral", got)
}

func TestLCSLength(t *testing.T) {
	assert.Equal(t, 3, lcsLength("abc", "abc"))
	assert.Equal(t, 0, lcsLength("", "abc"))
	assert.Equal(t, 2, lcsLength("ac", "abc"))
}
