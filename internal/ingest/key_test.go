package ingest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeSubject(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		want    string
	}{
		{"plain", "Login broken", "login broken"},
		{"reply prefix", "Re: Login broken", "login broken"},
		{"forward prefix", "FW: Login broken", "login broken"},
		{"stacked prefixes", "Re: Fwd: RE: Login broken", "login broken"},
		{"localized prefix", "AW: Login broken", "login broken"},
		{"inner whitespace", "Login   broken \t today", "login broken today"},
		{"prefix only", "Re:", ""},
		{"empty", "", ""},
		{"prefix not at start", "About Re: something", "about re: something"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, NormalizeSubject(tt.subject))
		})
	}
}

func TestConversationKeyGroupsReplies(t *testing.T) {
	original := ConversationKey("Help: login broken", "Alice@Example.com", "uid-1")
	reply := ConversationKey("Re: Help: login broken", "alice@example.com", "uid-2")
	require.Equal(t, original, reply)
	require.Equal(t, "help: login broken|alice@example.com", original)
}

func TestConversationKeySeparatesSenders(t *testing.T) {
	a := ConversationKey("Help", "alice@example.com", "uid-1")
	b := ConversationKey("Help", "bob@example.com", "uid-2")
	require.NotEqual(t, a, b)
}

func TestConversationKeyEmptySubjectFallsBackToUID(t *testing.T) {
	a := ConversationKey("", "alice@example.com", "uid-1")
	b := ConversationKey("", "alice@example.com", "uid-2")
	require.NotEqual(t, a, b)
	require.Equal(t, "uid-1|alice@example.com", a)

	// A subject that normalizes to empty behaves the same way.
	c := ConversationKey("Re:", "alice@example.com", "uid-3")
	require.Equal(t, "uid-3|alice@example.com", c)
}
