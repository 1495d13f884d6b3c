// ABOUTME: Tests for ghost namespace matching
// ABOUTME: Covers anchoring, multiple namespaces, the bot exclusion, and bad regexes

package matrix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/id"
)

func TestGhostMatcher(t *testing.T) {
	m, err := NewGhostMatcher("@_remote_bot:example.org", `@_remote_.*:example\.org`, `@irc_.+:example\.org`)
	require.NoError(t, err)

	tests := []struct {
		user id.UserID
		want bool
	}{
		{"@_remote_alice:example.org", true},
		{"@irc_bob:example.org", true},
		{"@alice:example.org", false},
		{"@_remote_alice:example.org.evil", false},
		{"@x@_remote_alice:example.org", false},
		{"@_remote_bot:example.org", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.user), func(t *testing.T) {
			assert.Equal(t, tt.want, m.Match(tt.user))
		})
	}
}

func TestGhostMatcher_NoPatterns(t *testing.T) {
	m, err := NewGhostMatcher("@bot:example.org")
	require.NoError(t, err)
	assert.False(t, m.Match("@_remote_alice:example.org"))
}

func TestGhostMatcher_InvalidPattern(t *testing.T) {
	_, err := NewGhostMatcher("@bot:example.org", `@remote_(`)
	assert.Error(t, err)
}
