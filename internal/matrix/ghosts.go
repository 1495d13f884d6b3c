// ABOUTME: Recognises puppeted remote users by the appservice user namespace
// ABOUTME: Compiles the registration's user regexes once and matches full user IDs

package matrix

import (
	"fmt"
	"regexp"

	"maunium.net/go/mautrix/id"
)

// GhostMatcher reports whether a user ID belongs to the bridge's ghost namespace.
type GhostMatcher struct {
	patterns []*regexp.Regexp
	bot      id.UserID
}

// NewGhostMatcher compiles the namespace regexes. Each pattern must match the
// whole user ID. The bot itself is never treated as a ghost.
func NewGhostMatcher(bot id.UserID, patterns ...string) (*GhostMatcher, error) {
	m := &GhostMatcher{bot: bot}
	for _, p := range patterns {
		re, err := regexp.Compile("^(?:" + p + ")$")
		if err != nil {
			return nil, fmt.Errorf("compiling user namespace %q: %w", p, err)
		}
		m.patterns = append(m.patterns, re)
	}
	return m, nil
}

// Match reports whether userID is a ghost.
func (m *GhostMatcher) Match(userID id.UserID) bool {
	if userID == m.bot {
		return false
	}
	for _, re := range m.patterns {
		if re.MatchString(string(userID)) {
			return true
		}
	}
	return false
}
