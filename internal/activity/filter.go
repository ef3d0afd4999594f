package activity

import "strings"

// DefaultKnownBots lists automation accounts excluded from attribution.
var DefaultKnownBots = []string{
	"dependabot[bot]",
	"dependabot-preview[bot]",
	"github-actions[bot]",
	"renovate[bot]",
	"greenkeeper[bot]",
	"snyk-bot",
	"pyup-bot",
}

// BotFilter is a pure predicate over a configured set of bot logins.
type BotFilter struct {
	known map[string]struct{}
}

// NewBotFilter builds a filter. Matching is case-insensitive.
func NewBotFilter(known []string) BotFilter {
	set := make(map[string]struct{}, len(known))
	for _, login := range known {
		normalized := normalizeLogin(login)
		if normalized != "" {
			set[normalized] = struct{}{}
		}
	}
	return BotFilter{known: set}
}

// IsBot reports whether login belongs to an automation account.
func (f BotFilter) IsBot(login string) bool {
	normalized := normalizeLogin(login)
	if normalized == "" {
		return false
	}
	if _, ok := f.known[normalized]; ok {
		return true
	}
	return strings.HasSuffix(normalized, "[bot]") ||
		strings.HasSuffix(normalized, "-bot") ||
		strings.HasPrefix(normalized, "bot-")
}

// AuthorFilter decides which commit authors are attributed.
type AuthorFilter struct {
	tracked map[string]string
	bots    BotFilter
}

// NewAuthorFilter builds a filter over tracked usernames. An empty tracked set
// accepts every attributable non-bot author.
func NewAuthorFilter(tracked []string, bots BotFilter) AuthorFilter {
	set := make(map[string]string, len(tracked))
	for _, username := range tracked {
		normalized := normalizeLogin(username)
		if normalized != "" {
			set[normalized] = strings.TrimSpace(username)
		}
	}
	return AuthorFilter{tracked: set, bots: bots}
}

// Accept reports whether a commit by login is attributed.
func (f AuthorFilter) Accept(login string) bool {
	_, ok := f.Canonical(login)
	return ok
}

// Canonical returns the configured spelling of login when it is attributed.
func (f AuthorFilter) Canonical(login string) (string, bool) {
	normalized := normalizeLogin(login)
	if normalized == "" || f.bots.IsBot(normalized) {
		return "", false
	}
	if len(f.tracked) == 0 {
		return strings.TrimSpace(login), true
	}
	canonical, ok := f.tracked[normalized]
	return canonical, ok
}

// TracksAll reports whether every non-bot author is attributed.
func (f AuthorFilter) TracksAll() bool {
	return len(f.tracked) == 0
}

func normalizeLogin(login string) string {
	return strings.ToLower(strings.TrimSpace(login))
}
