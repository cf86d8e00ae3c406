package audit

import "regexp"

// Bot tokens come in two shapes worth scrubbing: the full "bot<id>:<secret>"
// form used in API URLs and the bare "<id>:<secret>" form from config files.
// The prefixed rule runs first so its digits never half-match the bare rule.
var (
	botTokenRe  = regexp.MustCompile(`bot\d+:[A-Za-z0-9_-]{20,}`)
	bareTokenRe = regexp.MustCompile(`\d{9,}:[A-Za-z0-9+/=_-]{20,}`)
)

// Redact scrubs token-shaped substrings from s. It is idempotent: the
// replacement markers contain nothing either pattern can match.
func Redact(s string) string {
	s = botTokenRe.ReplaceAllString(s, "bot[REDACTED]")
	s = bareTokenRe.ReplaceAllString(s, "[REDACTED_TOKEN]")
	return s
}
