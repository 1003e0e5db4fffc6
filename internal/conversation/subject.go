package conversation

import (
	"regexp"
	"strings"

	"comms/internal/util"
)

// MaxSubjectLen is the stored length of a normalized subject.
const MaxSubjectLen = 500

var (
	replyPrefix = regexp.MustCompile(`(?i)^(re|fw|fwd|aw|wg|sv|antw|vs|rv|tr|vb):\s*`)
	listTag     = regexp.MustCompile(`^\[[^\]]+\]\s*`)
)

// NormalizeSubject strips leading reply/forward prefixes and mailing-list
// tags, in any order, until none is left. The result is a fixed point:
// NormalizeSubject(NormalizeSubject(s)) == NormalizeSubject(s).
func NormalizeSubject(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		next := strings.TrimSpace(listTag.ReplaceAllString(replyPrefix.ReplaceAllString(s, ""), ""))
		if next == s {
			break
		}
		s = next
	}
	return strings.TrimSpace(util.Truncate(s, MaxSubjectLen))
}
