package util

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
)

const (
	PrefixMessage      = "msg_"
	PrefixConversation = "conv_"
	PrefixParticipant  = "part_"
	PrefixTemplate     = "tpl_"
	PrefixPushEndpoint = "push_"
	PrefixJob          = "job_"
	PrefixRequest      = "req_"
)

// NewID returns prefix + a monotonic ULID, so ids sort in creation order
// within the process.
func NewID(prefix string) string {
	return prefix + ulid.Make().String()
}

func NewMessageID() string { return NewID(PrefixMessage) }

func NowUTC() time.Time {
	return time.Now().UTC()
}

func NormalizePhone(p string) string {
	r := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
	return r.Replace(strings.TrimSpace(p))
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
