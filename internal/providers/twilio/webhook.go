package twilio

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// Signature computes X-Twilio-Signature: HMAC-SHA1 over the full URL followed by
// every form key and value, keys sorted.
func Signature(authToken, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func VerifySignature(authToken, fullURL, provided string, form url.Values) bool {
	if provided == "" {
		return false
	}
	return hmac.Equal([]byte(Signature(authToken, fullURL, form)), []byte(provided))
}

// StatusCallback is the part of a Twilio status callback the ledger needs.
type StatusCallback struct {
	MessageSid    string
	MessageStatus string
	ErrorCode     string
}

// ParseStatusCallback verifies and decodes a status callback request.
// publicURL must be the exact URL configured in Twilio.
func ParseStatusCallback(r *http.Request, authToken, publicURL string) (StatusCallback, bool, error) {
	if err := r.ParseForm(); err != nil {
		return StatusCallback{}, false, err
	}
	if !VerifySignature(authToken, publicURL, r.Header.Get("X-Twilio-Signature"), r.PostForm) {
		return StatusCallback{}, false, nil
	}
	return StatusCallback{
		MessageSid:    r.PostForm.Get("MessageSid"),
		MessageStatus: r.PostForm.Get("MessageStatus"),
		ErrorCode:     r.PostForm.Get("ErrorCode"),
	}, true, nil
}
