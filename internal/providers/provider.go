// Package providers holds the adapter contract, the channel registry and the
// adapters that need no external service.
package providers

import (
	"context"
	"net/url"
	"strings"

	"comms/internal/domain"
)

// Provider delivers messages on one channel.
//
// Send reports provider-side rejections through SendResult. A non-nil error
// means the call itself failed (transport, timeout, circuit open); both paths
// end in a FAILED message.
type Provider interface {
	Name() string
	Channel() domain.Channel
	Send(ctx context.Context, msg domain.Message) (domain.SendResult, error)
	ValidateRecipient(address string) bool
}

// ValidEmail requires one '@' and a dotted domain.
func ValidEmail(addr string) bool {
	addr = strings.TrimSpace(addr)
	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return false
	}
	domainPart := addr[at+1:]
	dot := strings.Index(domainPart, ".")
	return dot > 0 && dot < len(domainPart)-1
}

// ValidPhone accepts "+" followed by at least 10 digits, or at least 10 plain digits.
// Spaces, dashes, dots and parentheses are ignored.
func ValidPhone(number string) bool {
	n := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "").Replace(strings.TrimSpace(number))
	n = strings.TrimPrefix(n, "+")
	if len(n) < 10 {
		return false
	}
	for _, r := range n {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ValidPushEndpoint requires an absolute https URL.
func ValidPushEndpoint(endpoint string) bool {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	return err == nil && u.Scheme == "https" && u.Host != ""
}

// ValidateFor applies the address rule of ch.
func ValidateFor(ch domain.Channel, address string) bool {
	switch ch {
	case domain.ChannelEmail:
		return ValidEmail(address)
	case domain.ChannelSMS:
		return ValidPhone(address)
	case domain.ChannelPush:
		return ValidPushEndpoint(address)
	case domain.ChannelInApp:
		return strings.TrimSpace(address) != ""
	}
	return false
}
