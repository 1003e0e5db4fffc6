package domain

import "strings"

// Recipient is the directory view of a person the engine can reach.
type Recipient struct {
	ID              string `json:"id"`
	Name            string `json:"name,omitempty"`
	Email           string `json:"email,omitempty"`
	Phone           string `json:"phone,omitempty"`
	PreferredLocale string `json:"preferredLocale,omitempty"`
	Staff           bool   `json:"staff,omitempty"`
}

// AddressFor returns the address used for ch, or "" when the recipient has none.
// Push addresses live on PushEndpoint rows and are never returned here.
func (r Recipient) AddressFor(ch Channel) string {
	switch ch {
	case ChannelEmail:
		return strings.TrimSpace(r.Email)
	case ChannelSMS:
		return strings.TrimSpace(r.Phone)
	case ChannelInApp:
		if e := strings.TrimSpace(r.Email); e != "" {
			return e
		}
		return "in_app"
	}
	return ""
}
