package domain

import "strings"

// Identity is the sender side of an outbound message.
type Identity struct {
	FromAddress string
	FromName    string
	ReplyTo     string
	ConfigSet   string
	Locale      string
	Profile     string
}

// LocaleIdentity is one locale variant of an IdentityProfile.
type LocaleIdentity struct {
	FromAddress string `json:"fromAddress"`
	FromName    string `json:"fromName,omitempty"`
	ReplyTo     string `json:"replyTo,omitempty"`
	ConfigSet   string `json:"configSet,omitempty"`
}

type IdentityProfile struct {
	Slug          string                    `json:"slug"`
	Name          string                    `json:"name"`
	FromName      string                    `json:"fromName"`
	DefaultLocale string                    `json:"defaultLocale"`
	IsActive      bool                      `json:"isActive"`
	Identities    map[string]LocaleIdentity `json:"identities"`
}

// NormalizeLocale lower-cases a tag and keeps the primary subtag: "es-MX" -> "es".
func NormalizeLocale(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		tag = tag[:i]
	}
	return tag
}

// IdentityFor picks the variant for locale. Any locale without its own
// variant resolves to the default locale's identity.
func (p IdentityProfile) IdentityFor(locale string) Identity {
	def := NormalizeLocale(p.DefaultLocale)
	loc := NormalizeLocale(locale)
	li, ok := p.Identities[loc]
	if !ok || loc == def {
		loc = def
		li = p.Identities[def]
	}
	name := li.FromName
	if name == "" {
		name = p.FromName
	}
	return Identity{
		FromAddress: li.FromAddress,
		FromName:    name,
		ReplyTo:     li.ReplyTo,
		ConfigSet:   li.ConfigSet,
		Locale:      loc,
		Profile:     p.Slug,
	}
}
