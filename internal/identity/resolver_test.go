package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comms/internal/config"
	"comms/internal/domain"
	"comms/internal/store/memory"
)

func newResolver(t *testing.T, defaultProfile string) *Resolver {
	t.Helper()
	st := memory.New()
	require.NoError(t, st.SaveProfile(context.Background(), domain.IdentityProfile{
		Slug:          "shop",
		Name:          "Shop",
		FromName:      "Blue Reef",
		DefaultLocale: "en",
		IsActive:      true,
		Identities: map[string]domain.LocaleIdentity{
			"en": {FromAddress: "hello@bluereef.example", ReplyTo: "support@bluereef.example"},
			"es": {FromAddress: "hola@bluereef.example", FromName: "Arrecife Azul"},
		},
	}))
	require.NoError(t, st.SaveProfile(context.Background(), domain.IdentityProfile{
		Slug: "retired", DefaultLocale: "en", IsActive: false,
		Identities: map[string]domain.LocaleIdentity{"en": {FromAddress: "old@example.com"}},
	}))

	s := config.DefaultSettings()
	s.DefaultProfile = defaultProfile
	s.EmailFromAddress = "noreply@example.com"
	s.EmailFromName = "Example"
	s.SMSFromNumber = "+15551112222"
	return &Resolver{Profiles: st, Settings: s}
}

func TestResolveEmailLocaleFromHint(t *testing.T) {
	r := newResolver(t, "shop")
	id, err := r.Resolve(context.Background(), Request{
		Channel:    domain.ChannelEmail,
		Recipient:  domain.Recipient{PreferredLocale: "en"},
		LocaleHint: "es-MX",
	})
	require.NoError(t, err)
	assert.Equal(t, "hola@bluereef.example", id.FromAddress)
	assert.Equal(t, "Arrecife Azul", id.FromName)
	assert.Equal(t, "es", id.Locale)
	assert.Equal(t, "shop", id.Profile)
}

func TestResolveEmailLocaleFromRecipient(t *testing.T) {
	r := newResolver(t, "shop")
	id, err := r.Resolve(context.Background(), Request{
		Channel:   domain.ChannelEmail,
		Recipient: domain.Recipient{PreferredLocale: "ES"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hola@bluereef.example", id.FromAddress)
}

func TestResolveUnknownLocaleUsesProfileDefault(t *testing.T) {
	r := newResolver(t, "shop")
	id, err := r.Resolve(context.Background(), Request{Channel: domain.ChannelEmail, LocaleHint: "fr-CA"})
	require.NoError(t, err)
	assert.Equal(t, "hello@bluereef.example", id.FromAddress)
	assert.Equal(t, "Blue Reef", id.FromName)
	assert.Equal(t, "support@bluereef.example", id.ReplyTo)
	assert.Equal(t, "en", id.Locale)
}

func TestResolveLegacyWhenDefaultInactive(t *testing.T) {
	r := newResolver(t, "retired")
	id, err := r.Resolve(context.Background(), Request{Channel: domain.ChannelEmail})
	require.NoError(t, err)
	assert.Equal(t, "noreply@example.com", id.FromAddress)
	assert.Equal(t, "Example", id.FromName)
	assert.Empty(t, id.Profile)
}

func TestResolveLegacyWithoutProfile(t *testing.T) {
	r := newResolver(t, "")
	id, err := r.Resolve(context.Background(), Request{Channel: domain.ChannelEmail, LocaleHint: "es"})
	require.NoError(t, err)
	assert.Equal(t, "noreply@example.com", id.FromAddress)
	assert.Equal(t, "es", id.Locale)
}

func TestResolveOverride(t *testing.T) {
	r := newResolver(t, "")
	id, err := r.Resolve(context.Background(), Request{Channel: domain.ChannelEmail, Profile: "shop"})
	require.NoError(t, err)
	assert.Equal(t, "hello@bluereef.example", id.FromAddress)

	_, err = r.Resolve(context.Background(), Request{Channel: domain.ChannelEmail, Profile: "missing"})
	assert.ErrorIs(t, err, domain.ErrProfileNotFound)
}

func TestResolveSMSUsesFromNumber(t *testing.T) {
	r := newResolver(t, "shop")
	id, err := r.Resolve(context.Background(), Request{Channel: domain.ChannelSMS, LocaleHint: "es"})
	require.NoError(t, err)
	assert.Equal(t, domain.Identity{FromAddress: "+15551112222"}, id)
}
