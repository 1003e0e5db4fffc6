// Package identity resolves the sender identity of outbound messages.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"comms/internal/config"
	"comms/internal/domain"
	"comms/internal/store"
)

// SystemAddress is the from-address of push and in-app messages.
const SystemAddress = "system"

type Resolver struct {
	Profiles store.ProfileStore
	Settings config.Settings
}

type Request struct {
	Channel    domain.Channel
	Recipient  domain.Recipient
	LocaleHint string
	// Profile overrides the configured default identity profile (by slug).
	Profile string
}

func (r *Resolver) Resolve(ctx context.Context, req Request) (domain.Identity, error) {
	switch req.Channel {
	case domain.ChannelSMS:
		return domain.Identity{FromAddress: r.Settings.SMSFromNumber}, nil
	case domain.ChannelPush, domain.ChannelInApp:
		return domain.Identity{FromAddress: SystemAddress, Locale: r.locale(req)}, nil
	}

	locale := r.locale(req)
	profile, err := r.profile(ctx, req.Profile)
	if err != nil {
		return domain.Identity{}, err
	}
	if profile == nil {
		return r.legacy(locale), nil
	}

	id := profile.IdentityFor(locale)
	legacy := r.legacy(locale)
	if id.FromAddress == "" {
		id.FromAddress = legacy.FromAddress
	}
	if id.FromName == "" {
		id.FromName = legacy.FromName
	}
	if id.ConfigSet == "" {
		id.ConfigSet = legacy.ConfigSet
	}
	return id, nil
}

// locale prefers the hint, then the recipient's preference, then the primary locale.
func (r *Resolver) locale(req Request) string {
	for _, cand := range []string{req.LocaleHint, req.Recipient.PreferredLocale, r.Settings.PrimaryLocale} {
		if l := domain.NormalizeLocale(cand); l != "" {
			return l
		}
	}
	return "en"
}

func (r *Resolver) profile(ctx context.Context, override string) (*domain.IdentityProfile, error) {
	if override != "" {
		p, err := r.Profiles.GetProfile(ctx, override)
		if errors.Is(err, store.ErrNotFound) || (err == nil && !p.IsActive) {
			return nil, fmt.Errorf("%w: %s", domain.ErrProfileNotFound, override)
		}
		if err != nil {
			return nil, err
		}
		return &p, nil
	}

	slug := r.Settings.DefaultProfile
	if slug == "" || r.Profiles == nil {
		return nil, nil
	}
	p, err := r.Profiles.GetProfile(ctx, slug)
	if errors.Is(err, store.ErrNotFound) {
		slog.WarnContext(ctx, "default identity profile missing, using flat settings", "profile", slug)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, nil
	}
	return &p, nil
}

func (r *Resolver) legacy(locale string) domain.Identity {
	return domain.Identity{
		FromAddress: r.Settings.EmailFromAddress,
		FromName:    r.Settings.EmailFromName,
		ReplyTo:     r.Settings.EmailReplyTo,
		ConfigSet:   r.Settings.SESConfigurationSet,
		Locale:      locale,
	}
}
