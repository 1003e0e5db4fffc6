// Package routing decides which channel a send uses.
package routing

import (
	"fmt"

	"comms/internal/config"
	"comms/internal/domain"
)

// Fallback is used when neither the request, the type table nor settings name a channel.
const Fallback = domain.ChannelEmail

var byType = map[domain.MessageType]domain.Channel{
	domain.TypeTransactional: domain.ChannelEmail,
	domain.TypeReminder:      domain.ChannelSMS,
	domain.TypeAlert:         domain.ChannelSMS,
	domain.TypeAnnouncement:  domain.ChannelEmail,
}

// ChannelForType returns the routing-table channel for t.
func ChannelForType(t domain.MessageType) (domain.Channel, bool) {
	ch, ok := byType[t]
	return ch, ok
}

// ResolveChannel picks the channel for a send. Priority: explicit channel,
// message-type table, settings default, then Fallback. An explicit channel
// that is not recognised fails with domain.ErrInvalidChannel.
func ResolveChannel(messageType domain.MessageType, explicit string, settings config.Settings) (domain.Channel, error) {
	if explicit != "" {
		ch, ok := domain.ParseChannel(explicit)
		if !ok {
			return "", fmt.Errorf("%w: %q", domain.ErrInvalidChannel, explicit)
		}
		return ch, nil
	}
	if ch, ok := byType[messageType]; ok {
		return ch, nil
	}
	if ch, ok := domain.ParseChannel(settings.DefaultChannel); ok {
		return ch, nil
	}
	return Fallback, nil
}
