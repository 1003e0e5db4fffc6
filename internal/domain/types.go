package domain

import "strings"

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
	ChannelInApp Channel = "in_app"
)

// ParseChannel accepts a channel name in any case and reports whether it is known.
func ParseChannel(s string) (Channel, bool) {
	c := Channel(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush, ChannelInApp:
		return c, true
	}
	return "", false
}

type MessageType string

const (
	TypeTransactional MessageType = "transactional"
	TypeReminder      MessageType = "reminder"
	TypeAlert         MessageType = "alert"
	TypeAnnouncement  MessageType = "announcement"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type MessageStatus string

const (
	StatusQueued    MessageStatus = "queued"
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusFailed    MessageStatus = "failed"
	StatusBounced   MessageStatus = "bounced"
)

var transitions = map[MessageStatus][]MessageStatus{
	StatusQueued:  {StatusSending, StatusFailed},
	StatusSending: {StatusSent, StatusFailed},
	StatusSent:    {StatusDelivered, StatusBounced},
}

// CanTransition reports whether the ledger allows moving from one status to another.
func CanTransition(from, to MessageStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition can leave s.
func (s MessageStatus) Terminal() bool {
	return len(transitions[s]) == 0
}
