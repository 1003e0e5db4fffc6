// Package notify delivers a notification over the first channel that works:
// every active push endpoint, then one email, then one SMS.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"comms/internal/config"
	"comms/internal/domain"
	"comms/internal/messaging"
	"comms/internal/observability"
	"comms/internal/providers"
	"comms/internal/store"
	"comms/internal/util"
)

var tracer = otel.Tracer("comms/notify")

// None is the channel reported when no rung delivered.
const None = "none"

const (
	PushBodyLen = 200
	SMSBodyLen  = 160
)

type Notifier struct {
	Push       store.PushStore
	Recipients store.RecipientStore
	Sender     *messaging.Service
	Registry   *providers.Registry
	Settings   config.Settings
}

type Request struct {
	RecipientID    string
	Recipient      *domain.Recipient
	Subject        string
	BodyText       string
	BodyHTML       string
	ConversationID string
	Related        *domain.RelatedRef
}

// Notify walks the ladder and returns the first SENT message with its
// channel, or (nil, None). Each attempt is recorded on its own; a failed
// rung never blocks the next. The error is reserved for lookups the ladder
// cannot proceed without.
func (n *Notifier) Notify(ctx context.Context, req Request) (*domain.Message, string, error) {
	ctx, span := tracer.Start(ctx, "notify")
	defer span.End()

	rcpt, err := n.recipient(ctx, req)
	if err != nil {
		return nil, None, err
	}
	span.SetAttributes(attribute.String("recipient_id", rcpt.ID))

	m, ch := n.ladder(ctx, rcpt, req)
	span.SetAttributes(attribute.String("channel", ch))
	observability.Fallback.WithLabelValues(ch).Inc()
	return m, ch, nil
}

func (n *Notifier) ladder(ctx context.Context, rcpt domain.Recipient, req Request) (*domain.Message, string) {
	if n.pushReady() {
		endpoints, err := n.Push.ListActivePushEndpoints(ctx, rcpt.ID)
		if err != nil {
			slog.WarnContext(ctx, "push endpoints unavailable", "recipient_id", rcpt.ID, "err", err)
		}
		for _, ep := range endpoints {
			m, ok := n.attempt(ctx, messaging.SendRequest{
				Recipient:      &rcpt,
				Channel:        string(domain.ChannelPush),
				ToAddress:      ep.Endpoint,
				Subject:        req.Subject,
				BodyText:       util.Truncate(req.BodyText, PushBodyLen),
				ConversationID: req.ConversationID,
				Related:        req.Related,
			})
			if ok {
				return m, string(domain.ChannelPush)
			}
		}
	}

	if !n.Settings.FallbackEnabled {
		return nil, None
	}

	if rcpt.Email != "" && n.Registry.Available(domain.ChannelEmail) {
		m, ok := n.attempt(ctx, messaging.SendRequest{
			Recipient:      &rcpt,
			Channel:        string(domain.ChannelEmail),
			Subject:        req.Subject,
			BodyText:       req.BodyText,
			BodyHTML:       req.BodyHTML,
			ConversationID: req.ConversationID,
			Related:        req.Related,
		})
		if ok {
			return m, string(domain.ChannelEmail)
		}
	}

	if rcpt.Phone != "" && n.Registry.Available(domain.ChannelSMS) {
		m, ok := n.attempt(ctx, messaging.SendRequest{
			Recipient:      &rcpt,
			Channel:        string(domain.ChannelSMS),
			BodyText:       util.Truncate(req.BodyText, SMSBodyLen),
			ConversationID: req.ConversationID,
			Related:        req.Related,
		})
		if ok {
			return m, string(domain.ChannelSMS)
		}
	}

	return nil, None
}

func (n *Notifier) attempt(ctx context.Context, req messaging.SendRequest) (*domain.Message, bool) {
	m, err := n.Sender.Send(ctx, req)
	if err != nil {
		slog.WarnContext(ctx, "notification attempt failed",
			"channel", req.Channel, "message_id", m.ID, "err", err)
		return nil, false
	}
	if m.Status != domain.StatusSent {
		return nil, false
	}
	return &m, true
}

func (n *Notifier) pushReady() bool {
	return n.Settings.PushConfigured() && n.Registry.Available(domain.ChannelPush)
}

func (n *Notifier) recipient(ctx context.Context, req Request) (domain.Recipient, error) {
	if req.Recipient != nil {
		return *req.Recipient, nil
	}
	r, err := n.Recipients.GetRecipient(ctx, req.RecipientID)
	if errors.Is(err, store.ErrNotFound) {
		return r, &domain.RecipientError{Address: req.RecipientID, Reason: "unknown recipient"}
	}
	if err != nil {
		return r, fmt.Errorf("load recipient: %w", err)
	}
	return r, nil
}

// Status describes how a recipient can currently be reached.
type Status struct {
	PushEnabled           bool   `json:"push_enabled"`
	PushSubscriptionCount int    `json:"push_subscription_count"`
	EmailAvailable        bool   `json:"email_available"`
	SMSAvailable          bool   `json:"sms_available"`
	PrimaryChannel        string `json:"primary_channel"`
}

func (n *Notifier) Status(ctx context.Context, recipientID string) (Status, error) {
	rcpt, err := n.recipient(ctx, Request{RecipientID: recipientID})
	if err != nil {
		return Status{}, err
	}
	endpoints, err := n.Push.ListActivePushEndpoints(ctx, rcpt.ID)
	if err != nil {
		return Status{}, fmt.Errorf("list push endpoints: %w", err)
	}

	st := Status{
		PushSubscriptionCount: len(endpoints),
		PushEnabled:           n.pushReady() && len(endpoints) > 0,
		EmailAvailable:        rcpt.Email != "" && n.Settings.EmailConfigured(),
		SMSAvailable:          rcpt.Phone != "" && n.Settings.SMSConfigured(),
		PrimaryChannel:        None,
	}
	switch {
	case st.PushEnabled:
		st.PrimaryChannel = string(domain.ChannelPush)
	case st.EmailAvailable:
		st.PrimaryChannel = string(domain.ChannelEmail)
	case st.SMSAvailable:
		st.PrimaryChannel = string(domain.ChannelSMS)
	}
	return st, nil
}
