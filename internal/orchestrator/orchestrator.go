// Package orchestrator turns a domain event into one send per matching
// template.
package orchestrator

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
	"comms/internal/routing"
	"comms/internal/store"
)

var tracer = otel.Tracer("comms/orchestrator")

// ChannelPreferenceKey in the event context overrides template routing.
const ChannelPreferenceKey = "channel_preference"

type Orchestrator struct {
	Templates     store.TemplateStore
	Recipients    store.RecipientStore
	Conversations store.ConversationStore
	Sender        *messaging.Service
	Settings      config.Settings
	// Providers run in this order for every event.
	Providers []NamedProvider
}

type Event struct {
	Type           string
	SubjectID      string
	Subject        *domain.Recipient
	ActorID        string
	Actor          *domain.Recipient
	Context        map[string]any
	ConversationID string
}

// Orchestrate returns every message produced for ev, sent or failed.
func (o *Orchestrator) Orchestrate(ctx context.Context, ev Event) ([]domain.Message, error) {
	outcomes, err := o.OrchestrateOutcomes(ctx, ev)
	if err != nil {
		return nil, err
	}
	msgs := []domain.Message{}
	for _, oc := range outcomes {
		if oc.Message != nil {
			msgs = append(msgs, *oc.Message)
		}
	}
	return msgs, nil
}

// OrchestrateOutcomes reports what happened per matching template. An event
// with no active template yields no outcomes and no error. Per-template
// failures are outcomes, not errors.
func (o *Orchestrator) OrchestrateOutcomes(ctx context.Context, ev Event) ([]domain.Outcome, error) {
	ctx, span := tracer.Start(ctx, "orchestrate")
	defer span.End()
	span.SetAttributes(attribute.String("event_type", ev.Type))

	templates, err := o.Templates.ListTemplatesByEvent(ctx, ev.Type)
	if err != nil {
		return nil, fmt.Errorf("list templates for %s: %w", ev.Type, err)
	}
	if len(templates) == 0 {
		slog.DebugContext(ctx, "no active template for event", "event_type", ev.Type)
		return nil, nil
	}

	in, err := o.input(ctx, ev)
	if err != nil {
		return nil, err
	}
	data := MergeContext(ctx, o.Providers, in)

	outcomes := make([]domain.Outcome, 0, len(templates))
	for _, tpl := range templates {
		oc := o.forTemplate(ctx, tpl, in, ev, data)
		observability.OrchestratorOutcomes.WithLabelValues(string(oc.Kind)).Inc()
		if oc.Kind == domain.OutcomeSkipped {
			slog.InfoContext(ctx, "template skipped",
				"event_type", ev.Type, "template", tpl.Key, "channel", oc.Channel, "reason", oc.Reason)
		}
		outcomes = append(outcomes, oc)
	}
	span.SetAttributes(attribute.Int("templates", len(templates)))
	return outcomes, nil
}

func (o *Orchestrator) forTemplate(ctx context.Context, tpl domain.Template, in ContextInput, ev Event, data map[string]any) domain.Outcome {
	pref, _ := data[ChannelPreferenceKey].(string)
	ch, err := routing.ResolveChannel(tpl.MessageType, pref, o.Settings)
	if err != nil {
		return domain.Failed(tpl.Key, domain.Channel(pref), nil, err)
	}
	if !tpl.HasContentFor(ch) {
		return domain.Skipped(tpl.Key, ch, "template has no content for channel")
	}
	if in.Subject.AddressFor(ch) == "" {
		return domain.Skipped(tpl.Key, ch, "recipient has no address for channel")
	}

	var senderID string
	if in.Actor != nil {
		senderID = in.Actor.ID
	}
	t := tpl
	m, err := o.Sender.Send(ctx, messaging.SendRequest{
		Recipient:      &in.Subject,
		Template:       &t,
		Context:        data,
		Channel:        string(ch),
		ConversationID: ev.ConversationID,
		SenderID:       senderID,
	})
	if err != nil {
		var msg *domain.Message
		if m.ID != "" {
			msg = &m
		}
		return domain.Failed(tpl.Key, ch, msg, err)
	}
	return domain.Sent(tpl.Key, m)
}

func (o *Orchestrator) input(ctx context.Context, ev Event) (ContextInput, error) {
	in := ContextInput{Extra: ev.Context}

	subject, err := o.person(ctx, ev.Subject, ev.SubjectID)
	if err != nil {
		return in, fmt.Errorf("load subject: %w", err)
	}
	in.Subject = *subject

	if ev.Actor != nil || ev.ActorID != "" {
		actor, err := o.person(ctx, ev.Actor, ev.ActorID)
		if err != nil {
			return in, fmt.Errorf("load actor: %w", err)
		}
		in.Actor = actor
	}

	if ev.ConversationID != "" && o.Conversations != nil {
		conv, err := o.Conversations.GetConversation(ctx, ev.ConversationID)
		if err != nil {
			return in, fmt.Errorf("load conversation: %w", err)
		}
		in.Conversation = &conv
	}
	return in, nil
}

func (o *Orchestrator) person(ctx context.Context, given *domain.Recipient, id string) (*domain.Recipient, error) {
	if given != nil {
		return given, nil
	}
	r, err := o.Recipients.GetRecipient(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &domain.RecipientError{Address: id, Reason: "unknown recipient"}
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}
