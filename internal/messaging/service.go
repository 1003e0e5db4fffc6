// Package messaging is the direct send path: route, resolve identity,
// render, then record and dispatch through the ledger.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"comms/internal/config"
	"comms/internal/domain"
	"comms/internal/identity"
	"comms/internal/ledger"
	"comms/internal/providers"
	"comms/internal/render"
	"comms/internal/routing"
	"comms/internal/store"
)

var tracer = otel.Tracer("comms/messaging")

// ErrNoContent is returned for a send with neither a template nor a body.
var ErrNoContent = errors.New("message has no template and no body")

type Service struct {
	Templates     store.TemplateStore
	Recipients    store.RecipientStore
	Conversations store.ConversationStore
	Identity      *identity.Resolver
	Registry      *providers.Registry
	Ledger        *ledger.Ledger
	Settings      config.Settings
}

type SendRequest struct {
	RecipientID string
	// Recipient skips the directory lookup when set.
	Recipient   *domain.Recipient
	TemplateKey string
	Template    *domain.Template
	Context     map[string]any
	Channel     string
	MessageType domain.MessageType

	Subject  string
	BodyText string
	BodyHTML string

	// ToAddress replaces the directory address, e.g. a push endpoint URL.
	ToAddress      string
	Related        *domain.RelatedRef
	ConversationID string
	SenderID       string
	Profile        string
	Locale         string
}

// Send delivers one message. Unknown templates fail with
// domain.ErrTemplateNotFound before anything is recorded. An unroutable
// channel or a missing address is recorded as a FAILED message and then
// returned. Provider failures surface as *domain.ProviderError with the
// failed message.
func (s *Service) Send(ctx context.Context, req SendRequest) (domain.Message, error) {
	ctx, span := tracer.Start(ctx, "messaging.send")
	defer span.End()

	m, err := s.send(ctx, req)
	span.SetAttributes(
		attribute.String("message_id", m.ID),
		attribute.String("channel", string(m.Channel)),
		attribute.String("status", string(m.Status)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return m, err
}

func (s *Service) send(ctx context.Context, req SendRequest) (domain.Message, error) {
	rcpt, err := s.recipient(ctx, req)
	if err != nil {
		return domain.Message{}, err
	}

	tpl := req.Template
	if tpl == nil && req.TemplateKey != "" {
		t, err := s.Templates.GetTemplateByKey(ctx, req.TemplateKey)
		if errors.Is(err, store.ErrNotFound) {
			return domain.Message{}, fmt.Errorf("%w: %s", domain.ErrTemplateNotFound, req.TemplateKey)
		}
		if err != nil {
			return domain.Message{}, fmt.Errorf("load template %s: %w", req.TemplateKey, err)
		}
		tpl = &t
	}
	if tpl == nil && req.BodyText == "" && req.BodyHTML == "" {
		return domain.Message{}, ErrNoContent
	}

	msgType := req.MessageType
	if msgType == "" && tpl != nil {
		msgType = tpl.MessageType
	}

	draft := domain.Message{
		Direction:      domain.DirectionOutbound,
		MessageType:    msgType,
		RecipientID:    rcpt.ID,
		SenderID:       req.SenderID,
		ConversationID: req.ConversationID,
		Related:        req.Related,
		Subject:        req.Subject,
		BodyText:       req.BodyText,
		BodyHTML:       req.BodyHTML,
	}
	if tpl != nil {
		draft.TemplateID = tpl.ID
	}

	ch, err := routing.ResolveChannel(msgType, req.Channel, s.Settings)
	if err != nil {
		draft.Channel = domain.Channel(req.Channel)
		return s.reject(ctx, draft, err)
	}
	draft.Channel = ch

	p, err := s.Registry.For(ch)
	if err != nil {
		return s.reject(ctx, draft, err)
	}

	draft.ToAddress = req.ToAddress
	if draft.ToAddress == "" {
		draft.ToAddress = rcpt.AddressFor(ch)
	}
	if draft.ToAddress == "" {
		return s.reject(ctx, draft, &domain.RecipientError{Channel: ch, Reason: "recipient has no address for channel"})
	}

	id, err := s.Identity.Resolve(ctx, identity.Request{
		Channel:    ch,
		Recipient:  rcpt,
		LocaleHint: req.Locale,
		Profile:    req.Profile,
	})
	if err != nil {
		return domain.Message{}, err
	}
	draft.FromAddress = id.FromAddress
	draft.FromName = id.FromName
	draft.ReplyTo = id.ReplyTo
	draft.ConfigSet = id.ConfigSet
	draft.Locale = id.Locale

	if tpl != nil {
		content := render.Render(ctx, *tpl, req.Context, ch).Override(req.Subject, req.BodyText, req.BodyHTML)
		draft.Subject = content.Subject
		draft.BodyText = content.BodyText
		draft.BodyHTML = content.BodyHTML
	}

	m, err := s.Ledger.Send(ctx, draft, p)
	if m.ID != "" {
		s.touch(ctx, m)
	}
	return m, err
}

// reject records an attempt that cannot reach a provider and returns cause.
func (s *Service) reject(ctx context.Context, draft domain.Message, cause error) (domain.Message, error) {
	m, err := s.Ledger.RecordFailed(ctx, draft, cause)
	if err != nil {
		return m, errors.Join(cause, err)
	}
	s.touch(ctx, m)
	return m, cause
}

func (s *Service) recipient(ctx context.Context, req SendRequest) (domain.Recipient, error) {
	if req.Recipient != nil {
		return *req.Recipient, nil
	}
	if req.RecipientID == "" {
		return domain.Recipient{}, &domain.RecipientError{Reason: "no recipient"}
	}
	r, err := s.Recipients.GetRecipient(ctx, req.RecipientID)
	if errors.Is(err, store.ErrNotFound) {
		return r, &domain.RecipientError{Address: req.RecipientID, Reason: "unknown recipient"}
	}
	return r, err
}

func (s *Service) touch(ctx context.Context, m domain.Message) {
	if m.ConversationID == "" || s.Conversations == nil {
		return
	}
	if err := s.Conversations.TouchConversation(ctx, m.ConversationID, m.CreatedAt, m.Channel); err != nil {
		slog.WarnContext(ctx, "conversation touch failed", "conversation_id", m.ConversationID, "message_id", m.ID, "err", err)
	}
}
