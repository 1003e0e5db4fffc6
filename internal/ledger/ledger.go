// Package ledger records every delivery attempt and drives the message
// state machine. A row exists before any provider call, and terminal
// statuses are written before errors are returned to the caller.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"comms/internal/audit"
	"comms/internal/domain"
	"comms/internal/observability"
	"comms/internal/providers"
	"comms/internal/store"
	"comms/internal/util"
)

type Ledger struct {
	Store store.MessageStore
	Audit audit.Emitter
	Now   func() time.Time
}

func New(s store.MessageStore, em audit.Emitter) *Ledger {
	if em == nil {
		em = audit.Nop{}
	}
	return &Ledger{Store: s, Audit: em}
}

// Record persists m as a new QUEUED outbound message.
func (l *Ledger) Record(ctx context.Context, m domain.Message) (domain.Message, error) {
	m = l.prepare(m, domain.StatusQueued)
	if err := l.Store.InsertMessage(ctx, m); err != nil {
		return m, fmt.Errorf("insert message: %w", err)
	}
	l.counted(m)
	l.emit(ctx, audit.MessageCreated, m)
	return m, nil
}

// RecordFailed persists m directly as FAILED. It covers attempts rejected
// before a provider could be chosen or addressed.
func (l *Ledger) RecordFailed(ctx context.Context, m domain.Message, cause error) (domain.Message, error) {
	m = l.prepare(m, domain.StatusFailed)
	m.Error = errorText(cause, "")
	if err := l.Store.InsertMessage(ctx, m); err != nil {
		return m, fmt.Errorf("insert failed message: %w", err)
	}
	l.counted(m)
	l.emit(ctx, audit.MessageCreated, m)
	l.emit(ctx, audit.MessageFailed, m)
	return m, nil
}

// RecordInbound stores a message received from a person. Inbound messages
// are never sent, so they start out DELIVERED.
func (l *Ledger) RecordInbound(ctx context.Context, m domain.Message) (domain.Message, error) {
	m.Direction = domain.DirectionInbound
	m = l.prepare(m, domain.StatusDelivered)
	at := m.CreatedAt
	m.DeliveredAt = &at
	if err := l.Store.InsertMessage(ctx, m); err != nil {
		return m, fmt.Errorf("insert inbound message: %w", err)
	}
	l.counted(m)
	l.emit(ctx, audit.MessageCreated, m)
	return m, nil
}

// Send records m and dispatches it through p.
func (l *Ledger) Send(ctx context.Context, m domain.Message, p providers.Provider) (domain.Message, error) {
	m, err := l.Record(ctx, m)
	if err != nil {
		return m, err
	}
	return l.Dispatch(ctx, m, p)
}

// Dispatch moves a QUEUED message through SENDING to SENT or FAILED.
//
// An address the provider rejects fails the message without a provider
// call and returns a *domain.RecipientError. A provider failure returns a
// *domain.ProviderError. In both cases the returned message carries the
// persisted terminal status.
func (l *Ledger) Dispatch(ctx context.Context, m domain.Message, p providers.Provider) (domain.Message, error) {
	if m.Status != domain.StatusQueued {
		return m, fmt.Errorf("%w: dispatch %s in status %s", domain.ErrInvalidState, m.ID, m.Status)
	}
	// terminal writes must land even when the caller gives up
	wctx := context.WithoutCancel(ctx)

	if !p.ValidateRecipient(m.ToAddress) {
		rerr := &domain.RecipientError{Channel: m.Channel, Address: m.ToAddress, Reason: "address rejected by " + p.Name()}
		m, err := l.transition(wctx, m, store.MessageTransition{To: domain.StatusFailed, Error: rerr.Error()})
		if err != nil {
			return m, err
		}
		l.emit(ctx, audit.MessageFailed, m)
		return m, rerr
	}

	m, err := l.transition(wctx, m, store.MessageTransition{To: domain.StatusSending})
	if err != nil {
		return m, err
	}

	res, sendErr := call(ctx, p, m)
	provider := res.Provider
	if provider == "" {
		provider = p.Name()
	}

	if sendErr == nil && res.Success {
		now := l.now()
		m, err = l.transition(wctx, m, store.MessageTransition{
			To:                domain.StatusSent,
			Provider:          provider,
			ProviderMessageID: res.ProviderMessageID,
			SentAt:            &now,
		})
		if err != nil {
			return m, err
		}
		l.emit(ctx, audit.MessageSent, m)
		return m, nil
	}

	cause := sendErr
	if cause == nil {
		cause = errors.New(errorText(nil, res.Error))
	}
	m, err = l.transition(wctx, m, store.MessageTransition{
		To:       domain.StatusFailed,
		Provider: provider,
		Error:    errorText(sendErr, res.Error),
	})
	if err != nil {
		return m, err
	}
	slog.WarnContext(ctx, "message send failed",
		"message_id", m.ID, "channel", m.Channel, "provider", provider, "err", m.Error)
	l.emit(ctx, audit.MessageFailed, m)
	return m, &domain.ProviderError{Provider: provider, MessageID: m.ID, Cause: cause}
}

// MarkDelivered confirms delivery of a SENT message. Confirming an already
// delivered message is a no-op.
func (l *Ledger) MarkDelivered(ctx context.Context, id string) (domain.Message, error) {
	m, err := l.Store.GetMessage(ctx, id)
	if err != nil {
		return m, err
	}
	if m.Status == domain.StatusDelivered {
		return m, nil
	}
	now := l.now()
	m, err = l.transition(ctx, m, store.MessageTransition{To: domain.StatusDelivered, DeliveredAt: &now})
	if err != nil {
		return m, err
	}
	l.emit(ctx, audit.MessageDelivered, m)
	return m, nil
}

func (l *Ledger) MarkBounced(ctx context.Context, id, reason string) (domain.Message, error) {
	m, err := l.Store.GetMessage(ctx, id)
	if err != nil {
		return m, err
	}
	if m.Status == domain.StatusBounced {
		return m, nil
	}
	m, err = l.transition(ctx, m, store.MessageTransition{To: domain.StatusBounced, Error: reason})
	if err != nil {
		return m, err
	}
	l.emit(ctx, audit.MessageBounced, m)
	return m, nil
}

// ApplyProviderStatus maps an asynchronous provider status onto the message
// the provider accepted under providerMessageID. It reports whether the
// message changed; statuses that do not map, and events arriving out of
// order, are ignored.
func (l *Ledger) ApplyProviderStatus(ctx context.Context, provider, providerMessageID, status, detail string) (domain.Message, bool, error) {
	observability.DeliveryEvents.WithLabelValues(provider, status).Inc()

	target, ok := providerStatus(status)
	if !ok {
		return domain.Message{}, false, nil
	}
	m, err := l.Store.FindMessageByProviderID(ctx, provider, providerMessageID)
	if err != nil {
		return m, false, err
	}
	if m.Status != domain.StatusSent {
		slog.InfoContext(ctx, "provider status ignored",
			"message_id", m.ID, "provider", provider, "status", status, "current", m.Status)
		return m, false, nil
	}

	switch target {
	case domain.StatusDelivered:
		m, err = l.MarkDelivered(ctx, m.ID)
	default:
		if detail == "" {
			detail = status
		}
		m, err = l.MarkBounced(ctx, m.ID, detail)
	}
	if errors.Is(err, domain.ErrInvalidState) {
		return m, false, nil
	}
	return m, err == nil, err
}

func providerStatus(status string) (domain.MessageStatus, bool) {
	switch strings.ToLower(status) {
	case "delivered":
		return domain.StatusDelivered, true
	case "bounced", "undelivered", "failed":
		return domain.StatusBounced, true
	}
	return "", false
}

// transition applies a compare-and-set from m.Status and returns the
// updated message.
func (l *Ledger) transition(ctx context.Context, m domain.Message, tr store.MessageTransition) (domain.Message, error) {
	if !domain.CanTransition(m.Status, tr.To) {
		return m, fmt.Errorf("%w: %s cannot move from %s to %s", domain.ErrInvalidState, m.ID, m.Status, tr.To)
	}
	tr.ID = m.ID
	tr.From = m.Status
	tr.Now = l.now()
	ok, err := l.Store.TransitionMessage(ctx, tr)
	if err != nil {
		return m, fmt.Errorf("transition message %s to %s: %w", m.ID, tr.To, err)
	}
	if !ok {
		return m, fmt.Errorf("%w: %s is no longer %s", domain.ErrInvalidState, m.ID, m.Status)
	}

	m.Status = tr.To
	m.UpdatedAt = tr.Now
	if tr.Provider != "" {
		m.Provider = tr.Provider
	}
	if tr.ProviderMessageID != "" {
		m.ProviderMessageID = tr.ProviderMessageID
	}
	if tr.Error != "" {
		m.Error = tr.Error
	}
	if tr.SentAt != nil {
		m.SentAt = tr.SentAt
	}
	if tr.DeliveredAt != nil {
		m.DeliveredAt = tr.DeliveredAt
	}
	l.counted(m)
	return m, nil
}

func (l *Ledger) prepare(m domain.Message, status domain.MessageStatus) domain.Message {
	if m.ID == "" {
		m.ID = util.NewMessageID()
	}
	if m.Direction == "" {
		m.Direction = domain.DirectionOutbound
	}
	now := l.now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	m.Status = status
	return m
}

func (l *Ledger) counted(m domain.Message) {
	observability.Messages.WithLabelValues(string(m.Channel), string(m.Status)).Inc()
}

func (l *Ledger) emit(ctx context.Context, typ string, m domain.Message) {
	if l.Audit == nil {
		return
	}
	l.Audit.Emit(ctx, audit.Event{
		Type:           typ,
		MessageID:      m.ID,
		ConversationID: m.ConversationID,
		PersonID:       m.RecipientID,
		Channel:        string(m.Channel),
		Status:         string(m.Status),
		Error:          m.Error,
		At:             l.now(),
	})
}

func (l *Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return util.NowUTC()
}

// call invokes the provider and turns a panic into an error.
func call(ctx context.Context, p providers.Provider, m domain.Message) (res domain.SendResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider %s panicked: %v", p.Name(), r)
		}
	}()
	return p.Send(ctx, m)
}

func errorText(err error, fallback string) string {
	switch {
	case err != nil && fallback != "" && !strings.Contains(err.Error(), fallback):
		return fallback + ": " + err.Error()
	case err != nil:
		return err.Error()
	case fallback != "":
		return fallback
	}
	return "unknown provider error"
}
