// Package audit carries fire-and-forget records of meaningful transitions.
// Emitters never block the delivery path and never report errors back to it.
package audit

import (
	"context"
	"log/slog"
	"time"

	sqsqueue "comms/internal/queue/sqs"
)

const (
	MessageCreated       = "message.created"
	MessageSent          = "message.sent"
	MessageFailed        = "message.failed"
	MessageDelivered     = "message.delivered"
	MessageBounced       = "message.bounced"
	ConversationCreated  = "conversation.created"
	ConversationClosed   = "conversation.closed"
	ConversationArchived = "conversation.archived"
	ConversationReopened = "conversation.reopened"
	ParticipantAdded     = "participant.added"
	ParticipantInvited   = "participant.invited"
	ParticipantJoined    = "participant.joined"
	ParticipantLeft      = "participant.left"
	ParticipantRemoved   = "participant.removed"
)

type Event struct {
	Type           string            `json:"type"`
	MessageID      string            `json:"messageId,omitempty"`
	ConversationID string            `json:"conversationId,omitempty"`
	PersonID       string            `json:"personId,omitempty"`
	Channel        string            `json:"channel,omitempty"`
	Status         string            `json:"status,omitempty"`
	Error          string            `json:"error,omitempty"`
	At             time.Time         `json:"at"`
	Attrs          map[string]string `json:"attrs,omitempty"`
}

type Emitter interface {
	Emit(ctx context.Context, ev Event)
}

// Sink is a destination that may fail. Async wraps sinks into an Emitter.
type Sink interface {
	Write(ctx context.Context, ev Event) error
}

type Nop struct{}

func (Nop) Emit(context.Context, Event) {}

// Log writes events to slog.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Write(ctx context.Context, ev Event) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "audit",
		"type", ev.Type,
		"message_id", ev.MessageID,
		"conversation_id", ev.ConversationID,
		"person_id", ev.PersonID,
		"channel", ev.Channel,
		"status", ev.Status,
		"error", ev.Error,
	)
	return nil
}

// Queue publishes events to an SQS queue for downstream consumers.
type Queue struct {
	Producer *sqsqueue.Producer
}

func (q Queue) Write(ctx context.Context, ev Event) error {
	key := ev.MessageID
	if key == "" {
		key = ev.ConversationID
	}
	return q.Producer.Publish(ctx, ev, key, "")
}
