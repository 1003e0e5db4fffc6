package store

import (
	"context"
	"time"

	"comms/internal/domain"
)

// ErrNotFound is returned by every lookup that matches no row.
var ErrNotFound = domain.ErrNotFound

// MessageTransition is a compare-and-set status change: it applies only
// while the row is still in From.
type MessageTransition struct {
	ID                string
	From              domain.MessageStatus
	To                domain.MessageStatus
	Provider          string
	ProviderMessageID string
	Error             string
	SentAt            *time.Time
	DeliveredAt       *time.Time
	Now               time.Time
}

type ConversationStatusUpdate struct {
	ID       string
	Status   domain.ConversationStatus
	ClosedAt *time.Time
	ClosedBy string
	Now      time.Time
}

// MessagePage selects conversation messages older than Before, newest first.
type MessagePage struct {
	ConversationID string
	Limit          int
	Before         *time.Time
}

type MessageStore interface {
	InsertMessage(ctx context.Context, m domain.Message) error
	GetMessage(ctx context.Context, id string) (domain.Message, error)
	TransitionMessage(ctx context.Context, in MessageTransition) (bool, error)
	FindMessageByProviderID(ctx context.Context, provider, providerMessageID string) (domain.Message, error)
	ListConversationMessages(ctx context.Context, page MessagePage) ([]domain.Message, error)
	// CountUnread counts conversation messages not sent by personID created after the given time (all when nil).
	CountUnread(ctx context.Context, conversationID, personID string, after *time.Time) (int, error)
}

type ConversationStore interface {
	InsertConversation(ctx context.Context, c domain.Conversation) error
	GetConversation(ctx context.Context, id string) (domain.Conversation, error)
	// FindConversationByThreadID and FindConversationBySubjectAndAddress
	// match active conversations only.
	FindConversationByThreadID(ctx context.Context, threadID string) (domain.Conversation, error)
	FindConversationBySubjectAndAddress(ctx context.Context, normalizedSubject, address string) (domain.Conversation, error)
	FindConversationByRelated(ctx context.Context, ref domain.RelatedRef) (domain.Conversation, error)
	ListConversationsForPerson(ctx context.Context, personID string) ([]domain.Conversation, error)
	TouchConversation(ctx context.Context, id string, at time.Time, ch domain.Channel) error
	SetConversationStatus(ctx context.Context, in ConversationStatusUpdate) error
	SetConversationTitle(ctx context.Context, id, title string, now time.Time) error
}

type ParticipantStore interface {
	// EnsureParticipant inserts p unless (conversation, person) exists; it returns the stored row
	// and whether it was created.
	EnsureParticipant(ctx context.Context, p domain.Participant) (domain.Participant, bool, error)
	GetParticipant(ctx context.Context, conversationID, personID string) (domain.Participant, error)
	UpdateParticipant(ctx context.Context, p domain.Participant) error
	MarkRead(ctx context.Context, conversationID, personID string, at time.Time) error
	ListParticipants(ctx context.Context, conversationID string) ([]domain.Participant, error)
}

type TemplateStore interface {
	// GetTemplateByKey returns active templates only.
	GetTemplateByKey(ctx context.Context, key string) (domain.Template, error)
	// ListTemplatesByEvent returns active templates for eventType ordered by key.
	ListTemplatesByEvent(ctx context.Context, eventType string) ([]domain.Template, error)
	SaveTemplate(ctx context.Context, t domain.Template) error
}

type ProfileStore interface {
	GetProfile(ctx context.Context, slug string) (domain.IdentityProfile, error)
	SaveProfile(ctx context.Context, p domain.IdentityProfile) error
}

type PushStore interface {
	// ListActivePushEndpoints is ordered by creation time then id.
	ListActivePushEndpoints(ctx context.Context, recipientID string) ([]domain.PushEndpoint, error)
	GetActivePushEndpoint(ctx context.Context, endpointURL string) (domain.PushEndpoint, error)
	SavePushEndpoint(ctx context.Context, ep domain.PushEndpoint) error
	RecordPushSuccess(ctx context.Context, id string, at time.Time) error
	// RecordPushFailure increments failure_count and deactivates once it reaches threshold.
	RecordPushFailure(ctx context.Context, id string, threshold int) (domain.PushEndpoint, error)
	DeactivatePushEndpoint(ctx context.Context, id string) error
}

type RecipientStore interface {
	GetRecipient(ctx context.Context, id string) (domain.Recipient, error)
	SaveRecipient(ctx context.Context, r domain.Recipient) error
}

type Store interface {
	MessageStore
	ConversationStore
	ParticipantStore
	TemplateStore
	ProfileStore
	PushStore
	RecipientStore

	// WithTx runs fn against a transactional view of the store. The
	// transaction commits when fn returns nil.
	WithTx(ctx context.Context, fn func(Store) error) error
}
