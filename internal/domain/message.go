package domain

import "time"

// RelatedRef points at an entity owned by the caller (a booking, an order, ...).
type RelatedRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func (r *RelatedRef) Empty() bool { return r == nil || r.Type == "" || r.ID == "" }

// Message is one delivery attempt. Content and identity are fixed at creation;
// only status, provider and error fields change afterwards.
type Message struct {
	ID             string        `json:"id"`
	Direction      Direction     `json:"direction"`
	Channel        Channel       `json:"channel"`
	MessageType    MessageType   `json:"messageType,omitempty"`
	Status         MessageStatus `json:"status"`
	RecipientID    string        `json:"recipientId,omitempty"`
	SenderID       string        `json:"senderId,omitempty"`
	FromAddress    string        `json:"fromAddress"`
	FromName       string        `json:"fromName,omitempty"`
	ToAddress      string        `json:"toAddress"`
	ReplyTo        string        `json:"replyTo,omitempty"`
	ConfigSet      string        `json:"configSet,omitempty"`
	Locale         string        `json:"locale,omitempty"`
	Subject        string        `json:"subject,omitempty"`
	BodyText       string        `json:"bodyText"`
	BodyHTML       string        `json:"bodyHtml,omitempty"`
	TemplateID     string        `json:"templateId,omitempty"`
	ConversationID string        `json:"conversationId,omitempty"`
	Related        *RelatedRef   `json:"related,omitempty"`

	Provider          string     `json:"provider,omitempty"`
	ProviderMessageID string     `json:"providerMessageId,omitempty"`
	Error             string     `json:"error,omitempty"`
	SentAt            *time.Time `json:"sentAt,omitempty"`
	DeliveredAt       *time.Time `json:"deliveredAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// SendResult is what a provider adapter reports for a single send.
type SendResult struct {
	Success           bool
	Provider          string
	ProviderMessageID string
	Error             string
}
