package domain

import "time"

type ConversationStatus string

const (
	ConversationActive   ConversationStatus = "active"
	ConversationArchived ConversationStatus = "archived"
	ConversationClosed   ConversationStatus = "closed"
)

type ConversationKind string

const (
	KindDirect ConversationKind = "direct"
	KindGroup  ConversationKind = "group"
)

type Conversation struct {
	ID                string             `json:"id"`
	Kind              ConversationKind   `json:"kind"`
	Title             string             `json:"title,omitempty"`
	Subject           string             `json:"subject,omitempty"`
	NormalizedSubject string             `json:"normalizedSubject,omitempty"`
	Status            ConversationStatus `json:"status"`
	PrimaryChannel    Channel            `json:"primaryChannel,omitempty"`
	ThreadID          string             `json:"threadId,omitempty"`
	Related           *RelatedRef        `json:"related,omitempty"`
	CreatedBy         string             `json:"createdBy,omitempty"`
	LastMessageAt     *time.Time         `json:"lastMessageAt,omitempty"`
	ClosedAt          *time.Time         `json:"closedAt,omitempty"`
	ClosedBy          string             `json:"closedBy,omitempty"`
	CreatedAt         time.Time          `json:"createdAt"`
	UpdatedAt         time.Time          `json:"updatedAt"`
}

func (c Conversation) IsGroup() bool { return c.Kind == KindGroup }

type Role string

const (
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
	RoleSystem   Role = "system"
	RoleOwner    Role = "owner"
	RoleAdmin    Role = "admin"
	RoleMember   Role = "member"
)

// Manages reports whether the role may administer a group conversation.
func (r Role) Manages() bool { return r == RoleOwner || r == RoleAdmin }

// SendsOutbound reports whether messages from this role default to outbound.
func (r Role) SendsOutbound() bool {
	return r == RoleStaff || r == RoleOwner || r == RoleAdmin || r == RoleSystem
}

type ParticipantState string

const (
	ParticipantActive  ParticipantState = "active"
	ParticipantInvited ParticipantState = "invited"
	ParticipantLeft    ParticipantState = "left"
	ParticipantRemoved ParticipantState = "removed"
)

type Participant struct {
	ID                   string           `json:"id"`
	ConversationID       string           `json:"conversationId"`
	PersonID             string           `json:"personId"`
	Role                 Role             `json:"role"`
	State                ParticipantState `json:"state"`
	InvitedBy            string           `json:"invitedBy,omitempty"`
	JoinedAt             *time.Time       `json:"joinedAt,omitempty"`
	LeftAt               *time.Time       `json:"leftAt,omitempty"`
	LastReadAt           *time.Time       `json:"lastReadAt,omitempty"`
	NotificationsEnabled bool             `json:"notificationsEnabled"`
	CreatedAt            time.Time        `json:"createdAt"`
}

func (p Participant) Active() bool { return p.State == ParticipantActive }
