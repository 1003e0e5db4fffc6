// Package memory is an in-process store used by tests and the console
// development mode. Transactions are not isolated.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"comms/internal/domain"
	"comms/internal/store"
)

type Store struct {
	mu sync.Mutex

	messages      map[string]domain.Message
	conversations map[string]domain.Conversation
	participants  map[string]domain.Participant // conversationID + "|" + personID
	templates     map[string]domain.Template    // by key
	profiles      map[string]domain.IdentityProfile
	push          map[string]domain.PushEndpoint
	recipients    map[string]domain.Recipient
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		messages:      map[string]domain.Message{},
		conversations: map[string]domain.Conversation{},
		participants:  map[string]domain.Participant{},
		templates:     map[string]domain.Template{},
		profiles:      map[string]domain.IdentityProfile{},
		push:          map[string]domain.PushEndpoint{},
		recipients:    map[string]domain.Recipient{},
	}
}

func (s *Store) WithTx(ctx context.Context, fn func(store.Store) error) error {
	return fn(s)
}

// Messages returns every stored message ordered by creation.
func (s *Store) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *Store) InsertMessage(_ context.Context, m domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.ID] = m
	return nil
}

func (s *Store) GetMessage(_ context.Context, id string) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return domain.Message{}, store.ErrNotFound
	}
	return m, nil
}

func (s *Store) TransitionMessage(_ context.Context, in store.MessageTransition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[in.ID]
	if !ok || m.Status != in.From {
		return false, nil
	}
	m.Status = in.To
	if in.Provider != "" {
		m.Provider = in.Provider
	}
	if in.ProviderMessageID != "" {
		m.ProviderMessageID = in.ProviderMessageID
	}
	if in.Error != "" {
		m.Error = in.Error
	}
	if in.SentAt != nil {
		m.SentAt = in.SentAt
	}
	if in.DeliveredAt != nil {
		m.DeliveredAt = in.DeliveredAt
	}
	m.UpdatedAt = in.Now
	s.messages[in.ID] = m
	return true, nil
}

func (s *Store) FindMessageByProviderID(_ context.Context, provider, providerMessageID string) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.Provider == provider && m.ProviderMessageID == providerMessageID {
			return m, nil
		}
	}
	return domain.Message{}, store.ErrNotFound
}

func (s *Store) ListConversationMessages(_ context.Context, page store.MessagePage) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Message
	for _, m := range s.messages {
		if m.ConversationID != page.ConversationID {
			continue
		}
		if page.Before != nil && !m.CreatedAt.Before(*page.Before) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	limit := page.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CountUnread(_ context.Context, conversationID, personID string, after *time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.messages {
		if m.ConversationID != conversationID || m.SenderID == personID {
			continue
		}
		if after != nil && !m.CreatedAt.After(*after) {
			continue
		}
		n++
	}
	return n, nil
}

func (s *Store) InsertConversation(_ context.Context, c domain.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = c
	return nil
}

func (s *Store) GetConversation(_ context.Context, id string) (domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return domain.Conversation{}, store.ErrNotFound
	}
	return c, nil
}

func (s *Store) FindConversationByThreadID(_ context.Context, threadID string) (domain.Conversation, error) {
	return s.findConversation(func(c domain.Conversation) bool {
		return c.ThreadID == threadID && c.Status == domain.ConversationActive
	})
}

func (s *Store) FindConversationBySubjectAndAddress(_ context.Context, normalizedSubject, address string) (domain.Conversation, error) {
	s.mu.Lock()
	byAddress := map[string]bool{}
	for key, p := range s.participants {
		r, ok := s.recipients[p.PersonID]
		if !ok {
			continue
		}
		if strings.EqualFold(r.Email, address) || (r.Phone != "" && r.Phone == address) {
			byAddress[key[:strings.Index(key, "|")]] = true
		}
	}
	s.mu.Unlock()

	return s.findConversation(func(c domain.Conversation) bool {
		return c.Status == domain.ConversationActive && c.NormalizedSubject == normalizedSubject && byAddress[c.ID]
	})
}

func (s *Store) FindConversationByRelated(_ context.Context, ref domain.RelatedRef) (domain.Conversation, error) {
	return s.findConversation(func(c domain.Conversation) bool {
		return c.Status == domain.ConversationActive && c.Related != nil && *c.Related == ref
	})
}

// findConversation returns the most recently active match.
func (s *Store) findConversation(match func(domain.Conversation) bool) (domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Conversation
	for _, c := range s.conversations {
		if match(c) {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return domain.Conversation{}, store.ErrNotFound
	}
	sortConversations(out)
	return out[0], nil
}

func sortConversations(cs []domain.Conversation) {
	sort.Slice(cs, func(i, j int) bool {
		a, b := cs[i].LastMessageAt, cs[j].LastMessageAt
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return cs[i].CreatedAt.After(cs[j].CreatedAt)
	})
}

func (s *Store) ListConversationsForPerson(_ context.Context, personID string) ([]domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Conversation
	for _, p := range s.participants {
		if p.PersonID != personID || (p.State != domain.ParticipantActive && p.State != domain.ParticipantInvited) {
			continue
		}
		if c, ok := s.conversations[p.ConversationID]; ok {
			out = append(out, c)
		}
	}
	sortConversations(out)
	return out, nil
}

func (s *Store) TouchConversation(_ context.Context, id string, at time.Time, ch domain.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return store.ErrNotFound
	}
	if c.LastMessageAt == nil || at.After(*c.LastMessageAt) {
		t := at
		c.LastMessageAt = &t
	}
	if c.PrimaryChannel == "" {
		c.PrimaryChannel = ch
	}
	c.UpdatedAt = time.Now().UTC()
	s.conversations[id] = c
	return nil
}

func (s *Store) SetConversationStatus(_ context.Context, in store.ConversationStatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[in.ID]
	if !ok {
		return store.ErrNotFound
	}
	c.Status = in.Status
	c.ClosedAt = in.ClosedAt
	c.ClosedBy = in.ClosedBy
	c.UpdatedAt = in.Now
	s.conversations[in.ID] = c
	return nil
}

func (s *Store) SetConversationTitle(_ context.Context, id, title string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return store.ErrNotFound
	}
	c.Title = title
	c.UpdatedAt = now
	s.conversations[id] = c
	return nil
}

func participantKey(conversationID, personID string) string { return conversationID + "|" + personID }

func (s *Store) EnsureParticipant(_ context.Context, p domain.Participant) (domain.Participant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := participantKey(p.ConversationID, p.PersonID)
	if existing, ok := s.participants[key]; ok {
		return existing, false, nil
	}
	s.participants[key] = p
	return p, true, nil
}

func (s *Store) GetParticipant(_ context.Context, conversationID, personID string) (domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[participantKey(conversationID, personID)]
	if !ok {
		return domain.Participant{}, store.ErrNotFound
	}
	return p, nil
}

func (s *Store) UpdateParticipant(_ context.Context, p domain.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := participantKey(p.ConversationID, p.PersonID)
	existing, ok := s.participants[key]
	if !ok {
		return store.ErrNotFound
	}
	p.ID = existing.ID
	p.CreatedAt = existing.CreatedAt
	s.participants[key] = p
	return nil
}

func (s *Store) MarkRead(_ context.Context, conversationID, personID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := participantKey(conversationID, personID)
	p, ok := s.participants[key]
	if !ok {
		return store.ErrNotFound
	}
	if p.LastReadAt == nil || at.After(*p.LastReadAt) {
		t := at
		p.LastReadAt = &t
	}
	s.participants[key] = p
	return nil
}

func (s *Store) ListParticipants(_ context.Context, conversationID string) ([]domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Participant
	for _, p := range s.participants {
		if p.ConversationID == conversationID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) GetTemplateByKey(_ context.Context, key string) (domain.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[key]
	if !ok || !t.IsActive {
		return domain.Template{}, store.ErrNotFound
	}
	return t, nil
}

func (s *Store) ListTemplatesByEvent(_ context.Context, eventType string) ([]domain.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Template
	for _, t := range s.templates {
		if t.IsActive && t.EventType == eventType {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) SaveTemplate(_ context.Context, t domain.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[t.Key] = t
	return nil
}

func (s *Store) GetProfile(_ context.Context, slug string) (domain.IdentityProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[slug]
	if !ok {
		return domain.IdentityProfile{}, store.ErrNotFound
	}
	return p, nil
}

func (s *Store) SaveProfile(_ context.Context, p domain.IdentityProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.Slug] = p
	return nil
}

func (s *Store) ListActivePushEndpoints(_ context.Context, recipientID string) ([]domain.PushEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PushEndpoint
	for _, ep := range s.push {
		if ep.RecipientID == recipientID && ep.IsActive {
			out = append(out, ep)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) GetActivePushEndpoint(_ context.Context, endpointURL string) (domain.PushEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ep := range s.push {
		if ep.Endpoint == endpointURL && ep.IsActive {
			return ep, nil
		}
	}
	return domain.PushEndpoint{}, store.ErrNotFound
}

// PushEndpoint returns an endpoint by id regardless of state.
func (s *Store) PushEndpoint(id string) (domain.PushEndpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.push[id]
	return ep, ok
}

func (s *Store) SavePushEndpoint(_ context.Context, ep domain.PushEndpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.push[ep.ID] = ep
	return nil
}

func (s *Store) RecordPushSuccess(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.push[id]
	if !ok {
		return store.ErrNotFound
	}
	t := at
	ep.FailureCount = 0
	ep.LastSuccess = &t
	s.push[id] = ep
	return nil
}

func (s *Store) RecordPushFailure(_ context.Context, id string, threshold int) (domain.PushEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.push[id]
	if !ok {
		return domain.PushEndpoint{}, store.ErrNotFound
	}
	ep.FailureCount++
	if ep.FailureCount >= threshold {
		ep.IsActive = false
	}
	s.push[id] = ep
	return ep, nil
}

func (s *Store) DeactivatePushEndpoint(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.push[id]
	if !ok {
		return store.ErrNotFound
	}
	ep.IsActive = false
	s.push[id] = ep
	return nil
}

func (s *Store) GetRecipient(_ context.Context, id string) (domain.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recipients[id]
	if !ok {
		return domain.Recipient{}, store.ErrNotFound
	}
	return r, nil
}

func (s *Store) SaveRecipient(_ context.Context, r domain.Recipient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recipients[r.ID] = r
	return nil
}
