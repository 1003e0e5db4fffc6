package domain

import (
	"strings"
	"time"
)

type Template struct {
	ID            string      `json:"id"`
	Key           string      `json:"key"`
	Name          string      `json:"name"`
	MessageType   MessageType `json:"messageType"`
	EventType     string      `json:"eventType,omitempty"`
	EmailSubject  string      `json:"emailSubject,omitempty"`
	EmailBodyText string      `json:"emailBodyText,omitempty"`
	EmailBodyHTML string      `json:"emailBodyHtml,omitempty"`
	SMSBody       string      `json:"smsBody,omitempty"`
	IsActive      bool        `json:"isActive"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// HasContentFor reports whether the template can produce a message on ch.
func (t Template) HasContentFor(ch Channel) bool {
	switch ch {
	case ChannelEmail:
		return strings.TrimSpace(t.EmailSubject) != "" && strings.TrimSpace(t.EmailBodyText) != ""
	case ChannelSMS:
		return strings.TrimSpace(t.SMSBody) != ""
	case ChannelPush, ChannelInApp:
		return strings.TrimSpace(t.EmailBodyText) != "" || strings.TrimSpace(t.SMSBody) != ""
	}
	return false
}

// Content is rendered, channel-ready text.
type Content struct {
	Subject  string
	BodyText string
	BodyHTML string
}

// Override replaces fields with non-empty caller values.
func (c Content) Override(subject, text, html string) Content {
	if subject != "" {
		c.Subject = subject
	}
	if text != "" {
		c.BodyText = text
	}
	if html != "" {
		c.BodyHTML = html
	}
	return c
}
