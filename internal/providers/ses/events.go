package ses

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Notification is a delivery outcome reported by SES.
type Notification struct {
	MessageID string
	// Status is "delivered", "bounced" or "" for events the ledger ignores.
	Status string
	Detail string
}

type snsEnvelope struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

type sesEvent struct {
	EventType        string `json:"eventType"`
	NotificationType string `json:"notificationType"`
	Mail             struct {
		MessageID string `json:"messageId"`
	} `json:"mail"`
	Bounce *struct {
		BounceType    string `json:"bounceType"`
		BounceSubType string `json:"bounceSubType"`
	} `json:"bounce"`
	Complaint *struct {
		ComplaintFeedbackType string `json:"complaintFeedbackType"`
	} `json:"complaint"`
}

// ParseNotification decodes an SES event, raw or wrapped in an SNS envelope.
func ParseNotification(body []byte) (Notification, error) {
	var env snsEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Type == "Notification" && env.Message != "" {
		body = []byte(env.Message)
	}

	var ev sesEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return Notification{}, fmt.Errorf("decode ses event: %w", err)
	}
	if ev.Mail.MessageID == "" {
		return Notification{}, errors.New("ses event without mail.messageId")
	}

	kind := ev.EventType
	if kind == "" {
		kind = ev.NotificationType
	}
	n := Notification{MessageID: ev.Mail.MessageID}
	switch strings.ToLower(kind) {
	case "delivery":
		n.Status = "delivered"
	case "bounce":
		n.Status = "bounced"
		if ev.Bounce != nil {
			n.Detail = strings.Trim(ev.Bounce.BounceType+"/"+ev.Bounce.BounceSubType, "/")
		}
	case "complaint":
		if ev.Complaint != nil {
			n.Detail = ev.Complaint.ComplaintFeedbackType
		}
	}
	return n, nil
}
