// Package delivery applies asynchronous provider delivery reports to the
// message ledger.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"comms/internal/domain"
	"comms/internal/providers/ses"
	sqsqueue "comms/internal/queue/sqs"
)

type StatusApplier interface {
	ApplyProviderStatus(ctx context.Context, provider, providerMessageID, status, detail string) (domain.Message, bool, error)
}

type Processor struct {
	Ledger StatusApplier
	// Timeout bounds each ledger update. Zero means 5s.
	Timeout time.Duration
}

// Handle accepts either an internal DeliveryEvent envelope (Twilio callbacks
// forwarded by the API) or an SES event, raw or SNS-wrapped.
//
// A report for a message the ledger does not know yet is returned as an
// error so SQS redelivers it; the send may still be committing.
func (p *Processor) Handle(ctx context.Context, body []byte) error {
	ev, err := Parse(body)
	if err != nil {
		return fmt.Errorf("%w: %v", sqsqueue.ErrPoison, err)
	}
	if ev.Status == "" {
		slog.DebugContext(ctx, "delivery event ignored", "provider", ev.Provider, "provider_msg_id", ev.ProviderMsgID)
		return nil
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	dbCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	m, changed, err := p.Ledger.ApplyProviderStatus(dbCtx, ev.Provider, ev.ProviderMsgID, ev.Status, ev.Detail)
	if err != nil {
		return fmt.Errorf("apply %s status for %s: %w", ev.Provider, ev.ProviderMsgID, err)
	}
	if changed {
		slog.InfoContext(ctx, "delivery status applied",
			"message_id", m.ID, "provider", ev.Provider, "status", m.Status)
	}
	return nil
}

// Parse decodes a delivery report body.
func Parse(body []byte) (sqsqueue.DeliveryEvent, error) {
	var ev sqsqueue.DeliveryEvent
	if err := json.Unmarshal(body, &ev); err == nil && ev.Provider != "" && ev.ProviderMsgID != "" {
		return ev, nil
	}
	n, err := ses.ParseNotification(body)
	if err != nil {
		return sqsqueue.DeliveryEvent{}, err
	}
	return sqsqueue.DeliveryEvent{
		Provider:      ses.Name,
		ProviderMsgID: n.MessageID,
		Status:        n.Status,
		Detail:        n.Detail,
	}, nil
}
