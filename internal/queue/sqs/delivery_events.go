package sqsqueue

import (
	"context"
	"time"
)

// DeliveryEvent is the internal envelope for provider delivery confirmations.
// Keep it small; SQS has a 256KB message size limit.
type DeliveryEvent struct {
	Provider      string    `json:"provider"`
	ProviderMsgID string    `json:"providerMsgId"`
	Status        string    `json:"status"`
	Detail        string    `json:"detail,omitempty"`
	ReceivedAt    time.Time `json:"receivedAt"`
}

func (p *Producer) EnqueueDelivery(ctx context.Context, ev DeliveryEvent) error {
	return p.Publish(ctx, ev, ev.ProviderMsgID, ev.Provider+":"+ev.ProviderMsgID+":"+ev.Status)
}
