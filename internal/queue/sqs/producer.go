package sqsqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

const defaultGroupBuckets = 64

// Producer publishes JSON bodies. On a FIFO queue every message carries a
// bucketed group id and an explicit deduplication id.
type Producer struct {
	SQS      API
	QueueURL string
	FIFO     bool
	Buckets  int
}

// IsFIFO reports whether queueURL names a FIFO queue.
func IsFIFO(queueURL string) bool { return strings.HasSuffix(queueURL, ".fifo") }

func (p *Producer) Publish(ctx context.Context, v any, groupKey, dedupID string) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	in := &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: str(string(body)),
	}
	if p.FIFO {
		in.MessageGroupId = str(messageGroupIDBucketed("g", groupKey, p.Buckets))
		if dedupID != "" {
			in.MessageDeduplicationId = str(dedupID)
		}
	}
	_, err = p.SQS.SendMessage(ctx, in)
	return err
}

// EventJob asks a worker to orchestrate one domain event.
type EventJob struct {
	JobID          string         `json:"jobId"`
	EventType      string         `json:"eventType"`
	RecipientID    string         `json:"recipientId"`
	ActorID        string         `json:"actorId,omitempty"`
	ConversationID string         `json:"conversationId,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
	EnqueuedAt     time.Time      `json:"enqueuedAt"`
}

// EnqueueEvent groups by recipient so one recipient's events stay ordered.
func (p *Producer) EnqueueEvent(ctx context.Context, job EventJob) error {
	return p.Publish(ctx, job, job.RecipientID, job.JobID)
}

// messageGroupIDBucketed spreads keys over a fixed number of FIFO groups so
// ordering holds per key without one group per key.
func messageGroupIDBucketed(prefix, key string, buckets int) string {
	if buckets <= 0 {
		buckets = defaultGroupBuckets
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return fmt.Sprintf("%s:%d", prefix, h.Sum32()%uint32(buckets))
}

func str(s string) *string { return &s }
