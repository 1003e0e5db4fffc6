package sqsqueue

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSQS struct {
	mu       sync.Mutex
	sent     []*sqs.SendMessageInput
	batch    []types.Message
	received bool
	deleted  []string
}

func (f *fakeSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	if !f.received {
		f.received = true
		batch := f.batch
		f.mu.Unlock()
		return &sqs.ReceiveMessageOutput{Messages: batch}, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, *in.ReceiptHandle)
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) deletedHandles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func TestMessageGroupIDBucketed(t *testing.T) {
	got1 := messageGroupIDBucketed("g", "rcp_1", 2000)
	got2 := messageGroupIDBucketed("g", "rcp_1", 2000)
	assert.Equal(t, got1, got2)
	assert.NotEmpty(t, got1)

	// buckets<=0 uses the default
	assert.NotEmpty(t, messageGroupIDBucketed("g", "rcp_1", 0))
}

func TestEnqueueEventFIFO(t *testing.T) {
	f := &fakeSQS{}
	p := &Producer{SQS: f, QueueURL: "q.fifo", FIFO: true}

	require.NoError(t, p.EnqueueEvent(context.Background(), EventJob{
		JobID: "job_1", EventType: "booking.confirmed", RecipientID: "rcp_1",
		Context: map[string]any{"ref": "BK-1"},
	}))
	require.Len(t, f.sent, 1)
	in := f.sent[0]
	require.NotNil(t, in.MessageGroupId)
	assert.Equal(t, "job_1", *in.MessageDeduplicationId)

	var job EventJob
	require.NoError(t, json.Unmarshal([]byte(*in.MessageBody), &job))
	assert.Equal(t, "booking.confirmed", job.EventType)
	assert.Equal(t, "BK-1", job.Context["ref"])
}

func TestPublishStandardQueueOmitsGroup(t *testing.T) {
	f := &fakeSQS{}
	p := &Producer{SQS: f, QueueURL: "q"}
	require.NoError(t, p.EnqueueDelivery(context.Background(), DeliveryEvent{Provider: "twilio", ProviderMsgID: "SM1", Status: "delivered"}))
	assert.Nil(t, f.sent[0].MessageGroupId)
	assert.Nil(t, f.sent[0].MessageDeduplicationId)
}

func TestPollConcurrentDeletesHandledAndPoison(t *testing.T) {
	body := func(s string) *string { return &s }
	f := &fakeSQS{batch: []types.Message{
		{Body: body(`{"jobId":"ok"}`), ReceiptHandle: body("ok")},
		{Body: body(`{"jobId":"retry"}`), ReceiptHandle: body("retry")},
		{Body: body(`not json`), ReceiptHandle: body("poison")},
		{ReceiptHandle: body("empty")},
	}}
	c := &Consumer{SQS: f, QueueURL: "q"}

	var mu sync.Mutex
	var handled []string
	h := Decode(func(ctx context.Context, job EventJob) error {
		mu.Lock()
		handled = append(handled, job.JobID)
		mu.Unlock()
		if job.JobID == "retry" {
			return assert.AnError
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.PollConcurrent(ctx, 2, h) }()

	require.Eventually(t, func() bool { return len(f.deletedHandles()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}

	assert.ElementsMatch(t, []string{"ok", "poison", "empty"}, f.deletedHandles())
	mu.Lock()
	assert.ElementsMatch(t, []string{"ok", "retry"}, handled)
	mu.Unlock()
}

func TestIsFIFO(t *testing.T) {
	assert.True(t, IsFIFO("https://sqs.us-east-1.amazonaws.com/123/events.fifo"))
	assert.False(t, IsFIFO("https://sqs.us-east-1.amazonaws.com/123/events"))
}
