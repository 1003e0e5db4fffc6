package domain

type OutcomeKind string

const (
	OutcomeSent    OutcomeKind = "sent"
	OutcomeSkipped OutcomeKind = "skipped"
	OutcomeFailed  OutcomeKind = "failed"
)

// Outcome is the per-template result of an event orchestration.
// Message is set for Sent and for Failed when a row was persisted.
type Outcome struct {
	Kind        OutcomeKind
	TemplateKey string
	Channel     Channel
	Message     *Message
	Reason      string
	Err         error
}

func Sent(tplKey string, m Message) Outcome {
	return Outcome{Kind: OutcomeSent, TemplateKey: tplKey, Channel: m.Channel, Message: &m}
}

func Skipped(tplKey string, ch Channel, reason string) Outcome {
	return Outcome{Kind: OutcomeSkipped, TemplateKey: tplKey, Channel: ch, Reason: reason}
}

func Failed(tplKey string, ch Channel, m *Message, err error) Outcome {
	return Outcome{Kind: OutcomeFailed, TemplateKey: tplKey, Channel: ch, Message: m, Err: err}
}
