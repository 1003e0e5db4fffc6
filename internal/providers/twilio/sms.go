package twilio

import (
	"context"

	"comms/internal/domain"
	"comms/internal/providers"
	"comms/internal/util"
)

const Name = "twilio"

type Sender interface {
	SendSMS(ctx context.Context, req SendRequest) (SendResponse, int, []byte, error)
}

// Provider is the SMS adapter backed by the Twilio REST API.
type Provider struct {
	Client            Sender
	StatusCallbackURL string
}

func (p *Provider) Name() string                          { return Name }
func (p *Provider) Channel() domain.Channel               { return domain.ChannelSMS }
func (p *Provider) ValidateRecipient(address string) bool { return providers.ValidPhone(address) }

func (p *Provider) Send(ctx context.Context, msg domain.Message) (domain.SendResult, error) {
	resp, status, raw, err := p.Client.SendSMS(ctx, SendRequest{
		To:                util.NormalizePhone(msg.ToAddress),
		Body:              msg.BodyText,
		From:              msg.FromAddress,
		StatusCallbackURL: p.StatusCallbackURL,
	})
	if err != nil {
		res := domain.SendResult{Provider: Name, ProviderMessageID: resp.Sid, Error: err.Error()}
		if Transient(err, status) {
			return res, &CallError{Err: err, HTTPStatus: status, Raw: raw}
		}
		return res, nil
	}
	return domain.SendResult{Success: true, Provider: Name, ProviderMessageID: resp.Sid}, nil
}

// CallError carries the HTTP details of a transient failure.
type CallError struct {
	Err        error
	HTTPStatus int
	Raw        []byte
}

func (e *CallError) Error() string { return e.Err.Error() }
func (e *CallError) Unwrap() error { return e.Err }
