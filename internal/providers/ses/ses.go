// Package ses delivers email through Amazon SES v2.
package ses

import (
	"context"
	"errors"
	"net/mail"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"comms/internal/domain"
	"comms/internal/providers"
)

const Name = "ses"

// API is the part of *sesv2.Client the adapter uses.
type API interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

type Provider struct {
	Client API
}

func New(client API) *Provider { return &Provider{Client: client} }

func (p *Provider) Name() string                          { return Name }
func (p *Provider) Channel() domain.Channel               { return domain.ChannelEmail }
func (p *Provider) ValidateRecipient(address string) bool { return providers.ValidEmail(address) }

// Send rejections reported by SES (API errors) come back as a failed result.
// Transport failures are also returned as an error so the circuit breaker sees them.
func (p *Provider) Send(ctx context.Context, msg domain.Message) (domain.SendResult, error) {
	out, err := p.Client.SendEmail(ctx, BuildInput(msg))
	if err != nil {
		res := domain.SendResult{Provider: Name, Error: err.Error()}
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return res, nil
		}
		return res, err
	}
	return domain.SendResult{
		Success:           true,
		Provider:          Name,
		ProviderMessageID: aws.ToString(out.MessageId),
	}, nil
}

// BuildInput maps a message onto a simple SES email.
func BuildInput(msg domain.Message) *sesv2.SendEmailInput {
	body := &types.Body{Text: utf8(msg.BodyText)}
	if msg.BodyHTML != "" {
		body.Html = utf8(msg.BodyHTML)
	}
	in := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(FormatAddress(msg.FromName, msg.FromAddress)),
		Destination:      &types.Destination{ToAddresses: []string{msg.ToAddress}},
		Content: &types.EmailContent{Simple: &types.Message{
			Subject: utf8(msg.Subject),
			Body:    body,
		}},
	}
	if msg.ReplyTo != "" {
		in.ReplyToAddresses = []string{msg.ReplyTo}
	}
	if msg.ConfigSet != "" {
		in.ConfigurationSetName = aws.String(msg.ConfigSet)
	}
	return in
}

// FormatAddress renders "Name <addr>", quoting or encoding the name when needed.
func FormatAddress(name, addr string) string {
	if name == "" {
		return addr
	}
	return (&mail.Address{Name: name, Address: addr}).String()
}

func utf8(s string) *types.Content {
	return &types.Content{Data: aws.String(s), Charset: aws.String("UTF-8")}
}
