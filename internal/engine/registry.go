package engine

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"comms/internal/awsutil"
	"comms/internal/config"
	"comms/internal/domain"
	"comms/internal/providers"
	"comms/internal/providers/ses"
	"comms/internal/providers/twilio"
	"comms/internal/providers/webpush"
	"comms/internal/store"
)

// BuildRegistry resolves the configured adapter for every enabled channel
// and wraps each one in a Guard. awsEndpoint overrides the SES endpoint
// (LocalStack); leave it empty in production.
func BuildRegistry(ctx context.Context, s config.Settings, push store.PushStore, awsEndpoint string) (*providers.Registry, error) {
	reg := providers.NewRegistry()
	opts := providers.GuardOptions{Timeout: s.ProviderTimeout, RPS: s.ProviderRPS, Burst: s.ProviderBurst}
	httpClient := &http.Client{Timeout: s.ProviderTimeout}

	if s.EmailEnabled {
		switch s.EmailProvider {
		case "", providers.ConsoleName:
			reg.Register(providers.NewGuard(providers.NewConsole(domain.ChannelEmail), opts))
		case ses.Name:
			if !s.EmailConfigured() {
				return nil, fmt.Errorf("email provider ses: SES_REGION and EMAIL_FROM_ADDRESS are required")
			}
			client, err := awsutil.NewSESClient(ctx, s.SESRegion, awsEndpoint)
			if err != nil {
				return nil, fmt.Errorf("email provider ses: %w", err)
			}
			reg.Register(providers.NewGuard(ses.New(client), opts))
		default:
			return nil, fmt.Errorf("unknown email provider %q", s.EmailProvider)
		}
	}

	if s.SMSEnabled {
		switch s.SMSProvider {
		case "", providers.ConsoleName:
			reg.Register(providers.NewGuard(providers.NewConsole(domain.ChannelSMS), opts))
		case twilio.Name:
			if !s.SMSConfigured() {
				return nil, fmt.Errorf("sms provider twilio: account sid, auth token and a sender are required")
			}
			reg.Register(providers.NewGuard(&twilio.Provider{
				Client: &twilio.Client{
					AccountSID:          s.TwilioAccountSID,
					AuthToken:           s.TwilioAuthToken,
					HTTP:                httpClient,
					MessagingServiceSID: s.TwilioMessagingServiceSID,
					FromNumber:          s.SMSFromNumber,
					BaseURL:             s.TwilioBaseURL,
				},
				StatusCallbackURL: s.TwilioStatusCallbackURL,
			}, opts))
		default:
			return nil, fmt.Errorf("unknown sms provider %q", s.SMSProvider)
		}
	}

	if s.PushConfigured() {
		reg.Register(providers.NewGuard(&webpush.Provider{
			Endpoints: push,
			Dispatcher: &webpush.VAPID{
				PublicKey:  s.VAPIDPublicKey,
				PrivateKey: s.VAPIDPrivateKey,
				Subscriber: s.VAPIDContactEmail,
				TTL:        int((24 * time.Hour).Seconds()),
				HTTP:       httpClient,
			},
			Threshold: s.PushFailureThreshold,
			URL:       s.PushURL,
		}, opts))
	}

	reg.Register(providers.NewGuard(providers.NewConsole(domain.ChannelInApp), opts))
	return reg, nil
}
