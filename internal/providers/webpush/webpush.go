// Package webpush delivers browser push notifications with VAPID and keeps
// per-endpoint health on the PushEndpoint rows.
package webpush

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	webpushgo "github.com/SherClockHolmes/webpush-go"

	"comms/internal/domain"
	"comms/internal/observability"
	"comms/internal/providers"
	"comms/internal/store"
	"comms/internal/util"
)

const (
	Name         = "webpush"
	MaxBodyLen   = 200
	DefaultTitle = "New Notification"
)

// Dispatcher performs the HTTP push for one endpoint and reports the push
// service's status code.
type Dispatcher interface {
	Push(ctx context.Context, ep domain.PushEndpoint, payload []byte) (status int, body string, err error)
}

// VAPID sends through webpush-go.
type VAPID struct {
	PublicKey  string
	PrivateKey string
	// Subscriber is the contact email; webpush-go adds the mailto: scheme.
	Subscriber string
	TTL        int
	HTTP       *http.Client
}

func (v *VAPID) Push(ctx context.Context, ep domain.PushEndpoint, payload []byte) (int, string, error) {
	opts := &webpushgo.Options{
		Subscriber:      v.Subscriber,
		VAPIDPublicKey:  v.PublicKey,
		VAPIDPrivateKey: v.PrivateKey,
		TTL:             v.TTL,
	}
	if v.HTTP != nil {
		opts.HTTPClient = v.HTTP
	}
	resp, err := webpushgo.SendNotificationWithContext(ctx, payload, &webpushgo.Subscription{
		Endpoint: ep.Endpoint,
		Keys:     webpushgo.Keys{P256dh: ep.P256dh, Auth: ep.Auth},
	}, opts)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	return resp.StatusCode, string(b), nil
}

type Payload struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	URL       string `json:"url"`
	Timestamp string `json:"timestamp,omitempty"`
}

type Provider struct {
	Endpoints  store.PushStore
	Dispatcher Dispatcher
	// Threshold deactivates an endpoint after this many consecutive failures.
	Threshold int
	URL       string
	Now       func() time.Time
}

func (p *Provider) Name() string                          { return Name }
func (p *Provider) Channel() domain.Channel               { return domain.ChannelPush }
func (p *Provider) ValidateRecipient(address string) bool { return providers.ValidPushEndpoint(address) }

// Send pushes to one endpoint. A missing, expired or rejecting endpoint is a
// failed result with a nil error; errors are reserved for store and encoding
// faults so the circuit breaker only counts those.
func (p *Provider) Send(ctx context.Context, msg domain.Message) (domain.SendResult, error) {
	fail := func(reason string) domain.SendResult {
		return domain.SendResult{Provider: Name, Error: reason}
	}

	ep, err := p.Endpoints.GetActivePushEndpoint(ctx, msg.ToAddress)
	if errors.Is(err, store.ErrNotFound) {
		return fail(domain.ErrSubscriptionNotFound.Error()), nil
	}
	if err != nil {
		return fail(err.Error()), fmt.Errorf("load push endpoint: %w", err)
	}

	payload, err := json.Marshal(BuildPayload(msg, p.URL))
	if err != nil {
		return fail(err.Error()), err
	}

	status, body, err := p.Dispatcher.Push(ctx, ep, payload)
	switch {
	case err == nil && status >= 200 && status < 300:
		if err := p.Endpoints.RecordPushSuccess(ctx, ep.ID, p.now()); err != nil {
			slog.WarnContext(ctx, "push success not recorded", "endpoint_id", ep.ID, "err", err)
		}
		return domain.SendResult{Success: true, Provider: Name, ProviderMessageID: "push_sent"}, nil

	case status == http.StatusNotFound || status == http.StatusGone:
		if err := p.Endpoints.DeactivatePushEndpoint(ctx, ep.ID); err != nil {
			return fail(domain.ErrSubscriptionExpired.Error()), fmt.Errorf("deactivate expired endpoint: %w", err)
		}
		observability.PushDeactivations.WithLabelValues("expired").Inc()
		slog.WarnContext(ctx, "push subscription expired, deactivated", "endpoint_id", ep.ID, "status", status)
		return fail(domain.ErrSubscriptionExpired.Error()), nil
	}

	reason := body
	if err != nil {
		reason = err.Error()
	} else if reason == "" {
		reason = fmt.Sprintf("push service returned %d", status)
	}

	updated, recErr := p.Endpoints.RecordPushFailure(ctx, ep.ID, p.threshold())
	if recErr != nil {
		slog.WarnContext(ctx, "push failure not recorded", "endpoint_id", ep.ID, "err", recErr)
	} else if !updated.IsActive {
		observability.PushDeactivations.WithLabelValues("threshold").Inc()
		slog.WarnContext(ctx, "push subscription deactivated after failures",
			"endpoint_id", ep.ID, "failure_count", updated.FailureCount)
	}
	return fail(reason), nil
}

// BuildPayload is the JSON document the service worker receives.
func BuildPayload(msg domain.Message, url string) Payload {
	title := msg.Subject
	if title == "" {
		title = DefaultTitle
	}
	p := Payload{
		Title: title,
		Body:  util.Truncate(msg.BodyText, MaxBodyLen),
		URL:   url,
	}
	if !msg.CreatedAt.IsZero() {
		p.Timestamp = msg.CreatedAt.UTC().Format(time.RFC3339)
	}
	return p
}

func (p *Provider) threshold() int {
	if p.Threshold <= 0 {
		return 3
	}
	return p.Threshold
}

func (p *Provider) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return util.NowUTC()
}
