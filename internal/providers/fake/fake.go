// Package fake provides a scripted provider that records every call.
package fake

import (
	"context"
	"fmt"
	"sync"

	"comms/internal/domain"
	"comms/internal/providers"
)

// Provider succeeds unless Fail is set or FailFor matches the address.
type Provider struct {
	Chan     domain.Channel
	Provider string
	Fail     bool
	FailFor  map[string]bool

	mu    sync.Mutex
	calls []domain.Message
}

func New(ch domain.Channel) *Provider {
	return &Provider{Chan: ch, Provider: "fake-" + string(ch)}
}

func (p *Provider) Name() string            { return p.Provider }
func (p *Provider) Channel() domain.Channel { return p.Chan }

func (p *Provider) ValidateRecipient(address string) bool {
	return providers.ValidateFor(p.Chan, address)
}

func (p *Provider) Send(_ context.Context, msg domain.Message) (domain.SendResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, msg)
	if p.Fail || p.FailFor[msg.ToAddress] {
		return domain.SendResult{Provider: p.Provider, Error: "rejected " + msg.ToAddress}, nil
	}
	return domain.SendResult{
		Success:           true,
		Provider:          p.Provider,
		ProviderMessageID: fmt.Sprintf("%s-%d", p.Provider, len(p.calls)),
	}, nil
}

func (p *Provider) Calls() []domain.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Message(nil), p.calls...)
}

// Registry registers one fake per channel.
func Registry(channels ...domain.Channel) (*providers.Registry, map[domain.Channel]*Provider) {
	reg := providers.NewRegistry()
	out := map[domain.Channel]*Provider{}
	for _, ch := range channels {
		p := New(ch)
		reg.Register(p)
		out[ch] = p
	}
	return reg, out
}
