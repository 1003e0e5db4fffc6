package providers

import (
	"fmt"
	"sort"
	"sync"

	"comms/internal/domain"
)

type registryKey struct {
	channel domain.Channel
	name    string
}

// Registry maps (channel, provider name) to adapters and records which
// provider is active per channel. It is filled at startup.
type Registry struct {
	mu       sync.RWMutex
	adapters map[registryKey]Provider
	active   map[domain.Channel]string
}

func NewRegistry() *Registry {
	return &Registry{
		adapters: map[registryKey]Provider{},
		active:   map[domain.Channel]string{},
	}
}

// Register adds p under its channel and name. The first provider registered
// for a channel becomes active unless Activate says otherwise.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[registryKey{p.Channel(), p.Name()}] = p
	if _, ok := r.active[p.Channel()]; !ok {
		r.active[p.Channel()] = p.Name()
	}
}

func (r *Registry) Activate(ch domain.Channel, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adapters[registryKey{ch, name}]; !ok {
		return fmt.Errorf("%w: no %s provider named %q", domain.ErrChannelUnavailable, ch, name)
	}
	r.active[ch] = name
	return nil
}

// Lookup returns a specific adapter.
func (r *Registry) Lookup(ch domain.Channel, name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.adapters[registryKey{ch, name}]
	return p, ok
}

// For returns the active adapter for ch.
func (r *Registry) For(ch domain.Channel) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.active[ch]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrChannelUnavailable, ch)
	}
	return r.adapters[registryKey{ch, name}], nil
}

// Available reports whether ch has an active adapter.
func (r *Registry) Available(ch domain.Channel) bool {
	_, err := r.For(ch)
	return err == nil
}

// Channels lists channels with an active adapter.
func (r *Registry) Channels() []domain.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Channel, 0, len(r.active))
	for ch := range r.active {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
