// Package engine assembles the delivery components around one store and
// one provider registry.
package engine

import (
	"comms/internal/audit"
	"comms/internal/config"
	"comms/internal/conversation"
	"comms/internal/identity"
	"comms/internal/ledger"
	"comms/internal/messaging"
	"comms/internal/notify"
	"comms/internal/orchestrator"
	"comms/internal/providers"
	"comms/internal/store"
)

type Deps struct {
	Store    store.Store
	Registry *providers.Registry
	Settings config.Settings
	// Templates replaces Store for template reads, e.g. a cache.
	Templates store.TemplateStore
	Audit     audit.Emitter
	// ContextProviders defaults to the recipient context provider.
	ContextProviders []orchestrator.NamedProvider
}

type Engine struct {
	Store         store.Store
	Registry      *providers.Registry
	Settings      config.Settings
	Ledger        *ledger.Ledger
	Messages      *messaging.Service
	Notifier      *notify.Notifier
	Orchestrator  *orchestrator.Orchestrator
	Conversations *conversation.Manager
}

func New(d Deps) *Engine {
	templates := d.Templates
	if templates == nil {
		templates = d.Store
	}
	em := d.Audit
	if em == nil {
		em = audit.Nop{}
	}
	cps := d.ContextProviders
	if cps == nil {
		cps = []orchestrator.NamedProvider{{Name: "recipient", Fn: orchestrator.RecipientContext}}
	}

	l := ledger.New(d.Store, em)
	msgs := &messaging.Service{
		Templates:     templates,
		Recipients:    d.Store,
		Conversations: d.Store,
		Identity:      &identity.Resolver{Profiles: d.Store, Settings: d.Settings},
		Registry:      d.Registry,
		Ledger:        l,
		Settings:      d.Settings,
	}
	return &Engine{
		Store:    d.Store,
		Registry: d.Registry,
		Settings: d.Settings,
		Ledger:   l,
		Messages: msgs,
		Notifier: &notify.Notifier{
			Push:       d.Store,
			Recipients: d.Store,
			Sender:     msgs,
			Registry:   d.Registry,
			Settings:   d.Settings,
		},
		Orchestrator: &orchestrator.Orchestrator{
			Templates:     templates,
			Recipients:    d.Store,
			Conversations: d.Store,
			Sender:        msgs,
			Settings:      d.Settings,
			Providers:     cps,
		},
		Conversations: &conversation.Manager{
			Store:    d.Store,
			Ledger:   l,
			Registry: d.Registry,
			Audit:    em,
		},
	}
}
