package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"comms/internal/domain"
)

// ContextInput is what a context provider sees for one event.
type ContextInput struct {
	Subject      domain.Recipient
	Actor        *domain.Recipient
	Conversation *domain.Conversation
	Extra        map[string]any
}

// ContextProvider contributes template variables for an event.
type ContextProvider func(ctx context.Context, in ContextInput) (map[string]any, error)

// NamedProvider labels a provider for logs.
type NamedProvider struct {
	Name string
	Fn   ContextProvider
}

// MergeContext calls providers in order, later keys overriding earlier ones,
// then applies in.Extra last. A provider that errors or panics is logged and
// skipped.
func MergeContext(ctx context.Context, providers []NamedProvider, in ContextInput) map[string]any {
	merged := map[string]any{}
	for _, p := range providers {
		part, err := safeCall(ctx, p.Fn, in)
		if err != nil {
			slog.WarnContext(ctx, "context provider failed", "provider", p.Name, "err", err)
			continue
		}
		for k, v := range part {
			merged[k] = v
		}
	}
	for k, v := range in.Extra {
		merged[k] = v
	}
	return merged
}

func safeCall(ctx context.Context, fn ContextProvider, in ContextInput) (out map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, in)
}

// RecipientContext exposes names and addresses of the people involved.
func RecipientContext(_ context.Context, in ContextInput) (map[string]any, error) {
	out := map[string]any{
		"recipient_name":  in.Subject.Name,
		"recipient_email": in.Subject.Email,
	}
	if in.Actor != nil {
		out["actor_name"] = in.Actor.Name
	}
	if in.Conversation != nil {
		out["conversation_subject"] = in.Conversation.Subject
	}
	return out, nil
}
