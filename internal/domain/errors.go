package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidChannel       = errors.New("invalid channel")
	ErrTemplateNotFound     = errors.New("template not found")
	ErrInvalidRecipient     = errors.New("invalid recipient")
	ErrProviderFailure      = errors.New("provider failure")
	ErrSubscriptionNotFound = errors.New("push subscription not found or inactive")
	ErrSubscriptionExpired  = errors.New("push subscription expired")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrChannelUnavailable   = errors.New("channel unavailable")
	ErrProfileNotFound      = errors.New("identity profile not found")
	ErrNotFound             = errors.New("not found")
	ErrInvalidState         = errors.New("invalid state")
)

// RecipientError explains why an address cannot be used on a channel.
type RecipientError struct {
	Channel Channel
	Address string
	Reason  string
}

func (e *RecipientError) Error() string {
	if e.Address == "" {
		return fmt.Sprintf("invalid recipient for %s: %s", e.Channel, e.Reason)
	}
	return fmt.Sprintf("invalid recipient %q for %s: %s", e.Address, e.Channel, e.Reason)
}

func (e *RecipientError) Unwrap() error { return ErrInvalidRecipient }

// ProviderError is returned after a failed send has been persisted.
// errors.Is matches both ErrProviderFailure and the underlying cause.
type ProviderError struct {
	Provider  string
	MessageID string
	Cause     error
}

func (e *ProviderError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Provider, ErrProviderFailure)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Cause)
}

func (e *ProviderError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrProviderFailure}
	}
	return []error{ErrProviderFailure, e.Cause}
}
