package adapter

import (
	"context"

	"course-billing/internal/domain/model"
)

// NotificationAdapter is the hex port for one provider's push notifications.
// Parse is pure: it verifies authenticity and normalizes the payload, and
// returns domain.ErrUnauthenticated, domain.ErrUnparseable or
// domain.ErrEventIgnored instead of an event when it cannot vouch for one.
type NotificationAdapter interface {
	Provider() string
	Parse(ctx context.Context, n *model.InboundNotification) (*model.CanonicalEvent, error)
	// Ack is the body the provider expects on a 2xx response.
	Ack() []byte
}

// PaymentStatusLookup re-derives a canonical event by asking the provider
// directly. It returns domain.ErrPaymentStillPending while the provider has
// no terminal outcome yet.
type PaymentStatusLookup interface {
	Provider() string
	Lookup(ctx context.Context, providerReference string) (*model.CanonicalEvent, error)
}

// ProviderRegistry resolves the adapters of the enabled providers by name.
// Unknown names yield domain.ErrUnknownProvider.
type ProviderRegistry interface {
	Adapter(provider string) (NotificationAdapter, error)
	Lookup(provider string) (PaymentStatusLookup, error)
}
