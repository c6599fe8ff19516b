package events

import (
	"context"

	"github.com/rs/zerolog"

	"course-billing/internal/domain/ports/adapter"
)

var _ adapter.EventPublisher = (*LogPublisher)(nil)

// LogPublisher is the "none" driver: events are only logged.
type LogPublisher struct {
	log *zerolog.Logger
}

func NewLogPublisher(logger *zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: logger}
}

func (p *LogPublisher) PublishEntitlementGranted(ctx context.Context, ev adapter.EntitlementGranted) error {
	p.log.Debug().
		Str("payment_id", ev.PaymentID).
		Str("user_id", ev.UserID).
		Str("kind", ev.Kind).
		Msg("entitlement granted")
	return nil
}

func (p *LogPublisher) Close() error { return nil }
