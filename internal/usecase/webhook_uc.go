package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"course-billing/internal/domain"
	"course-billing/internal/domain/model"
	"course-billing/internal/domain/ports/adapter"
	"course-billing/internal/domain/ports/repository"
	"course-billing/internal/domain/ports/usecase"
	"course-billing/internal/infra/logging"
)

// Webhook results, also used as the metrics label.
const (
	WebhookProcessed       = "processed"
	WebhookIgnored         = "ignored"
	WebhookUnknownPayment  = "unknown_payment"
	WebhookUnauthenticated = "unauthenticated"
	WebhookUnparseable     = "unparseable"
)

// WebhookOutcome is what the HTTP layer writes back to the provider.
type WebhookOutcome struct {
	Ack    []byte
	Result string
	Apply  *model.ApplyResult // nil unless the engine ran
}

// WebhookUseCase records every provider push in the inbox, authenticates
// and parses it through the provider adapter, then hands the canonical
// event to the engine.
type WebhookUseCase struct {
	registry     adapter.ProviderRegistry
	inbox        repository.NotificationLogRepository
	engine       usecase.Reconciler
	storeTimeout time.Duration
	dev          bool
	log          *zerolog.Logger
}

func NewWebhookUseCase(
	registry adapter.ProviderRegistry,
	inbox repository.NotificationLogRepository,
	engine usecase.Reconciler,
	storeTimeout time.Duration,
	dev bool,
	logger *zerolog.Logger,
) *WebhookUseCase {
	if storeTimeout <= 0 {
		storeTimeout = 3 * time.Second
	}
	return &WebhookUseCase{registry: registry, inbox: inbox, engine: engine, storeTimeout: storeTimeout, dev: dev, log: logger}
}

// Handle returns an error only when the provider should retry: the provider
// is unknown (domain.ErrUnknownProvider) or the store could not take the
// delivery (domain.ErrStoreUnavailable). Everything else is acknowledged.
func (u *WebhookUseCase) Handle(ctx context.Context, n *model.InboundNotification) (*WebhookOutcome, error) {
	defer logging.TraceDuration(u.log, "WebhookUC.Handle")()
	if n == nil {
		return nil, domain.ErrInvalidArgument
	}
	a, err := u.registry.Adapter(n.Provider)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithProvider(ctx, n.Provider)
	log := logging.With(ctx, u.log)

	rec := &model.PaymentNotification{
		ID:         ulid.Make().String(),
		Provider:   n.Provider,
		Payload:    n.Body,
		Status:     model.NotificationReceived,
		ReceivedAt: time.Now().UTC(),
	}
	if err := u.record(ctx, rec); err != nil {
		log.Error().Err(err).Msg("record webhook delivery failed")
		return nil, storeUnavailable(err)
	}

	ev, err := a.Parse(ctx, n)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnauthenticated):
			log.Warn().Str("remote_ip", n.RemoteIP).Msg("webhook failed authentication")
			u.mark(ctx, rec.ID, "", false, model.NotificationRejected, err.Error())
			return &WebhookOutcome{Ack: a.Ack(), Result: WebhookUnauthenticated}, nil
		case errors.Is(err, domain.ErrEventIgnored):
			log.Debug().Err(err).Msg("webhook carries no terminal outcome")
			u.mark(ctx, rec.ID, "", true, model.NotificationProcessed, err.Error())
			return &WebhookOutcome{Ack: a.Ack(), Result: WebhookIgnored}, nil
		default:
			log.Warn().Err(err).Msg("webhook could not be parsed")
			u.mark(ctx, rec.ID, "", true, model.NotificationRejected, err.Error())
			return &WebhookOutcome{Ack: a.Ack(), Result: WebhookUnparseable}, nil
		}
	}
	ev.Source = model.SourceWebhook

	res, err := u.engine.Apply(ctx, ev)
	switch {
	case errors.Is(err, domain.ErrUnknownPayment):
		u.mark(ctx, rec.ID, ev.ProviderReference, true, model.NotificationProcessed, err.Error())
		return &WebhookOutcome{Ack: a.Ack(), Result: WebhookUnknownPayment}, nil
	case err != nil:
		u.mark(ctx, rec.ID, ev.ProviderReference, true, model.NotificationFailed, err.Error())
		return nil, storeUnavailable(err)
	}
	u.mark(ctx, rec.ID, ev.ProviderReference, true, model.NotificationProcessed, "")
	return &WebhookOutcome{Ack: a.Ack(), Result: WebhookProcessed, Apply: res}, nil
}

func (u *WebhookUseCase) record(ctx context.Context, rec *model.PaymentNotification) error {
	sctx, cancel := context.WithTimeout(ctx, u.storeTimeout)
	defer cancel()
	return u.inbox.Record(sctx, nil, rec)
}

// mark is best effort: the delivery outcome is already decided.
func (u *WebhookUseCase) mark(ctx context.Context, id, ref string, sigValid bool, status model.NotificationStatus, errMsg string) {
	sctx, cancel := context.WithTimeout(ctx, u.storeTimeout)
	defer cancel()
	if err := u.inbox.MarkHandled(sctx, nil, id, ref, sigValid, status, errMsg, time.Now().UTC()); err != nil {
		u.log.Warn().Err(err).Str("notification_id", id).Msg("mark webhook delivery failed")
	}
}
